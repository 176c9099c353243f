package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/markfit/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a run from its checkpoint",
	Long: `Starts a new annealing chain from the best marks of a checkpointed job.
The run configuration comes from the checkpoint; only the iteration budget,
time limit and seed can be changed. The job's trace is appended to and its
checkpoint is overwritten as the resumed run improves.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&outPath, "out", "overlay.png", "Overlay image path (empty to skip)")
	resumeCmd.Flags().StringVar(&maskPath, "mask", "", "Segmentation mask path")
	resumeCmd.Flags().StringVar(&marksPath, "marks", "", "Write the best marks as JSON to this path")
	addRunOverrides(resumeCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	fs, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	cp, err := fs.LoadCheckpoint(id)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint %s: %w", id, err)
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("checkpoint %s is invalid: %w", id, err)
	}

	cfg := cp.Config
	applyRunOverrides(cmd, &cfg.Run)
	if err := cfg.Run.Validate(); err != nil {
		return err
	}
	if err := cp.IsCompatible(cfg); err != nil {
		return err
	}

	initial, err := cp.Configuration()
	if err != nil {
		return err
	}
	logger.Info("Resuming from checkpoint",
		"job_id", id,
		"iteration", cp.Iteration,
		"best_energy", cp.Energy.Total,
		"marks", initial.Len())

	s := session{
		jobID:   id,
		config:  cfg,
		initial: initial,
		persist: true,
		history: recordRuns,
		resume:  true,
	}
	return s.run(cmd)
}
