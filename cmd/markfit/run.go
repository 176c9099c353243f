package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/markfit/internal/config"
	"github.com/cwbudde/markfit/internal/fit"
	"github.com/cwbudde/markfit/internal/mpp"
	"github.com/cwbudde/markfit/internal/report"
	"github.com/cwbudde/markfit/internal/store"
)

var (
	configPath string
	imagePath  string
	outPath    string
	maskPath   string
	marksPath  string
	jobID      string
	iterations int
	seed       int64
	timeLimit  float64
	checkpoint bool
	recordRuns bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Segment an image",
	Long: `Runs the annealing optimizer on an image and writes an overlay of the
found circles. With --checkpoint the best configuration, the trace and the
rendered artifacts are kept under the data directory so the run can be
resumed.`,
	RunE: runSegmentation,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Run configuration file (YAML)")
	runCmd.Flags().StringVarP(&imagePath, "image", "i", "", "Image to segment (overrides the config file)")
	runCmd.Flags().StringVar(&outPath, "out", "overlay.png", "Overlay image path (empty to skip)")
	runCmd.Flags().StringVar(&maskPath, "mask", "", "Segmentation mask path")
	runCmd.Flags().StringVar(&marksPath, "marks", "", "Write the best marks as JSON to this path")
	runCmd.Flags().StringVar(&jobID, "job-id", "", "Job id for checkpoints and history (default: random)")
	runCmd.Flags().BoolVar(&checkpoint, "checkpoint", false, "Save checkpoints, trace and artifacts under the data directory")
	addRunOverrides(runCmd)
	rootCmd.AddCommand(runCmd)
}

// addRunOverrides registers the flags that override run settings
func addRunOverrides(cmd *cobra.Command) {
	cmd.Flags().IntVar(&iterations, "iterations", 0, "Maximum iterations")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed")
	cmd.Flags().Float64Var(&timeLimit, "time-limit", 0, "Wall-clock limit in seconds")
	cmd.Flags().BoolVar(&recordRuns, "history", false, "Record the run in the history database")
}

// applyRunOverrides copies the flags the user set onto run
func applyRunOverrides(cmd *cobra.Command, run *config.Run) {
	if cmd.Flags().Changed("iterations") {
		run.Iterations = iterations
	}
	if cmd.Flags().Changed("seed") {
		run.Seed = seed
		run.WallClockSeed = false
	}
	if cmd.Flags().Changed("time-limit") {
		run.TimeLimit = timeLimit
	}
	if cmd.Flags().Changed("image") {
		run.Image = imagePath
	}
}

// loadRun builds the run configuration from defaults, the config file,
// the environment and the flags, in that order
func loadRun(cmd *cobra.Command) (config.Run, error) {
	var envErr error
	override := func(r *config.Run) {
		envErr = config.ApplyEnv(r)
		applyRunOverrides(cmd, r)
	}

	if configPath == "" {
		run := config.Default()
		override(&run)
		if envErr != nil {
			return config.Run{}, envErr
		}
		return run, run.Validate()
	}

	run, err := config.Load(configPath, override)
	if envErr != nil {
		return config.Run{}, envErr
	}
	if err != nil {
		return config.Run{}, err
	}
	return *run, nil
}

func runSegmentation(cmd *cobra.Command, args []string) error {
	run, err := loadRun(cmd)
	if err != nil {
		return err
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}

	s := session{
		jobID:   jobID,
		config:  store.JobConfig{RefPath: run.Image, Run: run},
		persist: checkpoint,
		history: recordRuns,
	}
	return s.run(cmd)
}

// session is one optimization run started from the command line
type session struct {
	jobID   string
	config  store.JobConfig
	initial *mpp.Configuration
	persist bool // checkpoints, trace and artifacts
	history bool
	resume  bool
}

func (s session) run(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ref, err := fit.LoadImage(s.config.RefPath)
	if err != nil {
		return err
	}
	bounds := ref.Bounds()
	logger.Info("Loaded reference", "path", s.config.RefPath, "width", bounds.Dx(), "height", bounds.Dy())

	result, p, err := s.execute(ctx, ref)
	if result == nil {
		return err
	}
	hits, misses := p.Evaluator.CacheStats()
	return s.finish(cmd.OutOrStdout(), ref, result, err, hits, misses)
}

// finish writes the outputs and summary of a run. An aborted run still
// has a best configuration, which is written before the abort is reported.
func (s session) finish(w io.Writer, ref *image.NRGBA, result *mpp.Result, runErr error, hits, misses int64) error {
	if err := writeOutputs(result, ref); err != nil {
		return errors.Join(runErr, err)
	}

	printSummary(w, s.jobID, result, hits, misses)
	if s.persist {
		fmt.Fprintf(w, "Checkpoint saved; resume with: markfit resume %s\n", s.jobID)
	}
	if runErr != nil {
		return fmt.Errorf("run aborted, best configuration so far was kept: %w", runErr)
	}
	return nil
}

// execute runs the pipeline with the receivers the session asks for. A
// cancelled ctx stops the run at the next iteration and keeps the best
// configuration. The result is nil only when the run never started.
func (s session) execute(ctx context.Context, ref *image.NRGBA) (*mpp.Result, *fit.Pipeline, error) {
	p, err := fit.NewPipeline(s.config.Run, ref)
	if err != nil {
		return nil, nil, err
	}
	p.Logger = logger

	opts := report.Options{
		JobID:  s.jobID,
		Config: s.config,
		Logger: logger,
	}
	if s.persist {
		fs, err := store.NewFSStore(dataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		b := ref.Bounds()
		opts.Store = fs
		opts.Artifacts = map[string]fit.Renderer{
			"overlay.png": fit.NewOverlayRenderer(ref),
			"mask.png":    fit.MaskRenderer{Width: b.Dx(), Height: b.Dy()},
		}
		opts.TraceDir = dataDir
		opts.ResumeTrace = s.resume
	}
	if s.history {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := store.OpenHistory(historyPath())
		if err != nil {
			return nil, nil, err
		}
		defer db.Close()
		opts.History = db
	}

	receivers, err := report.Attach(p.Bus, s.config.Run.Feedback, p.Direction(), opts)
	if err != nil {
		return nil, nil, err
	}
	defer receivers.Close()

	cancelStop := context.AfterFunc(ctx, func() {
		logger.Info("Interrupt received, stopping after the current iteration")
		p.Trigger.Fire("interrupted")
	})
	defer cancelStop()

	// An aborted run returns its partial result together with the error
	result, err := p.Execute(context.Background(), s.initial)
	return result, p, err
}

func writeOutputs(result *mpp.Result, ref *image.NRGBA) error {
	marks := result.Best.Marks()
	if outPath != "" {
		if err := fit.SavePNG(outPath, fit.NewOverlayRenderer(ref).Render(marks)); err != nil {
			return err
		}
	}
	if maskPath != "" {
		b := ref.Bounds()
		if err := fit.SavePNG(maskPath, fit.MaskRenderer{Width: b.Dx(), Height: b.Dy()}.Render(marks)); err != nil {
			return err
		}
	}
	if marksPath != "" {
		data, err := json.MarshalIndent(marks, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode marks: %w", err)
		}
		if err := os.WriteFile(marksPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write marks: %w", err)
		}
	}
	return nil
}

func printSummary(w io.Writer, jobID string, r *mpp.Result, hits, misses int64) {
	fmt.Fprintf(w, "Job %s: %s after %d iterations (%s)\n", jobID, r.Outcome, r.Iterations, r.Reason)
	fmt.Fprintf(w, "  Best energy: %.6f with %d marks\n", r.Energy.Total, r.Best.Len())
	fmt.Fprintf(w, "  Steps: %d accepted, %d rejected, %d failed\n", r.Accepted, r.Rejected, r.Failed)
	if secs := r.Elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(w, "  Elapsed: %s (%.0f iterations/sec)\n", r.Elapsed.Round(time.Millisecond), float64(r.Iterations)/secs)
	}
	if total := hits + misses; total > 0 {
		fmt.Fprintf(w, "  Cost cache: %.1f%% hits\n", 100*float64(hits)/float64(total))
	}
	if outPath != "" {
		fmt.Fprintf(w, "  Wrote %s\n", outPath)
	}
}
