package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/markfit/internal/server"
	"github.com/cwbudde/markfit/internal/store"
)

var (
	serverURL   string
	showHistory bool
	historyMax  int
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.
With --history the local run history database is read instead of the server.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	statusCmd.Flags().BoolVar(&showHistory, "history", false, "Show recorded runs from the history database")
	statusCmd.Flags().IntVar(&historyMax, "limit", 20, "Maximum number of history runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	jobID := ""
	if len(args) == 1 {
		jobID = args[0]
	}

	if showHistory {
		return printHistory(cmd.OutOrStdout(), jobID)
	}
	if jobID == "" {
		return listJobs(cmd.OutOrStdout(), serverURL+"/api/v1/jobs")
	}
	return getJobStatus(cmd.OutOrStdout(), serverURL+"/api/v1/jobs/"+jobID, jobID)
}

func fetchJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(out io.Writer, url string) error {
	var jobs []server.Job
	if _, err := fetchJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Job ID: %s\n", job.ID)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  Image: %s\n", job.Config.RefPath)
		fmt.Fprintf(out, "  Iterations: %d / %d\n", job.Iterations, job.Config.Run.Iterations)
		if job.BestEnergy != nil {
			fmt.Fprintf(out, "  Best: %.6f with %d marks\n", *job.BestEnergy, job.BestMarks)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func getJobStatus(out io.Writer, url, jobID string) error {
	var status struct {
		server.Job
		Elapsed float64 `json:"elapsed"`
	}
	code, err := fetchJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	if status.ResumedFrom != "" {
		fmt.Fprintf(out, "Resumed from: %s\n", status.ResumedFrom)
	}
	fmt.Fprintln(out)

	run := status.Config.Run
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Image: %s\n", status.Config.RefPath)
	fmt.Fprintf(out, "  Iterations: %d\n", run.Iterations)
	fmt.Fprintf(out, "  Schedule: %s (%g -> %g)\n", run.Schedule.Kind, run.Schedule.Start, run.Schedule.End)
	fmt.Fprintf(out, "  Radius: %g - %g\n", run.Radius.Min, run.Radius.Max)
	fmt.Fprintf(out, "  Seed: %d\n", run.Seed)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Iterations: %d\n", status.Iterations)
	fmt.Fprintf(out, "  Temperature: %.6f\n", status.Temperature)
	if status.BestEnergy != nil {
		fmt.Fprintf(out, "  Best Energy: %.6f\n", *status.BestEnergy)
		fmt.Fprintf(out, "  Marks: %d\n", status.BestMarks)
	}
	fmt.Fprintf(out, "  Steps: %d accepted, %d rejected, %d failed\n", status.Accepted, status.Rejected, status.Failed)
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.IterationsPerSecond > 0 {
		fmt.Fprintf(out, "  Throughput: %.0f iterations/sec\n", status.IterationsPerSecond)
	}
	if status.Reason != "" {
		fmt.Fprintf(out, "  Stopped: %s\n", status.Reason)
	}
	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
	return nil
}

func printHistory(out io.Writer, jobID string) error {
	path := historyPath()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no run history at %s", path)
	}
	db, err := store.OpenHistory(path)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.Runs(jobID, historyMax)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tJOB ID\tSTARTED\tOUTCOME\tITERATIONS\tBEST ENERGY\tMARKS")
	for _, r := range runs {
		best := "-"
		if r.BestEnergy != nil {
			best = fmt.Sprintf("%.6f", *r.BestEnergy)
		}
		outcome := r.Outcome
		if outcome == "" {
			outcome = "running"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
			shortID(r.RunID),
			shortID(r.JobID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			outcome,
			r.Iterations,
			best,
			r.Marks)
	}
	return w.Flush()
}

// shortID truncates ids for table display
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
