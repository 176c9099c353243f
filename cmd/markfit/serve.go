package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/markfit/internal/server"
	"github.com/cwbudde/markfit/internal/store"
)

var (
	serveAddr       string
	shutdownTimeout time.Duration
	noPersist       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job server",
	Long: `Starts the HTTP job server. Jobs are submitted to /api/v1/jobs and
stream their progress from /api/v1/jobs/{id}/stream. Checkpoints, traces
and run history go to the data directory unless --no-persist is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "How long to wait for running jobs on shutdown")
	serveCmd.Flags().BoolVar(&noPersist, "no-persist", false, "Keep jobs in memory only")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var opts server.ManagerOptions
	if !noPersist {
		fs, err := store.NewFSStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		history, err := store.OpenHistory(historyPath())
		if err != nil {
			return err
		}
		defer history.Close()
		opts = server.ManagerOptions{Store: fs, DataDir: dataDir, History: history}
	}

	srv := server.NewServer(serveAddr, opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
