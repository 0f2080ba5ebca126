package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hive-corporation/sitescan/internal/app"
	"github.com/hive-corporation/sitescan/internal/config"
	"github.com/hive-corporation/sitescan/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		targetsFile string
		batchSize   int
		flushEvery  time.Duration
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "collector [url...]",
		Short: "Request scans for a list of targets and archive the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := args
			if targetsFile != "" {
				fromFile, err := readTargets(targetsFile)
				if err != nil {
					return err
				}
				targets = append(targets, fromFile...)
			}
			if len(targets) == 0 {
				return errors.New("no targets given (pass urls or --file)")
			}

			cfg := config.Load()
			logger := observability.InitializeLogger(cfg.Logger)
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			application, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			if application.Archive == nil || application.Source == nil {
				return errors.New("collector needs DATABASE_URL and SCAN_SOURCE_URL")
			}

			logger.Info("Collection started", zap.Int("targets", len(targets)), zap.Int("workers", cfg.CollectorWorkers))

			collector := NewCollector(application.Source, application.Archive, cfg.CollectorWorkers, batchSize, flushEvery, logger)
			stats, err := collector.Run(ctx, targets)

			logger.Info("Collection finished",
				zap.Int("targets", stats.Targets),
				zap.Int("saved", stats.Saved),
				zap.Int("failed", stats.Failed),
				zap.Int("dropped", stats.Dropped))
			return err
		},
	}

	cmd.Flags().StringVarP(&targetsFile, "file", "f", "", "file with one target url per line")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "scans per archive batch")
	cmd.Flags().DurationVar(&flushEvery, "flush-interval", 5*time.Second, "flush a partial batch after this long")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall run timeout")
	return cmd
}

// readTargets returns the non-empty, non-comment lines of path.
func readTargets(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open targets file: %w", err)
	}
	defer f.Close()

	var targets []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}
	return targets, nil
}
