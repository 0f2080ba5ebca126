package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hive-corporation/sitescan/internal/core/domain"
	"github.com/hive-corporation/sitescan/internal/core/ports"
)

// batchArchive is the part of the scan repository the collector writes to.
type batchArchive interface {
	SaveBatch(ctx context.Context, scans []domain.ScanResult) error
}

// Collector requests scans for many targets concurrently and archives the
// results in batches, flushed by size or by time.
type Collector struct {
	source     ports.ScanSource
	archive    batchArchive
	workers    int
	batchSize  int
	flushEvery time.Duration
	log        *zap.Logger
}

// Stats summarizes one collector run.
type Stats struct {
	Targets int
	Failed  int // scan requests that returned an error
	Saved   int
	Dropped int // scans lost to archive errors
}

func NewCollector(source ports.ScanSource, archive batchArchive, workers, batchSize int, flushEvery time.Duration, logger *zap.Logger) *Collector {
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}
	return &Collector{
		source:     source,
		archive:    archive,
		workers:    max(1, workers),
		batchSize:  max(1, batchSize),
		flushEvery: flushEvery,
		log:        logger.Named("collector"),
	}
}

// Run scans every target. Individual failures are logged and counted; the
// returned error is only set when ctx ends before the run completes.
func (c *Collector) Run(ctx context.Context, targets []string) (Stats, error) {
	stats := Stats{Targets: len(targets)}
	results := make(chan domain.ScanResult, c.batchSize)

	var failed atomic.Int64
	var fetchErr error

	go func() {
		defer close(results)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)

		for _, target := range targets {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				c.log.Debug("Requesting scan", zap.String("target", target))

				scan, err := c.source.Request(gctx, target)
				if err != nil {
					failed.Add(1)
					c.log.Warn("Scan request failed", zap.String("target", target), zap.Error(err))
					return nil
				}
				if scan.ID == "" {
					scan.ID = uuid.NewString()
				}

				select {
				case results <- scan.Normalize():
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}

		fetchErr = g.Wait()
	}()

	var batch []domain.ScanResult
	flush := func(reason string) {
		if len(batch) == 0 {
			return
		}
		if err := c.archive.SaveBatch(ctx, batch); err != nil {
			stats.Dropped += len(batch)
			c.log.Error("Error saving batch", zap.String("trigger", reason), zap.Int("size", len(batch)), zap.Error(err))
		} else {
			stats.Saved += len(batch)
			c.log.Info("Batch saved", zap.String("trigger", reason), zap.Int("size", len(batch)), zap.Int("total", stats.Saved))
		}
		batch = nil
	}

	ticker := time.NewTicker(c.flushEvery)
	defer ticker.Stop()

loop:
	for {
		select {
		case scan, ok := <-results:
			if !ok {
				break loop
			}
			batch = append(batch, scan)
			if len(batch) >= c.batchSize {
				flush("size")
			}

		case <-ticker.C:
			flush("ticker")
		}
	}

	flush("final")

	stats.Failed = int(failed.Load())
	if fetchErr != nil {
		return stats, fetchErr
	}
	return stats, ctx.Err()
}
