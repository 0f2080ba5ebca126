// Package app wires the adapters selected by the configuration into a ScanService.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hive-corporation/sitescan/internal/adapter/exporter"
	"github.com/hive-corporation/sitescan/internal/adapter/httpclient"
	"github.com/hive-corporation/sitescan/internal/adapter/metrics"
	"github.com/hive-corporation/sitescan/internal/adapter/notifier"
	"github.com/hive-corporation/sitescan/internal/adapter/provider"
	"github.com/hive-corporation/sitescan/internal/adapter/report"
	"github.com/hive-corporation/sitescan/internal/adapter/repository"
	"github.com/hive-corporation/sitescan/internal/config"
	"github.com/hive-corporation/sitescan/internal/core/ports"
	"github.com/hive-corporation/sitescan/internal/core/remediation"
	"github.com/hive-corporation/sitescan/internal/core/service"
)

// App holds the wired service and the resources it owns.
type App struct {
	Service *service.ScanService
	Archive *repository.PostgresRepository // nil when DATABASE_URL is empty
	Source  *provider.HTTPScanSource       // nil when SCAN_SOURCE_URL is empty

	pool *pgxpool.Pool
}

// Build connects to the archive and creates the upstream clients. Optional
// adapters (threat-intel lookups, Slack) are only created when their
// credentials are configured.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{}
	deps := Dependencies(cfg, logger)

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}

		repo, err := repository.NewPostgresRepository(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}

		a.pool = pool
		a.Archive = repo
		deps.Archive = repo
		logger.Info("Scan archive enabled")
	} else {
		logger.Warn("Scan archive disabled (no DATABASE_URL)")
	}

	if cfg.ScanSourceURL != "" {
		client := httpclient.New("scan-engine", cfg.Upstream, logger)
		a.Source = provider.NewHTTPScanSource(client, cfg.ScanSourceURL, logger)
		deps.Source = a.Source
	}

	a.Service = service.New(deps, logger)
	return a, nil
}

// Dependencies builds everything that needs no network round trip at
// startup: renderer, artifact store, exporters, lookups, the notifier and
// the Prometheus recorder.
func Dependencies(cfg config.Config, logger *zap.Logger) service.Dependencies {
	deps := service.Dependencies{
		Renderer: report.NewPDFRenderer(remediation.NewHeaderSnippetResolver(remediation.DefaultTable()), logger),
		Store:    report.NewFileStore(cfg.ReportOutputDir),
		Exporters: []ports.SummaryExporter{
			exporter.NewSTIXExporter(),
			exporter.NewCEFExporter(),
		},
		Metrics: metrics.NewRecorder(),
	}

	if cfg.VirusTotalAPIKey != "" {
		client := httpclient.New("virustotal", cfg.Upstream, logger)
		deps.VirusTotal = provider.NewVirusTotalProvider(client, cfg.VirusTotalAPIKey)
		logger.Info("VirusTotal enrichment enabled")
	}

	if cfg.AbuseIPDBAPIKey != "" {
		client := httpclient.New("abuseipdb", cfg.Upstream, logger)
		deps.AbuseIPDB = provider.NewAbuseIPDBProvider(client, cfg.AbuseIPDBAPIKey)
		logger.Info("AbuseIPDB enrichment enabled")
	}

	if cfg.Slack.BotToken != "" {
		deps.Notifier = notifier.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Channel, cfg.Slack.MentionTeam)
		logger.Info("Slack notifier enabled", zap.String("channel", cfg.Slack.Channel))
	} else {
		logger.Warn("Slack notifier disabled (no SLACK_BOT_TOKEN)")
	}

	return deps
}

// Close releases the database pool.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
