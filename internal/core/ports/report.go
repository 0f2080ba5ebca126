package ports

import (
	"context"

	"github.com/hive-corporation/sitescan/internal/core/domain"
)

// SnippetResolver maps a finding to a remediation snippet. Implementations
// must return a fallback text rather than fail.
type SnippetResolver interface {
	Resolve(anomaly domain.Anomaly) string
}

// ReportRenderer turns one anomaly group into a downloadable document.
type ReportRenderer interface {
	Render(group domain.AnomalyGroup) (*domain.ReportArtifact, error)
}

// ArtifactStore persists rendered documents and returns where they went.
type ArtifactStore interface {
	Write(ctx context.Context, artifact *domain.ReportArtifact) (string, error)
}

// SummaryExporter serializes a scan summary into a SIEM feed format.
type SummaryExporter interface {
	Format() string
	ContentType() string
	Export(summary domain.ScanSummary) ([]byte, error)
}
