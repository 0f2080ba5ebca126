package ports

import (
	"context"
	"errors"
	"time"

	"github.com/hive-corporation/sitescan/internal/core/domain"
)

// ErrScanNotFound is returned by ScanSource and ScanRepository when no scan has the given id.
var ErrScanNotFound = errors.New("scan not found")

// ScanSource fetches raw scan results from the scanning engine.
type ScanSource interface {
	Fetch(ctx context.Context, scanID string) (domain.ScanResult, error)
	Request(ctx context.Context, targetURL string) (domain.ScanResult, error)
	Name() string
}

type VirusTotalLookup interface {
	LookupDomain(ctx context.Context, host string) (domain.VirusTotalReport, error)
}

type AbuseIPDBLookup interface {
	CheckIP(ctx context.Context, ip string) (domain.AbuseIPDBReport, error)
}

type ScanRepository interface {
	Save(ctx context.Context, scan domain.ScanResult) error
	SaveBatch(ctx context.Context, scans []domain.ScanResult) error
	FindByID(ctx context.Context, scanID string) (domain.ScanResult, error)
	ListRecent(ctx context.Context, limit int) ([]domain.ScanResult, error)
	// FindPreviousByURL returns the latest scan of url archived before the
	// given time, skipping excludeID. ErrScanNotFound when there is none.
	FindPreviousByURL(ctx context.Context, url string, before time.Time, excludeID string) (domain.PreviousScan, error)
}
