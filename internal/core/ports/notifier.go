package ports

import "github.com/hive-corporation/sitescan/internal/core/domain"

// Notifier defines the interface for sending notifications to external systems
type Notifier interface {
	// NotifyScanAlert is called for summaries whose ShouldAlert is true
	NotifyScanAlert(summary domain.ScanSummary) error
}
