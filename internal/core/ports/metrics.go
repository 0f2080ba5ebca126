package ports

// Metrics receives the counters the scan service produces.
type Metrics interface {
	// ScanAnalyzed is called once per summarized scan.
	ScanAnalyzed(origin string, groups int, threatCategory string, discrepant bool)
	// Error counts a failed side call by kind ("scan_request", "archive", ...).
	Error(kind string)
}
