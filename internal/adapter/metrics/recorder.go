package metrics

// Recorder exposes the Prometheus collectors of this package to the scan
// service. It records nothing until InitMetrics has run.
type Recorder struct{}

func NewRecorder() Recorder {
	return Recorder{}
}

func (Recorder) ScanAnalyzed(origin string, groups int, threatCategory string, discrepant bool) {
	RecordScanAnalyzed(origin, groups, threatCategory, discrepant)
}

func (Recorder) Error(kind string) {
	RecordError(kind)
}
