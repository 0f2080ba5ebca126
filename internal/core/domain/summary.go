package domain

import "time"

// ScanSummary is everything the display layer needs for one scan.
type ScanSummary struct {
	ScanID          string              `json:"scan_id,omitempty"`
	URL             string              `json:"url"`
	ScanDate        string              `json:"scan_date,omitempty"`
	Groups          []AnomalyGroup      `json:"groups"`
	Risk            RiskAssessment      `json:"risk"`
	Threat          ThreatAssessment    `json:"threat"`
	SeverityCounts  map[Severity]int    `json:"severity_counts"`
	TypeCounts      map[AnomalyType]int `json:"type_counts"`
	Recommendations []string            `json:"recommendations"`
	Indicators      []Indicator         `json:"indicators"`
	GeneratedAt     time.Time           `json:"generated_at"`

	// PreviousScanDiff is set when an earlier scan of the same URL is archived.
	PreviousScanDiff *ScanComparison `json:"previous_scan_diff,omitempty"`
}

// BuildSummary derives the presentation values of a scan. The scan is
// normalized first, so partial input never fails.
func BuildSummary(scan ScanResult, now time.Time) ScanSummary {
	scan = scan.Normalize()

	severities := make(map[Severity]int)
	types := make(map[AnomalyType]int)
	for _, a := range scan.Anomalies {
		severities[a.SeverityOrDefault()]++
		types[a.Type]++
	}

	indicators := ExtractIndicators(scan)
	if indicators == nil {
		indicators = []Indicator{}
	}

	return ScanSummary{
		ScanID:          scan.ID,
		URL:             scan.URL,
		ScanDate:        scan.Metadata.ScanDate,
		Groups:          GroupAnomalies(scan.Anomalies),
		Risk:            AssessRisk(scan.RiskScore, scan.RiskLevel),
		Threat:          AssessThreat(scan.ThreatIntel),
		SeverityCounts:  severities,
		TypeCounts:      types,
		Recommendations: scan.Recommendations,
		Indicators:      indicators,
		GeneratedAt:     now.UTC(),
	}
}

// ShouldAlert reports whether the summary deserves a notification: a red
// combined threat category, or source and local risk levels that disagree.
func (s ScanSummary) ShouldAlert() bool {
	return s.Threat.CombinedCategory == ThreatRed || s.Risk.Discrepant
}
