package domain

// unscoredPreviousRiskScore stands in for a previous scan archived without a risk score.
const unscoredPreviousRiskScore = 100

// PreviousScan is the archived scan of the same URL that a new scan is
// compared against. RiskScore is nil when the archived copy has no score.
type PreviousScan struct {
	ID        string
	ScanDate  string
	RiskScore *int
	Anomalies []Anomaly
}

// ScanComparison lists how the findings of a scan changed since the previous
// scan of the same URL. Issues are identified by their message.
type ScanComparison struct {
	PreviousScanID   string   `json:"previous_scan_id,omitempty"`
	PreviousScanDate string   `json:"previous_scan_date,omitempty"`
	NewIssues        []string `json:"new_issues"`
	ResolvedIssues   []string `json:"resolved_issues"`
	PersistentIssues []string `json:"persistent_issues"`
	RiskScoreChange  int      `json:"risk_score_change"`
}

// CompareScans diffs the anomaly messages of two scans. New and persistent
// issues follow the order of the current scan, resolved issues the order of
// the previous one; duplicates are reported once. A positive RiskScoreChange
// means the site got safer.
func CompareScans(previous PreviousScan, current ScanResult) ScanComparison {
	before := messageSet(previous.Anomalies)
	after := messageSet(current.Anomalies)

	cmp := ScanComparison{
		PreviousScanID:   previous.ID,
		PreviousScanDate: previous.ScanDate,
		NewIssues:        []string{},
		ResolvedIssues:   []string{},
		PersistentIssues: []string{},
	}

	for _, msg := range uniqueMessages(current.Anomalies) {
		if _, ok := before[msg]; ok {
			cmp.PersistentIssues = append(cmp.PersistentIssues, msg)
		} else {
			cmp.NewIssues = append(cmp.NewIssues, msg)
		}
	}
	for _, msg := range uniqueMessages(previous.Anomalies) {
		if _, ok := after[msg]; !ok {
			cmp.ResolvedIssues = append(cmp.ResolvedIssues, msg)
		}
	}

	previousScore := unscoredPreviousRiskScore
	if previous.RiskScore != nil {
		previousScore = ClampScore(*previous.RiskScore)
	}
	cmp.RiskScoreChange = ClampScore(current.RiskScore) - previousScore

	return cmp
}

// Unchanged reports whether no issue appeared or disappeared and the score held.
func (c ScanComparison) Unchanged() bool {
	return len(c.NewIssues) == 0 && len(c.ResolvedIssues) == 0 && c.RiskScoreChange == 0
}

func messageSet(anomalies []Anomaly) map[string]struct{} {
	set := make(map[string]struct{}, len(anomalies))
	for _, a := range anomalies {
		set[a.Message] = struct{}{}
	}
	return set
}

func uniqueMessages(anomalies []Anomaly) []string {
	seen := make(map[string]struct{}, len(anomalies))
	out := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		if _, ok := seen[a.Message]; ok {
			continue
		}
		seen[a.Message] = struct{}{}
		out = append(out, a.Message)
	}
	return out
}
