package domain

type AnomalyType string

const (
	Security      AnomalyType = "security"
	Performance   AnomalyType = "performance"
	SEO           AnomalyType = "seo"
	Accessibility AnomalyType = "accessibility"
	Malware       AnomalyType = "malware"
)

type Severity string

const (
	SeverityLow          Severity = "low"
	SeverityMedium       Severity = "medium"
	SeverityHigh         Severity = "high"
	SeverityCritical     Severity = "critical"
	SeverityUnclassified Severity = "unclassified"
)

// Anomaly is one finding reported by the scanning engine.
type Anomaly struct {
	Type           AnomalyType `json:"type"`
	Message        string      `json:"message"`            // Finding text, part of the grouping identity
	Severity       Severity    `json:"severity,omitempty"` // Empty means unclassified
	Recommendation string      `json:"recommendation,omitempty"`
	ContextNote    string      `json:"context_note,omitempty"`
}

// AnomalyGroup is the first-seen anomaly of a key plus how many times the key occurred.
type AnomalyGroup struct {
	Anomaly
	Count int `json:"count"`
}

// GroupKey is the identity used for deduplication. No normalization is applied.
func (a Anomaly) GroupKey() string {
	return string(a.Type) + "-" + a.Message
}

// SeverityOrDefault returns the severity, or SeverityUnclassified when the scanner left it empty.
func (a Anomaly) SeverityOrDefault() Severity {
	if a.Severity == "" {
		return SeverityUnclassified
	}
	return a.Severity
}

// IsSecurity reports whether remediation snippets apply to this finding.
func (a Anomaly) IsSecurity() bool {
	return a.Type == Security
}

// GroupAnomalies collapses anomalies sharing the same type and message.
// The first occurrence of a key decides every field of the group; later
// occurrences only increment Count. Groups keep first-seen order.
func GroupAnomalies(anomalies []Anomaly) []AnomalyGroup {
	groups := make([]AnomalyGroup, 0, len(anomalies))
	index := make(map[string]int, len(anomalies))

	for _, a := range anomalies {
		key := a.GroupKey()
		if i, ok := index[key]; ok {
			groups[i].Count++
			continue
		}
		index[key] = len(groups)
		groups = append(groups, AnomalyGroup{Anomaly: a, Count: 1})
	}

	return groups
}
