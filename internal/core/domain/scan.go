package domain

import "time"

// ScanResult is the raw scan snapshot delivered by the scanning engine.
type ScanResult struct {
	ID              string       `json:"id,omitempty"`
	URL             string       `json:"url"`
	RiskScore       int          `json:"risk_score"`
	RiskLevel       RiskLevel    `json:"risk_level"`
	Anomalies       []Anomaly    `json:"anomalies"`
	ThreatIntel     ThreatIntel  `json:"threat_intel"`
	Recommendations []string     `json:"recommendations"`
	Metadata        ScanMetadata `json:"scan_metadata"`
}

type ScanMetadata struct {
	ScanDate string `json:"scan_date"`
}

// ScanDateTime parses the scan timestamp. ok is false when it is missing or malformed.
func (m ScanMetadata) ScanDateTime() (t time.Time, ok bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, m.ScanDate); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Normalize substitutes defaults for missing fields instead of rejecting the
// scan: empty slices for anomalies and recommendations, RiskUnknown for an
// absent or unrecognised level. The receiver is not modified.
func (s ScanResult) Normalize() ScanResult {
	out := s

	out.Anomalies = make([]Anomaly, len(s.Anomalies))
	copy(out.Anomalies, s.Anomalies)

	if s.Recommendations == nil {
		out.Recommendations = []string{}
	} else {
		out.Recommendations = append([]string{}, s.Recommendations...)
	}

	out.RiskLevel = ParseRiskLevel(string(s.RiskLevel))

	if s.ThreatIntel.AbuseIPDB.Hostnames == nil {
		out.ThreatIntel.AbuseIPDB.Hostnames = []string{}
	} else {
		out.ThreatIntel.AbuseIPDB.Hostnames = append([]string{}, s.ThreatIntel.AbuseIPDB.Hostnames...)
	}
	if s.ThreatIntel.CombinedScore != nil {
		combined := *s.ThreatIntel.CombinedScore
		out.ThreatIntel.CombinedScore = &combined
	}

	return out
}
