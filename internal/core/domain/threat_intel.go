package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type ThreatCategory string

const (
	ThreatRed    ThreatCategory = "red"
	ThreatOrange ThreatCategory = "orange"
	ThreatGreen  ThreatCategory = "green"
)

// Weights of the locally derived combined score. The two sources count equally.
const (
	AbuseConfidenceWeight = 0.5
	EngineDetectionWeight = 0.5
)

// ThreatIntel is the reputation data attached to a scan by two independent sources.
type ThreatIntel struct {
	VirusTotal    VirusTotalReport `json:"virustotal"`
	AbuseIPDB     AbuseIPDBReport  `json:"abuse_ip_db"`
	CombinedScore *CombinedScore   `json:"combined_score,omitempty"` // nil when the source did not supply one
}

type VirusTotalReport struct {
	MaliciousCount int    `json:"malicious_count"`
	TotalEngines   int    `json:"total_engines"`
	Category       string `json:"category"`
}

type AbuseIPDBReport struct {
	ConfidenceScore int      `json:"confidenceScore"`
	Domain          string   `json:"domain"`
	IP              string   `json:"ip"`
	Country         string   `json:"country"`
	ISP             string   `json:"isp"`
	Hostnames       []string `json:"hostnames"`
	IsTor           bool     `json:"is_tor"`
	IsWhitelisted   bool     `json:"is_whitelisted"`
	LastReported    string   `json:"last_reported"` // Kept raw; sources disagree on the timestamp layout
	Category        string   `json:"category"`
}

type CombinedScore struct {
	Score int `json:"score"`
}

// UnmarshalJSON accepts both {"score": 45} and a bare number, which older
// scan engines emit.
func (c *CombinedScore) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("combined_score: %w", err)
		}
		c.Score = int(math.Round(f))
		return nil
	}

	var obj struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("combined_score: %w", err)
	}
	c.Score = int(math.Round(obj.Score))
	return nil
}

// ThreatAssessment is the combined view of both threat-intel sources.
type ThreatAssessment struct {
	AbuseCategory    ThreatCategory `json:"abuse_category"`
	CombinedScore    int            `json:"combined_score"`
	CombinedCategory ThreatCategory `json:"combined_category"`
	Derived          bool           `json:"derived"` // true when CombinedScore was computed locally
}

// IsZero reports whether the report carries no engine results.
func (r VirusTotalReport) IsZero() bool {
	return r.TotalEngines <= 0 && r.MaliciousCount == 0 && r.Category == ""
}

// DetectionRatio is malicious_count/total_engines in [0,1]. No engines means 0.
func (r VirusTotalReport) DetectionRatio() float64 {
	if r.TotalEngines <= 0 {
		return 0
	}
	malicious := max(0, min(r.MaliciousCount, r.TotalEngines))
	return float64(malicious) / float64(r.TotalEngines)
}

// IsZero reports whether the report identifies nothing.
func (r AbuseIPDBReport) IsZero() bool {
	return r.IP == "" && r.Domain == "" && r.ConfidenceScore == 0 && len(r.Hostnames) == 0
}

// LastReportedAt parses LastReported. ok is false when it is empty or unparseable.
func (r AbuseIPDBReport) LastReportedAt() (t time.Time, ok bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, r.LastReported); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// CategorizeConfidence maps an abuse confidence score to a traffic-light category:
// > 50 red, > 20 orange, otherwise green.
func CategorizeConfidence(confidenceScore int) ThreatCategory {
	switch {
	case confidenceScore > 50:
		return ThreatRed
	case confidenceScore > 20:
		return ThreatOrange
	default:
		return ThreatGreen
	}
}

// CombineThreatScore returns the source-supplied combined score when present,
// otherwise round(0.5*confidence + 0.5*100*malicious/total). Always in [0,100].
func CombineThreatScore(ti ThreatIntel) int {
	if ti.CombinedScore != nil {
		return ClampScore(ti.CombinedScore.Score)
	}
	return deriveCombinedScore(ti)
}

func deriveCombinedScore(ti ThreatIntel) int {
	confidence := float64(ClampScore(ti.AbuseIPDB.ConfidenceScore))
	detections := 100 * ti.VirusTotal.DetectionRatio()

	score := AbuseConfidenceWeight*confidence + EngineDetectionWeight*detections
	return ClampScore(int(math.Round(score)))
}

// AssessThreat categorizes both the abuse confidence and the combined score.
func AssessThreat(ti ThreatIntel) ThreatAssessment {
	combined := CombineThreatScore(ti)

	return ThreatAssessment{
		AbuseCategory:    CategorizeConfidence(ClampScore(ti.AbuseIPDB.ConfidenceScore)),
		CombinedScore:    combined,
		CombinedCategory: CategorizeConfidence(combined),
		Derived:          ti.CombinedScore == nil,
	}
}
