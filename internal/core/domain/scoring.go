package domain

import "strings"

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
	RiskUnknown  RiskLevel = "unknown"
)

// RiskAssessment keeps the level supplied by the scan source next to the
// level recomputed locally from the score. The two use opposite scales and
// are never reconciled; Discrepant flags when they disagree.
type RiskAssessment struct {
	Score       int       `json:"score"`
	SourceLevel RiskLevel `json:"source_level"`
	LocalLevel  RiskLevel `json:"local_level"`
	Discrepant  bool      `json:"discrepant"`
}

// ClassifyRisk maps a 0-100 score to a level. A higher score yields a lower
// risk label:
//
//	score <= 50 -> critical
//	score <= 70 -> high
//	score <= 90 -> medium
//	otherwise   -> low
func ClassifyRisk(score int) RiskLevel {
	score = ClampScore(score)

	switch {
	case score <= 50:
		return RiskCritical
	case score <= 70:
		return RiskHigh
	case score <= 90:
		return RiskMedium
	default:
		return RiskLow
	}
}

// AssessRisk builds the presentation value for a scan's risk.
// An empty or unrecognised source level becomes RiskUnknown.
func AssessRisk(score int, sourceLevel RiskLevel) RiskAssessment {
	source := ParseRiskLevel(string(sourceLevel))
	local := ClassifyRisk(score)

	return RiskAssessment{
		Score:       ClampScore(score),
		SourceLevel: source,
		LocalLevel:  local,
		Discrepant:  source != RiskUnknown && source != local,
	}
}

// ParseRiskLevel accepts the known level names in any case and falls back to RiskUnknown.
func ParseRiskLevel(s string) RiskLevel {
	level := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	switch level {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return level
	default:
		return RiskUnknown
	}
}

// ClampScore bounds a score to [0,100].
func ClampScore(score int) int {
	return max(0, min(100, score))
}
