package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskCritical},
		{50, RiskCritical},
		{51, RiskHigh},
		{70, RiskHigh},
		{71, RiskMedium},
		{82, RiskMedium},
		{90, RiskMedium},
		{91, RiskLow},
		{100, RiskLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyRisk(tt.score), "ClassifyRisk(%d)", tt.score)
	}
}

func TestClassifyRisk_Clamps(t *testing.T) {
	assert.Equal(t, ClassifyRisk(0), ClassifyRisk(-5))
	assert.Equal(t, ClassifyRisk(100), ClassifyRisk(150))
}

func TestAssessRisk_KeepsBothLevels(t *testing.T) {
	got := AssessRisk(82, RiskHigh)

	assert.Equal(t, 82, got.Score)
	assert.Equal(t, RiskHigh, got.SourceLevel)
	assert.Equal(t, RiskMedium, got.LocalLevel)
	assert.True(t, got.Discrepant)
}

func TestAssessRisk_UnknownSourceLevel(t *testing.T) {
	for _, level := range []RiskLevel{"", "severe", RiskUnknown} {
		got := AssessRisk(30, level)
		assert.Equal(t, RiskUnknown, got.SourceLevel)
		assert.Equal(t, RiskCritical, got.LocalLevel)
		assert.False(t, got.Discrepant, "unknown source level must not be flagged")
	}
}

func TestAssessRisk_Agreement(t *testing.T) {
	got := AssessRisk(95, RiskLow)
	assert.False(t, got.Discrepant)
}

func TestAssessRisk_ClampsScore(t *testing.T) {
	assert.Equal(t, 100, AssessRisk(250, "").Score)
	assert.Equal(t, 0, AssessRisk(-1, "").Score)
}

func TestParseRiskLevel(t *testing.T) {
	tests := map[string]RiskLevel{
		"critical": RiskCritical,
		"Critical": RiskCritical,
		" HIGH ":   RiskHigh,
		"medium":   RiskMedium,
		"low":      RiskLow,
		"":         RiskUnknown,
		"severe":   RiskUnknown,
		"unknown":  RiskUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseRiskLevel(in), "input %q", in)
	}
}
