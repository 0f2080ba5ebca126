package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/hive-corporation/sitescan/internal/core/domain"
	"github.com/hive-corporation/sitescan/internal/core/ports"
)

const (
	DocumentTitle          = "Security Scan Report"
	RecommendationHeading  = "Recommendation"
	QuickFixHeading        = "Quick Fix"
	noRecommendationNotice = "No recommendation provided."
)

// Document is the fixed layout of a report, top to bottom.
type Document struct {
	Title          string
	Message        string
	Severity       string // upper-cased
	Count          int
	Recommendation string
	QuickFix       *string // nil unless the finding is a security finding
	Footer         string
	FileName       string
}

// BuildDocument lays out one anomaly group. The snippet resolver is only
// consulted for security findings.
func BuildDocument(group domain.AnomalyGroup, resolver ports.SnippetResolver, generatedAt time.Time) Document {
	recommendation := strings.TrimSpace(group.Recommendation)
	if recommendation == "" {
		recommendation = noRecommendationNotice
	}

	doc := Document{
		Title:          DocumentTitle,
		Message:        group.Message,
		Severity:       strings.ToUpper(string(group.SeverityOrDefault())),
		Count:          group.Count,
		Recommendation: recommendation,
		Footer:         fmt.Sprintf("Generated on %s", generatedAt.UTC().Format("2006-01-02 15:04:05 UTC")),
		FileName:       domain.ReportArtifactName(group.Message),
	}

	switch group.Type {
	case domain.Security:
		snippet := resolver.Resolve(group.Anomaly)
		doc.QuickFix = &snippet
	default:
		// Quick fixes only exist for security headers
	}

	return doc
}

// Details returns the lines of the details block.
func (d Document) Details() []string {
	return []string{
		"Finding: " + d.Message,
		"Severity: " + d.Severity,
		fmt.Sprintf("Occurrences: %d", d.Count),
	}
}
