package exporter

import (
	"fmt"
	"strings"

	"github.com/hive-corporation/sitescan/internal/core/domain"
)

const (
	cefVendor  = "Hive"
	cefProduct = "Sitescan"
	cefVersion = "1.0"
)

// CEFExporter writes one Common Event Format line per anomaly group.
type CEFExporter struct{}

func NewCEFExporter() *CEFExporter {
	return &CEFExporter{}
}

func (e *CEFExporter) Format() string { return "cef" }

func (e *CEFExporter) ContentType() string { return "text/plain; charset=utf-8" }

// Export generates the CEF feed for a scan.
// Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(summary domain.ScanSummary) ([]byte, error) {
	var output strings.Builder

	for _, group := range summary.Groups {
		output.WriteString(e.formatCEF(summary, group))
		output.WriteString("\n")
	}

	return []byte(output.String()), nil
}

func (e *CEFExporter) formatCEF(summary domain.ScanSummary, group domain.AnomalyGroup) string {
	signatureID := escapeHeader(group.GroupKey())
	name := escapeHeader(group.Message)
	severity := calculateSeverity(group.SeverityOrDefault())

	// CEF Extensions (key=value pairs)
	extensions := []string{
		fmt.Sprintf("request=%s", escapeExtension(summary.URL)),
		"cs1Label=AnomalyType",
		fmt.Sprintf("cs1=%s", escapeExtension(string(group.Type))),
		"cn1Label=Occurrences",
		fmt.Sprintf("cn1=%d", group.Count),
		"cs2Label=RiskLevel",
		fmt.Sprintf("cs2=%s", summary.Risk.LocalLevel),
		"cn2Label=CombinedThreatScore",
		fmt.Sprintf("cn2=%d", summary.Threat.CombinedScore),
		"cs3Label=ThreatCategory",
		fmt.Sprintf("cs3=%s", summary.Threat.CombinedCategory),
	}
	if summary.ScanID != "" {
		extensions = append(extensions, "cs4Label=ScanID", fmt.Sprintf("cs4=%s", escapeExtension(summary.ScanID)))
	}
	if group.Recommendation != "" {
		extensions = append(extensions, fmt.Sprintf("msg=%s", escapeExtension(group.Recommendation)))
	}
	extensions = append(extensions, fmt.Sprintf("rt=%d", summary.GeneratedAt.UnixMilli()))

	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		cefVendor, cefProduct, cefVersion, signatureID, name, severity, strings.Join(extensions, " "))
}

// calculateSeverity maps a finding severity to the CEF 0-10 scale.
func calculateSeverity(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 10
	case domain.SeverityHigh:
		return 8
	case domain.SeverityMedium:
		return 5
	case domain.SeverityLow:
		return 3
	default:
		return 1
	}
}

func escapeHeader(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func escapeExtension(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
