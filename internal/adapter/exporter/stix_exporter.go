package exporter

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/sitescan/internal/core/domain"
)

// STIXExporter exports a scan as a STIX 2.1 bundle: one indicator per
// observable and one note per anomaly group.
type STIXExporter struct {
	newID func() string
}

func NewSTIXExporter() *STIXExporter {
	return &STIXExporter{newID: uuid.NewString}
}

func (e *STIXExporter) Format() string { return "stix" }

func (e *STIXExporter) ContentType() string { return "application/stix+json;version=2.1" }

func (e *STIXExporter) Export(summary domain.ScanSummary) ([]byte, error) {
	created := summary.GeneratedAt.UTC().Format(time.RFC3339)

	bundle := STIXBundle{
		Type:    "bundle",
		ID:      "bundle--" + e.newID(),
		Objects: []STIXObject{},
	}

	var refs []string
	for _, ind := range summary.Indicators {
		obj := e.convertToSTIX(summary, ind, created)
		refs = append(refs, obj.ID)
		bundle.Objects = append(bundle.Objects, obj)
	}

	// A note must reference at least one object
	if len(refs) > 0 {
		for _, group := range summary.Groups {
			bundle.Objects = append(bundle.Objects, e.noteFor(group, refs, created))
		}
	}

	jsonData, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal STIX bundle: %w", err)
	}

	return jsonData, nil
}

func (e *STIXExporter) convertToSTIX(summary domain.ScanSummary, ind domain.Indicator, created string) STIXObject {
	validFrom := created
	if scanned, ok := (domain.ScanMetadata{ScanDate: summary.ScanDate}).ScanDateTime(); ok {
		validFrom = scanned.UTC().Format(time.RFC3339)
	}

	return STIXObject{
		Type:           "indicator",
		SpecVersion:    "2.1",
		ID:             "indicator--" + e.newID(),
		Created:        created,
		Modified:       created,
		Name:           fmt.Sprintf("%s Indicator", strings.ToUpper(string(ind.Type))),
		Pattern:        buildPattern(ind),
		PatternType:    "stix",
		ValidFrom:      validFrom,
		IndicatorTypes: mapIndicatorTypes(summary.Threat.CombinedCategory),
		Confidence:     summary.Threat.CombinedScore,
		Labels:         []string{"risk-" + string(summary.Risk.LocalLevel)},
	}
}

func (e *STIXExporter) noteFor(group domain.AnomalyGroup, refs []string, created string) STIXObject {
	content := fmt.Sprintf("Severity: %s\nOccurrences: %d", group.SeverityOrDefault(), group.Count)
	if group.Recommendation != "" {
		content += "\nRecommendation: " + group.Recommendation
	}

	return STIXObject{
		Type:        "note",
		SpecVersion: "2.1",
		ID:          "note--" + e.newID(),
		Created:     created,
		Modified:    created,
		Abstract:    group.Message,
		Content:     content,
		ObjectRefs:  refs,
		Labels:      []string{string(group.Type)},
	}
}

func buildPattern(ind domain.Indicator) string {
	value := strings.ReplaceAll(ind.Value, "'", "\\'")

	switch ind.Type {
	case domain.IPAddress:
		if ip := net.ParseIP(ind.Value); ip != nil && ip.To4() == nil {
			return fmt.Sprintf("[ipv6-addr:value = '%s']", value)
		}
		return fmt.Sprintf("[ipv4-addr:value = '%s']", value)
	case domain.Domain:
		return fmt.Sprintf("[domain-name:value = '%s']", value)
	case domain.URL:
		return fmt.Sprintf("[url:value = '%s']", value)
	default:
		return fmt.Sprintf("[x-sitescan-observable:value = '%s']", value)
	}
}

func mapIndicatorTypes(category domain.ThreatCategory) []string {
	switch category {
	case domain.ThreatRed:
		return []string{"malicious-activity"}
	case domain.ThreatOrange:
		return []string{"anomalous-activity"}
	default:
		return []string{"benign"}
	}
}

// STIX 2.1 data structures

type STIXBundle struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Objects []STIXObject `json:"objects"`
}

type STIXObject struct {
	Type           string   `json:"type"`
	SpecVersion    string   `json:"spec_version"`
	ID             string   `json:"id"`
	Created        string   `json:"created"`
	Modified       string   `json:"modified"`
	Name           string   `json:"name,omitempty"`
	Pattern        string   `json:"pattern,omitempty"`
	PatternType    string   `json:"pattern_type,omitempty"`
	ValidFrom      string   `json:"valid_from,omitempty"`
	IndicatorTypes []string `json:"indicator_types,omitempty"`
	Confidence     int      `json:"confidence,omitempty"`
	Labels         []string `json:"labels,omitempty"`
	Abstract       string   `json:"abstract,omitempty"`
	Content        string   `json:"content,omitempty"`
	ObjectRefs     []string `json:"object_refs,omitempty"`
}
