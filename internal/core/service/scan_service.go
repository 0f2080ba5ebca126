package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hive-corporation/sitescan/internal/core/domain"
	"github.com/hive-corporation/sitescan/internal/core/ports"
)

var (
	ErrInvalidTarget     = errors.New("target must be an absolute http(s) url")
	ErrGroupNotFound     = errors.New("anomaly group not found")
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrNoArchive         = errors.New("scan archive is not configured")
	ErrNoSource          = errors.New("scan source is not configured")
)

// Origins reported to the scans_analyzed metric.
const (
	OriginSubmitted = "submitted"
	OriginRequested = "requested"
	OriginSource    = "source"
	OriginArchive   = "archive"
)

// Dependencies of ScanService. Source, Archive, the lookups, Store,
// Notifier and Metrics are optional; Renderer is required for report
// operations.
type Dependencies struct {
	Source     ports.ScanSource
	Archive    ports.ScanRepository
	VirusTotal ports.VirusTotalLookup
	AbuseIPDB  ports.AbuseIPDBLookup
	Renderer   ports.ReportRenderer
	Store      ports.ArtifactStore
	Exporters  []ports.SummaryExporter
	Notifier   ports.Notifier
	Metrics    ports.Metrics
}

// ScanService turns raw scans into summaries, reports and feeds.
type ScanService struct {
	deps      Dependencies
	exporters map[string]ports.SummaryExporter
	metrics   ports.Metrics
	log       *zap.Logger

	now      func() time.Time
	newID    func() string
	lookupIP func(ctx context.Context, host string) ([]net.IPAddr, error)
}

func New(deps Dependencies, logger *zap.Logger) *ScanService {
	exporters := make(map[string]ports.SummaryExporter, len(deps.Exporters))
	for _, e := range deps.Exporters {
		exporters[strings.ToLower(e.Format())] = e
	}

	recorder := deps.Metrics
	if recorder == nil {
		recorder = nopMetrics{}
	}

	return &ScanService{
		deps:      deps,
		exporters: exporters,
		metrics:   recorder,
		log:       logger.Named("scan_service"),
		now:       time.Now,
		newID:     uuid.NewString,
		lookupIP:  net.DefaultResolver.LookupIPAddr,
	}
}

// Analyze summarizes a submitted scan, archives it and raises an alert when
// warranted. Missing threat-intel data is filled from the configured lookups.
func (s *ScanService) Analyze(ctx context.Context, scan domain.ScanResult) (domain.ScanSummary, error) {
	return s.analyze(ctx, scan, OriginSubmitted)
}

// Summarize loads a scan by id, from the archive first and then the source.
func (s *ScanService) Summarize(ctx context.Context, scanID string) (domain.ScanSummary, error) {
	scan, fromArchive, err := s.load(ctx, scanID)
	if err != nil {
		return domain.ScanSummary{}, err
	}

	if fromArchive {
		summary := domain.BuildSummary(scan, s.now())
		s.record(summary, OriginArchive)
		return summary, nil
	}
	return s.analyze(ctx, scan, OriginSource)
}

// RequestScan asks the scan source to scan targetURL and analyzes the result.
func (s *ScanService) RequestScan(ctx context.Context, targetURL string) (domain.ScanSummary, error) {
	if err := ValidateTarget(targetURL); err != nil {
		return domain.ScanSummary{}, err
	}
	if s.deps.Source == nil {
		return domain.ScanSummary{}, ErrNoSource
	}

	scan, err := s.deps.Source.Request(ctx, targetURL)
	if err != nil {
		s.metrics.Error("scan_request")
		return domain.ScanSummary{}, fmt.Errorf("failed to request scan: %w", err)
	}

	return s.analyze(ctx, scan, OriginRequested)
}

// ListRecent summarizes the most recently archived scans.
func (s *ScanService) ListRecent(ctx context.Context, limit int) ([]domain.ScanSummary, error) {
	if s.deps.Archive == nil {
		return nil, ErrNoArchive
	}

	scans, err := s.deps.Archive.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}

	now := s.now()
	summaries := make([]domain.ScanSummary, 0, len(scans))
	for _, scan := range scans {
		summaries = append(summaries, domain.BuildSummary(scan, now))
	}
	return summaries, nil
}

// RenderReport renders the document of the index-th anomaly group of a scan.
func (s *ScanService) RenderReport(ctx context.Context, scanID string, index int) (*domain.ReportArtifact, error) {
	scan, _, err := s.load(ctx, scanID)
	if err != nil {
		return nil, err
	}
	return s.RenderScanReport(scan, index)
}

// RenderScanReport renders the index-th anomaly group of an in-memory scan.
func (s *ScanService) RenderScanReport(scan domain.ScanResult, index int) (*domain.ReportArtifact, error) {
	if s.deps.Renderer == nil {
		return nil, errors.New("report renderer is not configured")
	}

	groups := domain.GroupAnomalies(scan.Normalize().Anomalies)
	if index < 0 || index >= len(groups) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrGroupNotFound, index, len(groups))
	}

	return s.deps.Renderer.Render(groups[index])
}

// EmitReport renders a report and hands it to the artifact store.
func (s *ScanService) EmitReport(ctx context.Context, scan domain.ScanResult, index int) (string, error) {
	if s.deps.Store == nil {
		return "", errors.New("artifact store is not configured")
	}

	artifact, err := s.RenderScanReport(scan, index)
	if err != nil {
		return "", err
	}

	location, err := s.deps.Store.Write(ctx, artifact)
	if err != nil {
		return "", err
	}

	s.log.Info("Report emitted", zap.String("artifact", artifact.Name), zap.String("location", location))
	return location, nil
}

// Export serializes a scan summary in the named feed format.
func (s *ScanService) Export(ctx context.Context, scanID, format string) ([]byte, string, error) {
	exporter, ok := s.exporters[strings.ToLower(format)]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	scan, _, err := s.load(ctx, scanID)
	if err != nil {
		return nil, "", err
	}

	data, err := exporter.Export(domain.BuildSummary(scan, s.now()))
	if err != nil {
		return nil, "", fmt.Errorf("failed to export scan %s as %s: %w", scanID, format, err)
	}
	return data, exporter.ContentType(), nil
}

// Formats lists the configured export formats.
func (s *ScanService) Formats() []string {
	formats := make([]string, 0, len(s.exporters))
	for _, e := range s.deps.Exporters {
		formats = append(formats, e.Format())
	}
	return formats
}

func (s *ScanService) analyze(ctx context.Context, scan domain.ScanResult, origin string) (domain.ScanSummary, error) {
	if scan.ID == "" {
		scan.ID = s.newID()
	}
	scan = scan.Normalize()
	scan = s.enrich(ctx, scan)

	summary := domain.BuildSummary(scan, s.now())
	s.record(summary, origin)

	log := s.log.With(zap.String("scan_id", scan.ID), zap.String("url", scan.URL))

	if s.deps.Archive != nil {
		summary.PreviousScanDiff = s.compareWithPrevious(ctx, scan, log)

		if err := s.deps.Archive.Save(ctx, scan); err != nil {
			// The summary is still valid without the archive copy
			s.metrics.Error("archive")
			log.Warn("Failed to archive scan", zap.Error(err))
		}
	}

	if summary.ShouldAlert() && s.deps.Notifier != nil {
		if err := s.deps.Notifier.NotifyScanAlert(summary); err != nil {
			s.metrics.Error("notify")
			log.Warn("Failed to send scan alert", zap.Error(err))
		}
	}

	log.Debug("Scan analyzed",
		zap.Int("groups", len(summary.Groups)),
		zap.String("risk", string(summary.Risk.LocalLevel)),
		zap.String("threat", string(summary.Threat.CombinedCategory)))

	return summary, nil
}

func (s *ScanService) record(summary domain.ScanSummary, origin string) {
	s.metrics.ScanAnalyzed(origin, len(summary.Groups), string(summary.Threat.CombinedCategory), summary.Risk.Discrepant)
}

// compareWithPrevious diffs scan against the latest archived scan of the same
// URL. It returns nil for a first scan or when the archive cannot answer.
func (s *ScanService) compareWithPrevious(ctx context.Context, scan domain.ScanResult, log *zap.Logger) *domain.ScanComparison {
	if scan.URL == "" {
		return nil
	}

	previous, err := s.deps.Archive.FindPreviousByURL(ctx, scan.URL, s.now(), scan.ID)
	if errors.Is(err, ports.ErrScanNotFound) {
		return nil
	}
	if err != nil {
		s.metrics.Error("archive")
		log.Warn("Failed to load previous scan", zap.Error(err))
		return nil
	}

	diff := domain.CompareScans(previous, scan)
	log.Debug("Compared with previous scan",
		zap.String("previous_scan_id", previous.ID),
		zap.Int("new_issues", len(diff.NewIssues)),
		zap.Int("resolved_issues", len(diff.ResolvedIssues)),
		zap.Int("risk_score_change", diff.RiskScoreChange))
	return &diff
}

type nopMetrics struct{}

func (nopMetrics) ScanAnalyzed(string, int, string, bool) {}
func (nopMetrics) Error(string)                           {}

// load returns the scan and whether it came from the archive.
func (s *ScanService) load(ctx context.Context, scanID string) (domain.ScanResult, bool, error) {
	if s.deps.Archive != nil {
		scan, err := s.deps.Archive.FindByID(ctx, scanID)
		if err == nil {
			return scan, true, nil
		}
		if !errors.Is(err, ports.ErrScanNotFound) {
			return domain.ScanResult{}, false, fmt.Errorf("failed to load scan: %w", err)
		}
	}

	if s.deps.Source == nil {
		return domain.ScanResult{}, false, fmt.Errorf("scan %s: %w", scanID, ports.ErrScanNotFound)
	}

	scan, err := s.deps.Source.Fetch(ctx, scanID)
	if err != nil {
		return domain.ScanResult{}, false, err
	}
	if scan.ID == "" {
		scan.ID = scanID
	}
	return scan, false, nil
}

// enrich fills threat-intel reports the scan arrived without. Lookup
// failures leave the report empty.
func (s *ScanService) enrich(ctx context.Context, scan domain.ScanResult) domain.ScanResult {
	host := targetHost(scan.URL)
	if host == "" {
		return scan
	}
	log := s.log.With(zap.String("host", host))

	if scan.ThreatIntel.VirusTotal.IsZero() && s.deps.VirusTotal != nil && net.ParseIP(host) == nil {
		report, err := s.deps.VirusTotal.LookupDomain(ctx, host)
		if err != nil {
			s.metrics.Error("virustotal")
			log.Warn("VirusTotal lookup failed", zap.Error(err))
		} else {
			scan.ThreatIntel.VirusTotal = report
		}
	}

	if scan.ThreatIntel.AbuseIPDB.IsZero() && s.deps.AbuseIPDB != nil {
		ip, err := s.resolveIP(ctx, host)
		if err != nil {
			log.Warn("Failed to resolve host", zap.Error(err))
			return scan
		}

		report, err := s.deps.AbuseIPDB.CheckIP(ctx, ip)
		if err != nil {
			s.metrics.Error("abuseipdb")
			log.Warn("AbuseIPDB lookup failed", zap.Error(err))
		} else {
			if report.Domain == "" && net.ParseIP(host) == nil {
				report.Domain = host
			}
			scan.ThreatIntel.AbuseIPDB = report
		}
	}

	return scan
}

func (s *ScanService) resolveIP(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	addrs, err := s.lookupIP(ctx, host)
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP.String(), nil
	}
	return "", fmt.Errorf("no addresses for %s", host)
}

// ValidateTarget accepts absolute http and https URLs with a host.
func ValidateTarget(target string) error {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return nil
}

func targetHost(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
