package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hive-corporation/sitescan/internal/core/domain"
	"github.com/hive-corporation/sitescan/internal/core/ports"
)

// -- fakes --

type fakeSource struct {
	scans     map[string]domain.ScanResult
	requested []string
	err       error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, id string) (domain.ScanResult, error) {
	if f.err != nil {
		return domain.ScanResult{}, f.err
	}
	scan, ok := f.scans[id]
	if !ok {
		return domain.ScanResult{}, ports.ErrScanNotFound
	}
	return scan, nil
}

func (f *fakeSource) Request(_ context.Context, target string) (domain.ScanResult, error) {
	f.requested = append(f.requested, target)
	if f.err != nil {
		return domain.ScanResult{}, f.err
	}
	return domain.ScanResult{URL: target, RiskScore: 95, RiskLevel: domain.RiskLow}, nil
}

type fakeArchive struct {
	mu      sync.Mutex
	scans   map[string]domain.ScanResult
	saved   []domain.ScanResult
	saveErr error
	findErr error
	prevErr error
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{scans: map[string]domain.ScanResult{}}
}

func (f *fakeArchive) Save(_ context.Context, scan domain.ScanResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, scan)
	f.scans[scan.ID] = scan
	return nil
}

func (f *fakeArchive) SaveBatch(ctx context.Context, scans []domain.ScanResult) error {
	for _, s := range scans {
		if err := f.Save(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeArchive) FindByID(_ context.Context, id string) (domain.ScanResult, error) {
	if f.findErr != nil {
		return domain.ScanResult{}, f.findErr
	}
	scan, ok := f.scans[id]
	if !ok {
		return domain.ScanResult{}, fmt.Errorf("scan %s: %w", id, ports.ErrScanNotFound)
	}
	return scan, nil
}

func (f *fakeArchive) ListRecent(_ context.Context, limit int) ([]domain.ScanResult, error) {
	var out []domain.ScanResult
	for _, s := range f.saved {
		if len(out) == limit {
			break
		}
		out = append(out, s)
	}
	return out, nil
}

// FindPreviousByURL treats save order as archive order and ignores before.
func (f *fakeArchive) FindPreviousByURL(_ context.Context, url string, _ time.Time, excludeID string) (domain.PreviousScan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prevErr != nil {
		return domain.PreviousScan{}, f.prevErr
	}
	for i := len(f.saved) - 1; i >= 0; i-- {
		s := f.saved[i]
		if s.URL != url || s.ID == excludeID {
			continue
		}
		score := s.RiskScore
		return domain.PreviousScan{ID: s.ID, ScanDate: s.Metadata.ScanDate, RiskScore: &score, Anomalies: s.Anomalies}, nil
	}
	return domain.PreviousScan{}, fmt.Errorf("previous scan of %s: %w", url, ports.ErrScanNotFound)
}

type fakeMetrics struct {
	analyzed []string
	errors   []string
}

func (f *fakeMetrics) ScanAnalyzed(origin string, _ int, _ string, _ bool) {
	f.analyzed = append(f.analyzed, origin)
}

func (f *fakeMetrics) Error(kind string) {
	f.errors = append(f.errors, kind)
}

type fakeNotifier struct {
	alerts []domain.ScanSummary
	err    error
}

func (f *fakeNotifier) NotifyScanAlert(s domain.ScanSummary) error {
	f.alerts = append(f.alerts, s)
	return f.err
}

type fakeVT struct {
	report domain.VirusTotalReport
	err    error
	hosts  []string
}

func (f *fakeVT) LookupDomain(_ context.Context, host string) (domain.VirusTotalReport, error) {
	f.hosts = append(f.hosts, host)
	return f.report, f.err
}

type fakeAbuse struct {
	report domain.AbuseIPDBReport
	err    error
	ips    []string
}

func (f *fakeAbuse) CheckIP(_ context.Context, ip string) (domain.AbuseIPDBReport, error) {
	f.ips = append(f.ips, ip)
	return f.report, f.err
}

type fakeRenderer struct{}

func (fakeRenderer) Render(g domain.AnomalyGroup) (*domain.ReportArtifact, error) {
	return &domain.ReportArtifact{
		Name:        domain.ReportArtifactName(g.Message),
		ContentType: domain.ReportContentType,
		Content:     []byte("%PDF-" + g.Message),
	}, nil
}

type fakeStore struct {
	written []string
	err     error
}

func (f *fakeStore) Write(_ context.Context, a *domain.ReportArtifact) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.written = append(f.written, a.Name)
	return "/reports/" + a.Name, nil
}

type fakeExporter struct{}

func (fakeExporter) Format() string      { return "csv" }
func (fakeExporter) ContentType() string { return "text/csv" }
func (fakeExporter) Export(s domain.ScanSummary) ([]byte, error) {
	return []byte(fmt.Sprintf("%s,%d", s.URL, len(s.Groups))), nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, deps Dependencies) *ScanService {
	t.Helper()
	s := New(deps, zaptest.NewLogger(t))
	s.now = func() time.Time { return fixedNow }
	s.newID = func() string { return "generated-id" }
	s.lookupIP = func(context.Context, string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP("2001:db8::1")}, {IP: net.ParseIP("203.0.113.7")}}, nil
	}
	return s
}

func redScan() domain.ScanResult {
	return domain.ScanResult{
		URL:       "https://bad.example",
		RiskScore: 20,
		RiskLevel: domain.RiskCritical,
		Anomalies: []domain.Anomaly{
			{Type: domain.Security, Message: "Missing Content-Security-Policy header", Severity: domain.SeverityHigh},
			{Type: domain.Security, Message: "Missing Content-Security-Policy header", Severity: domain.SeverityLow},
			{Type: domain.SEO, Message: "Missing meta description"},
		},
		ThreatIntel: domain.ThreatIntel{
			VirusTotal: domain.VirusTotalReport{MaliciousCount: 40, TotalEngines: 80, Category: "malicious"},
			AbuseIPDB:  domain.AbuseIPDBReport{ConfidenceScore: 90, IP: "203.0.113.9"},
		},
	}
}

// -- tests --

func TestAnalyze_ArchivesAndAlerts(t *testing.T) {
	archive := newFakeArchive()
	notifier := &fakeNotifier{}
	svc := newService(t, Dependencies{Archive: archive, Notifier: notifier})

	summary, err := svc.Analyze(context.Background(), redScan())
	require.NoError(t, err)

	assert.Equal(t, "generated-id", summary.ScanID)
	require.Len(t, summary.Groups, 2)
	assert.Equal(t, 2, summary.Groups[0].Count)
	assert.Equal(t, domain.SeverityHigh, summary.Groups[0].Severity)
	assert.Equal(t, domain.RiskCritical, summary.Risk.LocalLevel)
	assert.Equal(t, 70, summary.Threat.CombinedScore) // 0.5*90 + 0.5*50
	assert.Equal(t, domain.ThreatRed, summary.Threat.CombinedCategory)
	assert.Equal(t, fixedNow, summary.GeneratedAt)

	require.Len(t, archive.saved, 1)
	assert.Equal(t, "generated-id", archive.saved[0].ID)
	require.Len(t, notifier.alerts, 1)
}

func TestAnalyze_NoAlertForQuietScan(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := newService(t, Dependencies{Notifier: notifier})

	summary, err := svc.Analyze(context.Background(), domain.ScanResult{
		ID: "quiet", URL: "https://ok.example", RiskScore: 95, RiskLevel: domain.RiskLow,
	})
	require.NoError(t, err)

	assert.Equal(t, "quiet", summary.ScanID)
	assert.NotNil(t, summary.Groups)
	assert.Empty(t, notifier.alerts)
}

func TestAnalyze_AlertsOnDiscrepancy(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := newService(t, Dependencies{Notifier: notifier})

	// Score 82 is "medium" locally; the source said "high"
	_, err := svc.Analyze(context.Background(), domain.ScanResult{URL: "https://x.example", RiskScore: 82, RiskLevel: domain.RiskHigh})
	require.NoError(t, err)
	require.Len(t, notifier.alerts, 1)
	assert.True(t, notifier.alerts[0].Risk.Discrepant)
}

func TestAnalyze_SideEffectFailuresDoNotFail(t *testing.T) {
	archive := newFakeArchive()
	archive.saveErr = errors.New("db down")
	notifier := &fakeNotifier{err: errors.New("slack down")}
	svc := newService(t, Dependencies{Archive: archive, Notifier: notifier})

	_, err := svc.Analyze(context.Background(), redScan())
	assert.NoError(t, err)
}

func TestAnalyze_EnrichesMissingThreatIntel(t *testing.T) {
	vt := &fakeVT{report: domain.VirusTotalReport{MaliciousCount: 2, TotalEngines: 70, Category: "malicious"}}
	abuse := &fakeAbuse{report: domain.AbuseIPDBReport{ConfidenceScore: 30, IP: "203.0.113.7", Hostnames: []string{}}}
	svc := newService(t, Dependencies{VirusTotal: vt, AbuseIPDB: abuse})

	summary, err := svc.Analyze(context.Background(), domain.ScanResult{URL: "https://Shop.Example.com/path", RiskScore: 60})
	require.NoError(t, err)

	assert.Equal(t, []string{"shop.example.com"}, vt.hosts)
	assert.Equal(t, []string{"203.0.113.7"}, abuse.ips, "IPv4 preferred")
	assert.Equal(t, domain.ThreatOrange, summary.Threat.AbuseCategory)
	assert.True(t, summary.Threat.Derived)
	assert.Equal(t, 16, summary.Threat.CombinedScore) // round(15 + 0.5*100*2/70)
	assert.Contains(t, summary.Indicators, domain.Indicator{Type: domain.Domain, Value: "shop.example.com"})
}

func TestAnalyze_KeepsSuppliedThreatIntel(t *testing.T) {
	vt := &fakeVT{}
	abuse := &fakeAbuse{}
	svc := newService(t, Dependencies{VirusTotal: vt, AbuseIPDB: abuse})

	_, err := svc.Analyze(context.Background(), redScan())
	require.NoError(t, err)
	assert.Empty(t, vt.hosts)
	assert.Empty(t, abuse.ips)
}

func TestAnalyze_EnrichmentFailureLeavesZeroReport(t *testing.T) {
	vt := &fakeVT{err: errors.New("quota")}
	svc := newService(t, Dependencies{VirusTotal: vt})

	summary, err := svc.Analyze(context.Background(), domain.ScanResult{URL: "https://x.example"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Threat.CombinedScore)
	assert.Equal(t, domain.ThreatGreen, summary.Threat.CombinedCategory)
}

func TestSummarize_ArchiveFirst(t *testing.T) {
	archive := newFakeArchive()
	archive.scans["s1"] = domain.ScanResult{ID: "s1", URL: "https://archived.example", RiskScore: 95}
	source := &fakeSource{scans: map[string]domain.ScanResult{"s1": {URL: "https://source.example"}}}
	svc := newService(t, Dependencies{Archive: archive, Source: source})

	summary, err := svc.Summarize(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "https://archived.example", summary.URL)
	assert.Empty(t, archive.saved, "archived scans are not saved again")
}

func TestSummarize_FallsBackToSourceAndArchives(t *testing.T) {
	archive := newFakeArchive()
	source := &fakeSource{scans: map[string]domain.ScanResult{"s2": {URL: "https://source.example", RiskScore: 75}}}
	svc := newService(t, Dependencies{Archive: archive, Source: source})

	summary, err := svc.Summarize(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, "s2", summary.ScanID)
	assert.Equal(t, domain.RiskMedium, summary.Risk.LocalLevel)
	require.Len(t, archive.saved, 1)
	assert.Equal(t, "s2", archive.saved[0].ID)
}

func TestSummarize_NotFound(t *testing.T) {
	svc := newService(t, Dependencies{Archive: newFakeArchive(), Source: &fakeSource{}})

	_, err := svc.Summarize(context.Background(), "nope")
	assert.ErrorIs(t, err, ports.ErrScanNotFound)

	bare := newService(t, Dependencies{})
	_, err = bare.Summarize(context.Background(), "nope")
	assert.ErrorIs(t, err, ports.ErrScanNotFound)
}

func TestSummarize_ArchiveErrorIsNotMasked(t *testing.T) {
	archive := newFakeArchive()
	archive.findErr = errors.New("connection reset")
	source := &fakeSource{scans: map[string]domain.ScanResult{"s": {}}}
	svc := newService(t, Dependencies{Archive: archive, Source: source})

	_, err := svc.Summarize(context.Background(), "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRequestScan(t *testing.T) {
	source := &fakeSource{}
	svc := newService(t, Dependencies{Source: source})

	summary, err := svc.RequestScan(context.Background(), "https://target.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://target.example"}, source.requested)
	assert.Equal(t, domain.RiskLow, summary.Risk.LocalLevel)
	assert.False(t, summary.Risk.Discrepant)

	for _, bad := range []string{"", "ftp://x.example", "not a url", "https://"} {
		_, err := svc.RequestScan(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidTarget, bad)
	}

	_, err = newService(t, Dependencies{}).RequestScan(context.Background(), "https://target.example")
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestRequestScan_SourceError(t *testing.T) {
	svc := newService(t, Dependencies{Source: &fakeSource{err: errors.New("engine offline")}})

	_, err := svc.RequestScan(context.Background(), "https://target.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine offline")
}

func TestRenderReport(t *testing.T) {
	archive := newFakeArchive()
	scan := redScan()
	scan.ID = "r1"
	archive.scans["r1"] = scan
	svc := newService(t, Dependencies{Archive: archive, Renderer: fakeRenderer{}})

	artifact, err := svc.RenderReport(context.Background(), "r1", 1)
	require.NoError(t, err)
	assert.Equal(t, "security-report-Missing.pdf", artifact.Name)
	assert.Equal(t, "%PDF-Missing meta description", string(artifact.Content))

	_, err = svc.RenderReport(context.Background(), "r1", 2)
	assert.ErrorIs(t, err, ErrGroupNotFound)
	_, err = svc.RenderReport(context.Background(), "r1", -1)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestEmitReport(t *testing.T) {
	store := &fakeStore{}
	svc := newService(t, Dependencies{Renderer: fakeRenderer{}, Store: store})

	location, err := svc.EmitReport(context.Background(), redScan(), 0)
	require.NoError(t, err)
	assert.Equal(t, "/reports/security-report-Missing.pdf", location)

	store.err = errors.New("read-only filesystem")
	_, err = svc.EmitReport(context.Background(), redScan(), 0)
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	archive := newFakeArchive()
	scan := redScan()
	scan.ID = "e1"
	archive.scans["e1"] = scan
	svc := newService(t, Dependencies{Archive: archive, Exporters: []ports.SummaryExporter{fakeExporter{}}})

	data, contentType, err := svc.Export(context.Background(), "e1", "CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Equal(t, "https://bad.example,2", string(data))
	assert.Equal(t, []string{"csv"}, svc.Formats())

	_, _, err = svc.Export(context.Background(), "e1", "xml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestListRecent(t *testing.T) {
	archive := newFakeArchive()
	svc := newService(t, Dependencies{Archive: archive})

	_, err := svc.Analyze(context.Background(), redScan())
	require.NoError(t, err)

	summaries, err := svc.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "generated-id", summaries[0].ScanID)

	_, err = newService(t, Dependencies{}).ListRecent(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNoArchive)
}

func TestAnalyze_ComparesWithPreviousScan(t *testing.T) {
	archive := newFakeArchive()
	svc := newService(t, Dependencies{Archive: archive})

	first, err := svc.Analyze(context.Background(), domain.ScanResult{
		ID: "scan-1", URL: "https://shop.example", RiskScore: 60,
		Anomalies: []domain.Anomaly{
			{Type: domain.Security, Message: "Missing Content-Security-Policy header"},
			{Type: domain.SEO, Message: "Missing meta description"},
		},
		Metadata: domain.ScanMetadata{ScanDate: "2024-04-30T10:00:00Z"},
	})
	require.NoError(t, err)
	assert.Nil(t, first.PreviousScanDiff, "first scan of a URL has nothing to compare with")

	second, err := svc.Analyze(context.Background(), domain.ScanResult{
		ID: "scan-2", URL: "https://shop.example", RiskScore: 85,
		Anomalies: []domain.Anomaly{
			{Type: domain.Security, Message: "Missing Content-Security-Policy header"},
			{Type: domain.Security, Message: "Missing X-Frame-Options header"},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, second.PreviousScanDiff)
	diff := second.PreviousScanDiff
	assert.Equal(t, "scan-1", diff.PreviousScanID)
	assert.Equal(t, "2024-04-30T10:00:00Z", diff.PreviousScanDate)
	assert.Equal(t, []string{"Missing X-Frame-Options header"}, diff.NewIssues)
	assert.Equal(t, []string{"Missing meta description"}, diff.ResolvedIssues)
	assert.Equal(t, []string{"Missing Content-Security-Policy header"}, diff.PersistentIssues)
	assert.Equal(t, 25, diff.RiskScoreChange)
}

func TestAnalyze_ReanalysisSkipsItself(t *testing.T) {
	archive := newFakeArchive()
	svc := newService(t, Dependencies{Archive: archive})
	scan := domain.ScanResult{ID: "scan-1", URL: "https://shop.example", RiskScore: 60}

	_, err := svc.Analyze(context.Background(), scan)
	require.NoError(t, err)
	again, err := svc.Analyze(context.Background(), scan)
	require.NoError(t, err)

	assert.Nil(t, again.PreviousScanDiff)
}

func TestAnalyze_PreviousScanLookupFailure(t *testing.T) {
	archive := newFakeArchive()
	archive.prevErr = errors.New("db down")
	recorder := &fakeMetrics{}
	svc := newService(t, Dependencies{Archive: archive, Metrics: recorder})

	summary, err := svc.Analyze(context.Background(), domain.ScanResult{ID: "scan-1", URL: "https://shop.example"})
	require.NoError(t, err)

	assert.Nil(t, summary.PreviousScanDiff)
	assert.Equal(t, []string{"archive"}, recorder.errors)
	assert.Len(t, archive.saved, 1, "the scan is archived anyway")
}

func TestMetricsAreRecordedThroughPort(t *testing.T) {
	archive := newFakeArchive()
	archive.scans["s1"] = domain.ScanResult{ID: "s1", URL: "https://archived.example"}
	source := &fakeSource{err: errors.New("engine down")}
	recorder := &fakeMetrics{}
	svc := newService(t, Dependencies{Archive: archive, Source: source, Metrics: recorder})

	_, err := svc.Analyze(context.Background(), redScan())
	require.NoError(t, err)
	_, err = svc.Summarize(context.Background(), "s1")
	require.NoError(t, err)
	_, err = svc.RequestScan(context.Background(), "https://new.example")
	require.Error(t, err)

	assert.Equal(t, []string{OriginSubmitted, OriginArchive}, recorder.analyzed)
	assert.Equal(t, []string{"scan_request"}, recorder.errors)
}
