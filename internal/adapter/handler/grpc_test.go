package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/hive-corporation/sitescan/internal/core/domain"
)

func newGrpcClient(t *testing.T) *ScanAnalyzerClient {
	t.Helper()

	stub := &stubAnalyzer{scans: map[string]domain.ScanResult{
		"s1": {
			ID: "s1", URL: "https://example.com", RiskScore: 30, RiskLevel: domain.RiskHigh,
			Anomalies: []domain.Anomaly{
				{Type: domain.Performance, Message: "Slow response time", Severity: domain.SeverityLow},
			},
		},
	}}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterScanAnalyzerServer(srv, NewGrpcServer(stub, zaptest.NewLogger(t)))
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
	})
	return NewScanAnalyzerClient(conn)
}

func TestGrpcAnalyze(t *testing.T) {
	client := newGrpcClient(t)

	summary, err := client.Analyze(context.Background(), domain.ScanResult{
		ID:        "g1",
		URL:       "https://example.com",
		RiskScore: 82,
		RiskLevel: domain.RiskHigh,
		Anomalies: []domain.Anomaly{
			{Type: domain.Security, Message: "Missing CSP header", Severity: domain.SeverityHigh},
			{Type: domain.Security, Message: "Missing CSP header", Severity: domain.SeverityLow},
			{Type: domain.SEO, Message: "Missing meta description"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "g1", summary.ScanID)
	require.Len(t, summary.Groups, 2)
	assert.Equal(t, "Missing CSP header", summary.Groups[0].Message)
	assert.Equal(t, 2, summary.Groups[0].Count)
	assert.Equal(t, domain.RiskMedium, summary.Risk.LocalLevel)
	assert.True(t, summary.Risk.Discrepant)
}

func TestGrpcSummarize(t *testing.T) {
	client := newGrpcClient(t)

	summary, err := client.Summarize(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", summary.URL)
	assert.Equal(t, domain.RiskCritical, summary.Risk.LocalLevel)
	assert.Equal(t, domain.RiskHigh, summary.Risk.SourceLevel)

	_, err = client.Summarize(context.Background(), "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Summarize(context.Background(), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
