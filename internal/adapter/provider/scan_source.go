package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/hive-corporation/sitescan/internal/core/domain"
)

// HTTPScanSource talks to the scanning engine's HTTP API.
type HTTPScanSource struct {
	client  HTTPDoer
	baseURL string
	log     *zap.Logger
}

func NewHTTPScanSource(client HTTPDoer, baseURL string, logger *zap.Logger) *HTTPScanSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPScanSource{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     logger.Named("scan_source"),
	}
}

func (s *HTTPScanSource) Name() string {
	return "scan-engine"
}

// Fetch loads a finished scan by id.
func (s *HTTPScanSource) Fetch(ctx context.Context, scanID string) (domain.ScanResult, error) {
	if scanID == "" {
		return domain.ScanResult{}, fmt.Errorf("fetch scan: %w", ErrScanNotFound)
	}

	endpoint := s.baseURL + "/api/scans/" + url.PathEscape(scanID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	scan, err := s.do(req)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.ScanResult{}, fmt.Errorf("fetch scan %s: %w", scanID, ErrScanNotFound)
		}
		return domain.ScanResult{}, fmt.Errorf("fetch scan %s: %w", scanID, err)
	}

	if scan.ID == "" {
		scan.ID = scanID
	}
	return scan, nil
}

// Request asks the engine to scan targetURL and returns the finished result.
func (s *HTTPScanSource) Request(ctx context.Context, targetURL string) (domain.ScanResult, error) {
	payload, err := json.Marshal(map[string]string{"url": targetURL})
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("failed to encode scan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/scan", bytes.NewReader(payload))
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	s.log.Debug("Requesting scan", zap.String("target", targetURL))

	scan, err := s.do(req)
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("request scan of %s: %w", targetURL, err)
	}
	if scan.URL == "" {
		scan.URL = targetURL
	}
	return scan, nil
}

func (s *HTTPScanSource) do(req *http.Request) (domain.ScanResult, error) {
	resp, err := send(s.client, req)
	if err != nil {
		return domain.ScanResult{}, err
	}
	defer resp.Body.Close()

	var scan domain.ScanResult
	if err := json.NewDecoder(resp.Body).Decode(&scan); err != nil {
		return domain.ScanResult{}, fmt.Errorf("failed to decode scan json: %w", err)
	}
	return scan.Normalize(), nil
}
