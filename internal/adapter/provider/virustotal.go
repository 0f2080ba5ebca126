package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hive-corporation/sitescan/internal/core/domain"
)

const virusTotalURL = "https://www.virustotal.com"

// The public API allows 4 lookups per minute.
var virusTotalRate = rate.Every(15 * time.Second)

type VirusTotalProvider struct {
	client  HTTPDoer
	apiKey  string
	baseURL string
	limiter *rate.Limiter
}

type Option func(*options)

type options struct {
	baseURL string
	limiter *rate.Limiter
}

// WithBaseURL points the provider at another host, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = strings.TrimSuffix(u, "/") }
}

// WithLimiter replaces the default per-provider rate limit.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

func NewVirusTotalProvider(client HTTPDoer, apiKey string, opts ...Option) *VirusTotalProvider {
	if client == nil {
		client = http.DefaultClient
	}
	o := options{baseURL: virusTotalURL, limiter: rate.NewLimiter(virusTotalRate, 1)}
	for _, opt := range opts {
		opt(&o)
	}
	return &VirusTotalProvider{
		client:  client,
		apiKey:  apiKey,
		baseURL: o.baseURL,
		limiter: o.limiter,
	}
}

func (p *VirusTotalProvider) Name() string {
	return "virustotal"
}

type vtResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats map[string]int `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// LookupDomain returns the engine verdict counts for host.
func (p *VirusTotalProvider) LookupDomain(ctx context.Context, host string) (domain.VirusTotalReport, error) {
	if p.apiKey == "" {
		return domain.VirusTotalReport{}, fmt.Errorf("virustotal: %w", ErrMissingAPIKey)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.VirusTotalReport{}, fmt.Errorf("virustotal rate limit: %w", err)
	}

	endpoint := p.baseURL + "/api/v3/domains/" + url.PathEscape(host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.VirusTotalReport{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-apikey", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := send(p.client, req)
	if err != nil {
		return domain.VirusTotalReport{}, fmt.Errorf("virustotal lookup %s: %w", host, err)
	}
	defer resp.Body.Close()

	var data vtResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return domain.VirusTotalReport{}, fmt.Errorf("failed to decode virustotal json: %w", err)
	}

	stats := data.Data.Attributes.LastAnalysisStats
	total := 0
	for _, n := range stats {
		total += max(0, n)
	}
	malicious := max(0, stats["malicious"])

	category := "clean"
	if malicious > 0 {
		category = "malicious"
	}

	return domain.VirusTotalReport{
		MaliciousCount: malicious,
		TotalEngines:   total,
		Category:       category,
	}, nil
}
