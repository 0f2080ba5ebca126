package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/hive-corporation/sitescan/internal/core/domain"
)

const abuseIPDBURL = "https://api.abuseipdb.com"

// Confidence at or above this is reported as "flagged".
const abuseFlaggedThreshold = 50

type AbuseIPDBProvider struct {
	client  HTTPDoer
	apiKey  string
	baseURL string
	limiter *rate.Limiter
}

func NewAbuseIPDBProvider(client HTTPDoer, apiKey string, opts ...Option) *AbuseIPDBProvider {
	if client == nil {
		client = http.DefaultClient
	}
	o := options{baseURL: abuseIPDBURL, limiter: rate.NewLimiter(rate.Every(time.Second), 1)}
	for _, opt := range opts {
		opt(&o)
	}
	return &AbuseIPDBProvider{
		client:  client,
		apiKey:  apiKey,
		baseURL: o.baseURL,
		limiter: o.limiter,
	}
}

func (p *AbuseIPDBProvider) Name() string {
	return "abuseipdb"
}

type abuseResponse struct {
	Data struct {
		IPAddress            string   `json:"ipAddress"`
		IsWhitelisted        bool     `json:"isWhitelisted"`
		AbuseConfidenceScore int      `json:"abuseConfidenceScore"`
		CountryCode          string   `json:"countryCode"`
		CountryName          string   `json:"countryName"`
		ISP                  string   `json:"isp"`
		Domain               string   `json:"domain"`
		Hostnames            []string `json:"hostnames"`
		IsTor                bool     `json:"isTor"`
		LastReportedAt       string   `json:"lastReportedAt"`
	} `json:"data"`
}

// CheckIP returns the abuse reputation of ip over the last 90 days.
func (p *AbuseIPDBProvider) CheckIP(ctx context.Context, ip string) (domain.AbuseIPDBReport, error) {
	if p.apiKey == "" {
		return domain.AbuseIPDBReport{}, fmt.Errorf("abuseipdb: %w", ErrMissingAPIKey)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.AbuseIPDBReport{}, fmt.Errorf("abuseipdb rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("ipAddress", ip)
	q.Set("maxAgeInDays", "90")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v2/check?"+q.Encode(), nil)
	if err != nil {
		return domain.AbuseIPDBReport{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := send(p.client, req)
	if err != nil {
		return domain.AbuseIPDBReport{}, fmt.Errorf("abuseipdb check %s: %w", ip, err)
	}
	defer resp.Body.Close()

	var data abuseResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return domain.AbuseIPDBReport{}, fmt.Errorf("failed to decode abuseipdb json: %w", err)
	}

	d := data.Data
	country := d.CountryName
	if country == "" {
		country = d.CountryCode
	}
	hostnames := d.Hostnames
	if hostnames == nil {
		hostnames = []string{}
	}

	category := "clean"
	if d.AbuseConfidenceScore >= abuseFlaggedThreshold {
		category = "flagged"
	}

	return domain.AbuseIPDBReport{
		ConfidenceScore: domain.ClampScore(d.AbuseConfidenceScore),
		Domain:          d.Domain,
		IP:              d.IPAddress,
		Country:         country,
		ISP:             d.ISP,
		Hostnames:       hostnames,
		IsTor:           d.IsTor,
		IsWhitelisted:   d.IsWhitelisted,
		LastReported:    d.LastReportedAt,
		Category:        category,
	}, nil
}
