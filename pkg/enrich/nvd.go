// Package enrich augments findings with authoritative data from NVD, EPSS and
// the known-exploited-vulnerabilities catalog.
package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/resilience"
)

const (
	defaultNVDBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

	nvdRateWindow    = 30 * time.Second
	nvdRateNoKey     = 5
	nvdRateWithKey   = 50
	nvdRequestBudget = 30 * time.Second
)

// NVDTime parses the timestamp format used by the NVD API.
type NVDTime struct {
	time.Time
}

func (nt *NVDTime) UnmarshalJSON(data []byte) error {
	str := string(data)
	if len(str) >= 2 && str[0] == '"' {
		str = str[1 : len(str)-1]
	}
	if str == "null" || str == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.000", str)
	if err != nil {
		t, err = time.Parse("2006-01-02T15:04:05", str)
		if err != nil {
			return err
		}
	}
	nt.Time = t
	return nil
}

// CVERecord is the distilled single-CVE answer from NVD.
type CVERecord struct {
	ID             string
	Description    string
	CVSSScore      float64
	HasCVSS        bool
	CVSSVector     string
	CWEIDs         []string
	References     []string
	PublishedAt    time.Time
	LastModifiedAt time.Time
}

// NVDClient is a single-CVE lookup client for the NVD CVE 2.0 API. It keeps a
// sliding-window request log to respect NVD's rate limits (5 req/30s without
// an API key, 50 with one) and sleeps through a 429 exactly once.
type NVDClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger

	rateMu       sync.Mutex
	rateLimit    int
	requestTimes []time.Time
}

// NewNVDClient creates an NVD client. An empty apiKey uses the public rate limit.
func NewNVDClient(apiKey string) *NVDClient {
	limit := nvdRateNoKey
	if apiKey != "" {
		limit = nvdRateWithKey
	}
	return &NVDClient{
		baseURL:    defaultNVDBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: nvdRequestBudget},
		breaker:    resilience.GetCircuitBreaker("enrich:nvd", resilience.DefaultBreakerConfig()),
		logger:     logger.Component("nvd_client"),
		rateLimit:  limit,
	}
}

// SetBaseURL overrides the endpoint; used by tests.
func (c *NVDClient) SetBaseURL(u string) { c.baseURL = u }

// GetCVE fetches one CVE. Returns NOT_FOUND when NVD has no record; a missing
// CVE is a valid answer and neither trips the breaker nor triggers a retry.
func (c *NVDClient) GetCVE(ctx context.Context, cveID string) (*CVERecord, error) {
	var record *CVERecord
	var notFound error
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.RetryWithBackoff(ctx, "nvd:get_cve", resilience.RetryPolicy{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   30 * time.Second,
			Strategy:   resilience.StrategyExponential,
			Jitter:     true,
		}, func(ctx context.Context) error {
			var err error
			record, err = c.fetch(ctx, cveID, true)
			if errors.HasCode(err, errors.CodeNotFound) {
				notFound = err
				return nil
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return record, nil
}

func (c *NVDClient) fetch(ctx context.Context, cveID string, allow429Retry bool) (*CVERecord, error) {
	if err := c.waitForRateSlot(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "?cveId=" + url.QueryEscape(cveID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.New(errors.CodeFetchFailed, "enrich", "failed to build NVD request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	c.logger.Debug().Str("cve_id", cveID).Msg("fetching CVE from NVD")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeFetchFailed, "enrich", "NVD request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.Newf(errors.CodeNotFound, "enrich", "CVE %s not found in NVD", cveID)
	case http.StatusTooManyRequests:
		if !allow429Retry {
			return nil, errors.Newf(errors.CodeRateLimited, "enrich", "NVD rate limit exceeded")
		}
		c.logger.Warn().Msg("NVD rate limit hit, sleeping for the window")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(nvdRateWindow):
		}
		return c.fetch(ctx, cveID, false)
	default:
		return nil, errors.Newf(errors.CodeFetchFailed, "enrich", "NVD API returned status %d", resp.StatusCode)
	}

	var payload nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.New(errors.CodeFetchFailed, "enrich", "failed to decode NVD response", err)
	}
	if len(payload.Vulnerabilities) == 0 {
		return nil, errors.Newf(errors.CodeNotFound, "enrich", "CVE %s not found in NVD", cveID)
	}

	return extractRecord(payload.Vulnerabilities[0].CVE), nil
}

// waitForRateSlot blocks until a request slot is free inside the sliding window.
func (c *NVDClient) waitForRateSlot(ctx context.Context) error {
	for {
		c.rateMu.Lock()
		now := time.Now()
		cutoff := now.Add(-nvdRateWindow)
		kept := c.requestTimes[:0]
		for _, t := range c.requestTimes {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		c.requestTimes = kept

		if len(c.requestTimes) < c.rateLimit {
			c.requestTimes = append(c.requestTimes, now)
			c.rateMu.Unlock()
			return nil
		}
		sleep := nvdRateWindow - now.Sub(c.requestTimes[0])
		c.rateMu.Unlock()

		if sleep <= 0 {
			continue
		}
		c.logger.Debug().Dur("sleep", sleep).Msg("NVD rate window full, waiting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

type cvssData struct {
	BaseScore    float64 `json:"baseScore"`
	VectorString string  `json:"vectorString"`
}

type nvdResponse struct {
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string  `json:"id"`
	Published    NVDTime `json:"published"`
	LastModified NVDTime `json:"lastModified"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		CvssMetricV31 []struct {
			CvssData cvssData `json:"cvssData"`
		} `json:"cvssMetricV31"`
		CvssMetricV30 []struct {
			CvssData cvssData `json:"cvssData"`
		} `json:"cvssMetricV30"`
		CvssMetricV2 []struct {
			CvssData cvssData `json:"cvssData"`
		} `json:"cvssMetricV2"`
	} `json:"metrics"`
	Weaknesses []struct {
		Description []struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"description"`
	} `json:"weaknesses"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
}

// extractRecord flattens an NVD CVE item, preferring CVSS v3.1 over v3.0 over v2.
func extractRecord(cve nvdCVE) *CVERecord {
	record := &CVERecord{
		ID:             cve.ID,
		PublishedAt:    cve.Published.Time,
		LastModifiedAt: cve.LastModified.Time,
	}

	for _, desc := range cve.Descriptions {
		if desc.Lang == "en" {
			record.Description = desc.Value
			break
		}
	}
	if record.Description == "" && len(cve.Descriptions) > 0 {
		record.Description = cve.Descriptions[0].Value
	}

	var data *cvssData
	switch {
	case len(cve.Metrics.CvssMetricV31) > 0:
		data = &cve.Metrics.CvssMetricV31[0].CvssData
	case len(cve.Metrics.CvssMetricV30) > 0:
		data = &cve.Metrics.CvssMetricV30[0].CvssData
	case len(cve.Metrics.CvssMetricV2) > 0:
		data = &cve.Metrics.CvssMetricV2[0].CvssData
	}
	if data != nil {
		record.CVSSScore = data.BaseScore
		record.HasCVSS = true
		record.CVSSVector = data.VectorString
	}

	for _, weakness := range cve.Weaknesses {
		for _, desc := range weakness.Description {
			if desc.Lang == "en" {
				record.CWEIDs = append(record.CWEIDs, desc.Value)
			}
		}
	}
	for _, ref := range cve.References {
		record.References = append(record.References, ref.URL)
	}
	return record
}
