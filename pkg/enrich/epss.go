package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/resilience"
)

const (
	defaultEPSSBaseURL = "https://api.first.org/data/v1/epss"
	// The FIRST API accepts comma-separated CVE lists but caps usable batches
	// around 30 ids.
	epssBatchSize = 30
)

// EPSSScore is one CVE's exploit-prediction score.
type EPSSScore struct {
	CVEID      string
	Score      float64
	Percentile float64
	Date       string
}

// EPSSClient fetches exploit-probability scores from the FIRST.org EPSS API.
type EPSSClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// NewEPSSClient creates an EPSS client.
func NewEPSSClient() *EPSSClient {
	return &EPSSClient{
		baseURL:    defaultEPSSBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    resilience.GetCircuitBreaker("enrich:epss", resilience.DefaultBreakerConfig()),
		logger:     logger.Component("epss_client"),
	}
}

// SetBaseURL overrides the endpoint; used by tests.
func (c *EPSSClient) SetBaseURL(u string) { c.baseURL = u }

// GetScore fetches the EPSS score for one CVE. Returns NOT_FOUND when EPSS
// has no data for it.
func (c *EPSSClient) GetScore(ctx context.Context, cveID string) (*EPSSScore, error) {
	scores, err := c.GetBulkScores(ctx, []string{cveID})
	if err != nil {
		return nil, err
	}
	score, ok := scores[cveID]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "enrich", "no EPSS data for %s", cveID)
	}
	return score, nil
}

// GetBulkScores fetches EPSS scores for many CVEs, batching requests at the
// API's batch cap. Missing CVEs are simply absent from the result.
func (c *EPSSClient) GetBulkScores(ctx context.Context, cveIDs []string) (map[string]*EPSSScore, error) {
	results := make(map[string]*EPSSScore, len(cveIDs))

	for start := 0; start < len(cveIDs); start += epssBatchSize {
		end := start + epssBatchSize
		if end > len(cveIDs) {
			end = len(cveIDs)
		}
		batch := cveIDs[start:end]

		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			return resilience.RetryWithBackoff(ctx, "epss:get_scores", resilience.RetryPolicy{
				MaxRetries: 3,
				BaseDelay:  time.Second,
				MaxDelay:   30 * time.Second,
				Strategy:   resilience.StrategyExponential,
				Jitter:     true,
			}, func(ctx context.Context) error {
				return c.fetchBatch(ctx, batch, results)
			})
		})
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (c *EPSSClient) fetchBatch(ctx context.Context, batch []string, results map[string]*EPSSScore) error {
	q := url.Values{}
	q.Set("cve", strings.Join(batch, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return errors.New(errors.CodeFetchFailed, "enrich", "failed to build EPSS request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(errors.CodeFetchFailed, "enrich", "EPSS request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.Newf(errors.CodeRateLimited, "enrich", "EPSS rate limit exceeded")
	case resp.StatusCode == http.StatusNotFound:
		// No data for this batch; a valid (empty) answer.
		return nil
	case resp.StatusCode != http.StatusOK:
		return errors.Newf(errors.CodeFetchFailed, "enrich", "EPSS API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data []struct {
			CVE        string `json:"cve"`
			EPSS       string `json:"epss"`
			Percentile string `json:"percentile"`
			Date       string `json:"date"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return errors.New(errors.CodeFetchFailed, "enrich", "failed to decode EPSS response", err)
	}

	for _, item := range payload.Data {
		score, _ := strconv.ParseFloat(item.EPSS, 64)
		percentile, _ := strconv.ParseFloat(item.Percentile, 64)
		results[item.CVE] = &EPSSScore{
			CVEID:      item.CVE,
			Score:      score,
			Percentile: percentile,
			Date:       item.Date,
		}
	}
	return nil
}

// InterpretScore maps an EPSS probability to a coarse risk label.
func InterpretScore(epss float64) string {
	switch {
	case epss >= 0.5:
		return "Very High"
	case epss >= 0.3:
		return "High"
	case epss >= 0.1:
		return "Medium"
	case epss >= 0.01:
		return "Low"
	default:
		return "Very Low"
	}
}
