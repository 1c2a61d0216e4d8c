package scanner

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain"
	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/resilience"
)

func init() {
	Register("wazuh", func(cfg Config) (Adapter, error) {
		return NewWazuhAdapter(cfg)
	})
}

const wazuhPageSize = 1000

// WazuhAdapter drives the Wazuh manager API: basic-auth login for a bearer
// token, then paginated vulnerability and agent lookups.
type WazuhAdapter struct {
	apiURL   string
	username string
	password string
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	logger   zerolog.Logger

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewWazuhAdapter builds a Wazuh adapter from config.
func NewWazuhAdapter(cfg Config) (*WazuhAdapter, error) {
	if cfg.URL == "" {
		return nil, errors.Newf(errors.CodeConfigurationInvalid, "scanner", "wazuh adapter requires a url")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.VerifyTLS != nil && !*cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &WazuhAdapter{
		apiURL:   cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		breaker: resilience.GetCircuitBreaker("scanner:wazuh", resilience.DefaultBreakerConfig()),
		logger:  logger.Component("wazuh_adapter"),
	}, nil
}

func (w *WazuhAdapter) Name() string { return "Wazuh" }

// Authenticate exchanges basic-auth credentials for a bearer token. The token
// is cached for a fixed ten minutes; concurrent callers share one refresh.
func (w *WazuhAdapter) Authenticate(ctx context.Context) error {
	w.tokenMu.Lock()
	defer w.tokenMu.Unlock()

	if w.token != "" && time.Now().Before(w.tokenExpiry) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		w.apiURL+"/security/user/authenticate", nil)
	if err != nil {
		return errors.New(errors.CodeAuthenticationFailed, "scanner", "failed to build auth request", err)
	}
	req.SetBasicAuth(w.username, w.password)

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.New(errors.CodeAuthenticationFailed, "scanner", "wazuh authentication request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.CodeAuthenticationFailed, "scanner",
			"wazuh authentication failed: status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return errors.New(errors.CodeAuthenticationFailed, "scanner", "failed to decode auth response", err)
	}

	w.token = payload.Data.Token
	w.tokenExpiry = time.Now().Add(10 * time.Minute)
	w.logger.Info().Msg("wazuh authentication successful")
	return nil
}

func (w *WazuhAdapter) bearer() string {
	w.tokenMu.Lock()
	defer w.tokenMu.Unlock()
	return w.token
}

func (w *WazuhAdapter) HealthCheck(ctx context.Context) bool {
	return w.Authenticate(ctx) == nil
}

// FetchFindings pages through the vulnerability endpoint and normalizes each
// record. Severity and since filters are applied client-side; Wazuh's own
// filtering is inconsistent across versions.
func (w *WazuhAdapter) FetchFindings(ctx context.Context, since time.Time, severities []domain.Severity) ([]domain.RawFinding, error) {
	if err := w.Authenticate(ctx); err != nil {
		return nil, err
	}

	var findings []domain.RawFinding
	err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		offset := 0
		for {
			page, total, err := w.fetchPage(ctx, offset)
			if err != nil {
				return err
			}
			for _, raw := range page {
				f := w.parseFinding(raw)
				if matchesFilters(f, since, severities) {
					findings = append(findings, f)
				}
			}
			offset += wazuhPageSize
			if offset >= total || len(page) == 0 {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info().Int("count", len(findings)).Msg("wazuh vulnerabilities fetched")
	return findings, nil
}

func (w *WazuhAdapter) fetchPage(ctx context.Context, offset int) ([]map[string]interface{}, int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(wazuhPageSize))
	q.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		w.apiURL+"/vulnerability?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, errors.New(errors.CodeFetchFailed, "scanner", "failed to build fetch request", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.bearer())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, 0, errors.New(errors.CodeFetchFailed, "scanner", "wazuh fetch failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, 0, errors.Newf(errors.CodeAuthenticationFailed, "scanner", "wazuh token rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, errors.Newf(errors.CodeFetchFailed, "scanner",
			"wazuh fetch failed: status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			AffectedItems []map[string]interface{} `json:"affected_items"`
			TotalItems    int                      `json:"total_affected_items"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, errors.New(errors.CodeFetchFailed, "scanner", "failed to decode wazuh response", err)
	}
	return payload.Data.AffectedItems, payload.Data.TotalItems, nil
}

func (w *WazuhAdapter) parseFinding(raw map[string]interface{}) domain.RawFinding {
	cveID, _ := raw["cve"].(string)
	severity, _ := raw["severity"].(string)

	var cvssScore float64
	var hasCVSS bool
	var cvssVector string
	if cvss, ok := raw["cvss"].(map[string]interface{}); ok {
		if v3, ok := cvss["cvss3"].(map[string]interface{}); ok {
			if score, ok := v3["base_score"].(float64); ok {
				cvssScore, hasCVSS = score, true
			}
			cvssVector, _ = v3["vector_string"].(string)
		}
	}

	var pkgName, pkgVersion, fixedVersion string
	if pkg, ok := raw["package"].(map[string]interface{}); ok {
		pkgName, _ = pkg["name"].(string)
		pkgVersion, _ = pkg["version"].(string)
		fixedVersion, _ = pkg["fixed_version"].(string)
	}

	var assets []string
	if agentID, ok := raw["agent_id"].(string); ok && agentID != "" {
		assets = append(assets, agentID)
	}

	discovered := time.Now().UTC()
	if detected, ok := raw["detection_time"].(string); ok {
		if t, err := time.Parse(time.RFC3339, detected); err == nil {
			discovered = t.UTC()
		}
	}

	title, _ := raw["title"].(string)
	if title == "" {
		title = fmt.Sprintf("Vulnerability in %s", pkgName)
	}
	description, _ := raw["description"].(string)

	return domain.RawFinding{
		ScannerID:         fmt.Sprintf("wazuh-%s-%s", cveID, pkgName),
		ScannerName:       w.Name(),
		CVEID:             cveID,
		Title:             title,
		Description:       description,
		Severity:          NormalizeSeverity(severity),
		CVSSScore:         cvssScore,
		HasCVSS:           hasCVSS,
		CVSSVector:        cvssVector,
		AffectedPackage:   pkgName,
		VulnerableVersion: pkgVersion,
		FixedVersion:      fixedVersion,
		AffectedAssets:    assets,
		DiscoveredAt:      discovered,
		RawData:           raw,
	}
}

// GetAssetDetails looks up a Wazuh agent.
func (w *WazuhAdapter) GetAssetDetails(ctx context.Context, assetID string) (AssetDetails, error) {
	if err := w.Authenticate(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		w.apiURL+"/agents/"+url.PathEscape(assetID), nil)
	if err != nil {
		return nil, errors.New(errors.CodeFetchFailed, "scanner", "failed to build asset request", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.bearer())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeFetchFailed, "scanner", "wazuh asset fetch failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Newf(errors.CodeAssetNotFound, "scanner", "asset %s not found", assetID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.CodeFetchFailed, "scanner",
			"wazuh asset fetch failed: status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			AffectedItems []AssetDetails `json:"affected_items"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.New(errors.CodeFetchFailed, "scanner", "failed to decode agent response", err)
	}
	if len(payload.Data.AffectedItems) == 0 {
		return nil, errors.Newf(errors.CodeAssetNotFound, "scanner", "asset %s not found", assetID)
	}
	return payload.Data.AffectedItems[0], nil
}
