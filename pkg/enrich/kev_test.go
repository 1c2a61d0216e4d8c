package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

func TestKEVCatalog_UnseededAnswersFalse(t *testing.T) {
	catalog := NewKEVCatalog()
	info, err := catalog.Check(context.Background(), "CVE-2024-0001")
	require.NoError(t, err)
	assert.False(t, info.Available)
	assert.False(t, info.InKEV)
	assert.Equal(t, domain.ExploitNone, info.Maturity)
}

func TestKEVCatalog_ListedCVE(t *testing.T) {
	catalog := NewKEVCatalog()
	catalog.Load([]string{"CVE-2021-44228", "CVE-2023-4966"})

	info, err := catalog.Check(context.Background(), "CVE-2021-44228")
	require.NoError(t, err)
	assert.True(t, info.Available)
	assert.True(t, info.InKEV)
	assert.Equal(t, domain.ExploitWeaponized, info.Maturity)

	info, err = catalog.Check(context.Background(), "CVE-2020-0001")
	require.NoError(t, err)
	assert.False(t, info.InKEV)
}

func TestKEVCatalog_LoadFeed(t *testing.T) {
	feed := `{
		"title": "CISA Catalog of Known Exploited Vulnerabilities",
		"count": 2,
		"vulnerabilities": [
			{"cveID": "CVE-2021-44228", "vendorProject": "Apache"},
			{"cveID": "CVE-2019-0708", "vendorProject": "Microsoft"}
		]
	}`
	catalog := NewKEVCatalog()
	n, err := catalog.LoadFeed([]byte(feed))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, catalog.Len())

	info, _ := catalog.Check(context.Background(), "CVE-2019-0708")
	assert.True(t, info.InKEV)
}

func TestKEVCatalog_LoadFeedInvalid(t *testing.T) {
	catalog := NewKEVCatalog()
	_, err := catalog.LoadFeed([]byte("not json"))
	assert.Error(t, err)
}

func TestKEVCatalog_LoadReplaces(t *testing.T) {
	catalog := NewKEVCatalog()
	catalog.Load([]string{"CVE-2020-1111"})
	catalog.Load([]string{"CVE-2020-2222"})

	info, _ := catalog.Check(context.Background(), "CVE-2020-1111")
	assert.False(t, info.InKEV)
	info, _ = catalog.Check(context.Background(), "CVE-2020-2222")
	assert.True(t, info.InKEV)
}
