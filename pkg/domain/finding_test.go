package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOrdering(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), SeverityInfo.Rank())

	assert.Equal(t, SeverityCritical, HigherSeverity(SeverityCritical, SeverityLow))
	assert.Equal(t, SeverityCritical, HigherSeverity(SeverityLow, SeverityCritical))
	assert.Equal(t, SeverityHigh, HigherSeverity(SeverityHigh, SeverityHigh))
}

func TestSeverityValid(t *testing.T) {
	for _, s := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo} {
		assert.True(t, s.Valid())
	}
	assert.False(t, Severity("urgent").Valid())
}

func TestValidCVEID(t *testing.T) {
	assert.True(t, ValidCVEID("CVE-2024-0001"))
	assert.True(t, ValidCVEID("CVE-1999-123456"))
	assert.False(t, ValidCVEID("cve-2024-0001"))
	assert.False(t, ValidCVEID("CVE-24-0001"))
	assert.False(t, ValidCVEID("NO-CVE-xyz"))
	assert.False(t, ValidCVEID(""))
	assert.False(t, ValidCVEID("CVE-2024-0001-extra"))
}
