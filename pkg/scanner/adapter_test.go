package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnzero/remediation-engine/pkg/domain"
)

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Severity
	}{
		{"critical", domain.SeverityCritical},
		{"CRITICAL", domain.SeverityCritical},
		{"  High ", domain.SeverityHigh},
		{"medium", domain.SeverityMedium},
		{"low", domain.SeverityLow},
		{"info", domain.SeverityInfo},
		{"informational", domain.SeverityInfo},
		{"9.0-10.0", domain.SeverityCritical},
		{"7.0-8.9", domain.SeverityHigh},
		{"4.0-6.9", domain.SeverityMedium},
		{"0.1-3.9", domain.SeverityLow},
		{"bogus", domain.SeverityMedium},
		{"", domain.SeverityMedium},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSeverity(tt.in), "input %q", tt.in)
	}
}

func TestMockAdapter_Deterministic(t *testing.T) {
	ctx := context.Background()
	a := NewMockAdapter(42, 15)
	b := NewMockAdapter(42, 15)

	first, err := a.FetchFindings(ctx, time.Time{}, nil)
	require.NoError(t, err)
	second, err := b.FetchFindings(ctx, time.Time{}, nil)
	require.NoError(t, err)

	require.Len(t, first, 15)
	require.Len(t, second, 15)
	for i := range first {
		assert.Equal(t, first[i].CVEID, second[i].CVEID)
		assert.Equal(t, first[i].Severity, second[i].Severity)
		assert.Equal(t, first[i].CVSSScore, second[i].CVSSScore)
		assert.Equal(t, first[i].AffectedPackage, second[i].AffectedPackage)
	}
}

func TestMockAdapter_SeverityFilter(t *testing.T) {
	a := NewMockAdapter(7, 40)
	out, err := a.FetchFindings(context.Background(), time.Time{}, []domain.Severity{domain.SeverityCritical})
	require.NoError(t, err)
	for _, f := range out {
		assert.Equal(t, domain.SeverityCritical, f.Severity)
	}
}

func TestMockAdapter_SinceFilter(t *testing.T) {
	a := NewMockAdapter(7, 40)
	cutoff := time.Now().UTC().AddDate(0, 0, -10)
	out, err := a.FetchFindings(context.Background(), cutoff, nil)
	require.NoError(t, err)
	for _, f := range out {
		assert.False(t, f.DiscoveredAt.Before(cutoff))
	}
}

func TestMockAdapter_CVSSMatchesSeverity(t *testing.T) {
	a := NewMockAdapter(3, 50)
	out, err := a.FetchFindings(context.Background(), time.Time{}, nil)
	require.NoError(t, err)
	for _, f := range out {
		require.True(t, f.HasCVSS)
		switch f.Severity {
		case domain.SeverityCritical:
			assert.GreaterOrEqual(t, f.CVSSScore, 9.0)
		case domain.SeverityHigh:
			assert.GreaterOrEqual(t, f.CVSSScore, 7.0)
			assert.Less(t, f.CVSSScore, 9.0)
		case domain.SeverityLow:
			assert.Less(t, f.CVSSScore, 4.0)
		}
	}
}

func TestMockAdapter_HealthCheck(t *testing.T) {
	a := NewMockAdapter(1, 1)
	assert.True(t, a.HealthCheck(context.Background()))
}

func TestRegistry_New(t *testing.T) {
	adapter, err := New(Config{Type: "mock", Seed: 1, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, "Mock", adapter.Name())

	_, err = New(Config{Type: "does-not-exist"})
	assert.Error(t, err)
}
