package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordproto/accord/internal/amount"
)

func testTierPolicy(t *testing.T) *TierPolicy {
	t.Helper()
	p, err := NewTierPolicy([]string{"0", "100", "1000", "10000"})
	require.NoError(t, err)
	return p
}

func testCapabilityPolicy(t *testing.T) *CapabilityPolicy {
	t.Helper()
	p, err := NewCapabilityPolicy(map[string]string{
		"web_automation":     "120",
		"code_execution":     "500",
		"financial_analysis": "1000",
	}, "10")
	require.NoError(t, err)
	return p
}

func TestTierPolicy_TierFor(t *testing.T) {
	p := testTierPolicy(t)

	tests := []struct {
		staked string
		want   StakeTier
	}{
		{"0", TierBasic},
		{"50", TierBasic},
		{"99.999999", TierBasic},
		{"100", TierStandard},
		{"150", TierStandard},
		{"999.999999", TierStandard},
		{"1000", TierProfessional},
		{"9999", TierProfessional},
		{"10000", TierEnterprise},
		{"123456", TierEnterprise},
	}

	for _, tt := range tests {
		t.Run(tt.staked, func(t *testing.T) {
			got := p.TierFor(amount.MustParse(tt.staked))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewTierPolicy_Validation(t *testing.T) {
	tests := []struct {
		name       string
		thresholds []string
	}{
		{"too few", []string{"0", "100"}},
		{"too many", []string{"0", "1", "2", "3", "4"}},
		{"not ascending", []string{"0", "1000", "100", "10000"}},
		{"duplicate", []string{"0", "100", "100", "10000"}},
		{"first not zero", []string{"5", "100", "1000", "10000"}},
		{"unparseable", []string{"0", "abc", "1000", "10000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTierPolicy(tt.thresholds)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestCapabilityPolicy_MinimumStake(t *testing.T) {
	p := testCapabilityPolicy(t)

	tests := []struct {
		name         string
		capabilities []string
		want         string
	}{
		{"single capability", []string{"web_automation"}, "120.000000"},
		{"max not sum", []string{"web_automation", "code_execution"}, "500.000000"},
		{"all three", []string{"web_automation", "code_execution", "financial_analysis"}, "1000.000000"},
		{"unknown uses floor", []string{"translation"}, "10.000000"},
		{"unknown never lowers", []string{"financial_analysis", "translation"}, "1000.000000"},
		{"empty uses floor", nil, "10.000000"},
		{"case insensitive", []string{"Web_Automation"}, "120.000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.MinimumStake(tt.capabilities)
			assert.Equal(t, tt.want, amount.Format(got))
		})
	}
}

func TestNormalizeCapabilities(t *testing.T) {
	caps, err := normalizeCapabilities([]string{"Web_Automation", "code_execution", "web_automation"})
	require.NoError(t, err)
	assert.Equal(t, []string{"code_execution", "web_automation"}, caps)

	_, err = normalizeCapabilities([]string{""})
	assert.ErrorIs(t, err, ErrInvalidCapability)

	_, err = normalizeCapabilities(nil)
	assert.ErrorIs(t, err, ErrInvalidCapability)

	_, err = normalizeCapabilities([]string{"has spaces here"})
	assert.ErrorIs(t, err, ErrInvalidCapability)
}
