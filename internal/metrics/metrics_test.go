package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.SubmissionsTotal.WithLabelValues("OPENAI", "admitted").Inc()
	m.CreditsCharged.Add(51)
	m.PricingFallbacks.WithLabelValues("KLING", "kling-v2-1").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("OPENAI", "admitted")))
	assert.Equal(t, 51.0, testutil.ToFloat64(m.CreditsCharged))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_ledger_submissions_total"])
	assert.True(t, names["test_ledger_credits_charged_total"])
	assert.True(t, names["test_pricing_fallback_total"])
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New("dup", reg)
	assert.Panics(t, func() { New("dup", reg) })
}

func TestNewNop_Independent(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop()
		NewNop()
	})
}
