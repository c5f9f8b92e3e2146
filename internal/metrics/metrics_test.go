package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.RPCAttempt("starknet_chainId", "ok")
	m.RPCAttempt("starknet_chainId", "ok")
	m.SignerRequest("POLICY_DENIED")
	m.TransferOutcome("confirmed", "local")
	m.PinningInit("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RPCAttempts.WithLabelValues("starknet_chainId", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignerRequests.WithLabelValues("POLICY_DENIED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransferOutcomes.WithLabelValues("confirmed", "local")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RPCAttempt("x", "ok")
		m.SignerRequest("OK")
		m.TransferOutcome("failed", "remote")
		m.PinningInit("error")
	})
	assert.Nil(t, m.Registry())
}
