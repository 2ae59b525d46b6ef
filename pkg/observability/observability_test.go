package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// All record paths must be safe no-ops.
	p.RecordCycle(context.Background(), true)
	p.RecordDecision(context.Background(), contracts.StatusFail, 0.01)
	p.RecordSinkFailure(context.Background(), "webhook")
	assert.Nil(t, p.Tracer())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "heartbeat", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.False(t, cfg.Enabled)
}
