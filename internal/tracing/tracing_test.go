package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	provider, err := NewTracingProvider(Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, provider.IsEnabled())

	ctx := context.Background()
	assert.NoError(t, provider.Start(ctx))
	assert.NoError(t, provider.Stop(ctx))
	assert.NotNil(t, provider.GetTracer("harvest"))
}

func TestEnabledWithoutEndpointFails(t *testing.T) {
	_, err := NewTracingProvider(Config{Enabled: true})
	require.Error(t, err)
}

func TestTLSConfiguration(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		expectErr bool
	}{
		{
			name: "insecure skip verify",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317", TLSInsecure: true},
		},
		{
			name:      "missing CA certificate",
			cfg:       Config{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: "/nonexistent/ca.crt"},
			expectErr: true,
		},
		{
			name: "no TLS",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewTracingProvider(tt.cfg)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, provider.IsEnabled())
		})
	}
}
