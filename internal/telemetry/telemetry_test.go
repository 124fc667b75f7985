package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{ServiceName: "gateway-test", ServiceVersion: "v1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx))
}

func TestSetup_NoopWhenDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{
		Endpoint:    "http://localhost:4318",
		Disabled:    true,
		ServiceName: "gateway-test",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetup_CreatesProvider(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	shutdown, err := Setup(context.Background(), Options{
		Endpoint:       "http://192.0.2.1:4318",
		ServiceName:    "gateway-test",
		ServiceVersion: "v1",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
