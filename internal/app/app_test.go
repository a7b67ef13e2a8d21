package app_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayhq/browsercluster/internal/app"
	"github.com/relayhq/browsercluster/internal/config"
)

func TestNewWiresSupervisorAndAPI(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Cluster: config.ClusterConfig{PoolSize: 2, TimeToLive: 10},
		Browser: config.BrowserConfig{MaxConcurrency: 2, NavTimeoutSeconds: 5},
	}

	container, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, container.Supervisor())
	require.NotNil(t, container.API())
	require.NotNil(t, container.Logger())
}
