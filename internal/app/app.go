// Package app initializes and holds the long-lived services for the
// browser cluster scheduler, acting as a dependency injection container.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/relayhq/browsercluster/internal/api"
	"github.com/relayhq/browsercluster/internal/browserdriver"
	"github.com/relayhq/browsercluster/internal/clock/system"
	"github.com/relayhq/browsercluster/internal/cluster"
	"github.com/relayhq/browsercluster/internal/config"
	"github.com/relayhq/browsercluster/internal/id/uuid"
	_ "github.com/relayhq/browsercluster/internal/jobs"
)

// App holds the shared services wired at startup: the logger, cluster
// supervisor, and HTTP API server. It is initialized once in main and
// torn down on shutdown.
type App struct {
	logger     *zap.Logger
	supervisor *cluster.Supervisor
	api        *api.Server
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Supervisor returns the cluster supervisor.
func (a *App) Supervisor() *cluster.Supervisor {
	return a.supervisor
}

// API returns the HTTP facade.
func (a *App) API() *api.Server {
	return a.api
}

// New wires the cluster supervisor, browser driver factory, and HTTP
// facade from cfg. The jobs package is imported for its side-effecting
// init() registrations only (BrowserProviderJob, ResourceExplorationJob,
// TaintTraceJob self-register against cluster.RegisterExecutor), exactly
// the way a database/sql driver package registers itself.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	factory := browserdriver.NewFactory(browserdriver.Config{
		UserAgent:      cfg.Browser.UserAgent,
		NavTimeout:     cfg.Browser.NavTimeout(),
		MaxConcurrency: cfg.Browser.MaxConcurrency,
		DomainQPS:      cfg.Browser.DomainQPS,
	}, logger.Named("browserdriver"))

	supervisor, err := cluster.New(cluster.Config{
		PoolSize:       cfg.Cluster.PoolSize,
		TimeToLive:     cfg.Cluster.TimeToLive,
		QueueThreshold: cfg.Cluster.QueueSpillThreshold,
		QueueSpillDir:  cfg.Cluster.QueueSpillDir,
	}, factory, system.New(), uuid.New(), logger.Named("cluster"))
	if err != nil {
		return nil, fmt.Errorf("init cluster supervisor: %w", err)
	}

	apiServer := api.NewServer(supervisor, logger.Named("api"), cfg.Auth.Enabled, cfg.Auth.APIKey)

	return &App{
		logger:     logger,
		supervisor: supervisor,
		api:        apiServer,
	}, nil
}
