package app

import (
	"context"
	"fmt"
	"net/http"

	"calcjob/internal/config"
	"calcjob/internal/gateway"
	"calcjob/internal/gateway/handler/rpc"
	"calcjob/internal/gateway/server"
	"calcjob/internal/logging"
	"calcjob/internal/tool"
)

type App struct {
	server *server.Server
	logger logging.Logger
}

// NewGateway wires the tool server: plugin registries, the gateway and its
// connect and websocket handlers.
func NewGateway(args []string, tools *tool.Registry) (*App, error) {
	cfg, err := config.Load("gateway", args)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg, "gateway")

	// Dependencies
	plugins := initPlugins(cfg, http.DefaultClient)
	gw := gateway.New(tools, plugins.storages, plugins.executors, func(o *gateway.Options) {
		o.InputRoot = cfg.InputRoot
		o.DefaultExecutor = cfg.DefaultExecutor
		o.DefaultStorage = cfg.DefaultStorage
		o.Logger = logger
	})

	toolHandler := rpc.NewToolHandler(gw, logger)
	wsHandler := rpc.NewWSHandler(gw, logger)

	// Routing & Server
	mux := server.NewGatewayMux(toolHandler, wsHandler)
	return &App{server: server.New("gateway", cfg.Port, mux, logger), logger: logger}, nil
}

// NewWorker wires a worker node that runs jobs forwarded by dispatcher
// executors.
func NewWorker(args []string, tools *tool.Registry) (*App, error) {
	cfg, err := config.Load("worker", args)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg, "worker")

	plugins := initPlugins(cfg, http.DefaultClient)
	workerHandler := rpc.NewWorkerHandler(plugins.pools, tools, logger)

	mux := server.NewWorkerMux(workerHandler)
	return &App{server: server.New("worker", cfg.WorkerPort, mux, logger), logger: logger}, nil
}

func (a *App) Logger() logging.Logger { return a.logger }

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func newLogger(cfg *config.Config, component string) logging.Logger {
	return logging.With(logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}), "component", component)
}
