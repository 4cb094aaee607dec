package app

import (
	"net/http"

	"calcjob/internal/config"
	"calcjob/internal/executor"
	"calcjob/internal/plugin"
	"calcjob/internal/storage"
)

type plugins struct {
	storages  *storage.Registry
	executors *executor.Registry
	pools     *executor.PoolSet
}

// initPlugins builds the plugin registries of a process. The async pools
// are created once here and shared by every executor instance the registry
// resolves.
func initPlugins(cfg *config.Config, httpClient *http.Client) *plugins {
	withCache := func(o *plugin.Options) { o.CacheSize = cfg.PluginCacheSize }
	pools := executor.NewPoolSet(cfg.JobRoot)
	return &plugins{
		storages: storage.NewRegistry(cfg.StorageEnv(), withCache),
		executors: executor.NewRegistry(executor.Backends{
			JobRoot:    cfg.JobRoot,
			Pools:      pools,
			HTTPClient: httpClient,
		}, withCache),
		pools: pools,
	}
}
