// Package gateway turns registered tools into remotely submittable jobs.
//
// Every operation receives the executor and storage configuration it should
// use and resolves fresh plugin instances from it; nothing about a job is
// remembered between calls. Job state lives in the executor backend alone.
package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"calcjob/internal/artifact"
	"calcjob/internal/executor"
	"calcjob/internal/logging"
	"calcjob/internal/plugin"
	"calcjob/internal/storage"
	"calcjob/internal/tool"
)

const defaultInputRoot = "inputs"

// Options configures a Gateway.
type Options struct {
	// InputRoot is where downloaded inputs are placed, one directory per
	// submission.
	InputRoot string
	// DefaultExecutor and DefaultStorage replace a nil configuration. When
	// they are nil too, the "local" plugin is used.
	DefaultExecutor plugin.Config
	DefaultStorage  plugin.Config
	Logger          logging.Logger
	// NewID generates submission and upload prefixes.
	NewID func() string
}

// Gateway implements submit_job, query_job_status, terminate_job and
// get_job_results over a tool registry and the two plugin registries.
type Gateway struct {
	tools     *tool.Registry
	storages  *storage.Registry
	executors *executor.Registry

	inputRoot       string
	defaultExecutor plugin.Config
	defaultStorage  plugin.Config
	logger          logging.Logger
	newID           func() string
	materializer    *Materializer
}

// New creates a Gateway.
func New(tools *tool.Registry, storages *storage.Registry, executors *executor.Registry, optFns ...func(o *Options)) *Gateway {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if strings.TrimSpace(opts.InputRoot) == "" {
		opts.InputRoot = defaultInputRoot
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOp{}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Gateway{
		tools:           tools,
		storages:        storages,
		executors:       executors,
		inputRoot:       opts.InputRoot,
		defaultExecutor: opts.DefaultExecutor,
		defaultStorage:  opts.DefaultStorage,
		logger:          opts.Logger,
		newID:           opts.NewID,
		materializer:    NewMaterializer(opts.Logger, opts.NewID),
	}
}

// Tools returns the tool registry.
func (g *Gateway) Tools() *tool.Registry { return g.tools }

// SubmitJob downloads the artifact inputs of kwargs through the storage
// plugin, then submits the tool to the executor. It returns once the
// executor has accepted the job.
//
// Every artifact URI must carry the scheme of the resolved storage plugin;
// a mismatch aborts the call with ErrSchemeMismatch before any job exists.
func (g *Gateway) SubmitJob(ctx context.Context, name string, executorCfg, storageCfg plugin.Config, kwargs map[string]any) (executor.Submission, error) {
	t, ok := g.tools.Get(name)
	if !ok {
		return executor.Submission{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	executorCfg = g.executorConfig(executorCfg)
	storageCfg = g.storageConfig(storageCfg)

	args := tool.Args(kwargs).Clone()
	if t.Preprocess != nil {
		var err error
		executorCfg, storageCfg, args, err = t.Preprocess(ctx, executorCfg, storageCfg, args)
		if err != nil {
			return executor.Submission{}, fmt.Errorf("preprocess %s: %w", name, err)
		}
	}
	bound, err := t.Bind(args)
	if err != nil {
		return executor.Submission{}, err
	}

	_, st, err := g.storages.Resolve(storageCfg)
	if err != nil {
		return executor.Submission{}, err
	}
	inputDir := filepath.Join(g.inputRoot, g.newID())
	for _, p := range t.ArtifactParams() {
		raw, ok := bound[p.Name]
		if !ok || raw == nil {
			continue
		}
		ref := bound.String(p.Name)
		uri := artifact.Parse(ref)
		if uri.Scheme != st.Scheme() {
			return executor.Submission{}, fmt.Errorf("%w: %s is %q but storage serves %q", ErrSchemeMismatch, p.Name, uri.Scheme, st.Scheme())
		}
		local, err := st.Download(ctx, uri.Key, filepath.Join(inputDir, p.Name))
		if err != nil {
			return executor.Submission{}, err
		}
		g.logger.Info("artifact downloaded", "uri", ref, "path", local)
		bound[p.Name] = artifact.Path(local)
	}

	_, ex, err := g.executors.Resolve(executorCfg)
	if err != nil {
		return executor.Submission{}, err
	}
	sub, err := ex.Submit(ctx, t.Function(), bound)
	if err != nil {
		return executor.Submission{}, err
	}
	g.logger.Info("job submitted", "tool", name, "job_id", sub.JobID)
	return sub, nil
}

// QueryJobStatus reports the status of a job.
func (g *Gateway) QueryJobStatus(ctx context.Context, jobID string, executorCfg plugin.Config) (executor.Status, error) {
	_, ex, err := g.executors.Resolve(g.executorConfig(executorCfg))
	if err != nil {
		return "", err
	}
	status, err := ex.QueryStatus(ctx, jobID)
	if err != nil {
		return "", err
	}
	g.logger.Info("job status", "job_id", jobID, "status", string(status))
	return status, nil
}

// TerminateJob asks the executor to stop a job.
func (g *Gateway) TerminateJob(ctx context.Context, jobID string, executorCfg plugin.Config) error {
	_, ex, err := g.executors.Resolve(g.executorConfig(executorCfg))
	if err != nil {
		return err
	}
	if err := ex.Terminate(ctx, jobID); err != nil {
		return err
	}
	g.logger.Info("job terminated", "job_id", jobID)
	return nil
}

// GetJobResults fetches the results of a job and uploads every path-valued
// entry, returning URIs in their place. The job must have succeeded;
// callers check QueryJobStatus first.
func (g *Gateway) GetJobResults(ctx context.Context, jobID string, executorCfg, storageCfg plugin.Config) (map[string]any, error) {
	_, st, err := g.storages.Resolve(g.storageConfig(storageCfg))
	if err != nil {
		return nil, err
	}
	_, ex, err := g.executors.Resolve(g.executorConfig(executorCfg))
	if err != nil {
		return nil, err
	}
	results, err := ex.GetResults(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out, err := g.materializer.Materialize(ctx, st, results)
	if err != nil {
		return nil, err
	}
	g.logger.Info("job results", "job_id", jobID, "results", out)
	return out, nil
}

func (g *Gateway) executorConfig(cfg plugin.Config) plugin.Config {
	if cfg == nil {
		return g.defaultExecutor.Clone()
	}
	return cfg
}

func (g *Gateway) storageConfig(cfg plugin.Config) plugin.Config {
	if cfg == nil {
		return g.defaultStorage.Clone()
	}
	return cfg
}
