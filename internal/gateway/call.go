package gateway

import (
	"context"
	"fmt"
	"strings"

	"calcjob/internal/plugin"
	"calcjob/internal/protocol"
	"calcjob/internal/tool"
)

// Call dispatches a remote tool call. The job tools map to their
// operations; any other name submits the registered tool of that name and
// returns its executor.Submission. The "executor" and "storage" arguments
// are taken out of args before the rest is handed to the tool.
func (g *Gateway) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	executorCfg, err := configArg(args, protocol.ArgExecutor)
	if err != nil {
		return nil, err
	}
	storageCfg, err := configArg(args, protocol.ArgStorage)
	if err != nil {
		return nil, err
	}

	switch name {
	case protocol.ToolQueryJobStatus:
		jobID, err := jobIDArg(args)
		if err != nil {
			return nil, err
		}
		status, err := g.QueryJobStatus(ctx, jobID, executorCfg)
		if err != nil {
			return nil, err
		}
		return string(status), nil
	case protocol.ToolTerminateJob:
		jobID, err := jobIDArg(args)
		if err != nil {
			return nil, err
		}
		return nil, g.TerminateJob(ctx, jobID, executorCfg)
	case protocol.ToolGetJobResults:
		jobID, err := jobIDArg(args)
		if err != nil {
			return nil, err
		}
		return g.GetJobResults(ctx, jobID, executorCfg, storageCfg)
	}

	kwargs := make(map[string]any, len(args))
	for k, v := range args {
		if k == protocol.ArgExecutor || k == protocol.ArgStorage {
			continue
		}
		kwargs[k] = v
	}
	return g.SubmitJob(ctx, name, executorCfg, storageCfg, kwargs)
}

// ListTools returns the registered tools followed by the job tools.
func (g *Gateway) ListTools() []tool.Spec {
	return append(g.tools.Specs(), tool.JobToolSpecs()...)
}

func configArg(args map[string]any, name string) (plugin.Config, error) {
	cfg, err := plugin.ConfigFrom(args[name])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

func jobIDArg(args map[string]any) (string, error) {
	jobID, _ := args[protocol.ArgJobID].(string)
	if strings.TrimSpace(jobID) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, protocol.ArgJobID)
	}
	return jobID, nil
}
