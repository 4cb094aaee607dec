package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"calcjob/internal/executor"
	"calcjob/internal/logging"
	"calcjob/internal/protocol"
)

// WorkerHandler runs jobs forwarded by dispatcher executors. Jobs go to the
// async pool named in each request.
type WorkerHandler struct {
	pools     *executor.PoolSet
	functions executor.FunctionResolver
	logger    logging.Logger
}

func NewWorkerHandler(pools *executor.PoolSet, functions executor.FunctionResolver, logger logging.Logger) *WorkerHandler {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &WorkerHandler{pools: pools, functions: functions, logger: logger}
}

// NewWorkerServiceHandler builds the HTTP handler for WorkerService and
// returns the path it should be mounted on.
func NewWorkerServiceHandler(h *WorkerHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	routes := map[string]http.Handler{
		protocol.WorkerServiceSubmitProcedure:      connect.NewUnaryHandler(protocol.WorkerServiceSubmitProcedure, h.Submit, opts...),
		protocol.WorkerServiceQueryStatusProcedure: connect.NewUnaryHandler(protocol.WorkerServiceQueryStatusProcedure, h.QueryStatus, opts...),
		protocol.WorkerServiceTerminateProcedure:   connect.NewUnaryHandler(protocol.WorkerServiceTerminateProcedure, h.Terminate, opts...),
		protocol.WorkerServiceGetResultsProcedure:  connect.NewUnaryHandler(protocol.WorkerServiceGetResultsProcedure, h.GetResults, opts...),
	}
	return "/" + protocol.WorkerServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route, ok := routes[r.URL.Path]; ok {
			route.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

func (h *WorkerHandler) Submit(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()
	name := strings.TrimSpace(fields["function"].GetStringValue())
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("function is required"))
	}
	fn, ok := h.functions.Function(name)
	if !ok {
		return nil, toWorkerError(fmt.Errorf("%w: %s", executor.ErrUnknownFunction, name))
	}
	pool := h.pools.Get(fields["pool"].GetStringValue())
	kwargs := fields["kwargs"].GetStructValue().AsMap()

	sub, err := executor.NewAsync(pool).Submit(ctx, fn, kwargs)
	if err != nil {
		return nil, toWorkerError(err)
	}
	h.logger.Info("worker job submitted", "function", name, "pool", pool.Name(), "job_id", sub.JobID)
	return connect.NewResponse(&structpb.Struct{Fields: map[string]*structpb.Value{
		"job_id":     structpb.NewStringValue(sub.JobID),
		"extra_info": structpb.NewStringValue("running in worker pool " + pool.Name()),
	}}), nil
}

func (h *WorkerHandler) QueryStatus(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	ex, jobID, err := h.job(req.Msg)
	if err != nil {
		return nil, err
	}
	status, err := ex.QueryStatus(ctx, jobID)
	if err != nil {
		return nil, toWorkerError(err)
	}
	return connect.NewResponse(&structpb.Struct{Fields: map[string]*structpb.Value{
		"status": structpb.NewStringValue(string(status)),
	}}), nil
}

func (h *WorkerHandler) Terminate(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	ex, jobID, err := h.job(req.Msg)
	if err != nil {
		return nil, err
	}
	if err := ex.Terminate(ctx, jobID); err != nil {
		return nil, toWorkerError(err)
	}
	h.logger.Info("worker job terminated", "job_id", jobID)
	return connect.NewResponse(&structpb.Struct{}), nil
}

func (h *WorkerHandler) GetResults(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	ex, jobID, err := h.job(req.Msg)
	if err != nil {
		return nil, err
	}
	results, err := ex.GetResults(ctx, jobID)
	if err != nil {
		return nil, toWorkerError(err)
	}
	msg, err := protocol.ToStruct(map[string]any{"results": executor.EncodeResults(results)})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("encode results: %w", err))
	}
	return connect.NewResponse(msg), nil
}

func (h *WorkerHandler) job(msg *structpb.Struct) (*executor.Async, string, error) {
	fields := msg.GetFields()
	jobID := strings.TrimSpace(fields["job_id"].GetStringValue())
	if jobID == "" {
		return nil, "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("job_id is required"))
	}
	return executor.NewAsync(h.pools.Get(fields["pool"].GetStringValue())), jobID, nil
}

func toWorkerError(err error) error {
	switch {
	case errors.Is(err, executor.ErrJobNotFound), errors.Is(err, executor.ErrUnknownFunction):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, executor.ErrNotSucceeded):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	default:
		return connect.NewError(connect.CodeInternal, fmt.Errorf("worker failed: %w", err))
	}
}
