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
	"calcjob/internal/gateway"
	"calcjob/internal/logging"
	"calcjob/internal/protocol"
)

// ToolHandler serves the gateway's tools over connect.
type ToolHandler struct {
	gw     *gateway.Gateway
	logger logging.Logger
}

func NewToolHandler(gw *gateway.Gateway, logger logging.Logger) *ToolHandler {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &ToolHandler{gw: gw, logger: logger}
}

// NewToolServiceHandler builds the HTTP handler for ToolService and returns
// the path it should be mounted on.
func NewToolServiceHandler(h *ToolHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	callTool := connect.NewUnaryHandler(protocol.ToolServiceCallToolProcedure, h.CallTool, opts...)
	listTools := connect.NewUnaryHandler(protocol.ToolServiceListToolsProcedure, h.ListTools, opts...)
	return "/" + protocol.ToolServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case protocol.ToolServiceCallToolProcedure:
			callTool.ServeHTTP(w, r)
		case protocol.ToolServiceListToolsProcedure:
			listTools.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// CallTool expects {"name": <tool>, "arguments": {...}} and answers with a
// tool result {"text": ..., "is_error": false}. Errors of the call itself,
// including a Failed job's results, come back as is_error results; connect
// errors are reserved for malformed requests.
func (h *ToolHandler) CallTool(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()
	name := strings.TrimSpace(fields["name"].GetStringValue())
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	args := fields["arguments"].GetStructValue().AsMap()

	out, err := h.gw.Call(ctx, name, args)
	if err != nil {
		h.logger.Warn("tool call failed", "tool", name, "error", err)
		return connect.NewResponse(ToolErrorResult(err).Struct()), nil
	}
	return connect.NewResponse(protocol.NewToolResult(out, nil).Struct()), nil
}

// ListTools answers with {"tools": [spec, ...]}.
func (h *ToolHandler) ListTools(_ context.Context, _ *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	msg, err := protocol.ToStruct(map[string]any{"tools": h.gw.ListTools()})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// ToolErrorResult renders a failed tool call as an is_error result whose
// code classifies err the way a connect error would.
func ToolErrorResult(err error) *protocol.ToolResult {
	res := protocol.NewToolResult(nil, err)
	res.Code = connect.CodeOf(toToolError(err)).String()
	return res
}

func toToolError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case gateway.IsConfigError(err), gateway.IsInvalidArgument(err):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, gateway.ErrUnknownTool), errors.Is(err, executor.ErrJobNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, executor.ErrNotSucceeded):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	default:
		return connect.NewError(connect.CodeInternal, fmt.Errorf("tool call failed: %w", err))
	}
}
