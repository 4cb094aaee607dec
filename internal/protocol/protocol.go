// Package protocol holds the wire vocabulary shared by servers and clients:
// connect procedure names, tool names of the job protocol, the tool result
// envelope and the websocket JSON-RPC frames.
//
// Payloads are untyped JSON objects carried as google.protobuf.Struct, so no
// generated message types are needed.
package protocol

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"calcjob/internal/util/jsonutil"
)

// Connect services and their procedures.
const (
	ToolServiceName   = "calcjob.v1.ToolService"
	WorkerServiceName = "calcjob.v1.WorkerService"

	ToolServiceCallToolProcedure  = "/calcjob.v1.ToolService/CallTool"
	ToolServiceListToolsProcedure = "/calcjob.v1.ToolService/ListTools"

	WorkerServiceSubmitProcedure      = "/calcjob.v1.WorkerService/Submit"
	WorkerServiceQueryStatusProcedure = "/calcjob.v1.WorkerService/QueryStatus"
	WorkerServiceTerminateProcedure   = "/calcjob.v1.WorkerService/Terminate"
	WorkerServiceGetResultsProcedure  = "/calcjob.v1.WorkerService/GetResults"
)

// Tool names of the job protocol. A wrapped function is exposed under its
// own name and submits a job when called.
const (
	ToolQueryJobStatus = "query_job_status"
	ToolTerminateJob   = "terminate_job"
	ToolGetJobResults  = "get_job_results"
)

// Argument names shared by the job tools.
const (
	ArgJobID    = "job_id"
	ArgExecutor = "executor"
	ArgStorage  = "storage"
)

// ToolResult is the outcome of one tool call. Strings are carried verbatim,
// nil becomes empty text and any other value is JSON encoded. IsError marks
// Text as a diagnostic; Code then classifies it with a connect code name
// such as "not_found" or "failed_precondition".
type ToolResult struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// NewToolResult renders a tool's return value or error.
func NewToolResult(v any, err error) *ToolResult {
	if err != nil {
		return &ToolResult{Text: err.Error(), IsError: true}
	}
	if v == nil {
		return &ToolResult{}
	}
	if s, ok := v.(string); ok {
		return &ToolResult{Text: s}
	}
	if s, ok := v.(fmt.Stringer); ok {
		return &ToolResult{Text: s.String()}
	}
	raw, mErr := jsonutil.MarshalNoEscape(v)
	if mErr != nil {
		return &ToolResult{Text: fmt.Sprintf("encode result: %v", mErr), IsError: true}
	}
	return &ToolResult{Text: string(raw)}
}

// Struct converts r for a connect response.
func (r *ToolResult) Struct() *structpb.Struct {
	fields := map[string]*structpb.Value{
		"text":     structpb.NewStringValue(r.Text),
		"is_error": structpb.NewBoolValue(r.IsError),
	}
	if r.Code != "" {
		fields["code"] = structpb.NewStringValue(r.Code)
	}
	return &structpb.Struct{Fields: fields}
}

// ToolResultFromStruct reverses ToolResult.Struct.
func ToolResultFromStruct(s *structpb.Struct) *ToolResult {
	return &ToolResult{
		Text:    s.GetFields()["text"].GetStringValue(),
		IsError: s.GetFields()["is_error"].GetBoolValue(),
		Code:    s.GetFields()["code"].GetStringValue(),
	}
}

// ToStruct converts any JSON-encodable object into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	m, err := jsonutil.NormalizeObject(v)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// CallToolParams names a tool and its arguments.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Websocket JSON-RPC methods.
const (
	MethodToolsCall = "tools/call"
	MethodToolsList = "tools/list"
	MethodPing      = "ping"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RPCRequest is a JSON-RPC 2.0 request frame.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response frame.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a response frame.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
