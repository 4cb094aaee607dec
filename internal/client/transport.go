// Package client calls gateway tools and correlates the job protocol's
// submit, status and results calls into one logical call.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/types/known/structpb"

	"calcjob/internal/gateway"
	"calcjob/internal/gateway/handler/rpc"
	"calcjob/internal/protocol"
	"calcjob/internal/tool"
)

// Transport performs a single tool call.
type Transport interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*protocol.ToolResult, error)
}

// LocalTransport calls a gateway in the same process. Gateway errors come
// back as is_error results, as they do over connect and websocket.
type LocalTransport struct {
	gw *gateway.Gateway
}

func NewLocalTransport(gw *gateway.Gateway) *LocalTransport {
	return &LocalTransport{gw: gw}
}

func (t *LocalTransport) CallTool(ctx context.Context, name string, args map[string]any) (*protocol.ToolResult, error) {
	out, err := t.gw.Call(ctx, name, args)
	if err != nil {
		return rpc.ToolErrorResult(err), nil
	}
	return protocol.NewToolResult(out, nil), nil
}

// ConnectTransport calls a gateway's ToolService.
type ConnectTransport struct {
	callTool  *connect.Client[structpb.Struct, structpb.Struct]
	listTools *connect.Client[structpb.Struct, structpb.Struct]
}

// NewConnectTransport creates a transport for the gateway at baseURL, e.g.
// "http://localhost:8081".
func NewConnectTransport(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ConnectTransport {
	baseURL = strings.TrimRight(baseURL, "/")
	return &ConnectTransport{
		callTool:  connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+protocol.ToolServiceCallToolProcedure, opts...),
		listTools: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+protocol.ToolServiceListToolsProcedure, opts...),
	}
}

func (t *ConnectTransport) CallTool(ctx context.Context, name string, args map[string]any) (*protocol.ToolResult, error) {
	req, err := protocol.ToStruct(protocol.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	resp, err := t.callTool.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return protocol.ToolResultFromStruct(resp.Msg), nil
}

// ListTools returns the specs the gateway advertises.
func (t *ConnectTransport) ListTools(ctx context.Context) ([]tool.Spec, error) {
	resp, err := t.listTools.CallUnary(ctx, connect.NewRequest(&structpb.Struct{}))
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(resp.Msg.AsMap())
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []tool.Spec `json:"tools"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// WSTransport speaks JSON-RPC over one websocket connection. Calls may be
// issued concurrently; responses are matched by request id.
type WSTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan protocol.RPCResponse
	err     error
	closed  chan struct{}
}

// DialWS connects to a gateway websocket endpoint such as
// "ws://localhost:8081/ws".
func DialWS(ctx context.Context, url string, header http.Header) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	t := &WSTransport{
		conn:    conn,
		pending: map[int64]chan protocol.RPCResponse{},
		closed:  make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *WSTransport) readLoop() {
	for {
		var resp protocol.RPCResponse
		if err := t.conn.ReadJSON(&resp); err != nil {
			t.fail(err)
			return
		}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		delete(t.pending, resp.ID)
		t.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (t *WSTransport) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	t.err = err
	close(t.closed)
}

func (t *WSTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	ch := make(chan protocol.RPCResponse, 1)
	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return nil, fmt.Errorf("websocket closed: %w", err)
	}
	t.nextID++
	id := t.nextID
	t.pending[id] = ch
	t.mu.Unlock()

	t.writeMu.Lock()
	err = t.conn.WriteJSON(protocol.RPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	t.writeMu.Unlock()
	if err != nil {
		t.forget(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.forget(id)
		return nil, ctx.Err()
	case <-t.closed:
		return nil, fmt.Errorf("websocket closed: %w", t.err)
	}
}

func (t *WSTransport) forget(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *WSTransport) CallTool(ctx context.Context, name string, args map[string]any) (*protocol.ToolResult, error) {
	raw, err := t.call(ctx, protocol.MethodToolsCall, protocol.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var out protocol.ToolResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	return &out, nil
}

func (t *WSTransport) ListTools(ctx context.Context) ([]tool.Spec, error) {
	raw, err := t.call(ctx, protocol.MethodToolsList, struct{}{})
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []tool.Spec `json:"tools"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}
	return out.Tools, nil
}

// Ping round-trips an empty request.
func (t *WSTransport) Ping(ctx context.Context) error {
	_, err := t.call(ctx, protocol.MethodPing, struct{}{})
	return err
}

func (t *WSTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return t.conn.Close()
}
