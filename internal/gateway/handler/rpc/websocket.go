package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"calcjob/internal/gateway"
	"calcjob/internal/logging"
	"calcjob/internal/protocol"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// WSHandler serves the gateway's tools as JSON-RPC 2.0 over a websocket.
// Requests on one connection are handled concurrently; responses carry the
// request id.
type WSHandler struct {
	gw     *gateway.Gateway
	logger logging.Logger
}

func NewWSHandler(gw *gateway.Gateway, logger logging.Logger) *WSHandler {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &WSHandler{gw: gw, logger: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		h.logger.Warn("ws set read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writeCh := make(chan protocol.RPCResponse, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			cancel()
			<-writerDone
			return
		}
		var req protocol.RPCRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			pushWS(ctx, writeCh, errorResponse(0, protocol.CodeParseError, err.Error()))
			continue
		}
		go func() {
			pushWS(ctx, writeCh, h.handle(ctx, req))
		}()
	}
}

func (h *WSHandler) handle(ctx context.Context, req protocol.RPCRequest) protocol.RPCResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, protocol.CodeInvalidRequest, `jsonrpc must be "2.0"`)
	}
	switch strings.TrimSpace(req.Method) {
	case protocol.MethodPing:
		return resultResponse(req.ID, map[string]any{})
	case protocol.MethodToolsList:
		return resultResponse(req.ID, map[string]any{"tools": h.gw.ListTools()})
	case protocol.MethodToolsCall:
		var params protocol.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil || strings.TrimSpace(params.Name) == "" {
			return errorResponse(req.ID, protocol.CodeInvalidParams, "params.name is required")
		}
		out, err := h.gw.Call(ctx, params.Name, params.Arguments)
		if err != nil {
			h.logger.Warn("tool call failed", "tool", params.Name, "error", err)
			return resultResponse(req.ID, ToolErrorResult(err))
		}
		return resultResponse(req.ID, protocol.NewToolResult(out, nil))
	default:
		return errorResponse(req.ID, protocol.CodeMethodNotFound, "unsupported method: "+req.Method)
	}
}

func resultResponse(id int64, v any) protocol.RPCResponse {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorResponse(id, protocol.CodeInternalError, err.Error())
	}
	return protocol.RPCResponse{JSONRPC: "2.0", ID: id, Result: raw}
}

func errorResponse(id int64, code int, msg string) protocol.RPCResponse {
	return protocol.RPCResponse{JSONRPC: "2.0", ID: id, Error: &protocol.RPCError{Code: code, Message: msg}}
}

// pushWS blocks until the writer takes out or the connection is gone.
func pushWS(ctx context.Context, writeCh chan<- protocol.RPCResponse, out protocol.RPCResponse) {
	select {
	case writeCh <- out:
	case <-ctx.Done():
	}
}
