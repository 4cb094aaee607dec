package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"calcjob/internal/gateway/handler/rpc"
	"calcjob/internal/gateway/middleware"
)

// NewGatewayMux routes the tool surface: connect ToolService and the
// websocket JSON-RPC endpoint.
func NewGatewayMux(toolHandler *rpc.ToolHandler, wsHandler *rpc.WSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/healthz", healthz)

	// RPC Handlers
	path, h := rpc.NewToolServiceHandler(toolHandler)
	r.Handle(path+"*", h)
	r.Handle("/ws", wsHandler)
	return r
}

// NewWorkerMux routes the WorkerService used by dispatcher executors.
func NewWorkerMux(workerHandler *rpc.WorkerHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", healthz)

	path, h := rpc.NewWorkerServiceHandler(workerHandler)
	r.Handle(path+"*", h)
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
