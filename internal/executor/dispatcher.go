package executor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"calcjob/internal/plugin"
	"calcjob/internal/protocol"
)

// TypeDispatcher forwards jobs to a remote worker node.
const TypeDispatcher = "dispatcher"

// DispatcherConfig holds the fields of a dispatcher executor config.
type DispatcherConfig struct {
	// URL is the worker node base URL, e.g. "http://worker:8082".
	URL string `json:"url"`
	// Pool selects the async pool on the worker.
	Pool string `json:"pool"`
	// Timeout bounds each RPC in seconds; 0 means no bound.
	Timeout float64 `json:"timeout"`
}

// Dispatcher sends the function name and arguments to a worker node, which
// resolves the function from its own registry and runs it. Artifact paths in
// arguments and results are passed through untouched, so gateway and worker
// must see the same filesystem paths.
type Dispatcher struct {
	baseURL string
	pool    string

	submit      *connect.Client[structpb.Struct, structpb.Struct]
	queryStatus *connect.Client[structpb.Struct, structpb.Struct]
	terminate   *connect.Client[structpb.Struct, structpb.Struct]
	getResults  *connect.Client[structpb.Struct, structpb.Struct]
}

// NewDispatcher creates a Dispatcher for cfg using httpClient, or
// http.DefaultClient when nil.
func NewDispatcher(cfg DispatcherConfig, httpClient *http.Client) (*Dispatcher, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, fmt.Errorf("dispatcher url is required")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("dispatcher url %q must be an absolute http(s) URL", cfg.URL)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Timeout > 0 {
		c := *httpClient
		c.Timeout = time.Duration(cfg.Timeout * float64(time.Second))
		httpClient = &c
	}
	newClient := func(procedure string) *connect.Client[structpb.Struct, structpb.Struct] {
		return connect.NewClient[structpb.Struct, structpb.Struct](httpClient, base+procedure)
	}
	return &Dispatcher{
		baseURL:     base,
		pool:        cfg.Pool,
		submit:      newClient(protocol.WorkerServiceSubmitProcedure),
		queryStatus: newClient(protocol.WorkerServiceQueryStatusProcedure),
		terminate:   newClient(protocol.WorkerServiceTerminateProcedure),
		getResults:  newClient(protocol.WorkerServiceGetResultsProcedure),
	}, nil
}

func newDispatcherFromFields(b Backends, fields plugin.Fields) (Executor, error) {
	var cfg DispatcherConfig
	if err := fields.Decode(&cfg); err != nil {
		return nil, err
	}
	return NewDispatcher(cfg, b.HTTPClient)
}

func (e *Dispatcher) Submit(ctx context.Context, fn Function, kwargs map[string]any) (Submission, error) {
	req, err := protocol.ToStruct(map[string]any{
		"function": fn.Name(),
		"pool":     e.pool,
		"kwargs":   kwargs,
	})
	if err != nil {
		return Submission{}, fmt.Errorf("encode kwargs: %w", err)
	}
	resp, err := e.submit.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return Submission{}, err
	}
	fields := resp.Msg.GetFields()
	jobID := fields["job_id"].GetStringValue()
	if jobID == "" {
		return Submission{}, fmt.Errorf("worker %s returned no job id", e.baseURL)
	}
	extra := fields["extra_info"].GetStringValue()
	if extra == "" {
		extra = "dispatched to " + e.baseURL
	}
	return Submission{JobID: jobID, ExtraInfo: extra}, nil
}

func (e *Dispatcher) QueryStatus(ctx context.Context, jobID string) (Status, error) {
	resp, err := e.queryStatus.CallUnary(ctx, connect.NewRequest(e.jobRequest(jobID)))
	if err != nil {
		return "", err
	}
	return ParseStatus(resp.Msg.GetFields()["status"].GetStringValue())
}

func (e *Dispatcher) Terminate(ctx context.Context, jobID string) error {
	_, err := e.terminate.CallUnary(ctx, connect.NewRequest(e.jobRequest(jobID)))
	return err
}

func (e *Dispatcher) GetResults(ctx context.Context, jobID string) (map[string]any, error) {
	resp, err := e.getResults.CallUnary(ctx, connect.NewRequest(e.jobRequest(jobID)))
	if err != nil {
		return nil, err
	}
	encoded := resp.Msg.GetFields()["results"].GetStructValue().AsMap()
	return DecodeResults(encoded)
}

func (e *Dispatcher) jobRequest(jobID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"job_id": structpb.NewStringValue(jobID),
		"pool":   structpb.NewStringValue(e.pool),
	}}
}
