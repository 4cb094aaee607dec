// Command jobctl lists the gateway's tools and runs them as jobs, polling
// until each job is finished.
//
//	jobctl [-config jobctl.yaml] list
//	jobctl [-config jobctl.yaml] call run_dp_train '{"training_data": "s3://bucket/train"}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"calcjob/internal/client"
	"calcjob/internal/config"
	"calcjob/internal/logging"
	"calcjob/internal/tool"
	"calcjob/internal/util/jsonutil"
)

type lister interface {
	client.Transport
	ListTools(ctx context.Context) ([]tool.Spec, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "jobctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("jobctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("JOBCTL_CONFIG"), "client defaults file (yaml)")
	server := fs.String("server", "", "gateway base url, overrides the config file")
	verbose := fs.Bool("v", false, "log job progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		return err
	}
	if *server != "" {
		cfg.Server = *server
	}
	logger := logging.Logger(logging.NoOp{})
	if *verbose {
		logger = logging.New(logging.Config{Level: "info", Format: "text", Output: stderr})
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return errors.New("usage: jobctl [flags] list | call <tool> [json-arguments]")
	}

	transport, closeFn, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	switch rest[0] {
	case "list":
		specs, err := transport.ListTools(ctx)
		if err != nil {
			return err
		}
		for _, s := range specs {
			fmt.Fprintf(stdout, "%s\t%s\n", s.Name, s.Description)
		}
		return nil
	case "call":
		if len(rest) < 2 {
			return errors.New("call needs a tool name")
		}
		toolArgs, err := parseArguments(rest[2:])
		if err != nil {
			return err
		}
		poller := client.NewPoller(transport, func(o *client.PollerOptions) {
			o.Interval = cfg.PollInterval
			o.Timeout = cfg.Timeout
			o.TerminateOnTimeout = cfg.TerminateOnTimeout
			o.DefaultExecutor = cfg.Executor
			o.DefaultStorage = cfg.Storage
			o.Logger = logger
		})
		res, err := poller.Call(ctx, rest[1], toolArgs)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, res.Text)
		if res.IsError {
			return fmt.Errorf("%s returned an error", rest[1])
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func dial(ctx context.Context, cfg *config.ClientConfig) (lister, func(), error) {
	base := strings.TrimRight(cfg.Server, "/")
	if cfg.Transport == config.TransportWebsocket {
		url := base
		switch {
		case strings.HasPrefix(url, "http://"):
			url = "ws://" + strings.TrimPrefix(url, "http://")
		case strings.HasPrefix(url, "https://"):
			url = "wss://" + strings.TrimPrefix(url, "https://")
		}
		if !strings.HasSuffix(url, "/ws") {
			url += "/ws"
		}
		t, err := client.DialWS(ctx, url, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return t, func() { _ = t.Close() }, nil
	}
	return client.NewConnectTransport(http.DefaultClient, base), func() {}, nil
}

// parseArguments accepts either one JSON object or key=value pairs whose
// values are decoded as JSON when possible.
func parseArguments(args []string) (map[string]any, error) {
	out := map[string]any{}
	if len(args) == 0 {
		return out, nil
	}
	if len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
		return jsonutil.DecodeObject(args[0])
	}
	for _, kv := range args {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("argument %q: expected key=value", kv)
		}
		if decoded, err := jsonutil.DecodeObject(`{"v":` + v + `}`); err == nil {
			out[k] = decoded["v"]
			continue
		}
		out[k] = v
	}
	return out, nil
}
