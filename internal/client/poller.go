package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"calcjob/internal/executor"
	"calcjob/internal/logging"
	"calcjob/internal/protocol"
	"calcjob/internal/util/jsonutil"
)

const defaultPollInterval = 10 * time.Second

// ErrPollTimeout is returned when a job is still running after the
// configured timeout.
var ErrPollTimeout = errors.New("job polling timed out")

// ToolError is a tool result the gateway flagged as an error while the
// poller was tracking a job.
type ToolError struct {
	Tool  string
	JobID string
	Text  string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s for job %s: %s", e.Tool, e.JobID, e.Text)
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Interval separates status queries. Defaults to 10s.
	Interval time.Duration
	// Timeout bounds the whole polling phase; 0 polls forever.
	Timeout time.Duration
	// TerminateOnTimeout calls terminate_job before returning
	// ErrPollTimeout.
	TerminateOnTimeout bool
	// DefaultExecutor and DefaultStorage are sent when a call leaves the
	// "executor" or "storage" argument out.
	DefaultExecutor map[string]any
	DefaultStorage  map[string]any
	Logger          logging.Logger
	// Sleep waits between status queries.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Poller makes a job tool look like a blocking call: it submits, polls
// query_job_status until the job is terminal, then fetches the results.
// A Poller holds no per-job state and may be shared by concurrent calls.
type Poller struct {
	transport Transport
	opts      PollerOptions
}

func NewPoller(transport Transport, optFns ...func(o *PollerOptions)) *Poller {
	opts := PollerOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOp{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Poller{transport: transport, opts: opts}
}

// Call runs the tool name as a job and returns its final response.
//
// When the submit response does not carry a job id, it is logged and
// returned as is. A Succeeded job returns the results object with the
// submission's extra_info merged in. A Failed job returns the
// get_job_results response unmodified.
func (p *Poller) Call(ctx context.Context, name string, args map[string]any) (*protocol.ToolResult, error) {
	args = p.withDefaults(args)

	submitted, err := p.transport.CallTool(ctx, name, args)
	if err != nil {
		return nil, err
	}
	sub, ok := parseSubmission(submitted)
	if !ok {
		p.opts.Logger.Warn("submit response carries no job id, returning it as is", "tool", name, "response", submitted.Text)
		return submitted, nil
	}
	p.opts.Logger.Info("job submitted", "tool", name, "job_id", sub.JobID)

	jobArgs := map[string]any{protocol.ArgJobID: sub.JobID}
	if v, ok := args[protocol.ArgExecutor]; ok {
		jobArgs[protocol.ArgExecutor] = v
	}

	status, err := p.wait(ctx, sub.JobID, jobArgs)
	if err != nil {
		return nil, err
	}

	resultArgs := map[string]any{}
	for k, v := range jobArgs {
		resultArgs[k] = v
	}
	if v, ok := args[protocol.ArgStorage]; ok {
		resultArgs[protocol.ArgStorage] = v
	}
	results, err := p.transport.CallTool(ctx, protocol.ToolGetJobResults, resultArgs)
	if err != nil {
		return nil, err
	}
	if status == executor.StatusFailed {
		p.opts.Logger.Info("job failed", "job_id", sub.JobID)
		return results, nil
	}
	if results.IsError {
		return nil, &ToolError{Tool: protocol.ToolGetJobResults, JobID: sub.JobID, Text: results.Text}
	}
	return mergeExtraInfo(results, sub.ExtraInfo), nil
}

func (p *Poller) wait(ctx context.Context, jobID string, jobArgs map[string]any) (executor.Status, error) {
	pollCtx := ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	for {
		status, err := p.queryStatus(pollCtx, jobID, jobArgs)
		if err == nil && status.Terminal() {
			p.opts.Logger.Info("job finished", "job_id", jobID, "status", string(status))
			return status, nil
		}
		if err == nil {
			err = p.opts.Sleep(pollCtx, p.opts.Interval)
		}
		if err != nil {
			if ctx.Err() == nil && pollCtx.Err() != nil {
				return "", p.timeout(ctx, jobID, jobArgs)
			}
			return "", err
		}
	}
}

func (p *Poller) queryStatus(ctx context.Context, jobID string, jobArgs map[string]any) (executor.Status, error) {
	res, err := p.transport.CallTool(ctx, protocol.ToolQueryJobStatus, jobArgs)
	if err != nil {
		return "", err
	}
	if res.IsError {
		return "", &ToolError{Tool: protocol.ToolQueryJobStatus, JobID: jobID, Text: res.Text}
	}
	text := strings.TrimSpace(res.Text)
	var quoted string
	if json.Unmarshal([]byte(text), &quoted) == nil {
		text = quoted
	}
	return executor.ParseStatus(text)
}

func (p *Poller) timeout(ctx context.Context, jobID string, jobArgs map[string]any) error {
	err := fmt.Errorf("%w: job %s still running after %s", ErrPollTimeout, jobID, p.opts.Timeout)
	if !p.opts.TerminateOnTimeout {
		return err
	}
	res, termErr := p.transport.CallTool(ctx, protocol.ToolTerminateJob, jobArgs)
	if termErr == nil && res.IsError {
		termErr = &ToolError{Tool: protocol.ToolTerminateJob, JobID: jobID, Text: res.Text}
	}
	if termErr != nil {
		p.opts.Logger.Warn("terminate after timeout failed", "job_id", jobID, "error", termErr)
		return errors.Join(err, termErr)
	}
	p.opts.Logger.Info("job terminated after timeout", "job_id", jobID)
	return err
}

func (p *Poller) withDefaults(args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+2)
	for k, v := range args {
		out[k] = v
	}
	if out[protocol.ArgExecutor] == nil && p.opts.DefaultExecutor != nil {
		out[protocol.ArgExecutor] = p.opts.DefaultExecutor
	}
	if out[protocol.ArgStorage] == nil && p.opts.DefaultStorage != nil {
		out[protocol.ArgStorage] = p.opts.DefaultStorage
	}
	return out
}

func parseSubmission(res *protocol.ToolResult) (executor.Submission, bool) {
	if res == nil || res.IsError {
		return executor.Submission{}, false
	}
	obj, err := jsonutil.DecodeObject(res.Text)
	if err != nil {
		return executor.Submission{}, false
	}
	jobID, _ := obj["job_id"].(string)
	if strings.TrimSpace(jobID) == "" {
		return executor.Submission{}, false
	}
	extra, _ := obj["extra_info"].(string)
	return executor.Submission{JobID: jobID, ExtraInfo: extra}, true
}

// mergeExtraInfo adds extra_info to a JSON object result. Anything else is
// returned unchanged.
func mergeExtraInfo(res *protocol.ToolResult, extra string) *protocol.ToolResult {
	if extra == "" {
		return res
	}
	obj, err := jsonutil.DecodeObject(res.Text)
	if err != nil {
		return res
	}
	if _, taken := obj["extra_info"]; !taken {
		obj["extra_info"] = extra
	}
	raw, err := jsonutil.MarshalNoEscape(obj)
	if err != nil {
		return res
	}
	return &protocol.ToolResult{Text: string(raw)}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
