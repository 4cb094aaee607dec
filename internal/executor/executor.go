// Package executor defines the plugin contract for running a function as a
// job and reporting its lifecycle, plus the built-in backends.
//
// A job is identified by an opaque id owned by the backend. Its status starts
// at Running and moves once to Succeeded or Failed; it never reverts. All job
// state lives in the backend, so any process holding the same executor
// configuration can query a job another process submitted.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"calcjob/internal/plugin"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether s is Succeeded or Failed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ParseStatus accepts exactly the three status literals.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusRunning, StatusSucceeded, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("invalid job status %q", raw)
	}
}

var (
	// ErrJobNotFound is returned for ids the backend does not know.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotSucceeded is returned by GetResults for jobs that are still
	// running or have failed.
	ErrNotSucceeded = errors.New("job has not succeeded")
	// ErrUnknownFunction is returned when a backend cannot locate the
	// function named in a submission.
	ErrUnknownFunction = errors.New("unknown function")
)

// Env describes the job a function is running as.
type Env struct {
	JobID string
	// WorkDir is a directory private to the job. Relative result paths are
	// resolved against it.
	WorkDir string
}

// Function is the unit of work an executor runs. Results map output names
// to plain values or artifact.Path values.
type Function interface {
	Name() string
	Call(ctx context.Context, env *Env, kwargs map[string]any) (map[string]any, error)
}

// FunctionResolver locates functions by name. Backends that run work in
// another process use it on the receiving side.
type FunctionResolver interface {
	Function(name string) (Function, bool)
}

// Submission is what a backend returns once it has accepted a job.
type Submission struct {
	JobID string `json:"job_id"`
	// ExtraInfo is optional human-readable detail about the submission.
	ExtraInfo string `json:"extra_info,omitempty"`
}

// Executor runs functions as jobs.
//
// Submit returns as soon as the backend has accepted the work. QueryStatus
// must be idempotent and side-effect free. Terminate is best effort and a
// no-op for terminal jobs. GetResults is only valid once QueryStatus reports
// Succeeded; checking that first is the caller's responsibility.
type Executor interface {
	Submit(ctx context.Context, fn Function, kwargs map[string]any) (Submission, error)
	QueryStatus(ctx context.Context, jobID string) (Status, error)
	Terminate(ctx context.Context, jobID string) error
	GetResults(ctx context.Context, jobID string) (map[string]any, error)
}

// Registry resolves executor configurations.
type Registry = plugin.Registry[Executor]

// Backends carries the process-level state built-in executors share across
// per-call instances.
type Backends struct {
	// JobRoot holds job working directories and the local executor's
	// result files.
	JobRoot string
	// Pools hosts the goroutine-backed jobs of the async executor.
	Pools *PoolSet
	// HTTPClient is used by the dispatcher executor.
	HTTPClient *http.Client
}

// NewRegistry returns a registry with local, async and dispatcher
// registered.
func NewRegistry(b Backends, optFns ...func(o *plugin.Options)) *Registry {
	if b.Pools == nil {
		b.Pools = NewPoolSet(b.JobRoot)
	}
	r := plugin.NewRegistry[Executor]("executor", optFns...)
	r.Register(TypeLocal, func(fields plugin.Fields) (Executor, error) {
		return newLocalFromFields(b, fields)
	})
	r.Register(TypeAsync, func(fields plugin.Fields) (Executor, error) {
		return newAsyncFromFields(b, fields)
	})
	r.Register(TypeDispatcher, func(fields plugin.Fields) (Executor, error) {
		return newDispatcherFromFields(b, fields)
	})
	return r
}
