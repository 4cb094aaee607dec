package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"calcjob/internal/plugin"
)

// TypeLocal is the in-process synchronous executor.
const TypeLocal = "local"

const (
	defaultJobRoot = "jobs"
	recordFile     = "job.json"
	workDirName    = "work"
)

// Local runs the function inside Submit and records the outcome under
// <root>/<job id>/job.json. By the time Submit returns the job is terminal.
// Because the record lives on disk, a fresh Local over the same root can
// answer for jobs submitted by another instance or process.
type Local struct {
	root string
}

// NewLocal creates a Local executor keeping job directories under root.
func NewLocal(root string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = defaultJobRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

func newLocalFromFields(b Backends, fields plugin.Fields) (Executor, error) {
	var cfg struct {
		Root string `json:"root"`
	}
	if err := fields.Decode(&cfg); err != nil {
		return nil, err
	}
	root := cfg.Root
	if strings.TrimSpace(root) == "" {
		root = b.JobRoot
	}
	return NewLocal(root)
}

type jobRecord struct {
	Function   string         `json:"function"`
	Status     Status         `json:"status"`
	Results    map[string]any `json:"results,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

func (e *Local) Submit(ctx context.Context, fn Function, kwargs map[string]any) (Submission, error) {
	jobID := uuid.NewString()
	dir := filepath.Join(e.root, jobID)
	env := &Env{JobID: jobID, WorkDir: filepath.Join(dir, workDirName)}
	if err := os.MkdirAll(env.WorkDir, 0o755); err != nil {
		return Submission{}, err
	}
	rec := jobRecord{Function: fn.Name(), Status: StatusRunning, StartedAt: time.Now().UTC()}
	if err := writeRecord(dir, rec); err != nil {
		return Submission{}, err
	}

	results, err := callSafely(ctx, fn, env, kwargs)
	finished := time.Now().UTC()
	rec.FinishedAt = &finished
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	} else {
		rec.Status = StatusSucceeded
		rec.Results = EncodeResults(anchorPaths(results, env.WorkDir))
	}
	if err := writeRecord(dir, rec); err != nil {
		var encErr *json.UnsupportedValueError
		var typeErr *json.UnsupportedTypeError
		if !errors.As(err, &encErr) && !errors.As(err, &typeErr) {
			return Submission{}, err
		}
		// Results that cannot be stored fail the job instead of leaving it Running.
		rec.Status = StatusFailed
		rec.Results = nil
		rec.Error = fmt.Sprintf("encode results: %v", err)
		if err := writeRecord(dir, rec); err != nil {
			return Submission{}, err
		}
	}
	return Submission{JobID: jobID}, nil
}

func (e *Local) QueryStatus(_ context.Context, jobID string) (Status, error) {
	rec, err := e.readRecord(jobID)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Terminate is a no-op: jobs finish inside Submit.
func (e *Local) Terminate(_ context.Context, jobID string) error {
	_, err := e.readRecord(jobID)
	return err
}

func (e *Local) GetResults(_ context.Context, jobID string) (map[string]any, error) {
	rec, err := e.readRecord(jobID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusSucceeded {
		if rec.Error != "" {
			return nil, fmt.Errorf("%w: job %s is %s: %s", ErrNotSucceeded, jobID, rec.Status, rec.Error)
		}
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotSucceeded, jobID, rec.Status)
	}
	return DecodeResults(rec.Results)
}

func (e *Local) readRecord(jobID string) (jobRecord, error) {
	var rec jobRecord
	// Ids are UUIDs; anything else cannot name a job directory.
	if _, err := uuid.Parse(jobID); err != nil {
		return rec, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	raw, err := os.ReadFile(filepath.Join(e.root, jobID, recordFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return rec, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("job %s: corrupt record: %w", jobID, err)
	}
	return rec, nil
}

// writeRecord replaces the record atomically so readers never observe a
// partial file.
func writeRecord(dir string, rec jobRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, recordFile+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, recordFile))
}

// callSafely runs fn and turns a panic into an error.
func callSafely(ctx context.Context, fn Function, env *Env, kwargs map[string]any) (results map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("function %s panicked: %v", fn.Name(), r)
		}
	}()
	return fn.Call(ctx, env, kwargs)
}
