package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"calcjob/internal/plugin"
)

// TypeAsync runs functions on goroutines inside the current process.
const TypeAsync = "async"

const (
	defaultPoolName = "default"
	// defaultMaxFinished is how many terminal jobs a pool remembers.
	defaultMaxFinished = 1024
)

// PoolOptions configures the pools of a PoolSet.
type PoolOptions struct {
	// MaxFinished bounds the terminal jobs a pool keeps. Past it the oldest
	// finished job is forgotten and reads for it report ErrJobNotFound. Its
	// working directory stays on disk. Values below 1 mean the default.
	MaxFinished int
}

// PoolSet owns the named pools of a process. Async executor instances are
// rebuilt from configuration on every call; the pool they point at is what
// keeps jobs alive between calls.
type PoolSet struct {
	root string
	opts PoolOptions

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewPoolSet creates a PoolSet whose jobs get working directories under
// root.
func NewPoolSet(root string, optFns ...func(o *PoolOptions)) *PoolSet {
	if strings.TrimSpace(root) == "" {
		root = defaultJobRoot
	}
	opts := PoolOptions{MaxFinished: defaultMaxFinished}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxFinished < 1 {
		opts.MaxFinished = defaultMaxFinished
	}
	return &PoolSet{root: root, opts: opts, pools: map[string]*Pool{}}
}

// Get returns the pool called name, creating it on first use.
func (ps *PoolSet) Get(name string) *Pool {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultPoolName
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.pools[name]
	if !ok {
		p = &Pool{
			name:        name,
			root:        filepath.Join(ps.root, "pool-"+name),
			maxFinished: ps.opts.MaxFinished,
			jobs:        map[string]*asyncJob{},
		}
		ps.pools[name] = p
	}
	return p
}

// Pool is a job table private to the async backend.
type Pool struct {
	name        string
	root        string
	maxFinished int

	mu   sync.RWMutex
	jobs map[string]*asyncJob
	// finished lists terminal job ids, oldest first.
	finished []string
}

type asyncJob struct {
	id      string
	status  Status
	results map[string]any
	err     error
	cancel  context.CancelFunc
	done    chan struct{}
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Submit starts fn on a goroutine and returns immediately. The job outlives
// ctx; only Terminate cancels it.
func (p *Pool) Submit(ctx context.Context, fn Function, kwargs map[string]any) (Submission, error) {
	jobID := uuid.NewString()
	env := &Env{JobID: jobID, WorkDir: filepath.Join(p.root, jobID)}
	if err := os.MkdirAll(env.WorkDir, 0o755); err != nil {
		return Submission{}, err
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &asyncJob{id: jobID, status: StatusRunning, cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	p.jobs[jobID] = job
	p.mu.Unlock()

	go func() {
		defer cancel()
		results, err := callSafely(jobCtx, fn, env, kwargs)
		if err == nil && jobCtx.Err() != nil {
			err = jobCtx.Err()
		}
		if err != nil {
			p.finish(job, StatusFailed, nil, err)
			return
		}
		p.finish(job, StatusSucceeded, anchorPaths(results, env.WorkDir), nil)
	}()

	return Submission{JobID: jobID}, nil
}

// finish moves a running job to a terminal status and evicts the oldest
// finished jobs past the retention bound. Later calls are ignored so a
// terminal status never changes.
func (p *Pool) finish(job *asyncJob, status Status, results map[string]any, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job.status.Terminal() {
		return
	}
	job.status = status
	job.results = results
	job.err = err
	close(job.done)

	p.finished = append(p.finished, job.id)
	for len(p.finished) > p.maxFinished {
		delete(p.jobs, p.finished[0])
		p.finished = p.finished[1:]
	}
}

func (p *Pool) lookup(jobID string) (*asyncJob, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	job, ok := p.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// Status reports the job's current status.
func (p *Pool) Status(jobID string) (Status, error) {
	job, err := p.lookup(jobID)
	if err != nil {
		return "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return job.status, nil
}

// Terminate cancels a running job and marks it Failed right away.
func (p *Pool) Terminate(jobID string) error {
	job, err := p.lookup(jobID)
	if err != nil {
		return err
	}
	job.cancel()
	p.finish(job, StatusFailed, nil, context.Canceled)
	return nil
}

// Results returns the results of a succeeded job.
func (p *Pool) Results(jobID string) (map[string]any, error) {
	job, err := p.lookup(jobID)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if job.status != StatusSucceeded {
		if job.err != nil {
			return nil, fmt.Errorf("%w: job %s is %s: %v", ErrNotSucceeded, jobID, job.status, job.err)
		}
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotSucceeded, jobID, job.status)
	}
	out := make(map[string]any, len(job.results))
	for k, v := range job.results {
		out[k] = v
	}
	return out, nil
}

// Wait blocks until the job is terminal or ctx is done.
func (p *Pool) Wait(ctx context.Context, jobID string) error {
	job, err := p.lookup(jobID)
	if err != nil {
		return err
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Async is the executor view of a Pool.
type Async struct {
	pool *Pool
}

// NewAsync creates an executor over pool.
func NewAsync(pool *Pool) *Async {
	return &Async{pool: pool}
}

func newAsyncFromFields(b Backends, fields plugin.Fields) (Executor, error) {
	var cfg struct {
		Pool string `json:"pool"`
	}
	if err := fields.Decode(&cfg); err != nil {
		return nil, err
	}
	return NewAsync(b.Pools.Get(cfg.Pool)), nil
}

func (e *Async) Submit(ctx context.Context, fn Function, kwargs map[string]any) (Submission, error) {
	return e.pool.Submit(ctx, fn, kwargs)
}

func (e *Async) QueryStatus(_ context.Context, jobID string) (Status, error) {
	return e.pool.Status(jobID)
}

func (e *Async) Terminate(_ context.Context, jobID string) error {
	return e.pool.Terminate(jobID)
}

func (e *Async) GetResults(_ context.Context, jobID string) (map[string]any, error) {
	return e.pool.Results(jobID)
}
