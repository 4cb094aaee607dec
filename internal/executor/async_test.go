package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcjob/internal/artifact"
	"calcjob/internal/plugin"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAsyncSubmitReturnsBeforeCompletion(t *testing.T) {
	pools := NewPoolSet(t.TempDir())
	e := NewAsync(pools.Get(""))
	release := make(chan struct{})
	gated := funcFn{name: "gated", fn: func(context.Context, *Env, map[string]any) (map[string]any, error) {
		<-release
		return map[string]any{"answer": 42.0, "out": artifact.Path("out.txt")}, nil
	}}

	sub, err := e.Submit(context.Background(), gated, nil)
	require.NoError(t, err)

	status, err := e.QueryStatus(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)

	_, err = e.GetResults(context.Background(), sub.JobID)
	assert.True(t, errors.Is(err, ErrNotSucceeded))

	close(release)
	require.NoError(t, pools.Get("").Wait(waitCtx(t), sub.JobID))

	status, err = e.QueryStatus(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)

	results, err := e.GetResults(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, 42.0, results["answer"])
	assert.Contains(t, string(results["out"].(artifact.Path)), sub.JobID)
}

func TestAsyncJobOutlivesSubmitContext(t *testing.T) {
	pools := NewPoolSet(t.TempDir())
	e := NewAsync(pools.Get("p"))
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	fn := funcFn{name: "f", fn: func(jobCtx context.Context, _ *Env, _ map[string]any) (map[string]any, error) {
		<-release
		return nil, jobCtx.Err()
	}}
	sub, err := e.Submit(ctx, fn, nil)
	require.NoError(t, err)
	cancel()
	close(release)

	require.NoError(t, pools.Get("p").Wait(waitCtx(t), sub.JobID))
	status, err := e.QueryStatus(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)
}

func TestAsyncTerminate(t *testing.T) {
	pools := NewPoolSet(t.TempDir())
	e := NewAsync(pools.Get(""))
	finished := make(chan struct{})
	slow := funcFn{name: "slow", fn: func(ctx context.Context, _ *Env, _ map[string]any) (map[string]any, error) {
		defer close(finished)
		<-ctx.Done()
		// Returning success after cancellation must not revive the job.
		return map[string]any{"late": true}, nil
	}}
	sub, err := e.Submit(context.Background(), slow, nil)
	require.NoError(t, err)

	require.NoError(t, e.Terminate(context.Background(), sub.JobID))
	status, err := e.QueryStatus(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)

	<-finished
	status, err = e.QueryStatus(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)

	// Terminating a terminal job is a no-op.
	require.NoError(t, e.Terminate(context.Background(), sub.JobID))
}

func TestAsyncPoolsAreSharedAcrossInstances(t *testing.T) {
	r := NewRegistry(Backends{Pools: NewPoolSet(t.TempDir())})
	_, first, err := r.Resolve(plugin.Config{"type": "async", "pool": "shared"})
	require.NoError(t, err)
	sub, err := first.Submit(context.Background(), writeOut("w", "ok"), nil)
	require.NoError(t, err)

	_, second, err := r.Resolve(plugin.Config{"type": "async", "pool": "shared"})
	require.NoError(t, err)
	_, err = second.QueryStatus(context.Background(), sub.JobID)
	require.NoError(t, err)

	_, other, err := r.Resolve(plugin.Config{"type": "async", "pool": "other"})
	require.NoError(t, err)
	_, err = other.QueryStatus(context.Background(), sub.JobID)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestAsyncUnknownJob(t *testing.T) {
	e := NewAsync(NewPoolSet(t.TempDir()).Get(""))
	_, err := e.QueryStatus(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.True(t, errors.Is(e.Terminate(context.Background(), "missing"), ErrJobNotFound))
}

func TestAsyncPoolForgetsOldestFinishedJobs(t *testing.T) {
	pools := NewPoolSet(t.TempDir(), func(o *PoolOptions) { o.MaxFinished = 2 })
	pool := pools.Get("")
	e := NewAsync(pool)

	release := make(chan struct{})
	running, err := e.Submit(context.Background(), funcFn{name: "gated", fn: func(context.Context, *Env, map[string]any) (map[string]any, error) {
		<-release
		return nil, nil
	}}, nil)
	require.NoError(t, err)

	var ids []string
	for range 3 {
		sub, err := e.Submit(context.Background(), writeOut("w", "ok"), nil)
		require.NoError(t, err)
		require.NoError(t, pool.Wait(waitCtx(t), sub.JobID))
		ids = append(ids, sub.JobID)
	}

	_, err = e.QueryStatus(context.Background(), ids[0])
	assert.True(t, errors.Is(err, ErrJobNotFound))
	for _, id := range ids[1:] {
		status, err := e.QueryStatus(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, status)
	}

	status, err := e.QueryStatus(context.Background(), running.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)
	close(release)
	require.NoError(t, pool.Wait(waitCtx(t), running.JobID))
}
