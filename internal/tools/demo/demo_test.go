package demo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcjob/internal/artifact"
	"calcjob/internal/executor"
	"calcjob/internal/gateway"
	"calcjob/internal/plugin"
	"calcjob/internal/storage"
)

func newGateway(t *testing.T) (*gateway.Gateway, *executor.PoolSet) {
	t.Helper()
	base := t.TempDir()
	reg, err := NewRegistry()
	require.NoError(t, err)
	pools := executor.NewPoolSet(filepath.Join(base, "jobs"))
	gw := gateway.New(reg,
		storage.NewRegistry(storage.Env{LocalRoot: filepath.Join(base, "storage")}),
		executor.NewRegistry(executor.Backends{JobRoot: filepath.Join(base, "jobs"), Pools: pools}),
		func(o *gateway.Options) { o.InputRoot = filepath.Join(base, "inputs") })
	return gw, pools
}

func TestWordCount(t *testing.T) {
	gw, _ := newGateway(t)
	src := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("The cat saw the dog. The end!"), 0o644))

	ctx := context.Background()
	sub, err := gw.SubmitJob(ctx, "run_word_count", nil, nil, map[string]any{"text": "local://" + src, "top": 1.0})
	require.NoError(t, err)
	results, err := gw.GetJobResults(ctx, sub.JobID, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 7.0, toFloat(results["total"]))
	assert.Equal(t, []any{"the"}, results["top"])
	counts, err := os.ReadFile(artifact.Parse(results["counts"].(string)).Key)
	require.NoError(t, err)
	assert.Contains(t, string(counts), `"the": 3`)
}

func TestDPTrainWritesArtifacts(t *testing.T) {
	gw, _ := newGateway(t)
	data := filepath.Join(t.TempDir(), "train.npy")
	require.NoError(t, os.WriteFile(data, []byte("npy"), 0o644))

	ctx := context.Background()
	sub, err := gw.SubmitJob(ctx, "run_dp_train", nil, nil, map[string]any{"training_data": data, "duration": 0.0})
	require.NoError(t, err)
	results, err := gw.GetJobResults(ctx, sub.JobID, nil, nil)
	require.NoError(t, err)

	logDir := artifact.Parse(results["log"].(string)).Key
	log, err := os.ReadFile(filepath.Join(logDir, "log.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "model_type=dpa3 numb_steps=1000000")
	model, err := os.ReadFile(artifact.Parse(results["model"].(string)).Key)
	require.NoError(t, err)
	assert.Equal(t, "This is model.", string(model))
}

func TestDPTrainTerminate(t *testing.T) {
	gw, pools := newGateway(t)
	data := filepath.Join(t.TempDir(), "train.npy")
	require.NoError(t, os.WriteFile(data, []byte("npy"), 0o644))

	ctx := context.Background()
	cfg := plugin.Config{"type": "async"}
	sub, err := gw.SubmitJob(ctx, "run_dp_train", cfg, nil, map[string]any{"training_data": data, "duration": 60.0})
	require.NoError(t, err)
	require.NoError(t, gw.TerminateJob(ctx, sub.JobID, cfg))
	require.NoError(t, pools.Get("").Wait(ctx, sub.JobID))
	status, err := gw.QueryJobStatus(ctx, sub.JobID, cfg)
	require.NoError(t, err)
	assert.Equal(t, executor.StatusFailed, status)
}

func TestDispatcherDefaults(t *testing.T) {
	ex, _, _, err := dispatcherDefaults(context.Background(), plugin.Config{"type": "dispatcher", "url": "http://w"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "train", ex["pool"])

	ex, _, _, err = dispatcherDefaults(context.Background(), plugin.Config{"type": "dispatcher", "pool": "gpu"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "gpu", ex["pool"])

	ex, _, _, err = dispatcherDefaults(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, ex)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return -1
	}
}
