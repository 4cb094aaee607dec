package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcjob/internal/artifact"
	"calcjob/internal/executor"
	"calcjob/internal/logging"
	"calcjob/internal/plugin"
)

func TestCallDispatchesJobTools(t *testing.T) {
	f := newFixture(t, writeOKTool())
	ctx := context.Background()

	out, err := f.gw.Call(ctx, "write_ok", map[string]any{"executor": map[string]any{"type": "local"}})
	require.NoError(t, err)
	sub, ok := out.(executor.Submission)
	require.True(t, ok)

	status, err := f.gw.Call(ctx, "query_job_status", map[string]any{"job_id": sub.JobID})
	require.NoError(t, err)
	assert.Equal(t, "Succeeded", status)

	results, err := f.gw.Call(ctx, "get_job_results", map[string]any{"job_id": sub.JobID, "storage": nil})
	require.NoError(t, err)
	assert.Contains(t, results.(map[string]any)["out"], "local://")

	out, err = f.gw.Call(ctx, "terminate_job", map[string]any{"job_id": sub.JobID})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCallErrors(t *testing.T) {
	f := newFixture(t, writeOKTool())
	ctx := context.Background()

	_, err := f.gw.Call(ctx, "nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownTool))

	_, err = f.gw.Call(ctx, "query_job_status", map[string]any{})
	assert.True(t, errors.Is(err, ErrMissingArgument))

	_, err = f.gw.Call(ctx, "query_job_status", map[string]any{"job_id": "x", "executor": "local"})
	assert.True(t, errors.Is(err, plugin.ErrInvalidConfig))
	assert.True(t, IsConfigError(err))

	_, err = f.gw.Call(ctx, "write_ok", map[string]any{"unexpected": 1})
	assert.True(t, IsInvalidArgument(err))
}

func TestListToolsIncludesJobTools(t *testing.T) {
	f := newFixture(t, writeOKTool())
	names := []string{}
	for _, s := range f.gw.ListTools() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"write_ok", "get_job_results", "query_job_status", "terminate_job"}, names)
}

type failingStorage struct{ err error }

func (s failingStorage) Scheme() string { return "local" }

func (s failingStorage) Upload(context.Context, string, string) (string, error) { return "", s.err }

func (s failingStorage) Download(context.Context, string, string) (string, error) { return "", s.err }

func TestMaterializerPrefixLayout(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "model.pt")
	require.NoError(t, os.WriteFile(src, []byte("weights"), 0o644))

	f := newFixture(t)
	_, st, err := f.gw.storages.Resolve(plugin.Config{"root": root})
	require.NoError(t, err)

	m := NewMaterializer(logging.NoOp{}, func() string { return "fixed" })
	out, err := m.Materialize(context.Background(), st, map[string]any{
		"model": artifact.Path(src),
		"loss":  0.25,
		"note":  "/just/a/string",
	})
	require.NoError(t, err)
	assert.Equal(t, "local://"+filepath.Join(root, "fixed", "outputs", "model", "model.pt"), out["model"])
	assert.Equal(t, 0.25, out["loss"])
	assert.Equal(t, "/just/a/string", out["note"])
}

func TestMaterializerUploadErrorPropagates(t *testing.T) {
	boom := errors.New("disk full")
	m := NewMaterializer(nil, nil)
	_, err := m.Materialize(context.Background(), failingStorage{err: boom}, map[string]any{"a": artifact.Path("/x")})
	assert.ErrorIs(t, err, boom)
}
