package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcjob/internal/artifact"
	"calcjob/internal/executor"
)

func trainTool() *Tool {
	return &Tool{
		Name:        "train",
		Description: "Train a model.",
		Params: []Param{
			{Name: "data", Kind: KindArtifact, Description: "Training data"},
			{Name: "init_model", Kind: KindOptionalArtifact},
			{Name: "epochs", Type: "integer", Default: 10.0},
			{Name: "mode", Type: "string", Enum: []any{"fast", "full"}},
		},
		Fn: func(_ context.Context, env *executor.Env, args Args) (map[string]any, error) {
			epochs, _ := args.Int("epochs")
			p, _ := args.Path("data")
			return map[string]any{"epochs": epochs, "data": string(p), "job": env.JobID}, nil
		},
	}
}

func TestBindDefaultsAndValidation(t *testing.T) {
	tl := trainTool()
	require.NoError(t, tl.Validate())

	args, err := tl.Bind(map[string]any{"data": "/tmp/d"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, args["epochs"])
	_, present := args["init_model"]
	assert.False(t, present)

	_, err = tl.Bind(map[string]any{})
	assert.True(t, errors.Is(err, ErrMissingArgument))

	_, err = tl.Bind(map[string]any{"data": "/tmp/d", "bogus": 1})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = tl.Bind(map[string]any{"data": "/tmp/d", "epochs": 1.5})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = tl.Bind(map[string]any{"data": "/tmp/d", "mode": "slow"})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	args, err = tl.Bind(map[string]any{"data": artifact.Path("/tmp/d"), "init_model": nil, "mode": "fast"})
	require.NoError(t, err)
	assert.Nil(t, args["init_model"])
}

func TestFunctionBindsBeforeCalling(t *testing.T) {
	fn := trainTool().Function()
	assert.Equal(t, "train", fn.Name())

	out, err := fn.Call(context.Background(), &executor.Env{JobID: "j1"}, map[string]any{"data": "/tmp/d", "epochs": 3.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"epochs": 3, "data": "/tmp/d", "job": "j1"}, out)

	_, err = fn.Call(context.Background(), &executor.Env{}, nil)
	assert.True(t, errors.Is(err, ErrMissingArgument))
}

func TestValidateRejectsBadDeclarations(t *testing.T) {
	fn := func(context.Context, *executor.Env, Args) (map[string]any, error) { return nil, nil }
	cases := map[string]*Tool{
		"empty name":      {Fn: fn},
		"reserved name":   {Name: "get_job_results", Fn: fn},
		"no function":     {Name: "x"},
		"reserved param":  {Name: "x", Fn: fn, Params: []Param{{Name: "executor"}}},
		"duplicate param": {Name: "x", Fn: fn, Params: []Param{{Name: "a"}, {Name: "a"}}},
		"unknown kind":    {Name: "x", Fn: fn, Params: []Param{{Name: "a", Kind: "blob"}}},
	}
	for name, tl := range cases {
		assert.Error(t, tl.Validate(), name)
	}
}

func TestSpecSchema(t *testing.T) {
	spec := trainTool().Spec()
	assert.Equal(t, "train", spec.Name)

	var schema struct {
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	require.NoError(t, json.Unmarshal(spec.InputSchema, &schema))
	assert.Equal(t, "string", schema.Properties["data"]["type"])
	assert.Equal(t, "uri", schema.Properties["data"]["format"])
	assert.Equal(t, []any{"string", "null"}, schema.Properties["init_model"]["type"])
	assert.Equal(t, "integer", schema.Properties["epochs"]["type"])
	assert.Contains(t, schema.Properties, "executor")
	assert.Contains(t, schema.Properties, "storage")
	assert.Equal(t, []string{"data"}, schema.Required)
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(trainTool())
	require.NoError(t, err)

	_, ok := r.Get("train")
	assert.True(t, ok)
	fn, ok := r.Function("train")
	require.True(t, ok)
	assert.Equal(t, "train", fn.Name())
	_, ok = r.Function("missing")
	assert.False(t, ok)

	assert.Error(t, r.Register(&Tool{Name: "terminate_job"}))
	assert.Equal(t, []string{"train"}, r.Names())
	assert.Len(t, r.Specs(), 1)

	names := []string{}
	for _, s := range JobToolSpecs() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"get_job_results", "query_job_status", "terminate_job"}, names)
}

func TestArgsAccessors(t *testing.T) {
	a := Args{"s": "x", "p": artifact.Path("/a"), "n": 2.0, "b": true}
	assert.Equal(t, "x", a.String("s"))
	assert.Equal(t, "/a", a.String("p"))
	p, ok := a.Path("s")
	assert.True(t, ok)
	assert.Equal(t, artifact.Path("x"), p)
	n, ok := a.Int("n")
	assert.True(t, ok)
	assert.Equal(t, 2, n)
	f, ok := a.Float("n")
	assert.True(t, ok)
	assert.Equal(t, 2.0, f)
	b, ok := a.Bool("b")
	assert.True(t, ok && b)
	_, ok = a.Path("missing")
	assert.False(t, ok)
}
