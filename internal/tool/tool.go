// Package tool declares the functions the gateway exposes as submittable
// jobs: their parameters, which of them carry artifacts, and the Go code
// that runs once inputs are local.
package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"calcjob/internal/artifact"
	"calcjob/internal/executor"
	"calcjob/internal/plugin"
	"calcjob/internal/protocol"
)

// Kind says how a parameter crosses the wire.
type Kind string

const (
	// KindValue parameters are passed through as plain JSON values.
	KindValue Kind = "value"
	// KindArtifact parameters arrive as URIs and are downloaded before the
	// function runs.
	KindArtifact Kind = "artifact"
	// KindOptionalArtifact is KindArtifact that may be omitted or null.
	KindOptionalArtifact Kind = "optional_artifact"
)

var (
	// ErrMissingArgument is returned when a required parameter has no value.
	ErrMissingArgument = errors.New("missing required argument")
	// ErrInvalidArgument is returned for unknown or ill-typed arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Param declares one function parameter.
type Param struct {
	Name        string
	Description string
	Kind        Kind
	// Type is the JSON schema type of a value parameter ("string",
	// "number", "integer", "boolean", "object", "array"). Empty accepts
	// anything. Artifact parameters are always strings on the wire.
	Type     string
	Required bool
	// Default is used when the caller omits the parameter.
	Default any
	Enum    []any
}

// IsArtifact reports whether p is downloaded before the function runs.
func (p Param) IsArtifact() bool {
	return p.Kind == KindArtifact || p.Kind == KindOptionalArtifact
}

// Func is the body of a tool. Relative artifact.Path results are resolved
// against env.WorkDir by the executor.
type Func func(ctx context.Context, env *executor.Env, args Args) (map[string]any, error)

// PreprocessFunc may rewrite the executor config, storage config and
// arguments of a submission before inputs are downloaded.
type PreprocessFunc func(ctx context.Context, executorCfg, storageCfg plugin.Config, args Args) (plugin.Config, plugin.Config, Args, error)

// Tool is a function exposed as a job.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Fn          Func
	Preprocess  PreprocessFunc
}

var reservedParams = map[string]bool{
	protocol.ArgExecutor: true,
	protocol.ArgStorage:  true,
}

var reservedNames = map[string]bool{
	protocol.ToolQueryJobStatus: true,
	protocol.ToolTerminateJob:   true,
	protocol.ToolGetJobResults:  true,
}

// Validate checks the declaration.
func (t *Tool) Validate() error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if reservedNames[t.Name] {
		return fmt.Errorf("tool name %q is reserved", t.Name)
	}
	if t.Fn == nil {
		return fmt.Errorf("tool %s: function is required", t.Name)
	}
	seen := map[string]bool{}
	for _, p := range t.Params {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("tool %s: parameter name is required", t.Name)
		}
		if reservedParams[p.Name] {
			return fmt.Errorf("tool %s: parameter name %q is reserved", t.Name, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %s: duplicate parameter %q", t.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case "", KindValue, KindArtifact, KindOptionalArtifact:
		default:
			return fmt.Errorf("tool %s: parameter %s has unknown kind %q", t.Name, p.Name, p.Kind)
		}
	}
	return nil
}

// Param returns the parameter called name.
func (t *Tool) Param(name string) (Param, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// ArtifactParams returns the artifact parameters in declaration order.
func (t *Tool) ArtifactParams() []Param {
	var out []Param
	for _, p := range t.Params {
		if p.IsArtifact() {
			out = append(out, p)
		}
	}
	return out
}

// Bind validates kwargs against the declaration and fills in defaults.
func (t *Tool) Bind(kwargs map[string]any) (Args, error) {
	args := make(Args, len(t.Params))
	for name := range kwargs {
		if _, ok := t.Param(name); !ok {
			return nil, fmt.Errorf("%w: tool %s has no parameter %q", ErrInvalidArgument, t.Name, name)
		}
	}
	for _, p := range t.Params {
		v, ok := kwargs[p.Name]
		if !ok && p.Default != nil {
			v, ok = p.Default, true
		}
		if !ok || v == nil {
			if p.Required || p.Kind == KindArtifact {
				return nil, fmt.Errorf("%w: %s", ErrMissingArgument, p.Name)
			}
			if ok {
				args[p.Name] = nil
			}
			continue
		}
		if err := checkValue(p, v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, p.Name, err)
		}
		args[p.Name] = v
	}
	return args, nil
}

// Function adapts t to executor.Function.
func (t *Tool) Function() executor.Function {
	return boundFunction{t: t}
}

type boundFunction struct{ t *Tool }

func (f boundFunction) Name() string { return f.t.Name }

func (f boundFunction) Call(ctx context.Context, env *executor.Env, kwargs map[string]any) (map[string]any, error) {
	args, err := f.t.Bind(kwargs)
	if err != nil {
		return nil, err
	}
	return f.t.Fn(ctx, env, args)
}

func checkValue(p Param, v any) error {
	if p.IsArtifact() {
		switch v.(type) {
		case string, artifact.Path:
			return nil
		default:
			return fmt.Errorf("expected a path, got %T", v)
		}
	}
	if len(p.Enum) > 0 {
		found := false
		for _, e := range p.Enum {
			if reflect.DeepEqual(e, v) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%v is not one of %v", v, p.Enum)
		}
	}
	switch p.Type {
	case "":
		return nil
	case "string":
		if _, ok := v.(string); ok {
			return nil
		}
	case "number":
		if _, ok := toFloat(v); ok {
			return nil
		}
	case "integer":
		if _, ok := toInt(v); ok {
			return nil
		}
	case "boolean":
		if _, ok := v.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := v.(map[string]any); ok {
			return nil
		}
	case "array":
		if _, ok := v.([]any); ok {
			return nil
		}
	default:
		return fmt.Errorf("unknown type %q", p.Type)
	}
	return fmt.Errorf("expected %s, got %T", p.Type, v)
}

// Args holds bound arguments.
type Args map[string]any

// String returns the argument as a string, or "" when absent.
func (a Args) String(name string) string {
	switch v := a[name].(type) {
	case string:
		return v
	case artifact.Path:
		return string(v)
	default:
		return ""
	}
}

// Float returns a numeric argument.
func (a Args) Float(name string) (float64, bool) {
	return toFloat(a[name])
}

// Int returns an integral argument.
func (a Args) Int(name string) (int, bool) {
	return toInt(a[name])
}

// Bool returns a boolean argument.
func (a Args) Bool(name string) (bool, bool) {
	b, ok := a[name].(bool)
	return b, ok
}

// Path returns an artifact argument as a local path. Arguments that came
// through a remote dispatcher arrive as plain strings.
func (a Args) Path(name string) (artifact.Path, bool) {
	switch v := a[name].(type) {
	case artifact.Path:
		return v, v != ""
	case string:
		return artifact.Path(v), v != ""
	default:
		return "", false
	}
}

// Clone returns a shallow copy.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
