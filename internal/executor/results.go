package executor

import (
	"fmt"
	"path/filepath"

	"calcjob/internal/artifact"
)

const (
	resultKindValue = "value"
	resultKindPath  = "path"
)

// EncodeResults converts a result set into a JSON-safe form that keeps the
// distinction between plain strings and artifact paths:
//
//	{"model": {"kind": "path", "value": "/jobs/j1/model.pt"}, "loss": {"kind": "value", "value": 0.1}}
func EncodeResults(results map[string]any) map[string]any {
	out := make(map[string]any, len(results))
	for name, v := range results {
		if p, ok := v.(artifact.Path); ok {
			out[name] = map[string]any{"kind": resultKindPath, "value": string(p)}
			continue
		}
		out[name] = map[string]any{"kind": resultKindValue, "value": v}
	}
	return out
}

// DecodeResults reverses EncodeResults.
func DecodeResults(encoded map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(encoded))
	for name, raw := range encoded {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("result %q: expected an object, got %T", name, raw)
		}
		switch entry["kind"] {
		case resultKindPath:
			p, ok := entry["value"].(string)
			if !ok {
				return nil, fmt.Errorf("result %q: path must be a string", name)
			}
			out[name] = artifact.Path(p)
		case resultKindValue:
			out[name] = entry["value"]
		default:
			return nil, fmt.Errorf("result %q: unknown kind %v", name, entry["kind"])
		}
	}
	return out, nil
}

// anchorPaths makes relative artifact paths absolute against dir so results
// stay meaningful outside the job's working directory.
func anchorPaths(results map[string]any, dir string) map[string]any {
	out := make(map[string]any, len(results))
	for name, v := range results {
		if p, ok := v.(artifact.Path); ok && !filepath.IsAbs(string(p)) {
			v = artifact.Path(filepath.Join(dir, string(p)))
		}
		out[name] = v
	}
	return out
}
