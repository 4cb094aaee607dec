package gateway

import (
	"context"
	"path"
	"sort"

	"github.com/google/uuid"

	"calcjob/internal/artifact"
	"calcjob/internal/logging"
	"calcjob/internal/storage"
)

// Materializer uploads the path-valued entries of a result set and rewrites
// them to URIs. Each Materialize call uses a fresh prefix, so fetching the
// results of one job twice never overwrites the first upload.
type Materializer struct {
	logger    logging.Logger
	newPrefix func() string
}

// NewMaterializer creates a Materializer. newPrefix defaults to a random
// UUID.
func NewMaterializer(logger logging.Logger, newPrefix func() string) *Materializer {
	if logger == nil {
		logger = logging.NoOp{}
	}
	if newPrefix == nil {
		newPrefix = uuid.NewString
	}
	return &Materializer{logger: logger, newPrefix: newPrefix}
}

// Materialize returns a copy of results in which every artifact.Path is
// replaced by "<scheme>://<key>" of its upload under
// "<prefix>/outputs/<name>". The first upload error aborts the call.
func (m *Materializer) Materialize(ctx context.Context, st storage.Storage, results map[string]any) (map[string]any, error) {
	prefix := m.newPrefix()
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(results))
	for _, name := range names {
		v := results[name]
		p, ok := v.(artifact.Path)
		if !ok {
			out[name] = v
			continue
		}
		key, err := st.Upload(ctx, path.Join(prefix, "outputs", name), string(p))
		if err != nil {
			return nil, err
		}
		uri := artifact.Format(st.Scheme(), key)
		m.logger.Info("artifact uploaded", "path", string(p), "uri", uri)
		out[name] = uri
	}
	return out, nil
}
