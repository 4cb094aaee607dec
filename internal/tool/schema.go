package tool

import (
	"encoding/json"

	"calcjob/internal/protocol"
)

// Spec documents a tool's contract.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type schemaProperty struct {
	Type        any    `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Format      string `json:"format,omitempty"`
}

type objectSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// Spec returns the tool as callers see it: artifact parameters become URI
// strings and the executor and storage configs are appended.
func (t *Tool) Spec() Spec {
	s := objectSchema{Type: "object", Properties: map[string]schemaProperty{}}
	for _, p := range t.Params {
		prop := schemaProperty{Description: p.Description, Default: p.Default}
		switch p.Kind {
		case KindArtifact:
			prop.Type = "string"
			prop.Format = "uri"
		case KindOptionalArtifact:
			prop.Type = []string{"string", "null"}
			prop.Format = "uri"
		default:
			if p.Type != "" {
				prop.Type = p.Type
			}
			prop.Enum = p.Enum
		}
		s.Properties[p.Name] = prop
		if p.Required || (p.Kind == KindArtifact && p.Default == nil) {
			s.Required = append(s.Required, p.Name)
		}
	}
	s.Properties[protocol.ArgExecutor] = executorProperty
	s.Properties[protocol.ArgStorage] = storageProperty
	return Spec{Name: t.Name, Description: t.Description, InputSchema: mustJSON(s)}
}

// executorProperty and storageProperty describe the per-call plugin
// configs accepted by every job tool.
var (
	executorProperty = schemaProperty{
		Type:        []string{"object", "null"},
		Description: `Executor configuration, e.g. {"type": "local"}. Defaults to local.`,
	}
	storageProperty = schemaProperty{
		Type:        []string{"object", "null"},
		Description: `Storage configuration, e.g. {"type": "local"}. Defaults to local.`,
	}
)

// JobToolSpecs returns the specs of query_job_status, terminate_job and
// get_job_results.
func JobToolSpecs() []Spec {
	jobID := schemaProperty{Type: "string", Description: "The ID of the calculation job"}
	withConfigs := func(storage bool) objectSchema {
		s := objectSchema{
			Type: "object",
			Properties: map[string]schemaProperty{
				protocol.ArgJobID:    jobID,
				protocol.ArgExecutor: executorProperty,
			},
			Required: []string{protocol.ArgJobID},
		}
		if storage {
			s.Properties[protocol.ArgStorage] = storageProperty
		}
		return s
	}
	return []Spec{
		{
			Name:        protocol.ToolGetJobResults,
			Description: "Get results of a calculation job. Path results are uploaded and returned as URIs. The job must have succeeded.",
			InputSchema: mustJSON(withConfigs(true)),
		},
		{
			Name:        protocol.ToolQueryJobStatus,
			Description: `Query status of a calculation job. Returns one of "Running", "Succeeded" or "Failed".`,
			InputSchema: mustJSON(withConfigs(false)),
		},
		{
			Name:        protocol.ToolTerminateJob,
			Description: "Terminate a calculation job.",
			InputSchema: mustJSON(withConfigs(false)),
		},
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
