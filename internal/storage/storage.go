// Package storage defines the plugin contract for moving artifacts between
// local paths and URI-addressable locations, plus the built-in plugins.
//
// Each plugin owns exactly one scheme. Keys it returns from Upload are
// formatted as "scheme://key" by the caller and handed back to Download
// later, possibly by another process. Plugins never retry; I/O errors are
// returned as they come from the underlying client.
package storage

import (
	"context"
	"errors"

	"calcjob/internal/plugin"
)

// ErrUnsupported is returned by plugins that implement only one direction.
var ErrUnsupported = errors.New("storage: operation not supported")

// Storage moves artifacts in and out of one backend.
type Storage interface {
	// Scheme is the URI scheme served by this plugin.
	Scheme() string
	// Upload stores the file or directory at localPath under prefix and
	// returns the resulting key.
	Upload(ctx context.Context, prefix, localPath string) (string, error)
	// Download materializes key at localDest and returns the local path.
	Download(ctx context.Context, key, localDest string) (string, error)
}

// Registry resolves storage configurations.
type Registry = plugin.Registry[Storage]

// Env carries process-level defaults that built-in plugins fall back to when
// their configuration leaves a field empty.
type Env struct {
	LocalRoot string
	S3        S3Config
}

// NewRegistry returns a registry with the built-in plugins registered:
// local, http, https and s3.
func NewRegistry(env Env, optFns ...func(o *plugin.Options)) *Registry {
	r := plugin.NewRegistry[Storage]("storage", optFns...)
	r.Register(SchemeLocal, func(fields plugin.Fields) (Storage, error) {
		return newLocalFromFields(env, fields)
	})
	r.Register(SchemeHTTP, func(fields plugin.Fields) (Storage, error) {
		return newHTTPFromFields(SchemeHTTP, fields)
	})
	r.Register(SchemeHTTPS, func(fields plugin.Fields) (Storage, error) {
		return newHTTPFromFields(SchemeHTTPS, fields)
	})
	r.Register(SchemeS3, func(fields plugin.Fields) (Storage, error) {
		return newS3FromFields(env.S3, fields)
	})
	return r
}
