package gateway

import (
	"errors"

	"calcjob/internal/plugin"
	"calcjob/internal/tool"
)

var (
	// ErrSchemeMismatch is returned when an input URI carries a scheme other
	// than the one served by the storage plugin resolved for the call.
	ErrSchemeMismatch = errors.New("artifact scheme does not match storage")
	// ErrUnknownTool is returned by Call for names nothing is registered
	// under.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMissingArgument is returned when a required argument is absent.
	ErrMissingArgument = tool.ErrMissingArgument
)

// IsConfigError reports whether err comes from an unusable executor or
// storage configuration. Such errors are fatal to the call and retrying with
// the same configuration cannot succeed.
func IsConfigError(err error) bool {
	return errors.Is(err, plugin.ErrUnknownType) ||
		errors.Is(err, plugin.ErrInvalidConfig) ||
		errors.Is(err, ErrSchemeMismatch)
}

// IsInvalidArgument reports whether err was caused by the caller's
// arguments rather than by a backend.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, tool.ErrMissingArgument) || errors.Is(err, tool.ErrInvalidArgument)
}
