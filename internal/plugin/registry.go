// Package plugin resolves untyped backend configuration into plugin instances.
//
// A configuration is a JSON-style object whose "type" field selects a factory
// from a Registry; the remaining fields are handed to that factory. Resolution
// happens on every call so callers never hold long-lived handles. A Registry
// may keep resolved instances in an LRU cache keyed by the canonical encoding
// of the configuration, which is safe as long as the instances themselves are
// immutable.
package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultType is used when a configuration is nil or has no "type".
const DefaultType = "local"

var (
	// ErrUnknownType is returned when no factory is registered for a type.
	ErrUnknownType = errors.New("plugin type not found")
	// ErrInvalidConfig is returned when a factory rejects its fields.
	ErrInvalidConfig = errors.New("invalid plugin config")
)

// Config is a backend configuration: {"type": <string>, ...fields}.
type Config map[string]any

// Type returns the "type" discriminator, defaulting to DefaultType. A
// non-string "type" also reads as DefaultType here; Resolve rejects it.
func (c Config) Type() string {
	if c == nil {
		return DefaultType
	}
	if s, ok := c["type"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return DefaultType
}

// Fields returns a copy of c without the "type" key.
func (c Config) Fields() Fields {
	out := make(Fields, len(c))
	for k, v := range c {
		if k == "type" {
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of c.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ConfigFrom converts a decoded JSON value into a Config. nil yields nil so
// the default type applies.
func ConfigFrom(v any) (Config, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case Config:
		return m, nil
	case map[string]any:
		return Config(m), nil
	default:
		return nil, fmt.Errorf("%w: expected an object, got %T", ErrInvalidConfig, v)
	}
}

// Fields are the backend-specific settings of a Config.
type Fields map[string]any

// Decode copies the fields into out through a JSON round trip. Unknown
// fields are rejected.
func (f Fields) Decode(out any) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// Factory builds a plugin instance from its fields.
type Factory[T any] func(fields Fields) (T, error)

// ConfigError describes a configuration a Registry could not resolve.
type ConfigError struct {
	Kind string
	Type string
	Err  error
}

func (e *ConfigError) Error() string {
	if errors.Is(e.Err, ErrUnknownType) {
		return fmt.Sprintf("%s %q: %v", e.Kind, e.Type, e.Err)
	}
	return fmt.Sprintf("%s %q: %v: %v", e.Kind, e.Type, ErrInvalidConfig, e.Err)
}

// Unwrap exposes both the category sentinel and the factory error.
func (e *ConfigError) Unwrap() []error {
	if errors.Is(e.Err, ErrUnknownType) {
		return []error{e.Err}
	}
	return []error{ErrInvalidConfig, e.Err}
}

// Registry is a string-to-factory table resolved at call time.
type Registry[T any] struct {
	kind string

	mu        sync.RWMutex
	factories map[string]Factory[T]

	cache *lru.Cache[string, T]
}

// Options configures a Registry.
type Options struct {
	// CacheSize bounds the instance cache; 0 disables caching.
	CacheSize int
}

// NewRegistry creates an empty registry. kind names the plugin family in
// error messages ("storage", "executor").
func NewRegistry[T any](kind string, optFns ...func(o *Options)) *Registry[T] {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Registry[T]{
		kind:      kind,
		factories: map[string]Factory[T]{},
	}
	if opts.CacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		r.cache, _ = lru.New[string, T](opts.CacheSize)
	}
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry[T]) Register(typ string, f Factory[T]) {
	typ = strings.TrimSpace(typ)
	if r == nil || typ == "" || f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
	if r.cache != nil {
		r.cache.Purge()
	}
}

// Types lists the registered types in sorted order.
func (r *Registry[T]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Resolve builds (or fetches from cache) the instance described by cfg and
// returns it with its type.
func (r *Registry[T]) Resolve(cfg Config) (string, T, error) {
	var zero T
	typ := cfg.Type()
	if v, ok := cfg["type"]; ok && v != nil {
		if _, isString := v.(string); !isString {
			return fmt.Sprint(v), zero, &ConfigError{Kind: r.kind, Type: fmt.Sprint(v), Err: fmt.Errorf("type must be a string, got %T", v)}
		}
	}

	r.mu.RLock()
	factory, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return typ, zero, &ConfigError{Kind: r.kind, Type: typ, Err: ErrUnknownType}
	}

	key, cacheable := r.cacheKey(typ, cfg)
	if cacheable {
		if inst, hit := r.cache.Get(key); hit {
			return typ, inst, nil
		}
	}

	inst, err := factory(cfg.Fields())
	if err != nil {
		return typ, zero, &ConfigError{Kind: r.kind, Type: typ, Err: err}
	}
	if cacheable {
		r.cache.Add(key, inst)
	}
	return typ, inst, nil
}

func (r *Registry[T]) cacheKey(typ string, cfg Config) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	// encoding/json sorts map keys, which makes the encoding canonical.
	raw, err := json.Marshal(cfg.Fields())
	if err != nil {
		return "", false
	}
	return typ + "\x00" + string(raw), true
}
