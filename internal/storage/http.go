package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"calcjob/internal/plugin"
)

const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// HTTP downloads artifacts from plain URLs. The key is the URL without its
// scheme, e.g. "example.com/data/train.tgz". Upload is not supported.
type HTTP struct {
	scheme string
	client *http.Client
}

// HTTPConfig holds the optional fields of an http/https storage config.
type HTTPConfig struct {
	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool `json:"insecure_skip_verify"`
	// Timeout is the whole-request timeout in seconds; 0 means none.
	Timeout float64 `json:"timeout"`
}

// NewHTTP creates an HTTP(S) storage for scheme using client, or a default
// client when nil.
func NewHTTP(scheme string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{scheme: scheme, client: client}
}

func newHTTPFromFields(scheme string, fields plugin.Fields) (Storage, error) {
	var cfg HTTPConfig
	if err := fields.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative")
	}
	client := &http.Client{Timeout: time.Duration(cfg.Timeout * float64(time.Second))}
	if cfg.InsecureSkipVerify {
		client.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in per config
		}
	}
	return NewHTTP(scheme, client), nil
}

func (s *HTTP) Scheme() string { return s.scheme }

func (s *HTTP) Upload(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%s upload: %w", s.scheme, ErrUnsupported)
}

// Download fetches scheme://key into localDest, replacing any existing file.
func (s *HTTP) Download(ctx context.Context, key, localDest string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(localDest), 0o755); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.scheme+"://"+key, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("GET %s://%s: %s", s.scheme, key, resp.Status)
	}
	f, err := os.Create(localDest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return localDest, nil
}
