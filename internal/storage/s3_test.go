package storage

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcjob/internal/plugin"
)

func TestNewS3Validation(t *testing.T) {
	_, err := NewS3(S3Config{})
	assert.EqualError(t, err, "s3 endpoint is required")

	_, err = NewS3(S3Config{Endpoint: "minio:9000"})
	assert.EqualError(t, err, "s3 access key and secret key are required")

	_, err = NewS3(S3Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "b"})
	assert.EqualError(t, err, "s3 bucket is required")

	s, err := NewS3(S3Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "b", Bucket: "artifacts"})
	require.NoError(t, err)
	assert.Equal(t, SchemeS3, s.Scheme())
	assert.Equal(t, "artifacts", s.Bucket())
}

func TestS3RegistryMergesEnvDefaults(t *testing.T) {
	useSSL := false
	r := NewRegistry(Env{S3: S3Config{
		Endpoint:  "minio:9000",
		AccessKey: "user",
		SecretKey: "secret",
		Bucket:    "default-bucket",
		UseSSL:    &useSSL,
	}})

	_, s, err := r.Resolve(plugin.Config{"type": "s3", "bucket": "other"})
	require.NoError(t, err)
	assert.Equal(t, "other", s.(*S3).Bucket())

	_, _, err = NewRegistry(Env{}).Resolve(plugin.Config{"type": "s3"})
	assert.True(t, errors.Is(err, plugin.ErrInvalidConfig))
}

func TestSplitObjectKey(t *testing.T) {
	bucket, object, err := splitObjectKey("artifacts/p1/outputs/model/model.pt")
	require.NoError(t, err)
	assert.Equal(t, "artifacts", bucket)
	assert.Equal(t, "p1/outputs/model/model.pt", object)

	for _, bad := range []string{"", "bucket", "bucket/", "/"} {
		_, _, err := splitObjectKey(bad)
		assert.Error(t, err, bad)
	}
}

// fakeS3 serves the path-style S3 calls the plugin makes: bucket HEAD/PUT,
// object PUT/HEAD/GET and ListObjectsV2.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
}

func newFakeS3(t *testing.T) (*fakeS3, S3Config) {
	t.Helper()
	f := &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	useSSL := false
	return f, S3Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "user",
		SecretKey: "secret",
		Bucket:    "artifacts",
		UseSSL:    &useSSL,
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, object, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	if object == "" {
		switch {
		case r.Method == http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut:
			f.buckets[bucket] = true
		case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
			f.list(w, bucket, r.URL.Query().Get("prefix"))
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
		return
	}

	key := bucket + "/" + object
	switch r.Method {
	case http.MethodPut:
		data, err := readS3Payload(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[key] = data
		w.Header().Set("ETag", etagOf(data))
	case http.MethodHead, http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			if r.Method == http.MethodGet {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, "<Error><Code>NoSuchKey</Code><Message>not found</Message></Error>")
				return
			}
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", etagOf(data))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, bucket, prefix string) {
	type content struct {
		Key  string
		Size int
		ETag string
	}
	type result struct {
		XMLName     xml.Name `xml:"ListBucketResult"`
		Name        string
		Prefix      string
		KeyCount    int
		MaxKeys     int
		IsTruncated bool
		Contents    []content
	}
	out := result{Name: bucket, Prefix: prefix, MaxKeys: 1000}
	for key, data := range f.objects {
		name, ok := strings.CutPrefix(key, bucket+"/")
		if ok && strings.HasPrefix(name, prefix) {
			out.Contents = append(out.Contents, content{Key: name, Size: len(data), ETag: etagOf(data)})
		}
	}
	sort.Slice(out.Contents, func(i, j int) bool { return out.Contents[i].Key < out.Contents[j].Key })
	out.KeyCount = len(out.Contents)
	w.Header().Set("Content-Type", "application/xml")
	_ = xml.NewEncoder(w).Encode(out)
}

func (f *fakeS3) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

// readS3Payload strips the aws-chunked framing minio-go uses for signed
// uploads over plain http.
func readS3Payload(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return raw, nil
	}
	br := bufio.NewReader(bytes.NewReader(raw))
	var out []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out, nil
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func TestS3FileRoundTrip(t *testing.T) {
	fake, cfg := newFakeS3(t)
	s, err := NewS3(cfg)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "model.pt")
	payload := []byte("weights\x00\x01\xff")
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	ctx := context.Background()
	key, err := s.Upload(ctx, "p1/outputs/model", src)
	require.NoError(t, err)
	assert.Equal(t, "artifacts/p1/outputs/model/model.pt", key)
	stored, ok := fake.object(key)
	require.True(t, ok)
	assert.Equal(t, payload, stored)

	dest := filepath.Join(t.TempDir(), "inputs", "model")
	got, err := s.Download(ctx, key, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, got)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestS3DirectoryRoundTrip(t *testing.T) {
	_, cfg := newFakeS3(t)
	s, err := NewS3(cfg)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "log.txt"), []byte("step 1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "lcurve.out"), []byte("0.1 0.2"), 0o644))

	ctx := context.Background()
	key, err := s.Upload(ctx, "p2/outputs/log", src)
	require.NoError(t, err)
	assert.Equal(t, "artifacts/p2/outputs/log/logs", key)

	dest := filepath.Join(t.TempDir(), "log")
	got, err := s.Download(ctx, key, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, got)
	data, err := os.ReadFile(filepath.Join(dest, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "step 1", string(data))
	data, err = os.ReadFile(filepath.Join(dest, "sub", "lcurve.out"))
	require.NoError(t, err)
	assert.Equal(t, "0.1 0.2", string(data))

	_, err = s.Download(ctx, "artifacts/p2/outputs/missing", filepath.Join(t.TempDir(), "x"))
	assert.ErrorContains(t, err, "not found")
}

func TestS3BucketCheckRetriedOnCachedInstance(t *testing.T) {
	fake, cfg := newFakeS3(t)
	r := NewRegistry(Env{S3: cfg}, func(o *plugin.Options) { o.CacheSize = 8 })

	_, first, err := r.Resolve(plugin.Config{"type": "s3"})
	require.NoError(t, err)
	_, second, err := r.Resolve(plugin.Config{"type": "s3"})
	require.NoError(t, err)
	require.Same(t, first, second)

	src := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(src, []byte("ok"), 0o644))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = first.Upload(cancelled, "p3", src)
	require.Error(t, err)

	key, err := second.Upload(context.Background(), "p3", src)
	require.NoError(t, err)
	assert.Equal(t, "artifacts/p3/out.txt", key)
	fake.mu.Lock()
	assert.True(t, fake.buckets["artifacts"])
	fake.mu.Unlock()
}
