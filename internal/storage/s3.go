package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"calcjob/internal/plugin"
)

// SchemeS3 addresses objects in an S3-compatible object store.
const SchemeS3 = "s3"

// S3Config holds connection settings for an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	UseSSL    *bool  `json:"use_ssl"`
}

// merge fills empty fields of c from def.
func (c S3Config) merge(def S3Config) S3Config {
	c.Endpoint = firstNonEmpty(c.Endpoint, def.Endpoint)
	c.Region = firstNonEmpty(c.Region, def.Region)
	c.AccessKey = firstNonEmpty(c.AccessKey, def.AccessKey)
	c.SecretKey = firstNonEmpty(c.SecretKey, def.SecretKey)
	c.Bucket = firstNonEmpty(c.Bucket, def.Bucket)
	if c.UseSSL == nil {
		c.UseSSL = def.UseSSL
	}
	return c
}

// S3 stores artifacts as objects. Keys have the form "<bucket>/<object>";
// an uploaded directory becomes a key prefix with one object per file.
type S3 struct {
	client     *minio.Client
	bucketName string
	region     string

	// bucketMu guards bucketReady. A failed check is retried on the next
	// call; only success is remembered.
	bucketMu    sync.Mutex
	bucketReady bool
}

// NewS3 validates cfg and creates a minio client. No request is made until
// the first upload or download.
func NewS3(cfg S3Config) (*S3, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3{
		client:     client,
		bucketName: bucket,
		region:     region,
	}, nil
}

func newS3FromFields(def S3Config, fields plugin.Fields) (Storage, error) {
	var cfg S3Config
	if err := fields.Decode(&cfg); err != nil {
		return nil, err
	}
	return NewS3(cfg.merge(def))
}

func (s *S3) Scheme() string { return SchemeS3 }

// Bucket returns the bucket uploads go to.
func (s *S3) Bucket() string { return s.bucketName }

func (s *S3) ensureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !exists {
		err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			return err
		}
	}
	s.bucketReady = true
	return nil
}

// Upload puts the file or directory at localPath under
// <prefix>/<base name> in the configured bucket.
func (s *S3) Upload(ctx context.Context, prefix, localPath string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket: %w", err)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return "", err
	}
	object := path.Join(strings.Trim(prefix, "/"), filepath.Base(localPath))
	if !info.IsDir() {
		if _, err := s.client.FPutObject(ctx, s.bucketName, object, localPath, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		}); err != nil {
			return "", err
		}
		return s.bucketName + "/" + object, nil
	}
	err = filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		_, err = s.client.FPutObject(ctx, s.bucketName, object+"/"+filepath.ToSlash(rel), p, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return s.bucketName + "/" + object, nil
}

// Download fetches key into localDest. A key naming a single object is
// written as a file; a key naming a prefix is written as a directory tree.
func (s *S3) Download(ctx context.Context, key, localDest string) (string, error) {
	bucket, object, err := splitObjectKey(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(localDest), 0o755); err != nil {
		return "", err
	}
	if _, err := s.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{}); err == nil {
		if err := s.client.FGetObject(ctx, bucket, object, localDest, minio.GetObjectOptions{}); err != nil {
			return "", err
		}
		return localDest, nil
	} else if resp := minio.ToErrorResponse(err); resp.Code != "NoSuchKey" {
		return "", err
	}

	dirPrefix := strings.TrimSuffix(object, "/") + "/"
	found := false
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    dirPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return "", obj.Err
		}
		rel := strings.TrimPrefix(obj.Key, dirPrefix)
		if rel == "" {
			continue
		}
		target := filepath.Join(localDest, filepath.FromSlash(rel))
		if err := s.client.FGetObject(ctx, bucket, obj.Key, target, minio.GetObjectOptions{}); err != nil {
			return "", err
		}
		found = true
	}
	if !found {
		return "", fmt.Errorf("s3 object %s not found", key)
	}
	return localDest, nil
}

func splitObjectKey(key string) (string, string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	bucket, object, ok := strings.Cut(key, "/")
	if !ok || bucket == "" || strings.Trim(object, "/") == "" {
		return "", "", fmt.Errorf("s3 key %q must have the form <bucket>/<object>", key)
	}
	return bucket, object, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
