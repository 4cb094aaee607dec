package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"calcjob/internal/plugin"
)

// SchemeLocal addresses files on the gateway host's filesystem.
const SchemeLocal = "local"

const defaultLocalRoot = "storage"

// Local stores artifacts as plain files under a root directory. Keys are
// absolute paths, so a key can be read back without copying.
type Local struct {
	root string
}

// NewLocal creates a Local storage rooted at root.
func NewLocal(root string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = defaultLocalRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

func newLocalFromFields(env Env, fields plugin.Fields) (Storage, error) {
	var cfg struct {
		Root string `json:"root"`
	}
	if err := fields.Decode(&cfg); err != nil {
		return nil, err
	}
	root := cfg.Root
	if strings.TrimSpace(root) == "" {
		root = env.LocalRoot
	}
	return NewLocal(root)
}

func (s *Local) Scheme() string { return SchemeLocal }

// Root returns the absolute storage root.
func (s *Local) Root() string { return s.root }

// Upload copies localPath to <root>/<prefix>/<base name> and returns the
// absolute destination path as key.
func (s *Local) Upload(_ context.Context, prefix, localPath string) (string, error) {
	dest := filepath.Join(s.root, filepath.FromSlash(prefix), filepath.Base(localPath))
	if err := copyTree(localPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Download resolves key to a local path. The file is already on this host,
// so the key itself is returned and localDest is not written. Relative keys
// are taken relative to the storage root.
func (s *Local) Download(_ context.Context, key, _ string) (string, error) {
	p := filepath.FromSlash(key)
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

// copyTree copies a file or a directory tree from src to dst, creating
// parent directories and overwriting existing files.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode().Perm())
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, fi.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
