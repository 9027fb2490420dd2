// Package local implements file.FileStore on the host filesystem, with
// Write performed as write-to-temp-then-rename so that writers (the
// command board, firmware entries, the current-operation marker — spec
// §5 "Shared resources") never observe a partially-written file after a
// crash.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/storage/file"
)

// Store roots every path under a configured directory.
type Store struct {
	root string
}

// New creates a local disk store rooted at root. The directory is created
// if it does not already exist.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Storage("failed to create store root", err)
	}
	return &Store{root: root}, nil
}

// NewWithConfig adapts Config.RootDir into New, for uniformity with other
// adapters' constructor shape.
func NewWithConfig(cfg file.Config) (*Store, error) {
	return New(cfg.RootDir)
}

func (s *Store) resolve(p string) string {
	return filepath.Join(s.root, filepath.Clean("/"+p))
}

func (s *Store) Read(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := os.Open(s.resolve(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("file not found", err)
		}
		return nil, errors.Storage("failed to open file", err)
	}
	return f, nil
}

// Write atomically replaces the target file: data is written to a
// sibling temp file and renamed into place, so a reader never observes a
// partial write (spec §5).
func (s *Store) Write(_ context.Context, p string, data io.Reader) error {
	full := s.resolve(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Storage("failed to create parent directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return errors.Storage("failed to create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return errors.Storage("failed to write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Storage("failed to fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Storage("failed to close temp file", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return errors.Storage("failed to rename temp file into place", err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, p string) error {
	if err := os.Remove(s.resolve(p)); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound("file not found", err)
		}
		return errors.Storage("failed to delete file", err)
	}
	return nil
}

func (s *Store) List(_ context.Context, prefix string, opts file.ListOptions) ([]file.FileInfo, error) {
	root := s.resolve(prefix)
	var results []file.FileInfo

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Storage("failed to stat prefix", err)
	}
	if !info.IsDir() {
		results = append(results, toFileInfo(prefix, info))
		return results, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Storage("failed to read directory", err)
	}
	for _, e := range entries {
		childPath := filepath.Join(prefix, e.Name())
		ei, err := e.Info()
		if err != nil {
			continue
		}
		results = append(results, toFileInfo(childPath, ei))
		if opts.Recursive && e.IsDir() {
			children, err := s.List(context.Background(), childPath, opts)
			if err == nil {
				results = append(results, children...)
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []file.FileInfo{}, nil
		}
		results = results[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(results) {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (s *Store) Stat(_ context.Context, p string) (*file.FileInfo, error) {
	info, err := os.Stat(s.resolve(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("file not found", err)
		}
		return nil, errors.Storage("failed to stat file", err)
	}
	fi := toFileInfo(p, info)
	return &fi, nil
}

func (s *Store) Mkdir(_ context.Context, p string) error {
	if err := os.MkdirAll(s.resolve(p), 0o755); err != nil {
		return errors.Storage("failed to create directory", err)
	}
	return nil
}

func (s *Store) Rename(_ context.Context, oldPath, newPath string) error {
	newFull := s.resolve(newPath)
	if err := os.MkdirAll(filepath.Dir(newFull), 0o755); err != nil {
		return errors.Storage("failed to create parent directory", err)
	}
	if err := os.Rename(s.resolve(oldPath), newFull); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound("file not found", err)
		}
		return errors.Storage("failed to rename file", err)
	}
	return nil
}

func (s *Store) Copy(ctx context.Context, srcPath, dstPath string) error {
	src, err := s.Read(ctx, srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	return s.Write(ctx, dstPath, src)
}

func toFileInfo(p string, info os.FileInfo) file.FileInfo {
	return file.FileInfo{
		Path:    p,
		Name:    filepath.Base(p),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime().UTC(),
		Mode:    uint32(info.Mode().Perm()),
	}
}
