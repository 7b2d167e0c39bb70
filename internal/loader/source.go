// Package loader reads source documents and extracts their text.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloo-solutions/ragdesk/internal/domain"
)

// Source enumerates and reads the files of a document collection.
// Paths are slash-separated and relative to the source root.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	String() string
}

// DirSource reads documents from a local directory tree.
type DirSource struct {
	root string
}

func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

func (s *DirSource) String() string {
	return "dir:" + s.root
}

// List walks the directory recursively and returns regular files in lexical order.
func (s *DirSource) List(ctx context.Context) ([]string, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrSourceNotFound.WithCause(fmt.Errorf("directory %s does not exist", s.root))
		}
		return nil, domain.ErrLoadFailed.WithCause(err)
	}
	if !info.IsDir() {
		return nil, domain.ErrSourceNotFound.WithCause(fmt.Errorf("%s is not a directory", s.root))
	}

	var paths []string
	err = filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, domain.ErrLoadFailed.WithCause(fmt.Errorf("failed to walk %s: %w", s.root, err))
	}

	sort.Strings(paths)
	return paths, nil
}

func (s *DirSource) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.root, filepath.FromSlash(p)))
}

// ObjectStore is the subset of storage.S3Client used to read documents.
type ObjectStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// S3Source reads documents stored under a key prefix of a bucket.
type S3Source struct {
	store  ObjectStore
	bucket string
	prefix string
}

func NewS3Source(store ObjectStore, bucket, prefix string) *S3Source {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Source{store: store, bucket: bucket, prefix: prefix}
}

func (s *S3Source) String() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}

func (s *S3Source) List(ctx context.Context) ([]string, error) {
	keys, err := s.store.ListKeys(ctx, s.prefix)
	if err != nil {
		return nil, domain.ErrLoadFailed.WithCause(fmt.Errorf("failed to list %s: %w", s, err))
	}

	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			continue
		}
		rel := strings.TrimPrefix(key, s.prefix)
		if rel == "" {
			continue
		}
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *S3Source) Read(ctx context.Context, p string) ([]byte, error) {
	return s.store.GetObject(ctx, s.prefix+p)
}
