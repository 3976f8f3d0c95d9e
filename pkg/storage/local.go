package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/product-crop/internal/utils"
)

// LocalStore keeps objects as files under <root>/<bucket>/<key>.
type LocalStore struct {
	root       string
	publicBase string
}

// NewLocal creates a store rooted at dir.
func NewLocal(dir, publicBaseURL string) *LocalStore {
	return &LocalStore{root: dir, publicBase: publicBaseURL}
}

func (s *LocalStore) path(bucket, key string) (string, error) {
	p := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s/%s escapes store root", ErrInvalidLocation, bucket, key)
	}
	return p, nil
}

// Get reads an object; the content type comes from the key's extension.
func (s *LocalStore) Get(ctx context.Context, bucket, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	p, err := s.path(bucket, key)
	if err != nil {
		return Object{}, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return Object{}, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return Object{}, fmt.Errorf("failed to read object: %w", err)
	}
	return Object{Data: data, ContentType: utils.ContentType(utils.GetFileExtension(key))}, nil
}

// Put writes an object. publicRead has no meaning on a filesystem.
func (s *LocalStore) Put(ctx context.Context, bucket, key string, obj Object, publicRead bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(p)); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(p, obj.Data, 0644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// PublicURL returns publicBase/<key>, or a file URL when no base is set.
func (s *LocalStore) PublicURL(bucket, key string) string {
	if s.publicBase != "" {
		return joinURL(s.publicBase, key)
	}
	abs, err := filepath.Abs(filepath.Join(s.root, bucket, filepath.FromSlash(key)))
	if err != nil {
		abs = filepath.Join(s.root, bucket, filepath.FromSlash(key))
	}
	return "file://" + filepath.ToSlash(abs)
}
