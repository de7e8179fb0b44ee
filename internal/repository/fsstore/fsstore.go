// Package fsstore implements repository.ObjectStore on the local filesystem.
// Objects live under root/<tenant>/<document>/<filename>.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/corterra/askd/internal/repository"
)

// Store keeps raw document bytes on disk.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(tenantID, documentID uuid.UUID, filename string) (string, error) {
	// Reject path traversal in the caller-supplied filename.
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	return filepath.Join(s.root, tenantID.String(), documentID.String(), filename), nil
}

// Put stores data, overwriting any existing object.
func (s *Store) Put(_ context.Context, tenantID, documentID uuid.UUID, filename string, data []byte) error {
	p, err := s.path(tenantID, documentID, filename)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit object: %w", err)
	}
	return nil
}

// Get retrieves stored bytes, repository.ErrNotFound when absent.
func (s *Store) Get(_ context.Context, tenantID, documentID uuid.UUID, filename string) ([]byte, error) {
	p, err := s.path(tenantID, documentID, filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *Store) Delete(_ context.Context, tenantID, documentID uuid.UUID, filename string) error {
	p, err := s.path(tenantID, documentID, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

var _ repository.ObjectStore = (*Store)(nil)
