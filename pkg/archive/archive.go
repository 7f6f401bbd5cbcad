// Package archive stores exported evidence bundles in content-
// addressed form: a bundle's address is the SHA-256 of its bytes, so
// an archived export can always be checked against what it claims to
// be. Backends cover the local filesystem, S3-compatible object
// stores, and GCS.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound reports a hash with no archived bundle behind it.
var ErrNotFound = errors.New("bundle not found")

// Backend is the object-store contract. Put is idempotent: storing
// the same bytes twice lands on the same address.
type Backend interface {
	// Put persists the bundle and returns its content address
	// ("sha256:<hex>").
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves a bundle by content address.
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
	Delete(ctx context.Context, hash string) error
}

// HashBytes computes the content address of a bundle.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// rawHash strips and validates the "sha256:" prefix.
func rawHash(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, "sha256:")
	if !ok || raw == "" {
		return "", fmt.Errorf("invalid content address %q", hash)
	}
	return raw, nil
}

// FS archives bundles as files under one directory.
type FS struct {
	baseDir string
	mu      sync.Mutex
}

// NewFS creates a filesystem backend rooted at baseDir.
func NewFS(baseDir string) (*FS, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	return &FS{baseDir: baseDir}, nil
}

func (s *FS) path(raw string) string {
	return filepath.Join(s.baseDir, raw+".bundle")
}

func (s *FS) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := HashBytes(data)
	raw, _ := rawHash(hash)
	path := s.path(raw)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	// Write through a temp file so a crashed export never leaves a
	// half-written bundle at a valid address.
	tmp, err := os.CreateTemp(s.baseDir, "bundle-*")
	if err != nil {
		return "", fmt.Errorf("archive put: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("archive put: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("archive put: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("archive put: %w", err)
	}
	return hash, nil
}

func (s *FS) Get(_ context.Context, hash string) ([]byte, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(raw))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("archive get: %w", err)
	}
	return data, nil
}

func (s *FS) Exists(_ context.Context, hash string) (bool, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(s.path(raw)); errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("archive stat: %w", err)
	}
	return true, nil
}

func (s *FS) Delete(_ context.Context, hash string) error {
	raw, err := rawHash(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(raw)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("archive delete: %w", err)
	}
	return nil
}
