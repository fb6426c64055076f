// Package blobstore keeps receipt images apart from receipt metadata.
//
// A blob store has its own failure domain: nothing here participates in a
// kvstore commit, and callers own the ordering between the two.
package blobstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when no payload exists for an id
var ErrNotFound = errors.New("blob not found")

// Storage defines the interface for receipt image storage
type Storage interface {
	// Save stores payload under id, replacing any previous payload
	Save(ctx context.Context, id string, payload []byte) error

	// Get retrieves the payload for id
	Get(ctx context.Context, id string) ([]byte, error)

	// Delete removes the payload for id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// GetAll returns every stored payload keyed by id
	GetAll(ctx context.Context) (map[string][]byte, error)

	// Clear removes every payload
	Clear(ctx context.Context) error
}

const blobExt = ".blob"

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// filename maps an id to a reversible, path-safe file name
func filename(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id)) + blobExt
}

func idFromFilename(name string) (string, bool) {
	if !strings.HasSuffix(name, blobExt) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, blobExt))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Save writes the payload to local storage
func (l *LocalStorage) Save(ctx context.Context, id string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("blob id is required")
	}

	// write to a temp file first so a crash never leaves a truncated payload
	path := filepath.Join(l.basePath, filename(id))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

// Get retrieves a payload from local storage
func (l *LocalStorage) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(l.basePath, filename(id)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a payload from local storage
func (l *LocalStorage) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(l.basePath, filename(id)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// GetAll reads every payload in the storage directory
func (l *LocalStorage) GetAll(ctx context.Context) (map[string][]byte, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("listing storage directory: %w", err)
	}

	blobs := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		id, ok := idFromFilename(entry.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.basePath, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", entry.Name(), err)
		}
		blobs[id] = data
	}
	return blobs, nil
}

// Clear removes every payload from the storage directory
func (l *LocalStorage) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return fmt.Errorf("listing storage directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := idFromFilename(entry.Name()); !ok {
			continue
		}
		if err := os.Remove(filepath.Join(l.basePath, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting file %s: %w", entry.Name(), err)
		}
	}
	return nil
}
