package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalObjectStore keeps relocated listing images on local disk, served by
// the platform under a fixed URL prefix. It satisfies the relocation
// service's ObjectStore contract; swapping in a bucket-backed store is a
// deployment decision, not an engine one.
type LocalObjectStore struct {
	root    string
	baseURL string
}

// NewLocalObjectStore creates the root directory if needed.
func NewLocalObjectStore(root, baseURL string) (*LocalObjectStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("objectstore: create root %q: %w", root, err)
	}
	return &LocalObjectStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Exists reports whether an object is already stored under key.
func (s *LocalObjectStore) Exists(key string) bool {
	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(key)))
	return err == nil
}

// Put stores the object under key, creating intermediate directories, and
// returns the public URL. Writes go through a temp file so a failed
// download never leaves a truncated object that Exists would then trust.
func (s *LocalObjectStore) Put(key string, body io.Reader) (string, error) {
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("objectstore: create dir for %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("objectstore: temp file for %q: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("objectstore: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("objectstore: close %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("objectstore: finalize %q: %w", key, err)
	}

	return s.URL(key), nil
}

// URL returns the public URL for a stored key.
func (s *LocalObjectStore) URL(key string) string {
	return s.baseURL + "/" + key
}
