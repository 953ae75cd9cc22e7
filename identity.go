/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const identityFileName = "user-id"

// IdentityStore keeps the per-device user id on disk.
type IdentityStore struct {
	path string
}

func newIdentityStore(path string) *IdentityStore {
	return &IdentityStore{path: path}
}

// defaultIdentityPath returns <config dir>/ultimate/user-id, or "" when no
// absolute location is known. A relative fallback would tie the identity to
// the working directory.
func defaultIdentityPath() string {
	root, err := os.UserConfigDir()
	if err != nil || !filepath.IsAbs(root) {
		home, err := os.UserHomeDir()
		if err != nil || !filepath.IsAbs(home) {
			return ""
		}
		root = filepath.Join(home, ".config")
	}

	return filepath.Join(root, "ultimate", identityFileName)
}

// GetOrCreate returns the stored id, generating and persisting one when
// none exists yet. Storage failures are returned rather than papered over
// with a throwaway id.
func (s *IdentityStore) GetOrCreate() (string, error) {
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return "", fmt.Errorf("read identity: %w", err)
	}

	id := uuid.NewString()

	if err := s.write(id); err != nil {
		return "", err
	}

	return id, nil
}

// Forget removes the stored id so the next call generates a new one.
func (s *IdentityStore) Forget() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove identity: %w", err)
	}

	return nil
}

func (s *IdentityStore) write(id string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+identityFileName+"-*")
	if err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(id + "\n"); err != nil {
		tmp.Close()

		return fmt.Errorf("write identity: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()

		return fmt.Errorf("write identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}

	return nil
}
