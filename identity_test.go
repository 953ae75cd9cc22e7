/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestIdentityIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", identityFileName)
	s := newIdentityStore(path)

	first, err := s.GetOrCreate()
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("generated id %q is not a uuid: %v", first, err)
	}

	second, err := s.GetOrCreate()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("ids differ: %q vs %q", first, second)
	}

	// A fresh process reads the same file.
	third, err := newIdentityStore(path).GetOrCreate()
	if err != nil {
		t.Fatal(err)
	}
	if third != first {
		t.Fatalf("id not persisted: %q vs %q", third, first)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("identity file mode = %o, want 600", perm)
	}
}

func TestIdentityForget(t *testing.T) {
	s := newIdentityStore(filepath.Join(t.TempDir(), identityFileName))

	first, err := s.GetOrCreate()
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Forget(); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if err := s.Forget(); err != nil {
		t.Fatalf("second Forget failed: %v", err)
	}

	second, err := s.GetOrCreate()
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("expected a new id after clearing storage")
	}
}

func TestIdentityKeepsExistingValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), identityFileName)
	if err := os.WriteFile(path, []byte("  legacy-id\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	id, err := newIdentityStore(path).GetOrCreate()
	if err != nil {
		t.Fatal(err)
	}
	if id != "legacy-id" {
		t.Fatalf("id = %q, want legacy-id", id)
	}
}

func TestIdentityReplacesBlankFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), identityFileName)
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	id, err := newIdentityStore(path).GetOrCreate()
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != id {
		t.Fatalf("stored %q, returned %q", data, id)
	}
}

func TestIdentityStorageFailures(t *testing.T) {
	dir := t.TempDir()

	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		path string
	}{
		{"path is a directory", dir},
		{"parent is a file", filepath.Join(blocker, identityFileName)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if id, err := newIdentityStore(tc.path).GetOrCreate(); err == nil {
				t.Fatalf("expected error, got id %q", id)
			}
		})
	}
}

func TestDefaultIdentityPathWithoutConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "")

	if path := defaultIdentityPath(); path != "" {
		t.Fatalf("defaultIdentityPath() = %q, want empty", path)
	}

	cfg := validConfig()
	cfg.identityFile = defaultIdentityPath()

	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "--identity-file") {
		t.Fatalf("validate() = %v, want a hint to pass --identity-file", err)
	}
}

func TestDefaultIdentityPathIsAbsolute(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "config"))

	path := defaultIdentityPath()
	if !filepath.IsAbs(path) {
		t.Fatalf("defaultIdentityPath() = %q, want an absolute path", path)
	}
	if filepath.Base(path) != identityFileName || filepath.Base(filepath.Dir(path)) != "ultimate" {
		t.Fatalf("defaultIdentityPath() = %q", path)
	}
}
