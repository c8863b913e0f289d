package fsutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestAtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		path     string
		data     []byte
		existing bool
	}{
		{name: "write to new file", path: filepath.Join(tmpDir, "new.txt"), data: []byte("12345")},
		{name: "overwrite existing file", path: filepath.Join(tmpDir, "existing.txt"), data: []byte("updated"), existing: true},
		{name: "write empty file", path: filepath.Join(tmpDir, "empty.txt"), data: []byte{}},
		{name: "write to nested directory", path: filepath.Join(tmpDir, "nested", "deep", "pid"), data: []byte("42")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.existing {
				if err := os.WriteFile(tt.path, []byte("original"), 0o600); err != nil {
					t.Fatalf("failed to create initial file: %v", err)
				}
			}

			if err := AtomicWrite(tt.path, tt.data, 0o600); err != nil {
				t.Fatalf("AtomicWrite() error = %v", err)
			}

			content, err := os.ReadFile(tt.path)
			if err != nil {
				t.Fatalf("failed to read written file: %v", err)
			}
			if string(content) != string(tt.data) {
				t.Errorf("file content = %q, want %q", content, tt.data)
			}

			info, err := os.Stat(tt.path)
			if err != nil {
				t.Fatalf("failed to stat file: %v", err)
			}
			if !tt.existing && info.Mode().Perm() != 0o600 {
				t.Errorf("file permissions = %o, want 0600", info.Mode().Perm())
			}
		})
	}
}

func TestAtomicWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "args.json")

	type invocation struct {
		Args []string `json:"args"`
		Dir  string   `json:"dir"`
	}
	want := invocation{Args: []string{"e", "--json", "-"}, Dir: "/work"}

	if err := AtomicWriteJSON(path, want, 0o600); err != nil {
		t.Fatalf("AtomicWriteJSON() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if strings.Count(string(data), "\n") != 1 || !strings.HasSuffix(string(data), "\n") {
		t.Errorf("expected a single JSON line, got %q", data)
	}

	var got invocation
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON written: %v", err)
	}
	if got.Dir != want.Dir || len(got.Args) != 3 || got.Args[2] != "-" {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestAtomicWriteJSONMarshalError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")

	if err := AtomicWriteJSON(path, map[string]any{"ch": make(chan int)}, 0o600); err == nil {
		t.Fatal("expected marshal error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file after failed write, stat err = %v", err)
	}
}

func TestAtomicWriteNoTempFilesLeft(t *testing.T) {
	tmpDir := t.TempDir()

	for i := range 5 {
		if err := AtomicWrite(filepath.Join(tmpDir, "pid"), []byte(fmt.Sprint(i)), 0o600); err != nil {
			t.Fatalf("AtomicWrite() error = %v", err)
		}
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "pid" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected directory contents: %v", names)
	}
}

func TestAtomicWriteConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.txt")

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := AtomicWrite(path, []byte(fmt.Sprintf("writer-%d", i)), 0o600); err != nil {
				t.Errorf("writer %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if !strings.HasPrefix(string(data), "writer-") {
		t.Errorf("file contains torn write: %q", data)
	}
}

func TestAtomicWriteAppliesPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.pid")

	if err := AtomicWrite(path, []byte("1"), 0o644); err != nil {
		t.Fatalf("AtomicWrite() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat file: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("file permissions = %o, want 0644", info.Mode().Perm())
	}
}
