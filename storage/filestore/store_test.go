package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/trezcool/masomo-dashboard/core/session"
	"github.com/trezcool/masomo-dashboard/storage/storetest"
)

func openDir(t *testing.T) *Dir {
	dir, err := Open(filepath.Join(t.TempDir(), "sessions"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return dir
}

func TestStore(t *testing.T) {
	storetest.Run(t, openDir(t))
}

func TestStore_file(t *testing.T) {
	ctx := context.Background()
	dir := openDir(t)
	s, err := dir.Store("../Device 1")
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if err = s.Set(ctx, session.RecordKey, "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	path := filepath.Join(dir.path, ".._Device_1.json")
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("session file not written inside the directory: %v", err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Errorf("session file mode = %o; want 600", perm)
	}
	tmps, _ := filepath.Glob(filepath.Join(dir.path, "*.tmp"))
	if len(tmps) != 0 {
		t.Errorf("temp files left behind: %v", tmps)
	}

	if err = s.Clear(ctx); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if _, err = os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("session file still there after Clear(): %v", err)
	}
}

func TestStore_corruptFile(t *testing.T) {
	ctx := context.Background()
	dir := openDir(t)
	if err := os.WriteFile(filepath.Join(dir.path, "dev.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, _ := dir.Store("dev")

	if _, err := s.Get(ctx, session.RecordKey); err == nil || session.IsNotFound(err) {
		t.Errorf("Get() error = %v; want a decoding error", err)
	}
	// Clear repairs the namespace
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if _, err := s.Get(ctx, session.RecordKey); !session.IsNotFound(err) {
		t.Errorf("Get() after Clear() error = %v; want ErrNotFound", err)
	}
}

func TestDir_emptyNamespace(t *testing.T) {
	if _, err := openDir(t).Store(""); err == nil {
		t.Error("Store(\"\") error = nil")
	}
}
