package identity

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
)

func TestStore_Load_Creates(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, KeyFileName))

	priv, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if priv == nil {
		t.Fatal("Load() returned nil key")
	}

	info, err := os.Stat(s.Path)
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if runtime.GOOS != "windows" {
		if mode := info.Mode().Perm(); mode != 0600 {
			t.Errorf("key file permissions = %04o, want 0600", mode)
		}
	}
}

func TestStore_Load_StableAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, KeyFileName)

	id1, err := NewStore(path).PeerID()
	if err != nil {
		t.Fatalf("first PeerID() error = %v", err)
	}
	id2, err := NewStore(path).PeerID()
	if err != nil {
		t.Fatalf("second PeerID() error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("peer IDs differ across restarts: %s != %s", id1, id2)
	}
}

func TestStore_Load_CorruptFileNeverOverwritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, KeyFileName)

	if err := os.WriteFile(path, []byte("not a key"), 0600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	_, err := NewStore(path).Load()
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load() error = %v, want ErrCorrupt", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "not a key" {
		t.Error("corrupt file was overwritten, expected it to be left alone")
	}
}

func TestStore_Load_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions not applicable on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, KeyFileName)

	if _, err := NewStore(path).Load(); err != nil {
		t.Fatalf("initial Load() error = %v", err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	_, err := NewStore(path).Load()
	if !errors.Is(err, ErrInsecurePermissions) {
		t.Fatalf("Load() error = %v, want ErrInsecurePermissions", err)
	}
}

func TestStore_PeerID_NotEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, KeyFileName))

	id, err := s.PeerID()
	if err != nil {
		t.Fatalf("PeerID() error = %v", err)
	}
	if id == peer.ID("") {
		t.Error("PeerID() returned empty ID")
	}
}
