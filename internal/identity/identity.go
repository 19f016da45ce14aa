// Package identity loads and persists the long-lived signing keypair that
// names a node. The on-disk private key is the node's permanent identity;
// it must never be confused with the ephemeral session keys a transport
// handshake negotiates per connection.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// KeyFileName is the fixed filename for a node's persisted private key,
// stored under a mode-specific data directory (data/{bootnode,node}/).
const KeyFileName = "peer_id.key"

// ErrCorrupt is returned when a key file exists but cannot be parsed as a
// private key. The file is never overwritten in this case.
var ErrCorrupt = errors.New("identity: key file is corrupt")

// ErrInsecurePermissions is returned when an existing key file is readable
// by the group or others.
var ErrInsecurePermissions = errors.New("identity: key file has insecure permissions")

// Store owns the on-disk identity file at Path.
type Store struct {
	Path string
}

// NewStore returns a Store rooted at the given key file path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the identity from disk, generating and persisting a fresh
// Ed25519 keypair if no file exists yet. A file that exists but fails to
// parse is reported as ErrCorrupt and is never overwritten.
func (s *Store) Load() (crypto.PrivKey, error) {
	if data, err := os.ReadFile(s.Path); err == nil {
		if err := checkPermissions(s.Path); err != nil {
			return nil, err
		}
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.Path, err)
		}
		return priv, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read %s: %w", s.Path, err)
	}

	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	if err := s.writeAtomic(priv); err != nil {
		return nil, err
	}
	return priv, nil
}

// PeerID loads (or creates) the identity and derives the stable PeerID
// from its public half.
func (s *Store) PeerID() (peer.ID, error) {
	priv, err := s.Load()
	if err != nil {
		return "", err
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("identity: derive peer ID: %w", err)
	}
	return id, nil
}

// writeAtomic marshals priv and writes it to s.Path via a temp file plus
// rename, so a crash mid-write never leaves a half-written key on disk.
func (s *Store) writeAtomic(priv crypto.PrivKey) error {
	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("identity: marshal private key: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("identity: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".peer_id.key.tmp-*")
	if err != nil {
		return fmt.Errorf("identity: create temp key file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: chmod temp key file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: write temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("identity: close temp key file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("identity: rename into place: %w", err)
	}
	return nil
}

// checkPermissions rejects key files readable by group or others.
func checkPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("identity: stat %s: %w", path, err)
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o, want 0600 (fix with: chmod 600 %s)", ErrInsecurePermissions, path, mode, path)
	}
	return nil
}
