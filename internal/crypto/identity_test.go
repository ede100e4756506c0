package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestIdentityPersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")
	first, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	second, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("reload identity: %v", err)
	}
	if first.PublicKey() != second.PublicKey() {
		t.Fatalf("expected same public key after reload")
	}
}

func TestEphemeralIdentitiesDiffer(t *testing.T) {
	a, err := LoadOrCreateIdentity("")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	b, err := LoadOrCreateIdentity("")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if a.PublicKey() == b.PublicKey() {
		t.Fatalf("expected distinct ephemeral keys")
	}
}

func TestLoadRejectsCorruptKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")
	if err := os.WriteFile(path, []byte("short"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadOrCreateIdentity(path); !errors.Is(err, ErrBadKeyFile) {
		t.Fatalf("expected ErrBadKeyFile, got %v", err)
	}
}
