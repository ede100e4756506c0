// Package crypto holds the relay's node identity.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrBadKeyFile = errors.New("invalid identity key file")

// Identity is an ed25519 keypair. The public half is announced as the content
// of peer discovery messages.
type Identity struct {
	priv ed25519.PrivateKey
}

// NewIdentity generates a fresh keypair.
func NewIdentity() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{priv: priv}, nil
}

// LoadOrCreateIdentity reads the base64 seed stored at path, creating the file
// with a new key when it does not exist. An empty path yields an ephemeral
// identity.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	if path == "" {
		return NewIdentity()
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("%s: %w", path, ErrBadKeyFile)
		}
		return &Identity{priv: ed25519.NewKeyFromSeed(seed)}, nil
	case errors.Is(err, os.ErrNotExist):
		id, err := NewIdentity()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		seed := base64.StdEncoding.EncodeToString(id.priv.Seed())
		if err := os.WriteFile(path, []byte(seed+"\n"), 0o600); err != nil {
			return nil, err
		}
		return id, nil
	default:
		return nil, err
	}
}

// PublicKey returns the base64 encoded public key.
func (i *Identity) PublicKey() string {
	return base64.StdEncoding.EncodeToString(i.priv.Public().(ed25519.PublicKey))
}
