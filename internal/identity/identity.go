// Package identity manages the device identity used for gateway
// authentication: an Ed25519 keypair plus a stable fingerprint derived from
// the public key. The identity is loaded once and is read-only afterwards;
// key generation happens only in the onboarding command, never inside the
// bridge.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrNoIdentity is returned by Load when no identity file exists yet.
var ErrNoIdentity = errors.New("device identity not found")

// Identity is a loaded device identity. Immutable after Load.
type Identity struct {
	id          string
	pub         ed25519.PublicKey
	priv        ed25519.PrivateKey
	fingerprint string
}

// deviceFile is the on-disk shape of the identity file.
type deviceFile struct {
	DeviceID   string `json:"deviceId"`
	PublicKey  string `json:"publicKey"`  // base64url, raw 32 bytes
	PrivateKey string `json:"privateKey"` // base64url, raw 64 bytes
	CreatedAt  int64  `json:"createdAt"`
}

// DefaultPath returns the default device identity file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".clawlink", "device.json")
	}
	return filepath.Join(home, ".clawlink", "device.json")
}

// Load reads the identity file at path. An empty path means DefaultPath.
func Load(path string) (*Identity, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoIdentity
		}
		return nil, fmt.Errorf("read device identity: %w", err)
	}

	var df deviceFile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("parse device identity %s: %w", path, err)
	}

	pub, err := base64.RawURLEncoding.DecodeString(df.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("device identity %s: bad public key", path)
	}
	priv, err := base64.RawURLEncoding.DecodeString(df.PrivateKey)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("device identity %s: bad private key", path)
	}
	if df.DeviceID == "" {
		return nil, fmt.Errorf("device identity %s: missing deviceId", path)
	}

	return newIdentity(df.DeviceID, ed25519.PublicKey(pub), ed25519.PrivateKey(priv)), nil
}

// Generate creates a fresh identity and writes it to path (0600). It fails
// if an identity already exists there; an installed device keypair is never
// regenerated.
func Generate(path string) (*Identity, error) {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("device identity already exists at %s", path)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	df := deviceFile{
		DeviceID:   uuid.NewString(),
		PublicKey:  base64.RawURLEncoding.EncodeToString(pub),
		PrivateKey: base64.RawURLEncoding.EncodeToString(priv),
		CreatedAt:  time.Now().UnixMilli(),
	}

	data, err := json.MarshalIndent(df, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal device identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write device identity: %w", err)
	}

	return newIdentity(df.DeviceID, pub, priv), nil
}

func newIdentity(id string, pub ed25519.PublicKey, priv ed25519.PrivateKey) *Identity {
	sum := sha256.Sum256(pub)
	return &Identity{
		id:          id,
		pub:         pub,
		priv:        priv,
		fingerprint: hex.EncodeToString(sum[:]),
	}
}

// ID returns the stable device identifier.
func (i *Identity) ID() string { return i.id }

// Fingerprint returns the hex SHA-256 of the raw public key.
func (i *Identity) Fingerprint() string { return i.fingerprint }

// PublicKey returns the raw public key.
func (i *Identity) PublicKey() ed25519.PublicKey { return i.pub }

// PublicKeyEncoded returns the raw public key in URL-safe base64, the form
// carried in the connect handshake.
func (i *Identity) PublicKeyEncoded() string {
	return base64.RawURLEncoding.EncodeToString(i.pub)
}

// Sign signs payload with the device private key and returns the signature
// in URL-safe base64.
func (i *Identity) Sign(payload []byte) string {
	sig := ed25519.Sign(i.priv, payload)
	return base64.RawURLEncoding.EncodeToString(sig)
}

// Verify checks sig (URL-safe base64) against payload using the device
// public key. Used by tests and the doctor command.
func (i *Identity) Verify(payload []byte, sig string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return ed25519.Verify(i.pub, payload, raw)
}
