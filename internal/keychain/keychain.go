// Package keychain stores the gateway bearer token in the OS credential
// store (macOS Keychain, Windows Credential Manager, Secret Service on
// Linux). It is one source in the token resolution chain; a missing or
// locked keychain degrades to the other sources rather than failing the
// bridge.
package keychain

import (
	"errors"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName identifies the clawlink namespace in the credential store.
const ServiceName = "clawlink"

// keyGatewayToken is the entry holding the gateway bearer token.
const keyGatewayToken = "gateway_token"

// Store wraps a keyring with lazy, thread-safe initialization.
type Store struct {
	mu   sync.Mutex
	ring keyring.Keyring
	err  error
	once bool
}

// New returns an uninitialized Store; the keyring is opened on first use.
func New() *Store {
	return &Store{}
}

func (s *Store) open() (keyring.Keyring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.once {
		return s.ring, s.err
	}
	s.once = true
	s.ring, s.err = keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.SecretServiceBackend,
			keyring.PassBackend,
		},
		PassPrefix:                     ServiceName,
		LibSecretCollectionName:        ServiceName,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
	})
	return s.ring, s.err
}

// GatewayToken returns the stored token, or "" when absent or the keychain
// is unavailable.
func (s *Store) GatewayToken() string {
	ring, err := s.open()
	if err != nil {
		return ""
	}
	item, err := ring.Get(keyGatewayToken)
	if err != nil {
		return ""
	}
	return string(item.Data)
}

// SetGatewayToken stores or replaces the token.
func (s *Store) SetGatewayToken(token string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	return ring.Set(keyring.Item{
		Key:   keyGatewayToken,
		Label: "clawlink gateway token",
		Data:  []byte(token),
	})
}

// DeleteGatewayToken removes the token. Missing entries are not an error.
func (s *Store) DeleteGatewayToken() error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	err = ring.Remove(keyGatewayToken)
	if err != nil && errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}
