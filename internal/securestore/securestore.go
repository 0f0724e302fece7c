// Package securestore persists small JSON documents encrypted at rest.
//
// Every object is sealed with AES-256-GCM under a key derived from the
// caller's password and the device id, and stored in a Backend under a
// device-bound storage key. The storage key is bound into the GCM
// additional data so a blob copied to another key or device fails to open.
package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrNotFound = errors.New("securestore: object not found")
	ErrCorrupt  = errors.New("securestore: object unreadable")
)

// Well-known object keys.
const (
	KeySession        = "session"
	KeyPIN            = "pin"
	KeyPINAttempts    = "pin.attempts"
	KeyFraudConfig    = "fraud.config"
	KeyBlockedDevices = "fraud.blocked_devices"
	KeyFraudHistory   = "fraud.history"
	KeyFingerprint    = "device.fingerprint"
	KeyWebhookEvents  = "webhooks.processed"
	keyBankLinkPrefix = "banklink."
)

// BankLinkKey is the object key holding a user's linked bank items.
func BankLinkKey(userID string) string { return keyBankLinkPrefix + userID }

const (
	keyIterations = 10000
	keyLen        = 32
)

// Store is the secure storage capability consumed by the payment core.
type Store interface {
	SetSecureObject(ctx context.Context, key string, value any, password string) error
	GetSecureObject(ctx context.Context, key string, out any, password string) error
	RemoveItem(ctx context.Context, key string) error
}

// Backend stores opaque blobs.
type Backend interface {
	Put(ctx context.Context, key string, blob []byte) error
	Get(ctx context.Context, key string) ([]byte, error) // ErrNotFound when absent
	Delete(ctx context.Context, key string) error
}

// Load reads key into a new T.
func Load[T any](ctx context.Context, s Store, key, password string) (T, error) {
	var v T
	err := s.GetSecureObject(ctx, key, &v, password)
	return v, err
}

// Encrypted implements Store on top of a Backend.
type Encrypted struct {
	backend  Backend
	deviceID string

	mu   sync.Mutex
	keys map[string][]byte // password digest -> derived key
}

// New returns a Store that seals objects for deviceID.
func New(backend Backend, deviceID string) *Encrypted {
	return &Encrypted{
		backend:  backend,
		deviceID: deviceID,
		keys:     make(map[string][]byte),
	}
}

// StorageKey returns the backend key for an object key.
func (s *Encrypted) StorageKey(key string) string {
	sum := sha256.Sum256([]byte(s.deviceID + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

func (s *Encrypted) SetSecureObject(ctx context.Context, key string, value any, password string) error {
	plain, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("securestore: encode %s: %w", key, err)
	}
	aead, err := s.aead(password)
	if err != nil {
		return err
	}

	storageKey := s.StorageKey(key)
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("securestore: nonce: %w", err)
	}
	blob := aead.Seal(nonce, nonce, plain, []byte(storageKey))

	if err := s.backend.Put(ctx, storageKey, blob); err != nil {
		return fmt.Errorf("securestore: put %s: %w", key, err)
	}
	return nil
}

func (s *Encrypted) GetSecureObject(ctx context.Context, key string, out any, password string) error {
	storageKey := s.StorageKey(key)
	blob, err := s.backend.Get(ctx, storageKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("securestore: get %s: %w", key, err)
	}

	aead, err := s.aead(password)
	if err != nil {
		return err
	}
	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return fmt.Errorf("%w: %s truncated", ErrCorrupt, key)
	}
	nonce, sealed := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, []byte(storageKey))
	if err != nil {
		return fmt.Errorf("%w: %s failed authentication", ErrCorrupt, key)
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

func (s *Encrypted) RemoveItem(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, s.StorageKey(key)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("securestore: delete %s: %w", key, err)
	}
	return nil
}

func (s *Encrypted) aead(password string) (cipher.AEAD, error) {
	digest := sha256.Sum256([]byte(password))
	id := hex.EncodeToString(digest[:])

	s.mu.Lock()
	key, ok := s.keys[id]
	if !ok {
		salt := sha256.Sum256([]byte("tiptap-securestore\x00" + s.deviceID))
		key = pbkdf2.Key([]byte(password), salt[:], keyIterations, keyLen, sha256.New)
		s.keys[id] = key
	}
	s.mu.Unlock()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("securestore: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
