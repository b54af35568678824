package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

const defaultIterations = 100_000

// VaultConfig configures key derivation. Provide either MasterKey (raw 32
// bytes) or Passphrase plus Salt.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 iterations, default 100_000
}

// AESVault encrypts secrets with AES-256-GCM before handing them to a
// SecretStore. A stored value is nonce || ciphertext, sealed with its vault
// key as additional data: a connection's API key copied under another
// connection's key does not open.
//
// The vault holds a key ring. The first key seals; every key opens, so a
// rotation interrupted halfway leaves every secret readable.
type AESVault struct {
	store SecretStore

	mu   sync.RWMutex
	ring []cipher.AEAD
}

// NewAESVault creates a vault over s.
func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	aead, err := newAEAD(cfg)
	if err != nil {
		return nil, err
	}
	return &AESVault{store: s, ring: []cipher.AEAD{aead}}, nil
}

func newAEAD(cfg VaultConfig) (cipher.AEAD, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	switch {
	case len(cfg.MasterKey) > 0:
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	case cfg.Passphrase == "":
		return nil, schema.NewError(schema.ErrCodeVault, "an encryption master key or passphrase is required")
	case len(cfg.Salt) == 0:
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

func seal(aead cipher.AEAD, key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

// open tries every key in ring, newest first.
func open(ring []cipher.AEAD, key string, sealed []byte) ([]byte, error) {
	var lastErr error
	for _, aead := range ring {
		n := aead.NonceSize()
		if len(sealed) < n {
			return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q: ciphertext too short", key)
		}
		plaintext, err := aead.Open(nil, sealed[:n], sealed[n:], []byte(key))
		if err == nil {
			return plaintext, nil
		}
		lastErr = err
	}
	return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q: invalid or corrupted ciphertext", key).WithCause(lastErr)
}

func (v *AESVault) keys() []cipher.AEAD {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ring
}

func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	sealed, err := seal(v.keys()[0], key, value)
	if err != nil {
		return err
	}
	return v.store.StoreSecret(ctx, key, sealed)
}

func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	return open(v.keys(), key, sealed)
}

func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}

// Rotate re-seals every stored secret under next and makes next the sealing
// key. Nothing is written unless every secret opens first; a secret already
// sealed under next counts as readable, so a failed rotation can be rerun.
// It returns the number of secrets re-sealed.
func (v *AESVault) Rotate(ctx context.Context, next VaultConfig) (int, error) {
	aead, err := newAEAD(next)
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	ring := append([]cipher.AEAD{aead}, v.ring...)

	keys, err := v.store.ListSecrets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list secrets: %w", err)
	}
	plain := make(map[string][]byte, len(keys))
	for _, k := range keys {
		sealed, err := v.store.GetSecret(ctx, k)
		if err != nil {
			return 0, err
		}
		if plain[k], err = open(ring, k, sealed); err != nil {
			return 0, err
		}
	}

	v.ring = ring
	for i, k := range keys {
		sealed, err := seal(aead, k, plain[k])
		if err != nil {
			return i, err
		}
		if err := v.store.StoreSecret(ctx, k, sealed); err != nil {
			return i, fmt.Errorf("store rotated secret %q: %w", k, err)
		}
	}
	return len(keys), nil
}

var _ Vault = (*AESVault)(nil)
