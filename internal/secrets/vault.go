// Package secrets keeps provider API keys encrypted at rest and resolves the
// credential an Agent node should use.
package secrets

import "context"

// Vault stores opaque secrets encrypted at rest (AES-256-GCM). Plaintext
// only exists in memory.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the persistence a Vault writes ciphertext to.
// Satisfied by store.LibSQLStore and store.MemoryStore.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// ConnectionKey is the vault key under which a connection's API key lives.
func ConnectionKey(connectionID string) string {
	return "connection/" + connectionID
}
