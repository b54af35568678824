package secrets

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// CredentialLookup returns the API key to use for a provider. The bool is
// false when no credential is configured.
type CredentialLookup interface {
	ActiveCredential(ctx context.Context, provider string) (string, bool, error)
}

// ConnectionFinder reports the active connection of a provider.
// Satisfied by the workflow stores.
type ConnectionFinder interface {
	ActiveConnectionID(ctx context.Context, provider string) (string, bool, error)
}

// StoreCredentials resolves the active connection's key from the vault.
type StoreCredentials struct {
	conns ConnectionFinder
	vault Vault
}

// NewStoreCredentials creates a lookup over stored connections.
func NewStoreCredentials(conns ConnectionFinder, vault Vault) *StoreCredentials {
	return &StoreCredentials{conns: conns, vault: vault}
}

func (c *StoreCredentials) ActiveCredential(ctx context.Context, provider string) (string, bool, error) {
	id, ok, err := c.conns.ActiveConnectionID(ctx, provider)
	if err != nil || !ok {
		return "", false, err
	}
	key, err := c.vault.Resolve(ctx, ConnectionKey(id))
	if err != nil {
		if schema.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if len(key) == 0 {
		return "", false, nil
	}
	return string(key), true, nil
}

// StaticCredentials maps provider names to keys.
type StaticCredentials map[string]string

func (s StaticCredentials) ActiveCredential(_ context.Context, provider string) (string, bool, error) {
	key, ok := s[strings.ToLower(provider)]
	return key, ok && key != "", nil
}

// FallbackCredentials consults the primary lookup and falls back to the
// process-level default keys when it has nothing or fails.
type FallbackCredentials struct {
	primary  CredentialLookup
	defaults StaticCredentials
	logger   *slog.Logger
}

// NewFallbackCredentials wraps primary; a nil primary uses defaults only.
func NewFallbackCredentials(primary CredentialLookup, defaults map[string]string, logger *slog.Logger) *FallbackCredentials {
	if logger == nil {
		logger = slog.Default()
	}
	d := make(StaticCredentials, len(defaults))
	for k, v := range defaults {
		d[strings.ToLower(k)] = v
	}
	return &FallbackCredentials{primary: primary, defaults: d, logger: logger}
}

func (f *FallbackCredentials) ActiveCredential(ctx context.Context, provider string) (string, bool, error) {
	var lookupErr error
	if f.primary != nil {
		key, ok, err := f.primary.ActiveCredential(ctx, provider)
		if err == nil && ok {
			return key, true, nil
		}
		lookupErr = err
	}

	key, ok, _ := f.defaults.ActiveCredential(ctx, provider)
	if lookupErr != nil {
		if !ok {
			return "", false, lookupErr
		}
		f.logger.WarnContext(ctx, "credential lookup failed, using default key",
			slog.String("provider", provider), slog.String("error", lookupErr.Error()))
	}
	return key, ok, nil
}

var (
	_ CredentialLookup = (*StoreCredentials)(nil)
	_ CredentialLookup = StaticCredentials(nil)
	_ CredentialLookup = (*FallbackCredentials)(nil)
)
