package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnections struct {
	active map[string]string
	err    error
}

func (f fakeConnections) ActiveConnectionID(_ context.Context, provider string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	id, ok := f.active[provider]
	return id, ok, nil
}

func TestStoreCredentials(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()
	require.NoError(t, v.Store(ctx, ConnectionKey("conn-1"), []byte("sk-db")))

	creds := NewStoreCredentials(fakeConnections{active: map[string]string{
		"openai":    "conn-1",
		"anthropic": "conn-without-key",
	}}, v)

	t.Run("active connection", func(t *testing.T) {
		key, ok, err := creds.ActiveCredential(ctx, "openai")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "sk-db", key)
	})

	t.Run("no active connection", func(t *testing.T) {
		_, ok, err := creds.ActiveCredential(ctx, "gemini")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("connection without stored key", func(t *testing.T) {
		_, ok, err := creds.ActiveCredential(ctx, "anthropic")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStaticCredentials(t *testing.T) {
	s := StaticCredentials{"openai": "sk-env", "grok": ""}
	key, ok, err := s.ActiveCredential(context.Background(), "OpenAI")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-env", key)

	_, ok, _ = s.ActiveCredential(context.Background(), "grok")
	assert.False(t, ok)
}

func TestFallbackCredentials(t *testing.T) {
	ctx := context.Background()
	v, _ := testVault(t)
	require.NoError(t, v.Store(ctx, ConnectionKey("c"), []byte("sk-db")))

	tests := []struct {
		name     string
		primary  CredentialLookup
		defaults map[string]string
		wantKey  string
		wantOK   bool
		wantErr  bool
	}{
		{
			name:     "primary wins",
			primary:  NewStoreCredentials(fakeConnections{active: map[string]string{"openai": "c"}}, v),
			defaults: map[string]string{"openai": "sk-env"},
			wantKey:  "sk-db", wantOK: true,
		},
		{
			name:     "falls back when primary has nothing",
			primary:  NewStoreCredentials(fakeConnections{}, v),
			defaults: map[string]string{"OPENAI": "sk-env"},
			wantKey:  "sk-env", wantOK: true,
		},
		{
			name:     "falls back on lookup error",
			primary:  NewStoreCredentials(fakeConnections{err: errors.New("db down")}, v),
			defaults: map[string]string{"openai": "sk-env"},
			wantKey:  "sk-env", wantOK: true,
		},
		{
			name:    "error surfaces without default",
			primary: NewStoreCredentials(fakeConnections{err: errors.New("db down")}, v),
			wantErr: true,
		},
		{
			name:     "nil primary",
			defaults: map[string]string{"openai": "sk-env"},
			wantKey:  "sk-env", wantOK: true,
		},
		{
			name: "nothing configured",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFallbackCredentials(tt.primary, tt.defaults, nil)
			key, ok, err := f.ActiveCredential(ctx, "openai")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}
