package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudeconnect/client/internal/storage"
)

func TestCredentialStore_RoundTripAcrossRestart(t *testing.T) {
	path := t.TempDir() + "/state.db"

	db, err := storage.NewSQLiteStore(path)
	require.NoError(t, err)

	want := Credentials{
		ServerURL:         "wss://dev.local:8080",
		AuthID:            "pair-123",
		ReconnectionToken: "tok",
		ClientID:          "client-1",
	}
	require.NoError(t, NewCredentialStore(db).Save(want))
	require.NoError(t, db.Close())

	reopened, err := storage.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := NewCredentialStore(reopened).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCredentialStore_HalfTokenPairIsDropped(t *testing.T) {
	kv := NewMemoryKV()
	store := NewCredentialStore(kv)

	require.NoError(t, store.Save(Credentials{ServerURL: "ws://h", ReconnectionToken: "tok"}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, got.ReconnectionToken)
	assert.Empty(t, got.ClientID)

	_, ok, _ := kv.GetSetting(KeyReconnectionToken)
	assert.False(t, ok, "half pair must not be persisted")
}

func TestCredentialStore_Clear(t *testing.T) {
	store := NewCredentialStore(nil)
	require.NoError(t, store.Save(Credentials{ServerURL: "ws://h", AuthID: "a", ReconnectionToken: "t", ClientID: "c"}))
	require.NoError(t, store.Clear())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Credentials{}, got)
}

func TestCredentials_Predicates(t *testing.T) {
	cases := []struct {
		name     string
		creds    Credentials
		useToken bool
		stored   bool
	}{
		{"empty", Credentials{}, false, false},
		{"url only", Credentials{ServerURL: "ws://h"}, false, false},
		{"id", Credentials{ServerURL: "ws://h", AuthID: "a"}, false, true},
		{"token pair", Credentials{ServerURL: "ws://h", ReconnectionToken: "t", ClientID: "c"}, true, true},
		{"token without client", Credentials{ServerURL: "ws://h", ReconnectionToken: "t"}, false, false},
		{"token but no url", Credentials{ReconnectionToken: "t", ClientID: "c"}, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.useToken, tc.creds.ShouldUseToken())
			assert.Equal(t, tc.stored, tc.creds.HasStored())
		})
	}
}

func TestCredentials_WithToken(t *testing.T) {
	base := Credentials{ServerURL: "ws://h", AuthID: "a", ReconnectionToken: "old", ClientID: "c0"}

	assert.Equal(t, base, base.WithToken("new", ""), "half pair ignored")
	assert.Equal(t, base, base.WithToken("", "c1"), "half pair ignored")

	updated := base.WithToken("new", "c1")
	assert.Equal(t, "new", updated.ReconnectionToken)
	assert.Equal(t, "c1", updated.ClientID)
	assert.Equal(t, "a", updated.AuthID)
}
