package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"mailingest/backend/internal/domain"
)

func tokenServer(t *testing.T, status int, body string) (*oauth2.Config, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}, &calls
}

func TestGetTokenUsesStoredValidToken(t *testing.T) {
	cfg, calls := tokenServer(t, 200, `{}`)
	store := NewMemoryStore(&oauth2.Token{AccessToken: "a", RefreshToken: "refresh-1", Expiry: time.Now().Add(time.Hour)})
	m := NewManager(cfg, store, nil)

	tok, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRefreshPersistsNewToken(t *testing.T) {
	cfg, calls := tokenServer(t, 200, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	store := NewMemoryStore(&oauth2.Token{AccessToken: "a", RefreshToken: "refresh-1", Expiry: time.Now().Add(time.Hour)})
	m := NewManager(cfg, store, nil)

	tok, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, store.Saves())

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)

	// 刷新后的令牌直接可用
	again, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", again.AccessToken)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExpiredTokenRefreshesOnDemand(t *testing.T) {
	cfg, calls := tokenServer(t, 200, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	store := NewMemoryStore(&oauth2.Token{AccessToken: "old", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Hour)})
	m := NewManager(cfg, store, nil)

	tok, err := m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefreshRejected(t *testing.T) {
	cfg, _ := tokenServer(t, 400, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	store := NewMemoryStore(&oauth2.Token{AccessToken: "a", RefreshToken: "refresh-1"})
	m := NewManager(cfg, store, nil)

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.Equal(t, 0, store.Saves())
}

func TestMissingToken(t *testing.T) {
	m := NewManager(&oauth2.Config{}, NewMemoryStore(nil), nil)

	_, err := m.GetToken(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestKeyringStoreFileBackend(t *testing.T) {
	store, err := NewKeyringStore(KeyringConfig{
		Key:          "test-token",
		FileDir:      t.TempDir(),
		FilePassword: "test-pass",
		FileOnly:     true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, store.Save(ctx, &oauth2.Token{AccessToken: "a", RefreshToken: "r"}))
	tok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r", tok.RefreshToken)
}
