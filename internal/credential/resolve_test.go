package credential

import (
	"path/filepath"
	"testing"
)

func TestResolveAPIKeyFromEnv(t *testing.T) {
	t.Setenv("PI_TEST_API_KEY", "sk-test-123")
	r := NewResolver(nil, func() int64 { return 1000 })
	cred, snap := r.Resolve("openai", AuthMethodAPIKey, "PI_TEST_API_KEY", "")
	if snap.State != StateReady || !snap.Available {
		t.Fatalf("expected ready, got %+v", snap)
	}
	if cred.Secret != "sk-test-123" {
		t.Fatalf("got %q", cred.Secret)
	}
}

func TestResolveMissingAPIKey(t *testing.T) {
	t.Setenv("PI_TEST_API_KEY_MISSING", "")
	r := NewResolver(nil, func() int64 { return 1000 })
	_, snap := r.Resolve("openai", AuthMethodAPIKey, "PI_TEST_API_KEY_MISSING", "")
	if snap.State != StateMissingAPIKey {
		t.Fatalf("got %+v", snap)
	}
}

func TestResolveStoreBackedExpiredRefreshesAndPersists(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "creds.json"), "")
	file, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	file.Providers["anthropic"] = ProviderCredential{
		AuthMethod:   AuthMethodOAuthToken,
		AccessToken:  "old-access",
		RefreshToken: "valid-refresh-token",
		ExpiresUnix:  500,
	}
	if err := store.Save(file); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(store, func() int64 { return 1000 })
	cred, snap := r.Resolve("anthropic", AuthMethodOAuthToken, "PI_TEST_UNSET_VAR", "")
	if snap.State != StateReady {
		t.Fatalf("expected ready after refresh, got %+v", snap)
	}
	if cred.Secret == "old-access" {
		t.Fatal("expected a refreshed access token")
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Providers["anthropic"].AccessToken == "old-access" {
		t.Fatal("expected persisted refresh to update the stored access token")
	}
}

func TestResolveStoreBackedRevokedRefreshToken(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "creds.json"), "")
	file, _ := store.Load()
	file.Providers["anthropic"] = ProviderCredential{
		AuthMethod:   AuthMethodOAuthToken,
		AccessToken:  "old-access",
		RefreshToken: "revoked-token",
		ExpiresUnix:  500,
	}
	_ = store.Save(file)

	r := NewResolver(store, func() int64 { return 1000 })
	_, snap := r.Resolve("anthropic", AuthMethodOAuthToken, "PI_TEST_UNSET_VAR", "")
	if snap.State != StateRevoked {
		t.Fatalf("expected revoked, got %+v", snap)
	}
}

func TestResolveMissingCredentialStore(t *testing.T) {
	r := NewResolver(nil, func() int64 { return 1000 })
	_, snap := r.Resolve("anthropic", AuthMethodOAuthToken, "PI_TEST_UNSET_VAR_2", "")
	if snap.State != StateMissingCredentialStore {
		t.Fatalf("got %+v", snap)
	}
}
