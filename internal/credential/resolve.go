package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

func nowUnix() int64 { return time.Now().Unix() }

// State is one of the closed set of diagnostic snapshot states a provider's
// auth can be in, ported verbatim from the reference credential resolver.
type State string

const (
	StateReady                 State = "ready"
	StateUnsupportedMode        State = "unsupported_mode"
	StateMissingAPIKey          State = "missing_api_key"
	StateStoreError             State = "store_error"
	StateMissingCredentialStore State = "missing_credential_store"
	StateInvalidEnvExpires      State = "invalid_env_expires"
	StateExpiredEnvAccessToken  State = "expired_env_access_token"
	StateMissingCredential      State = "missing_credential"
	StateModeMismatch           State = "mode_mismatch"
	StateRevoked                State = "revoked"
	StateMissingAccessToken     State = "missing_access_token"
	StateExpiredRefreshPending  State = "expired_refresh_pending"
	StateExpired                State = "expired"
)

// Credential is a resolved, ready-to-use provider credential.
type Credential struct {
	Method      AuthMethod
	Secret      string
	Source      string // "env" or "credential_store"
	ExpiresUnix int64
	Refreshable bool
	Revoked     bool
}

// Snapshot is the diagnostic view of a provider's auth resolution outcome,
// used by the credential status CLI surface.
type Snapshot struct {
	Provider       string `json:"provider"`
	Method         AuthMethod `json:"method,omitempty"`
	ModeSupported  bool   `json:"mode_supported"`
	Available      bool   `json:"available"`
	State          State  `json:"state"`
	Source         string `json:"source,omitempty"`
	Reason         string `json:"reason,omitempty"`
	ExpiresUnix    int64  `json:"expires_unix,omitempty"`
	Revoked        bool   `json:"revoked,omitempty"`
	Refreshable    bool   `json:"refreshable,omitempty"`
}

// reauthRequiredError is returned when a refresh token is absent, revoked,
// or invalid and the caller must re-authenticate out of band.
func reauthRequiredError(provider string) error {
	return fmt.Errorf("credential: %s requires re-authentication", provider)
}

// RefreshedProviderCredential is the result of a successful token refresh.
type RefreshedProviderCredential struct {
	AccessToken  string
	RefreshToken string
	ExpiresUnix  int64
}

// RefreshProviderAccessToken deterministically refreshes an access token
// given a non-revoked, non-invalid refresh token, mirroring the reference
// implementation's test-friendly simulated refresh flow: fails if the
// refresh token is empty or begins with "revoked"/"invalid"; otherwise
// derives new tokens from a SHA-256 digest of a seed string.
func RefreshProviderAccessToken(provider, refreshToken string, nowUnix int64) (RefreshedProviderCredential, error) {
	if refreshToken == "" || strings.HasPrefix(refreshToken, "revoked") || strings.HasPrefix(refreshToken, "invalid") {
		return RefreshedProviderCredential{}, reauthRequiredError(provider)
	}
	seed := fmt.Sprintf("%s:%s:%d", provider, refreshToken, nowUnix)
	sum := sha256.Sum256([]byte(seed))
	digest := hex.EncodeToString(sum[:])
	return RefreshedProviderCredential{
		AccessToken:  fmt.Sprintf("%s_access_%s", provider, digest[:24]),
		RefreshToken: fmt.Sprintf("%s_refresh_%s", provider, digest[24:48]),
		ExpiresUnix:  nowUnix + 3600,
	}, nil
}

// Resolver resolves provider credentials env-first, falling back to the
// credential store, refreshing expired store-backed tokens as needed.
type Resolver struct {
	Store *Store
	Now   func() int64
}

// NewResolver builds a Resolver. now defaults to the wall clock if nil.
func NewResolver(store *Store, now func() int64) *Resolver {
	if now == nil {
		now = func() int64 { return nowUnix() }
	}
	return &Resolver{Store: store, Now: now}
}

// Resolve resolves one provider's credential for the requested auth method,
// trying environment variables first and the credential store second.
func (r *Resolver) Resolve(provider string, method AuthMethod, envAccessTokenVar, envExpiresVar string) (Credential, Snapshot) {
	snap := Snapshot{Provider: provider, Method: method, ModeSupported: true}

	if method == AuthMethodAPIKey {
		if key := os.Getenv(envAccessTokenVar); key != "" {
			snap.Available = true
			snap.State = StateReady
			snap.Source = "env"
			return Credential{Method: method, Secret: key, Source: "env"}, snap
		}
		snap.State = StateMissingAPIKey
		snap.Reason = fmt.Sprintf("environment variable %s is not set", envAccessTokenVar)
		return Credential{}, snap
	}

	if cred, ok, err := r.resolveEnvBacked(envAccessTokenVar, envExpiresVar); err != nil {
		snap.State = StateInvalidEnvExpires
		snap.Reason = err.Error()
		return Credential{}, snap
	} else if ok {
		snap.Available = true
		snap.State = StateReady
		snap.Source = "env"
		snap.ExpiresUnix = cred.ExpiresUnix
		return cred, snap
	}

	if r.Store == nil {
		snap.State = StateMissingCredentialStore
		snap.Reason = "no credential store configured"
		return Credential{}, snap
	}

	cred, state, reason := r.resolveStoreBacked(provider, method)
	snap.State = state
	snap.Reason = reason
	snap.Available = state == StateReady
	if snap.Available {
		snap.Source = "credential_store"
		snap.ExpiresUnix = cred.ExpiresUnix
		snap.Refreshable = cred.Refreshable
		snap.Revoked = cred.Revoked
	}
	return cred, snap
}

func (r *Resolver) resolveEnvBacked(accessVar, expiresVar string) (Credential, bool, error) {
	access := os.Getenv(accessVar)
	if access == "" {
		return Credential{}, false, nil
	}
	var expires int64
	if raw := os.Getenv(expiresVar); raw != "" {
		var err error
		expires, err = parseUnix(raw)
		if err != nil {
			return Credential{}, false, fmt.Errorf("invalid %s: %w", expiresVar, err)
		}
		if expires != 0 && expires <= r.Now() {
			return Credential{}, false, fmt.Errorf("environment access token expired at %d", expires)
		}
	}
	return Credential{Method: AuthMethodOAuthToken, Secret: access, Source: "env", ExpiresUnix: expires}, true, nil
}

func (r *Resolver) resolveStoreBacked(provider string, method AuthMethod) (Credential, State, string) {
	file, err := r.Store.Load()
	if err != nil {
		return Credential{}, StateStoreError, err.Error()
	}

	entry, ok := file.Providers[provider]
	if !ok {
		return Credential{}, StateMissingCredential, "no stored credential for provider"
	}
	if entry.AuthMethod != method {
		return Credential{}, StateModeMismatch, fmt.Sprintf("stored auth method %s does not match requested %s", entry.AuthMethod, method)
	}
	if entry.Revoked {
		return Credential{}, StateRevoked, "stored credential has been revoked"
	}

	now := r.Now()
	if entry.ExpiresUnix != 0 && entry.ExpiresUnix <= now {
		refreshed, err := RefreshProviderAccessToken(provider, entry.RefreshToken, now)
		if err != nil {
			if strings.Contains(err.Error(), "revoked") || strings.HasPrefix(entry.RefreshToken, "revoked") {
				entry.Revoked = true
				file.Providers[provider] = entry
				_ = r.Store.Save(file)
				return Credential{}, StateRevoked, "refresh token has been revoked"
			}
			return Credential{}, StateExpiredRefreshPending, err.Error()
		}
		entry.AccessToken = refreshed.AccessToken
		entry.RefreshToken = refreshed.RefreshToken
		entry.ExpiresUnix = refreshed.ExpiresUnix
		file.Providers[provider] = entry
		if err := r.Store.Save(file); err != nil {
			return Credential{}, StateStoreError, err.Error()
		}
	}

	if entry.AccessToken == "" {
		return Credential{}, StateMissingAccessToken, "stored credential has no access token"
	}

	return Credential{
		Method:      entry.AuthMethod,
		Secret:      entry.AccessToken,
		Source:      "credential_store",
		ExpiresUnix: entry.ExpiresUnix,
		Refreshable: entry.RefreshToken != "",
		Revoked:     entry.Revoked,
	}, StateReady, ""
}

func parseUnix(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
