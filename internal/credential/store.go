package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// AuthMethod identifies how a provider is authenticated.
type AuthMethod string

const (
	AuthMethodAPIKey      AuthMethod = "api_key"
	AuthMethodOAuthToken  AuthMethod = "oauth_token"
	AuthMethodSessionToken AuthMethod = "session_token"
	AuthMethodADC         AuthMethod = "adc"
)

// ProviderCredential is one provider's stored credential entry.
type ProviderCredential struct {
	AuthMethod   AuthMethod `json:"auth_method"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresUnix  int64      `json:"expires_unix,omitempty"`
	Revoked      bool       `json:"revoked,omitempty"`
}

// IntegrationCredential is one external-integration (Slack/GitHub/...)
// stored secret.
type IntegrationCredential struct {
	Secret      string `json:"secret,omitempty"`
	Revoked     bool   `json:"revoked,omitempty"`
	UpdatedUnix int64  `json:"updated_unix,omitempty"`
}

// storeFile is the on-disk JSON shape; Secret/AccessToken/RefreshToken
// fields hold either plaintext or "enc:v1:..." ciphertext.
type storeFile struct {
	SchemaVersion int                               `json:"schema_version"`
	Providers     map[string]ProviderCredential      `json:"providers"`
	Integrations  map[string]IntegrationCredential   `json:"integrations"`
}

// Store loads/saves the credential file and transparently
// encrypts/decrypts secret fields with the configured passphrase. An empty
// passphrase means secrets are stored in plaintext (None mode).
type Store struct {
	path       string
	passphrase string
}

// NewStore builds a Store backed by path, encrypting secret fields with
// passphrase (pass "" to store plaintext).
func NewStore(path, passphrase string) *Store {
	return &Store{path: path, passphrase: passphrase}
}

// Load reads and decrypts the store file. A missing file yields an empty
// store, not an error.
func (s *Store) Load() (*storeFile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &storeFile{SchemaVersion: schemaVersion, Providers: map[string]ProviderCredential{}, Integrations: map[string]IntegrationCredential{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credential: reading store: %w", err)
	}
	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("credential: parsing store: %w", err)
	}
	if file.SchemaVersion != schemaVersion {
		return nil, fmt.Errorf("credential: unsupported schema version %d", file.SchemaVersion)
	}
	if file.Providers == nil {
		file.Providers = map[string]ProviderCredential{}
	}
	if file.Integrations == nil {
		file.Integrations = map[string]IntegrationCredential{}
	}

	for name, cred := range file.Providers {
		if s.passphrase != "" {
			access, err := Decrypt(s.passphrase, cred.AccessToken)
			if err != nil {
				return nil, fmt.Errorf("credential: decrypting access token for %s: %w", name, err)
			}
			cred.AccessToken = access
			if cred.RefreshToken != "" {
				refresh, err := Decrypt(s.passphrase, cred.RefreshToken)
				if err != nil {
					return nil, fmt.Errorf("credential: decrypting refresh token for %s: %w", name, err)
				}
				cred.RefreshToken = refresh
			}
			file.Providers[name] = cred
		}
	}
	for name, cred := range file.Integrations {
		if s.passphrase != "" && cred.Secret != "" {
			secret, err := Decrypt(s.passphrase, cred.Secret)
			if err != nil {
				return nil, fmt.Errorf("credential: decrypting secret for %s: %w", name, err)
			}
			cred.Secret = secret
			file.Integrations[name] = cred
		}
	}
	return &file, nil
}

// Save encrypts secret fields (if a passphrase is configured) and writes
// the store atomically (write to a temp file, then rename).
func (s *Store) Save(file *storeFile) error {
	out := storeFile{
		SchemaVersion: schemaVersion,
		Providers:     map[string]ProviderCredential{},
		Integrations:  map[string]IntegrationCredential{},
	}
	for name, cred := range file.Providers {
		encoded := cred
		if s.passphrase != "" {
			if cred.AccessToken != "" {
				access, err := Encrypt(s.passphrase, cred.AccessToken)
				if err != nil {
					return fmt.Errorf("credential: encrypting access token for %s: %w", name, err)
				}
				encoded.AccessToken = access
			}
			if cred.RefreshToken != "" {
				refresh, err := Encrypt(s.passphrase, cred.RefreshToken)
				if err != nil {
					return fmt.Errorf("credential: encrypting refresh token for %s: %w", name, err)
				}
				encoded.RefreshToken = refresh
			}
		}
		out.Providers[name] = encoded
	}
	for name, cred := range file.Integrations {
		encoded := cred
		if s.passphrase != "" && cred.Secret != "" {
			secret, err := Encrypt(s.passphrase, cred.Secret)
			if err != nil {
				return fmt.Errorf("credential: encrypting secret for %s: %w", name, err)
			}
			encoded.Secret = secret
		}
		out.Integrations[name] = encoded
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: marshaling store: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("credential: creating store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("credential: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credential: writing temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("credential: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credential: closing temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// ProviderNames returns the sorted list of providers with a stored entry.
func (f *storeFile) ProviderNames() []string {
	names := make([]string, 0, len(f.Providers))
	for name := range f.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
