package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/majorcontext/eccs-e2e/internal/credential/keyring"
)

// FileStore implements Store using AES-256-GCM encrypted files.
type FileStore struct {
	dir    string
	cipher cipher.AEAD
}

// NewFileStore creates a file-based credential store.
// key must be 32 bytes for AES-256.
func NewFileStore(dir string, key []byte) (*FileStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating credential dir: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &FileStore{dir: dir, cipher: gcm}, nil
}

// Open returns the store under base, unlocking it with the key from the
// keychain (created on first use).
func Open(base string) (*FileStore, error) {
	key, err := keyring.GetOrCreateKey(base)
	if err != nil {
		return nil, fmt.Errorf("loading credential key: %w", err)
	}
	return NewFileStore(StoreDir(base), key)
}

// StoreDir returns the credentials directory under base.
func StoreDir(base string) string {
	return filepath.Join(base, "credentials")
}

// NormalizeEndpoint lowercases endpoint and strips a trailing slash so
// "Host:9000/" and "host:9000" share a credential.
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(endpoint)), "/")
}

func (s *FileStore) path(endpoint string) string {
	sum := sha256.Sum256([]byte(NormalizeEndpoint(endpoint)))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:8])+".enc")
}

// Save stores a credential encrypted on disk, replacing any previous one
// for the same endpoint.
func (s *FileStore) Save(cred Credential) error {
	cred.Endpoint = NormalizeEndpoint(cred.Endpoint)
	if cred.Endpoint == "" {
		return fmt.Errorf("credential has no endpoint")
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}

	nonce := make([]byte, s.cipher.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.cipher.Seal(nonce, nonce, data, nil)
	if err := os.WriteFile(s.path(cred.Endpoint), sealed, 0o600); err != nil {
		return fmt.Errorf("writing credential file: %w", err)
	}
	return nil
}

// Get retrieves the credential for endpoint.
func (s *FileStore) Get(endpoint string) (*Credential, error) {
	endpoint = NormalizeEndpoint(endpoint)
	sealed, err := os.ReadFile(s.path(endpoint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w for %s", ErrNotFound, endpoint)
		}
		return nil, fmt.Errorf("reading credential file: %w", err)
	}
	cred, err := s.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypting credential for %s: %w\n"+
			"  The encryption key may have changed.\n"+
			"  To save the credentials again: eccs-e2e login --endpoint %s", endpoint, err, endpoint)
	}
	if cred.Endpoint != endpoint {
		return nil, fmt.Errorf("credential file for %s holds %s", endpoint, cred.Endpoint)
	}
	return cred, nil
}

func (s *FileStore) open(sealed []byte) (*Credential, error) {
	nonceSize := s.cipher.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("invalid credential file")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	data, err := s.cipher.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("unmarshaling credential: %w", err)
	}
	return &cred, nil
}

// Delete removes the credential for endpoint. Deleting a missing
// credential is not an error.
func (s *FileStore) Delete(endpoint string) error {
	if err := os.Remove(s.path(endpoint)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

// List returns every readable credential, sorted by endpoint. Files that
// fail to decrypt are skipped.
func (s *FileStore) List() ([]Credential, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading credential dir: %w", err)
	}

	creds := make([]Credential, 0, len(entries))
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".enc" {
			continue
		}
		sealed, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		cred, err := s.open(sealed)
		if err != nil {
			continue
		}
		creds = append(creds, *cred)
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].Endpoint < creds[j].Endpoint })
	return creds, nil
}
