// Package keyring stores the key that encrypts saved admin credentials.
//
// The key lives in the system keychain (macOS Keychain, Secret Service on
// Linux, Windows Credential Manager) when one is available, and otherwise
// in <dir>/encryption.key with mode 0600. Creation happens under a lock
// file in dir so concurrent first runs agree on one key.
//
// A key file with group or world permissions is refused: it may have been
// exposed and should be rotated with `eccs-e2e logout --all`.
package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName is the keychain service. ECCS_E2E_KEYRING_SERVICE
	// overrides it so tests never touch the real entry.
	ServiceName = "eccs-e2e"
	AccountName = "encryption-key"
	KeySize     = 32

	envService = "ECCS_E2E_KEYRING_SERVICE"
)

func serviceName() string {
	if name := os.Getenv(envService); name != "" {
		return name
	}
	return ServiceName
}

func encodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: expected %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Backend is one place a key can be kept.
type Backend interface {
	Get() ([]byte, error)
	// Set stores key unless a key is already present.
	Set(key []byte) error
	Delete() error
	Name() string
}

type keychainBackend struct{}

func (k *keychainBackend) Get() ([]byte, error) {
	encoded, err := keyring.Get(serviceName(), AccountName)
	if err != nil {
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	return decodeKey(encoded)
}

func (k *keychainBackend) Set(key []byte) error {
	if _, err := keyring.Get(serviceName(), AccountName); err == nil {
		return nil
	}
	if err := keyring.Set(serviceName(), AccountName, encodeKey(key)); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

func (k *keychainBackend) Delete() error {
	err := keyring.Delete(serviceName(), AccountName)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

func (k *keychainBackend) Name() string {
	return "system keychain"
}

type fileBackend struct {
	path string
}

// ErrInsecurePermissions is returned when the key file is readable by
// anyone but its owner.
var ErrInsecurePermissions = errors.New("key file has insecure permissions")

func (f *fileBackend) Get() ([]byte, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s has permissions %04o (expected 0600).\n"+
			"  The key may have been exposed. To fix:\n"+
			"  1. chmod 600 %s\n"+
			"  2. Re-save the admin credentials: eccs-e2e login",
			ErrInsecurePermissions, f.path, perm, f.path)
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return decodeKey(strings.TrimSpace(string(data)))
}

func (f *fileBackend) Set(key []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if _, err := os.Stat(f.path); err == nil {
		return nil
	}
	if err := os.WriteFile(f.path, []byte(encodeKey(key)), 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

func (f *fileBackend) Delete() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting key file: %w", err)
	}
	return nil
}

func (f *fileBackend) Name() string {
	return "file (" + f.path + ")"
}

// KeyFilePath is the fallback key file inside dir. A custom keychain
// service gets its own file.
func KeyFilePath(dir string) string {
	name := "encryption.key"
	if s := os.Getenv(envService); s != "" {
		name = s + ".key"
	}
	return filepath.Join(dir, name)
}

func generateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

func withKeyLock(dir string, fn func() ([]byte, error)) ([]byte, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	lf, err := os.OpenFile(filepath.Join(dir, "key.lock"), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating key lock file: %w", err)
	}
	defer lf.Close()

	unlock, err := lockFile(lf)
	if err != nil {
		return nil, fmt.Errorf("acquiring key lock: %w", err)
	}
	defer unlock()
	return fn()
}

func getOrCreate(primary, fallback Backend) ([]byte, error) {
	if key, err := primary.Get(); err == nil {
		return key, nil
	}
	if key, err := fallback.Get(); err == nil {
		return key, nil
	} else if errors.Is(err, ErrInsecurePermissions) {
		return nil, err
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}

	primaryErr := primary.Set(key)
	if primaryErr == nil {
		stored, err := primary.Get()
		if err != nil {
			return nil, fmt.Errorf("verifying key stored in %s: %w", primary.Name(), err)
		}
		return stored, nil
	}

	slog.Info("system keychain unavailable, using file-based key storage", "fallback", fallback.Name())
	if err := fallback.Set(key); err != nil {
		return nil, fmt.Errorf("storing encryption key failed.\n"+
			"  Keychain (%s): %v\n"+
			"  File (%s): %v",
			primary.Name(), primaryErr, fallback.Name(), err)
	}
	stored, err := fallback.Get()
	if err != nil {
		return nil, fmt.Errorf("verifying stored encryption key: %w", err)
	}
	return stored, nil
}

// GetOrCreateKey returns the encryption key, creating and storing one on
// first use. dir holds the lock and the fallback key file.
func GetOrCreateKey(dir string) ([]byte, error) {
	return withKeyLock(dir, func() ([]byte, error) {
		return getOrCreate(&keychainBackend{}, &fileBackend{path: KeyFilePath(dir)})
	})
}

// DeleteKey removes the key from both backends. It fails only if neither
// removal succeeded.
func DeleteKey(dir string) error {
	primaryErr := (&keychainBackend{}).Delete()
	fallbackErr := (&fileBackend{path: KeyFilePath(dir)}).Delete()
	if primaryErr != nil && fallbackErr != nil {
		return fmt.Errorf("deleting key from all backends: %w",
			errors.Join(fmt.Errorf("keychain: %w", primaryErr), fmt.Errorf("file: %w", fallbackErr)))
	}
	if primaryErr != nil {
		slog.Debug("keychain delete failed", "error", primaryErr)
	}
	return nil
}

// Location names where the key currently lives, for `eccs-e2e doctor`.
func Location(dir string) string {
	if _, err := (&keychainBackend{}).Get(); err == nil {
		return "system keychain"
	}
	if _, err := os.Stat(KeyFilePath(dir)); err == nil {
		return KeyFilePath(dir)
	}
	return ""
}
