package credential

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

var testKey = []byte("test-encryption-key-32-bytes!!ab")

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), testKey)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestFileStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)

	cred := Credential{
		Endpoint:  "localhost:9000",
		UserID:    "admin",
		Password:  "hunter2",
		CreatedAt: time.Now(),
	}
	if err := store.Save(cred); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get("LocalHost:9000/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "admin" || got.Password != "hunter2" {
		t.Errorf("Get = %+v", got)
	}
	if got.Endpoint != "localhost:9000" {
		t.Errorf("Endpoint = %q, want normalized", got.Endpoint)
	}
}

func TestFileStore_FileIsEncrypted(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(Credential{Endpoint: "srv:9000", UserID: "admin", Password: "plain-secret"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(store.path("srv:9000"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) == "" || bytes.Contains(data, []byte("plain-secret")) {
		t.Error("credential file should not contain the password in clear text")
	}
	info, err := os.Stat(store.path("srv:9000"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 0600", info.Mode().Perm())
	}
}

func TestFileStore_SaveRequiresEndpoint(t *testing.T) {
	if err := newTestStore(t).Save(Credential{UserID: "admin"}); err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestFileStore_Delete(t *testing.T) {
	store := newTestStore(t)
	store.Save(Credential{Endpoint: "srv:9000", UserID: "admin", Password: "pw"})

	if err := store.Delete("srv:9000"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get("srv:9000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete("srv:9000"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestFileStore_WrongKey(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir, testKey)
	store.Save(Credential{Endpoint: "srv:9000", UserID: "admin", Password: "pw"})

	other, err := NewFileStore(dir, []byte("another-encryption-key-32-bytes!"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_, err = other.Get("srv:9000")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get with wrong key = %v, want decryption error", err)
	}
}

func TestFileStore_SwappedFile(t *testing.T) {
	store := newTestStore(t)
	store.Save(Credential{Endpoint: "a:1", UserID: "a", Password: "pw"})

	if err := os.Rename(store.path("a:1"), store.path("b:2")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get("b:2"); err == nil {
		t.Error("expected error for a file holding another endpoint")
	}
}

func TestFileStore_List(t *testing.T) {
	store := newTestStore(t)

	creds, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(creds) != 0 {
		t.Errorf("List() = %d credentials, want 0", len(creds))
	}

	store.Save(Credential{Endpoint: "zeta:9000", UserID: "z"})
	store.Save(Credential{Endpoint: "alpha:9000", UserID: "a"})
	os.WriteFile(filepath.Join(store.dir, "junk.enc"), []byte("garbage"), 0o600)

	creds, err = store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("List() = %d credentials, want 2", len(creds))
	}
	if creds[0].Endpoint != "alpha:9000" || creds[1].Endpoint != "zeta:9000" {
		t.Errorf("List() order = %s, %s", creds[0].Endpoint, creds[1].Endpoint)
	}
}

func TestNewFileStore_InvalidKeyLength(t *testing.T) {
	if _, err := NewFileStore(t.TempDir(), []byte("short-key")); err == nil {
		t.Error("expected error for invalid key length")
	}
}

func TestOpen(t *testing.T) {
	keyring.MockInit()
	base := t.TempDir()

	store, err := Open(base)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Save(Credential{Endpoint: "srv:9000", UserID: "admin", Password: "pw"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := Open(base)
	if err != nil {
		t.Fatalf("Open again: %v", err)
	}
	got, err := reopened.Get("srv:9000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Password != "pw" {
		t.Errorf("Password = %q", got.Password)
	}
	if _, err := os.Stat(StoreDir(base)); err != nil {
		t.Errorf("store dir missing: %v", err)
	}
}
