package vault

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v := New(t.TempDir())
	if err := v.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)

	plaintext := []byte("super-secret-token")
	blob, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := v.Decrypt(blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestEncryptProducesFreshIV(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.Encrypt([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestBlobLayout(t *testing.T) {
	v := newTestVault(t)

	blob, err := v.Encrypt([]byte("xyz"))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("blob is not base64: %v", err)
	}
	if want := ivSize + tagSize + 3; len(raw) != want {
		t.Errorf("blob length = %d, want %d (iv+tag+ct)", len(raw), want)
	}
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	v := newTestVault(t)

	blob, err := v.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(blob)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := v.Decrypt(tampered); err != ErrDecryptFailed {
		t.Errorf("decrypt tampered = %v, want ErrDecryptFailed", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	v := newTestVault(t)

	for _, blob := range []string{"", "not base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := v.Decrypt(blob); err != ErrDecryptFailed {
			t.Errorf("Decrypt(%q) = %v, want ErrDecryptFailed", blob, err)
		}
	}
}

func TestKeyPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	v1 := New(dir)
	if err := v1.Initialize(); err != nil {
		t.Fatal(err)
	}
	blob, err := v1.Encrypt([]byte("durable"))
	if err != nil {
		t.Fatal(err)
	}
	v1.ClearKey()

	v2 := New(dir)
	if err := v2.Initialize(); err != nil {
		t.Fatal(err)
	}
	got, err := v2.Decrypt(blob)
	if err != nil {
		t.Fatalf("decrypt with re-derived key: %v", err)
	}
	if string(got) != "durable" {
		t.Errorf("got %q, want %q", got, "durable")
	}
}

func TestKeyFilePermissions(t *testing.T) {
	dir := t.TempDir()
	v := New(dir)
	if err := v.Initialize(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{keyFile, saltFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if perm := info.Mode().Perm(); perm != 0o400 {
			t.Errorf("%s permissions = %o, want 0400", name, perm)
		}
	}
}

func TestClearKey(t *testing.T) {
	v := newTestVault(t)
	v.ClearKey()

	if _, err := v.Encrypt([]byte("x")); err != ErrNotInitialized {
		t.Errorf("encrypt after ClearKey = %v, want ErrNotInitialized", err)
	}
	if v.Verify() {
		t.Error("Verify returned true after ClearKey")
	}
}

func TestVerify(t *testing.T) {
	v := newTestVault(t)
	if !v.Verify() {
		t.Error("Verify returned false on a healthy vault")
	}
}
