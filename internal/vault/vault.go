// Package vault manages the master-key lifecycle and AEAD encryption for
// credential values. Key material lives in two owner-only files inside the
// data directory; the working key is derived with PBKDF2-SHA256 and held in
// a wipeable byte buffer.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFile  = "master.key"
	saltFile = "key.salt"

	keySize   = 32
	saltSize  = 32
	ivSize    = 12
	tagSize   = 16
	kdfRounds = 100_000
)

var (
	// ErrNotInitialized is returned when encrypt/decrypt is called before
	// Initialize or after ClearKey.
	ErrNotInitialized = errors.New("vault not initialized")

	// ErrDecryptFailed is returned on authentication failure or corrupt
	// ciphertext.
	ErrDecryptFailed = errors.New("decrypt failed: invalid key or corrupted data")
)

// Vault fronts the derived symmetric key. Safe for concurrent use; the
// read lock guards against a concurrent ClearKey.
type Vault struct {
	dataDir string

	mu  sync.RWMutex
	key []byte
}

// New creates a vault rooted at dataDir. Initialize must be called before
// any cryptographic operation.
func New(dataDir string) *Vault {
	return &Vault{dataDir: dataDir}
}

// Initialize ensures the data directory exists (0700), generates master key
// and salt files on first use (0400), and derives the working key.
func (v *Vault) Initialize() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(v.dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	master, err := loadOrCreateKeyFile(filepath.Join(v.dataDir, keyFile), keySize)
	if err != nil {
		return fmt.Errorf("master key: %w", err)
	}
	defer wipe(master)

	salt, err := loadOrCreateKeyFile(filepath.Join(v.dataDir, saltFile), saltSize)
	if err != nil {
		return fmt.Errorf("key salt: %w", err)
	}
	defer wipe(salt)

	v.key = pbkdf2.Key(master, salt, kdfRounds, keySize, sha256.New)
	slog.Info("vault initialized", "dir", v.dataDir)
	return nil
}

// Encrypt seals plaintext with AES-256-GCM and a fresh random IV.
// The returned blob is base64 of IV(12) || TAG(16) || CIPHERTEXT.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	gcm, err := v.aeadLocked()
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, ivSize+tagSize+len(ct))
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. The caller owns the returned
// buffer and should wipe it when done.
func (v *Vault) Decrypt(encoded string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	gcm, err := v.aeadLocked()
	if err != nil {
		return nil, err
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	if len(blob) < ivSize+tagSize {
		return nil, ErrDecryptFailed
	}

	iv := blob[:ivSize]
	tag := blob[ivSize : ivSize+tagSize]
	ct := blob[ivSize+tagSize:]

	// GCM expects ciphertext || tag.
	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// Verify round-trips a probe value and reports whether the vault works.
func (v *Vault) Verify() bool {
	probe := []byte("vault-probe")
	blob, err := v.Encrypt(probe)
	if err != nil {
		return false
	}
	got, err := v.Decrypt(blob)
	if err != nil {
		return false
	}
	defer wipe(got)
	return subtle.ConstantTimeCompare(probe, got) == 1
}

// ClearKey zero-fills the derived key and drops it. Subsequent operations
// fail with ErrNotInitialized until Initialize is called again.
func (v *Vault) ClearKey() {
	v.mu.Lock()
	defer v.mu.Unlock()
	wipe(v.key)
	v.key = nil
}

func (v *Vault) aeadLocked() (cipher.AEAD, error) {
	if v.key == nil {
		return nil, ErrNotInitialized
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func loadOrCreateKeyFile(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != size {
			return nil, fmt.Errorf("%s: expected %d bytes, got %d", filepath.Base(path), size, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	data = make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o400); err != nil {
		return nil, err
	}
	slog.Info("key material generated", "file", filepath.Base(path))
	return data, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
