// Package secrets seals stored OAuth tokens with AES-256-GCM.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyFileName    = "master.key"
	keyringService = "actiongate.tokens"
	keyringUser    = "master-key"
)

// Key backends accepted by LoadOrCreateMasterKey.
const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendAuto    = "auto"
)

type encryptedBlob struct {
	Version    string `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Box seals and opens blobs with a fixed key.
type Box struct {
	key []byte
}

// NewBox returns a Box for a 32-byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid master key length: %d", len(key))
	}
	return &Box{key: key}, nil
}

// OpenBox loads (or creates) the master key from backend and wraps it in a Box.
func OpenBox(backend, dir string) (*Box, error) {
	key, err := LoadOrCreateMasterKey(backend, dir)
	if err != nil {
		return nil, err
	}
	return NewBox(key)
}

// Seal encrypts plain.
func (b *Box) Seal(plain []byte) ([]byte, error) {
	return EncryptBlobWithKey(plain, b.key)
}

// Open decrypts data sealed by Seal.
func (b *Box) Open(data []byte) ([]byte, error) {
	return DecryptBlobWithKey(data, b.key)
}

// EncryptBlobWithKey encrypts plain bytes using the given 32-byte AES key.
func EncryptBlobWithKey(plain, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := encryptedBlob{
		Version:    "v1",
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}
	return json.Marshal(out)
}

// DecryptBlobWithKey decrypts an encrypted blob using the given 32-byte AES key.
// Plaintext that is not a sealed envelope is returned as-is.
func DecryptBlobWithKey(data, key []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty encrypted blob")
	}
	var wrapped encryptedBlob
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return data, nil
	}
	if wrapped.Version == "" || wrapped.Nonce == "" || wrapped.Ciphertext == "" {
		return data, nil
	}
	if wrapped.Version != "v1" {
		return nil, fmt.Errorf("unsupported blob version: %s", wrapped.Version)
	}
	nonce, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(wrapped.Nonce))
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(wrapped.Ciphertext))
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// LoadOrCreateMasterKey returns the 32-byte master key.
// Priority: ACTIONGATE_MASTER_KEY env, then the configured backend.
// The auto backend tries the OS keyring and falls back to a key file in dir.
func LoadOrCreateMasterKey(backend, dir string) ([]byte, error) {
	if envKey := strings.TrimSpace(os.Getenv("ACTIONGATE_MASTER_KEY")); envKey != "" {
		key, err := DecodeMasterKey(envKey)
		if err != nil {
			return nil, fmt.Errorf("invalid ACTIONGATE_MASTER_KEY: %w", err)
		}
		return key, nil
	}
	switch backend {
	case BackendKeyring:
		return loadOrCreateKeyringKey()
	case BackendAuto:
		if key, err := loadOrCreateKeyringKey(); err == nil {
			return key, nil
		}
		return loadOrCreateFileKey(dir)
	default:
		return loadOrCreateFileKey(dir)
	}
}

// DecodeMasterKey base64-decodes a master key and validates its length (32 bytes).
func DecodeMasterKey(raw string) ([]byte, error) {
	decoded, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("invalid master key length: %d", len(decoded))
	}
	return decoded, nil
}

func newMasterKey() ([]byte, string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, "", err
	}
	return key, base64.RawStdEncoding.EncodeToString(key), nil
}

func loadOrCreateKeyringKey() ([]byte, error) {
	if val, err := keyring.Get(keyringService, keyringUser); err == nil {
		return DecodeMasterKey(val)
	}
	key, encoded, err := newMasterKey()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(keyringService, keyringUser, encoded); err != nil {
		return nil, err
	}
	return key, nil
}

func loadOrCreateFileKey(dir string) ([]byte, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	keyPath := filepath.Join(dir, keyFileName)
	if data, err := os.ReadFile(keyPath); err == nil {
		return DecodeMasterKey(string(data))
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	key, encoded, err := newMasterKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
