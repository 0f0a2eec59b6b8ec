// Package secrets implements the per-identity encrypted secret store: a
// ChaCha20-Poly1305 AEAD cipher over a master key held either in the OS
// credential store or a sibling file, with an in-memory plaintext cache.
//
// Invariant (never relaxed): if the master key cannot be recovered from
// either source AND an encrypted secrets file already exists on disk, the
// manager fails to construct rather than silently generating a new key —
// that would permanently orphan the existing ciphertexts.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/99designs/keyring"
	"github.com/overblick/agentcore/pkg/contracts"
	"golang.org/x/crypto/chacha20poly1305"
	"gopkg.in/yaml.v3"
)

const keyringService = "overblick-secrets"

// ErrMasterKeyUnrecoverable is wrapped into the error New returns when the
// master key invariant trips: no keyring entry, no .master_key file, and
// encrypted secrets already on disk.
var ErrMasterKeyUnrecoverable = fmt.Errorf("master key unrecoverable")

// Manager is the concrete implementation of contracts.SecretsManager.
type Manager struct {
	secretsDir string
	masterKey  []byte

	mu    sync.RWMutex
	cache map[string]string // "identity:key" -> plaintext
}

var _ contracts.SecretsManager = (*Manager)(nil)

// New constructs a Manager rooted at secretsDir, acquiring (or generating)
// the master key per the order documented on the package.
func New(secretsDir string) (*Manager, error) {
	if err := os.MkdirAll(secretsDir, 0700); err != nil {
		return nil, fmt.Errorf("creating secrets dir: %w", err)
	}

	key, err := acquireMasterKey(secretsDir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		secretsDir: secretsDir,
		masterKey:  key,
		cache:      make(map[string]string),
	}, nil
}

func acquireMasterKey(secretsDir string) ([]byte, error) {
	if key, err := keyFromKeyring(); err == nil {
		return key, nil
	}

	keyFile := filepath.Join(secretsDir, ".master_key")
	if data, err := os.ReadFile(keyFile); err == nil {
		key, decodeErr := base64.StdEncoding.DecodeString(string(data))
		if decodeErr == nil && len(key) == chacha20poly1305.KeySize {
			return key, nil
		}
	}

	if anyEncryptedFileExists(secretsDir) {
		return nil, fmt.Errorf("%w: no keyring entry, no .master_key file, "+
			"but encrypted secrets already exist on disk; refusing to generate a new key, "+
			"which would permanently orphan existing ciphertexts", ErrMasterKeyUnrecoverable)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}

	if err := persistToKeyring(key); err != nil {
		encoded := base64.StdEncoding.EncodeToString(key)
		if err := os.WriteFile(keyFile, []byte(encoded), 0600); err != nil {
			return nil, fmt.Errorf("persisting master key: %w", err)
		}
	}

	return key, nil
}

func keyFromKeyring() ([]byte, error) {
	ring, err := keyring.Open(keyring.Config{ServiceName: keyringService})
	if err != nil {
		return nil, err
	}
	item, err := ring.Get("master_key")
	if err != nil {
		return nil, err
	}
	if len(item.Data) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("stored master key has wrong length")
	}
	return item.Data, nil
}

func persistToKeyring(key []byte) error {
	ring, err := keyring.Open(keyring.Config{ServiceName: keyringService})
	if err != nil {
		return err
	}
	return ring.Set(keyring.Item{
		Key:  "master_key",
		Data: key,
	})
}

func anyEncryptedFileExists(secretsDir string) bool {
	entries, err := os.ReadDir(secretsDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".yaml" {
			return true
		}
	}
	return false
}

func (m *Manager) filePath(identity string) string {
	return filepath.Join(m.secretsDir, identity+".yaml")
}

func (m *Manager) loadFile(identity string) (map[string]string, error) {
	data, err := os.ReadFile(m.filePath(identity))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string]string
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

func (m *Manager) writeFile(identity string, ciphertexts map[string]string) error {
	data, err := yaml.Marshal(ciphertexts)
	if err != nil {
		return err
	}
	tmp := m.filePath(identity) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, m.filePath(identity))
}

// Get returns the decrypted value for (identity, key), using the
// in-memory cache when possible.
func (m *Manager) Get(identity, key string) (string, bool) {
	cacheKey := identity + ":" + key
	m.mu.RLock()
	if v, ok := m.cache[cacheKey]; ok {
		m.mu.RUnlock()
		return v, true
	}
	m.mu.RUnlock()

	ciphertexts, err := m.loadFile(identity)
	if err != nil {
		return "", false
	}
	ct, ok := ciphertexts[key]
	if !ok {
		return "", false
	}
	plaintext, err := decrypt(m.masterKey, ct)
	if err != nil {
		return "", false
	}

	m.mu.Lock()
	m.cache[cacheKey] = plaintext
	m.mu.Unlock()
	return plaintext, true
}

// Set encrypts value and writes it to disk, updating the cache atomically
// with the file write.
func (m *Manager) Set(identity, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ciphertexts, err := m.loadFile(identity)
	if err != nil {
		return err
	}
	ct, err := encrypt(m.masterKey, value)
	if err != nil {
		return err
	}
	ciphertexts[key] = ct
	if err := m.writeFile(identity, ciphertexts); err != nil {
		return err
	}

	m.cache[identity+":"+key] = value
	return nil
}

// Has reports whether a key exists for identity, without decrypting it.
func (m *Manager) Has(identity, key string) bool {
	ciphertexts, err := m.loadFile(identity)
	if err != nil {
		return false
	}
	_, ok := ciphertexts[key]
	return ok
}

// ListKeys returns the key names stored for identity.
func (m *Manager) ListKeys(identity string) []string {
	ciphertexts, err := m.loadFile(identity)
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(ciphertexts))
	for k := range ciphertexts {
		keys = append(keys, k)
	}
	return keys
}

// LoadPlaintextSecrets imports a batch of plaintext values during
// onboarding/migration, encrypting each as it is written.
func (m *Manager) LoadPlaintextSecrets(identity string, values map[string]string) error {
	for k, v := range values {
		if err := m.Set(identity, k, v); err != nil {
			return fmt.Errorf("loading plaintext secret %q: %w", k, err)
		}
	}
	return nil
}

func encrypt(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decrypt(key []byte, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}
