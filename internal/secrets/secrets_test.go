package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestManager builds a Manager rooted at a fresh temp dir. The 99designs/
// keyring backend has no usable OS keychain in a test sandbox, so key
// acquisition always falls through to the sibling .master_key file path.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)
	return m
}

func TestSetGet_RoundTrip(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Set("nyx", "api_key", "sk-super-secret"))

	value, ok := m.Get("nyx", "api_key")
	require.True(t, ok)
	require.Equal(t, "sk-super-secret", value)
}

func TestGet_UnknownKeyMisses(t *testing.T) {
	m := newTestManager(t)
	_, ok := m.Get("nyx", "missing")
	require.False(t, ok)
}

func TestHas_ReflectsPresenceWithoutDecrypting(t *testing.T) {
	m := newTestManager(t)
	require.False(t, m.Has("nyx", "api_key"))
	require.NoError(t, m.Set("nyx", "api_key", "value"))
	require.True(t, m.Has("nyx", "api_key"))
}

func TestListKeys(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Set("nyx", "a", "1"))
	require.NoError(t, m.Set("nyx", "b", "2"))

	keys := m.ListKeys("nyx")
	require.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestCiphertextOnDiskNeverContainsPlaintext(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	const plaintext = "correct-horse-battery-staple"
	require.NoError(t, m.Set("nyx", "password", plaintext))

	raw, err := os.ReadFile(filepath.Join(dir, "nyx.yaml"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), plaintext)
}

func TestSecretsFilePermissions(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, m.Set("nyx", "key", "value"))

	info, err := os.Stat(filepath.Join(dir, "nyx.yaml"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadPlaintextSecrets_EncryptsEachValue(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.LoadPlaintextSecrets("nyx", map[string]string{
		"token":  "abc",
		"secret": "xyz",
	}))

	v, ok := m.Get("nyx", "token")
	require.True(t, ok)
	require.Equal(t, "abc", v)
}

func TestNew_PersistsMasterKeyAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	m1, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, m1.Set("nyx", "key", "value"))

	m2, err := New(dir)
	require.NoError(t, err)
	v, ok := m2.Get("nyx", "key")
	require.True(t, ok)
	require.Equal(t, "value", v)
}
