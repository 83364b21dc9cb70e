package keyring

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T, name, email string) *Ring {
	t.Helper()
	dir := t.TempDir()
	r, err := Load(filepath.Join(dir, "metadata.key"), filepath.Join(dir, "contacts"), name, email)
	require.NoError(t, err)
	return r
}

func TestLoadGeneratesAndPersistsKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "metadata.key")

	r1, err := Load(keyPath, filepath.Join(dir, "contacts"), "Gateway", "meta@example.com")
	require.NoError(t, err)
	fp1 := r1.Fingerprint()

	r2, err := Load(keyPath, filepath.Join(dir, "contacts"), "Gateway", "meta@example.com")
	require.NoError(t, err)
	require.Equal(t, fp1, r2.Fingerprint(), "reloading an existing key must not regenerate it")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice := newTestRing(t, "Alice Gateway", "meta-alice@example.com")
	bob := newTestRing(t, "Bob Gateway", "meta-bob@example.com")

	bobPub, err := bob.PublicArmor()
	require.NoError(t, err)
	require.NoError(t, alice.Contacts().Import("meta-bob@example.com", bobPub))

	alicePub, err := alice.PublicArmor()
	require.NoError(t, err)
	require.NoError(t, bob.Contacts().Import("meta-alice@example.com", alicePub))

	plaintext := []byte("bundled and padded payload")
	ciphertext, err := alice.Encrypt("meta-bob@example.com", plaintext)
	require.NoError(t, err)
	require.NotContains(t, string(ciphertext), "bundled and padded")

	decrypted, signer, err := bob.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
	require.NotNil(t, signer)
	require.Equal(t, alice.Fingerprint(), fmt.Sprintf("%X", signer.PrimaryKey.Fingerprint))
}

func TestContactVerificationLifecycle(t *testing.T) {
	r := newTestRing(t, "Gateway", "meta@example.com")
	require.False(t, r.Contacts().Has("meta-peer@example.com"))

	_, _, err := r.Contacts().Get("meta-peer@example.com")
	require.ErrorIs(t, err, ErrUnknownContact)

	pub, err := r.PublicArmor()
	require.NoError(t, err)
	require.NoError(t, r.Contacts().Import("meta-peer@example.com", pub))

	_, verified, err := r.Contacts().Get("meta-peer@example.com")
	require.NoError(t, err)
	require.False(t, verified)

	require.NoError(t, r.Contacts().MarkVerified("meta-peer@example.com"))
	_, verified, err = r.Contacts().Get("meta-peer@example.com")
	require.NoError(t, err)
	require.True(t, verified)
}
