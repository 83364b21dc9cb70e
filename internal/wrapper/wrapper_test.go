package wrapper

import (
	"path/filepath"
	"testing"

	"github.com/opaquemail/gateway/internal/bundler"
	"github.com/opaquemail/gateway/internal/keyring"
	"github.com/opaquemail/gateway/internal/packet"
	"github.com/stretchr/testify/require"
)

func TestWrapProducesMetadataOnlyEnvelope(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	local, err := keyring.Load(filepath.Join(dirA, "k.key"), filepath.Join(dirA, "contacts"), "local", "metadata@local.test")
	require.NoError(t, err)
	remote, err := keyring.Load(filepath.Join(dirB, "k.key"), filepath.Join(dirB, "contacts"), "remote", "metadata@remote.test")
	require.NoError(t, err)

	remotePub, err := remote.PublicArmor()
	require.NoError(t, err)
	require.NoError(t, local.Contacts().Import("metadata@remote.test", remotePub))

	carrier, err := bundler.BuildCarrier([]packet.Packet{{
		RFC5322: []byte("Subject: hi\r\n\r\nhello\r\n"),
	}})
	require.NoError(t, err)

	w := New(local, nil)
	result, err := w.Wrap(carrier, "local.test", "remote.test")
	require.NoError(t, err)
	require.Contains(t, string(result.RFC5322), "metadata@local.test")
	require.Contains(t, string(result.RFC5322), "metadata@remote.test")
	require.NotContains(t, string(result.RFC5322), "hello")
	require.Equal(t, []string{"OpenPGP"}, result.CryptedWith)
}

func TestWrapFailsClosedWithoutPeerKey(t *testing.T) {
	dir := t.TempDir()
	local, err := keyring.Load(filepath.Join(dir, "k.key"), filepath.Join(dir, "contacts"), "local", "metadata@local.test")
	require.NoError(t, err)

	carrier, err := bundler.BuildCarrier([]packet.Packet{{RFC5322: []byte("Subject: x\r\n\r\nbody\r\n")}})
	require.NoError(t, err)

	w := New(local, nil)
	_, err = w.Wrap(carrier, "local.test", "unknown.test")
	require.ErrorIs(t, err, ErrNotCrypted)
}
