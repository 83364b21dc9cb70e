package history

import (
	"path/filepath"
	"testing"

	"github.com/opaquemail/gateway/internal/packet"
	"github.com/stretchr/testify/require"
)

func TestFromPacketTwoLayerSigningModel(t *testing.T) {
	p := packet.Packet{Addendum: packet.Addendum{
		From: "alice@local.test", To: "bob@remote.test",
		Crypted: true, PrivateSigned: true,
	}}
	e := FromPacket(p, "metadata@local.test", []string{"OpenPGP"})
	require.Equal(t, []string{"alice@local.test", "metadata@local.test"}, e.Signers)

	p2 := packet.Packet{Addendum: packet.Addendum{
		From: "alice@local.test", To: "bob@remote.test",
		ClearSigned: true,
	}}
	e2 := FromPacket(p2, "metadata@local.test", nil)
	require.Equal(t, []string{"metadata@local.test"}, e2.Signers)

	p3 := packet.Packet{Addendum: packet.Addendum{From: "a", To: "b"}}
	e3 := FromPacket(p3, "metadata@local.test", nil)
	require.Empty(t, e3.Signers)
}

func TestFromPacketPrivateSignedUnencrypted(t *testing.T) {
	p := packet.Packet{Addendum: packet.Addendum{
		From: "alice@local.test", To: "bob@remote.test",
		PrivateSigned: true,
	}}
	e := FromPacket(p, "metadata@local.test", nil)
	require.Equal(t, []string{"metadata@local.test"}, e.Signers)
}

func TestFromPacketClearSignedEncrypted(t *testing.T) {
	p := packet.Packet{Addendum: packet.Addendum{
		From: "alice@local.test", To: "bob@remote.test",
		Crypted: true, ClearSigned: true,
	}}
	e := FromPacket(p, "metadata@local.test", []string{"OpenPGP"})
	require.Equal(t, []string{"alice@local.test"}, e.Signers)
}

func TestRecordAndQuery(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	r, err := Open(dsn)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Record(Entry{
		OriginalFrom: "alice@local.test", OriginalTo: "bob@remote.test",
		Encrypted: true, CryptedWith: []string{"OpenPGP"},
	}))

	entries, err := r.ForDomain("remote.test")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "bob@remote.test", entries[0].OriginalTo)
	require.True(t, entries[0].Encrypted)
	require.Equal(t, []string{"OpenPGP"}, entries[0].CryptedWith)
}
