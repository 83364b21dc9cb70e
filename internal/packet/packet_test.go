package packet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketizeAndList(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	_, err := s.Packetize("example.com", []byte("Subject: hi\n\nbody\n"), Addendum{
		From: "alice@opaquemail.test", To: "bob@example.com",
		Crypted: true, CryptedWith: []string{"OpenPGP"},
	})
	require.NoError(t, err)

	_, err = s.Packetize("example.com", []byte("Subject: second\n\nbody2\n"), Addendum{
		From: "alice@opaquemail.test", To: "carol@example.com",
		Crypted: false, ClearSigned: true,
	})
	require.NoError(t, err)

	domains, err := s.ListDomains()
	require.NoError(t, err)
	require.Equal(t, []string{"example.com"}, domains)

	packets, err := s.ListPackets("example.com")
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Equal(t, "bob@example.com", packets[0].Addendum.To)
	require.Equal(t, "carol@example.com", packets[1].Addendum.To)
	require.True(t, packets[0].Addendum.Crypted)
	require.Equal(t, []string{"OpenPGP"}, packets[0].Addendum.CryptedWith)
	require.False(t, packets[1].Addendum.Crypted)
	require.True(t, packets[1].Addendum.ClearSigned)
	require.Contains(t, string(packets[0].RFC5322), "Subject: hi")
}

func TestListPacketsSkipsUnfinished(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	_, err := s.Packetize("example.com", []byte("Subject: ok\n\nbody\n"), Addendum{
		From: "alice@opaquemail.test", To: "bob@example.com",
	})
	require.NoError(t, err)

	// Simulate a writer that crashed mid-write: a .pkt file with no
	// END_ADDENDUM trailer (spec.md §8 scenario S5, "unfinished packet
	// skipped").
	entries, err := os.ReadDir(filepath.Join(dir, ".example.com"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	broken := filepath.Join(dir, ".example.com", "0-broken.pkt")
	require.NoError(t, os.WriteFile(broken, []byte("Subject: half\n\nbody\n"+StartAddendum+"\nFrom: x\n"), 0600))

	packets, err := s.ListPackets("example.com")
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Equal(t, "bob@example.com", packets[0].Addendum.To)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	_, err := s.Packetize("example.com", []byte("Subject: x\n\nbody\n"), Addendum{
		From: "a@opaquemail.test", To: "b@example.com",
	})
	require.NoError(t, err)

	packets, err := s.ListPackets("example.com")
	require.NoError(t, err)
	require.Len(t, packets, 1)

	require.NoError(t, s.Remove(packets[0]))

	packets, err = s.ListPackets("example.com")
	require.NoError(t, err)
	require.Empty(t, packets)
}

func TestListDomainsEmpty(t *testing.T) {
	s := New(t.TempDir())
	domains, err := s.ListDomains()
	require.NoError(t, err)
	require.Empty(t, domains)
}

func TestDefaultsForMissingHeaders(t *testing.T) {
	add := parseAddendum("From: a\nTo: b\n")
	require.False(t, add.Crypted)
	require.Empty(t, add.CryptedWith)
	require.Equal(t, "", add.Verification)
}
