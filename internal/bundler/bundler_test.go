package bundler

import (
	"testing"

	"github.com/opaquemail/gateway/internal/packet"
	"github.com/stretchr/testify/require"
)

func queuePacket(t *testing.T, store *packet.Store, domain, to string, size int) {
	t.Helper()
	body := make([]byte, size)
	for i := range body {
		body[i] = 'x'
	}
	_, err := store.Packetize(domain, append([]byte("Subject: s\n\n"), body...), packet.Addendum{
		From: "alice@opaquemail.test", To: to,
	})
	require.NoError(t, err)
}

func TestSelectBouncesOversizeAndHoldsOverflow(t *testing.T) {
	store := packet.New(t.TempDir())

	queuePacket(t, store, "example.com", "a@example.com", 50)
	queuePacket(t, store, "example.com", "b@example.com", 5000) // oversize
	queuePacket(t, store, "example.com", "c@example.com", 700)  // would overflow after a

	names, err := store.RawNames("example.com")
	require.NoError(t, err)
	require.Len(t, names, 3)

	sel, err := Select(store, "example.com", names, 1000)
	require.NoError(t, err)
	require.Len(t, sel.Bounced, 1)
	require.Equal(t, "b@example.com", sel.Bounced[0].Addendum.To)
	require.Len(t, sel.Packets, 1)
	require.Equal(t, "a@example.com", sel.Packets[0].Addendum.To)
}

func TestSelectEmptyWhenNothingFits(t *testing.T) {
	sel, err := Select(packet.New(t.TempDir()), "example.com", nil, 1000)
	require.NoError(t, err)
	require.Empty(t, sel.Packets)
	require.Empty(t, sel.Bounced)
}

func TestBuildCarrierAndPad(t *testing.T) {
	store := packet.New(t.TempDir())
	queuePacket(t, store, "example.com", "a@example.com", 50)

	names, err := store.RawNames("example.com")
	require.NoError(t, err)
	sel, err := Select(store, "example.com", names, 100000)
	require.NoError(t, err)
	require.Len(t, sel.Packets, 1)

	carrier, err := BuildCarrier(sel.Packets)
	require.NoError(t, err)
	require.NotEmpty(t, carrier)

	const target = 65536
	padded, err := Pad(carrier, target)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(padded), target)
}

func TestPadNoOpWhenAlreadyLargeEnough(t *testing.T) {
	carrier := make([]byte, 100)
	out, err := Pad(carrier, 50)
	require.NoError(t, err)
	require.Equal(t, carrier, out)
}
