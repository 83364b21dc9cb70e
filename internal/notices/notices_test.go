package notices

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	from, to string
	msg      []byte
	calls    int
}

func (f *fakeRelay) Send(from, to string, rfc5322 []byte) error {
	f.from, f.to, f.msg = from, to, rfc5322
	f.calls++
	return nil
}

func TestBounceMentionsSizeLimit(t *testing.T) {
	r := &fakeRelay{}
	n := New(r, "local.test", "[gateway error]", "")

	require.NoError(t, n.Bounce("alice@customer.test", 64))
	require.Equal(t, "mailer-daemon@local.test", r.from)
	require.Equal(t, "alice@customer.test", r.to)
	require.Contains(t, string(r.msg), "64 KB")
	require.Contains(t, string(r.msg), "[gateway error]")
}

func TestOperatorAlertNoOpWithoutAddress(t *testing.T) {
	r := &fakeRelay{}
	n := New(r, "local.test", "[gateway error]", "")
	require.NoError(t, n.OperatorAlert("remote.test", "encryption failed"))
	require.Equal(t, 0, r.calls)
}

func TestOperatorAlertSendsWhenConfigured(t *testing.T) {
	r := &fakeRelay{}
	n := New(r, "local.test", "[gateway error]", "ops@local.test")
	require.NoError(t, n.OperatorAlert("remote.test", "encryption failed"))
	require.Equal(t, 1, r.calls)
	require.Equal(t, "ops@local.test", r.to)
	require.Contains(t, string(r.msg), "remote.test")
}
