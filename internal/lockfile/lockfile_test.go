package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatewayd.lock")

	l, err := Acquire(path)
	require.NoError(t, err)

	_, err = Acquire(path)
	var held *ErrHeld
	require.ErrorAs(t, err, &held)

	require.NoError(t, l.Release())

	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatewayd.lock")
	// A PID that is extremely unlikely to be alive.
	require.NoError(t, os.WriteFile(path, []byte("999999\n"), 0600))

	l, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}
