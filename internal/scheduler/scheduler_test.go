package scheduler

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opaquemail/gateway/framework/log"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	calls int
	err   error
}

func (g *fakeGateway) BundleAndPad() error {
	g.calls++
	return g.err
}

func TestFirstTickAlwaysRuns(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, nil, time.Hour, filepath.Join(t.TempDir(), "state"), log.Logger{}, true, true)

	require.NoError(t, s.RunOnce())
	require.Equal(t, 1, gw.calls)
}

func TestDoesNotRunBeforeCadence(t *testing.T) {
	gw := &fakeGateway{}
	statePath := filepath.Join(t.TempDir(), "state")
	s := New(gw, nil, time.Hour, statePath, log.Logger{}, true, true)

	require.NoError(t, s.RunOnce())
	require.NoError(t, s.RunOnce())
	require.Equal(t, 1, gw.calls, "second tick within the cadence window must not re-run")
}

func TestFailureDoesNotAdvanceLastActive(t *testing.T) {
	gw := &fakeGateway{err: errors.New("boom")}
	statePath := filepath.Join(t.TempDir(), "state")
	s := New(gw, nil, time.Hour, statePath, log.Logger{}, true, true)

	require.Error(t, s.RunOnce())
	require.Error(t, s.RunOnce())
	require.Equal(t, 2, gw.calls, "a failed cycle must not advance last-active, so the next tick retries")
}

func TestEncryptMetadataFalseSuppressesCycle(t *testing.T) {
	gw := &fakeGateway{}
	statePath := filepath.Join(t.TempDir(), "state")
	s := New(gw, nil, time.Hour, statePath, log.Logger{}, false, true)

	require.NoError(t, s.RunOnce())
	require.Equal(t, 0, gw.calls, "encrypt_metadata=false must suppress the cycle entirely")
}

func TestBundleAndPadFalseSuppressesCycle(t *testing.T) {
	gw := &fakeGateway{}
	statePath := filepath.Join(t.TempDir(), "state")
	s := New(gw, nil, time.Hour, statePath, log.Logger{}, true, false)

	require.NoError(t, s.RunOnce())
	require.Equal(t, 0, gw.calls, "bundle_and_pad=false must suppress the cycle entirely")
}
