package relay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipeRelayInvokesSendmailStyleBinary(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "captured.eml")
	script := filepath.Join(dir, "fake-sendmail.sh")

	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat > "+outFile+"\n"), 0700))

	r, err := NewPipeRelay("test", []string{script})
	require.NoError(t, err)

	err = r.Send("metadata@local.test", "metadata@remote.test", []byte("Subject: x\r\n\r\nbody\r\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "Subject: x")
}

func TestPipeRelayReportsFailureFromExitStatus(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "failing.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 1\n"), 0700))

	r, err := NewPipeRelay("test", []string{script})
	require.NoError(t, err)

	err = r.Send("a@local.test", "b@remote.test", []byte("x"))
	require.Error(t, err)
}
