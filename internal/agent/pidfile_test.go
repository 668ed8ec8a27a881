package agent

import (
	"os"
	"os/signal"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifyRunning_NoAgent(t *testing.T) {
	ok, err := NotifyRunning(t.TempDir())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNotifyRunning_SignalsRecordedProcess(t *testing.T) {
	dir := t.TempDir()
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, ChangedSignal)
	defer signal.Stop(ch)

	remove, err := WritePID(dir)
	require.NoError(t, err)

	ok, err := NotifyRunning(dir)
	require.NoError(t, err)
	require.True(t, ok)
	select {
	case sig := <-ch:
		require.Equal(t, ChangedSignal, sig)
	case <-time.After(2 * time.Second):
		t.Fatalf("signal not received")
	}

	remove()
	_, err = os.Stat(pidPath(dir))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNotifyRunning_StaleAndBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(pidPath(dir), []byte("2147483600\n"), 0o600))
	ok, err := NotifyRunning(dir)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = os.Stat(pidPath(dir))
	require.ErrorIs(t, err, os.ErrNotExist, "stale pid file is removed")

	require.NoError(t, os.WriteFile(pidPath(dir), []byte("nope"), 0o600))
	_, err = NotifyRunning(dir)
	require.Error(t, err)
}
