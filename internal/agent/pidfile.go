package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ChangedSignal asks a running agent to refresh its combinations.
const ChangedSignal = syscall.SIGHUP

func pidPath(dir string) string { return filepath.Join(dir, "agent.pid") }

// WritePID records the current process as the running agent of dir. The returned
// func removes the file.
func WritePID(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	p := pidPath(dir)
	if err := os.WriteFile(p, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return func() { _ = os.Remove(p) }, nil
}

// NotifyRunning sends ChangedSignal to the agent recorded in dir. It reports false
// when no agent is running; a stale pid file is removed.
func NotifyRunning(dir string) (bool, error) {
	b, err := os.ReadFile(pidPath(dir))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return false, fmt.Errorf("bad pid file %s", pidPath(dir))
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}
	if err := proc.Signal(ChangedSignal); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			_ = os.Remove(pidPath(dir))
			return false, nil
		}
		return false, err
	}
	return true, nil
}
