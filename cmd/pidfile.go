package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dayuer/botrelay/internal/utils"
)

// One relay per data directory: two processes polling the same bot tokens
// make Telegram reject both with 409 Conflict.
const pidFileName = "botrelay.pid"

func pidFilePath(dataDir string) string {
	return filepath.Join(utils.ExpandHome(dataDir), pidFileName)
}

func writePID(dataDir string, pid int) error {
	if _, err := utils.EnsureDir(utils.ExpandHome(dataDir)); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(dataDir), []byte(strconv.Itoa(pid)), 0644)
}

func readPID(dataDir string) (int, error) {
	data, err := os.ReadFile(pidFilePath(dataDir))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt pid file: %w", err)
	}
	return pid, nil
}

func removePID(dataDir string) {
	_ = os.Remove(pidFilePath(dataDir))
}

func isRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// getRunningPID returns the pid of a live relay for dataDir, if any.
func getRunningPID(dataDir string) (int, bool) {
	pid, err := readPID(dataDir)
	if err != nil {
		return 0, false
	}
	if pid == os.Getpid() || !isRunning(pid) {
		return pid, false
	}
	return pid, true
}

// acquirePID claims dataDir for this process. A stale pid file is replaced.
func acquirePID(dataDir string) error {
	if pid, running := getRunningPID(dataDir); running {
		return fmt.Errorf("botrelay already running (pid %d)", pid)
	}
	if err := writePID(dataDir, os.Getpid()); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}
