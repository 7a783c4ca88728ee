package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestStopByPIDFileSignalsAndWaits(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	// Reap the child as soon as it exits; an unreaped child stays a zombie
	// that still answers the null signal StopByPIDFile polls with.
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "test.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	if err := StopByPIDFile(pidFile, 5*time.Second); err != nil {
		t.Fatalf("StopByPIDFile: %v", err)
	}

	if err := <-waitErr; err == nil {
		t.Error("expected sleep to have been terminated by SIGTERM")
	}
}

func TestStopByPIDFileMissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	err := StopByPIDFile(filepath.Join(tmpDir, "missing.pid"), time.Second)
	if err == nil {
		t.Fatal("expected an error for a missing pid file")
	}
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "bad.pid")
	if err := os.WriteFile(pidFile, []byte("not-a-pid"), 0644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	if _, err := ReadPIDFile(pidFile); err == nil {
		t.Fatal("expected an error for a non-numeric pid file")
	}
}
