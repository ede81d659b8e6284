package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireFreshLock(t *testing.T) {
	dir := t.TempDir()
	lock, status, err := Acquire(dir, 10000, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != Acquired {
		t.Fatalf("expected Acquired on a fresh lock directory, got %v", status)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}

func TestAcquireAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Acquire(dir, 10000, 5000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A second call moments later, with the host clock barely moved, should
	// see a live lock and refuse to proceed.
	_, status, err := Acquire(dir, 10001, 5001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != AlreadyRunning {
		t.Fatalf("expected AlreadyRunning, got %v", status)
	}
}

func TestAcquireRecoveredFromCrash(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Acquire(dir, 10000, 5000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// More than 30 minutes of host server-time pass with no restart.
	_, status, err := Acquire(dir, 10000+1900, 5000+1900)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != RecoveredFromCrash {
		t.Fatalf("expected RecoveredFromCrash, got %v", status)
	}
}

func TestAcquirePredatesHostRestart(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Acquire(dir, 10000, 5000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Host restarted: its up-time is now tiny relative to its server time,
	// which makes serverTime-upTime exceed the stored timestamp even though
	// barely any wall-clock time has passed.
	_, status, err := Acquire(dir, 10050, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != Acquired {
		t.Fatalf("expected Acquired once the lock predates the host's own restart, got %v", status)
	}
}

func TestAcquireUnparseableTimestampTreatedAsCrash(t *testing.T) {
	dir := t.TempDir()
	completionDir := filepath.Join(dir, "completion")
	if err := os.MkdirAll(completionDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(completionDir, "completion.lock"), []byte("not-a-number"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, status, err := Acquire(dir, 10000, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != RecoveredFromCrash {
		t.Fatalf("expected RecoveredFromCrash on an unparseable lock, got %v", status)
	}
}

func TestReleaseToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	lock, _, err := Acquire(dir, 10000, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(lock.path); err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("expected Release to tolerate an already-removed lock file, got %v", err)
	}
}

func TestParseTimestampTrimsAndParsesFirstLine(t *testing.T) {
	ts, err := parseTimestamp([]byte(strconv.FormatInt(12345, 10) + "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if ts != 12345 {
		t.Fatalf("expected 12345, got %d", ts)
	}
}
