package dag

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	l := newFileLock(path, LockConfig{WaitMs: 200, StaleMs: 1000})

	release, err := l.acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(l.path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}
	release()
	if _, err := os.Stat(l.path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed after release, err=%v", err)
	}
}

func TestFileLock_StealsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	stale := newFileLock(path, LockConfig{WaitMs: 200, StaleMs: 50})
	if _, err := stale.acquire(); err != nil {
		t.Fatalf("acquire (stale holder): %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	contender := newFileLock(path, LockConfig{WaitMs: 500, StaleMs: 50})
	release, err := contender.acquire()
	if err != nil {
		t.Fatalf("expected contender to steal stale lock, got %v", err)
	}
	release()
}

func TestFileLock_TimesOutWhenHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	holder := newFileLock(path, LockConfig{WaitMs: 200, StaleMs: 60000})
	release, err := holder.acquire()
	if err != nil {
		t.Fatalf("acquire (holder): %v", err)
	}
	defer release()

	contender := newFileLock(path, LockConfig{WaitMs: 50, StaleMs: 60000})
	if _, err := contender.acquire(); err == nil {
		t.Fatalf("expected contender acquire to time out")
	}
}
