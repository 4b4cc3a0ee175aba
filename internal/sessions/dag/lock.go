package dag

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LockConfig bounds how long a writer waits to acquire the sidecar lock
// file and how old an existing lock must be before it is considered
// abandoned and stolen.
type LockConfig struct {
	WaitMs  int64
	StaleMs int64
}

// DefaultLockConfig matches the reference session store: a two second wait
// and a thirty second staleness window, generous enough to survive a slow
// disk without masking a genuinely wedged writer.
func DefaultLockConfig() LockConfig {
	return LockConfig{WaitMs: 2000, StaleMs: 30000}
}

const lockPollInterval = 10 * time.Millisecond

// fileLock is a sidecar-file, millisecond-timestamp lock over a single
// session file. It is not a flock(2) wrapper: the lock's aliveness is
// judged purely from the timestamp it last wrote, which is what lets a
// crashed writer's lock be stolen after StaleMs rather than wedging the
// session forever.
type fileLock struct {
	path string
	cfg  LockConfig
}

func newFileLock(sessionPath string, cfg LockConfig) *fileLock {
	if cfg.WaitMs <= 0 {
		cfg.WaitMs = DefaultLockConfig().WaitMs
	}
	if cfg.StaleMs <= 0 {
		cfg.StaleMs = DefaultLockConfig().StaleMs
	}
	return &fileLock{path: sessionPath + ".lock", cfg: cfg}
}

// acquire blocks until the lock file is created or claimed from a stale
// holder, or returns an error once WaitMs has elapsed.
func (l *fileLock) acquire() (func(), error) {
	deadline := time.Now().Add(time.Duration(l.cfg.WaitMs) * time.Millisecond)
	for {
		ok, err := l.tryCreate()
		if err != nil {
			return nil, err
		}
		if ok {
			return l.release, nil
		}
		if l.stealIfStale() {
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("dag: lock %s: timed out waiting for lock", l.path)
		}
		time.Sleep(lockPollInterval)
	}
}

func (l *fileLock) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	_, err = f.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	return true, err
}

func (l *fileLock) stealIfStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return false
	}
	age := time.Now().UnixMilli() - ts
	if age < l.cfg.StaleMs {
		return false
	}
	// Best-effort steal: remove the stale lock and let the next tryCreate
	// race for it like any other contender.
	_ = os.Remove(l.path)
	return true
}

func (l *fileLock) release() {
	_ = os.Remove(l.path)
}
