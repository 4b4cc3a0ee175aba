package backoff

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// BaseBackoffMs is the base backoff duration used by NextBackoffMs.
const BaseBackoffMs = 200

// maxBackoffShift caps the doubling shape at 200ms<<6 = 12800ms; attempts
// beyond that repeat the cap.
const maxBackoffShift = 6

// NextBackoffMs returns the backoff duration in milliseconds for the given
// attempt count using a pure doubling shape: 200, 400, 800, ..., capped at
// 12800. attempt is 0-indexed (the number of attempts already made).
func NextBackoffMs(attempt int) int64 {
	shift := attempt
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	if shift < 0 {
		shift = 0
	}
	return int64(BaseBackoffMs) << uint(shift)
}

// NextBackoff is the time.Duration form of NextBackoffMs.
func NextBackoff(attempt int) time.Duration {
	return time.Duration(NextBackoffMs(attempt)) * time.Millisecond
}

// MaxRetries is the default number of retry attempts for a single provider
// route before the caller gives up on it.
const MaxRetries = 2

// ShouldRetryStatus reports whether an HTTP status code should trigger a
// retry: 408, 409, 425, 429, or any 5xx.
func ShouldRetryStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

var requestIDCounter uint64

// NewRequestID returns a process-unique, monotonically increasing request
// id of the form "<prefix>-<unixMs>-<counter>".
func NewRequestID(prefix string) string {
	n := atomic.AddUint64(&requestIDCounter, 1)
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixMilli(), n)
}

// SleepWithContext sleeps for the specified duration, respecting context
// cancellation. Returns nil if the sleep completed, or ctx.Err() if the
// context was cancelled first.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
