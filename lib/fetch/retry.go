package fetch

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	minRetryAfter = 1
	maxRetryAfter = 3600

	backoffBaseSeconds = 30
	backoffMaxSeconds  = 480
)

// ShouldRetry reports whether the outcome is transient.
func ShouldRetry(o Outcome) bool {
	switch v := o.(type) {
	case ServerError, RateLimited, NetworkError:
		return true
	case ClientError:
		return !v.Permanent
	}
	return false
}

// RetryDelay returns how long to wait before retry number attempt (0-based).
// A server-provided Retry-After wins, clamped to [1s, 1h]; otherwise the delay
// doubles from 30s up to 8 minutes.
func RetryDelay(o Outcome, attempt int) time.Duration {
	if secs := retryAfter(o); secs != nil {
		s := min(max(*secs, minRetryAfter), maxRetryAfter)
		return time.Duration(s) * time.Second
	}

	if attempt < 0 {
		attempt = 0
	}
	delay := backoffMaxSeconds
	if attempt < 5 { // 30 << 4 already exceeds the cap
		delay = min(backoffBaseSeconds<<attempt, backoffMaxSeconds)
	}
	return time.Duration(delay) * time.Second
}

func retryAfter(o Outcome) *int {
	switch v := o.(type) {
	case ServerError:
		return v.RetryAfterSeconds
	case RateLimited:
		return v.RetryAfterSeconds
	}
	return nil
}

// ParseRetryAfter accepts either delta-seconds or an HTTP date. Dates in the
// past yield 0.
func ParseRetryAfter(value string, now time.Time) *int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return nil
		}
		return &secs
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return nil
	}
	secs := int(at.Sub(now).Seconds())
	if secs < 0 {
		secs = 0
	}
	return &secs
}
