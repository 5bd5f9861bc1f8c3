package llmclient

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// Retrying decorates a Client with spec.md §4.2 step 3's exponential
// backoff policy: base 1s, factor 2, jitter ±25%, cap 3 attempts total.
// Only transient provider errors are retried; classification follows
// isRetryableError/isServerError/isRateLimitError in
// vinayprograms-agent/src/internal/llm/adapters.go, adapted to the three
// fixed attempts spec.md requires instead of that adapter's
// configurable retry count.
type Retrying struct {
	inner Client
	sleep func(context.Context, time.Duration) error
}

const (
	maxAttempts  = 3
	baseBackoff  = 1 * time.Second
	backoffFactor = 2.0
	jitterFrac   = 0.25
)

// NewRetrying wraps inner with the fixed retry policy.
func NewRetrying(inner Client) *Retrying {
	return &Retrying{inner: inner, sleep: sleepWithContext}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (r *Retrying) Complete(ctx context.Context, req Request) (Response, error) {
	backoff := baseBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryableError(err) || attempt == maxAttempts {
			return Response{}, err
		}

		jittered := jitter(backoff)
		slog.Warn("LM call failed, retrying", "attempt", attempt, "max_attempts", maxAttempts, "backoff", jittered, "error", err)
		if sleepErr := r.sleep(ctx, jittered); sleepErr != nil {
			return Response{}, sleepErr
		}
		backoff *= time.Duration(backoffFactor)
	}

	return Response{}, lastErr
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFrac
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

// isRateLimitError reports whether err looks like a provider rate-limit
// rejection, by substring match on the error text (providers do not
// expose a stable typed error across the OpenAI and Anthropic SDKs in
// this pack, so text matching is the teacher-grounded approach).
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "429") ||
		strings.Contains(s, "overloaded")
}

// isServerError reports whether err looks like a transient 5xx failure.
func isServerError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "500") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "504") ||
		strings.Contains(s, "internal server error") ||
		strings.Contains(s, "bad gateway") ||
		strings.Contains(s, "service unavailable") ||
		strings.Contains(s, "gateway timeout")
}

// isRetryableError reports whether err is a transient network, 5xx, or
// rate-limit failure — the only class spec.md §4.2 step 3 permits to
// retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "eof") {
		return true
	}
	return isRateLimitError(err) || isServerError(err)
}
