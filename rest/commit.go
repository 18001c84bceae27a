package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bobbibones0/Quackscordia/ratelimit"
)

// outcome is the result of the commit loop. retryAfter and global update the
// bucket and global throttle state regardless of whether err is set: some
// successful responses still carry rate-limit headers.
type outcome struct {
	data       []byte
	err        error
	retryAfter time.Duration
	global     bool
}

// apiBody is the structured shape of an error or rate-limit response body.
// Fields are checked for presence explicitly; absent fields stay zero.
type apiBody struct {
	Code       int            `json:"code"`
	Message    string         `json:"message"`
	Errors     map[string]any `json:"errors"`
	RetryAfter float64        `json:"retry_after"`
	Global     bool           `json:"global"`
}

// commit performs the HTTP exchange, retrying transient failures until the
// retry budget is spent. The caller must hold the bucket lock; retry sleeps
// release and reacquire it so queued work on the same bucket is not held
// hostage. The returned flag reports whether the lock is still held, which
// is false only when a retry sleep was abandoned through the context.
func (c *Client) commit(ctx context.Context, bucket *ratelimit.Bucket, method, url string, header http.Header, body []byte) (outcome, bool) {
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return outcome{err: fmt.Errorf("build request: %w", err)}, true
		}
		req.Header = header.Clone()
		req.ContentLength = int64(len(body))

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt >= c.cfg.MaxRetries {
				return outcome{err: fmt.Errorf("%w after %d attempts: %v", ErrTransport, attempt+1, err)}, true
			}
			delay := c.cfg.RouteDelay + c.jitter()
			c.log.DebugContext(ctx, "transport error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", err))
			if held, serr := c.sleepUnlocked(ctx, bucket, delay); serr != nil {
				return outcome{err: serr}, held
			}
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return outcome{err: fmt.Errorf("read response: %w", readErr)}, true
		}

		retryAfter := resetAfterHeader(resp.Header)
		global := globalHeader(resp.Header)

		var payload apiBody
		decoded := false
		if isJSONContent(resp.Header.Get("Content-Type")) {
			decoded = json.Unmarshal(raw, &payload) == nil
		}

		if resp.StatusCode < http.StatusMultipleChoices {
			return outcome{data: raw, retryAfter: retryAfter, global: global}, true
		}

		retryable := false
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			// The body's own retry_after and global indicator are
			// authoritative over the headers.
			if decoded {
				retryAfter = time.Duration(payload.RetryAfter * float64(time.Millisecond))
				global = payload.Global
			}
			retryable = attempt < c.cfg.MaxRetries
		case resp.StatusCode >= http.StatusInternalServerError && resp.StatusCode < 600:
			retryAfter = c.cfg.RouteDelay*(1<<attempt) + c.jitter()
			retryable = attempt < c.cfg.MaxRetries
		}

		if retryable {
			c.log.DebugContext(ctx, "rate limited or server error, retrying",
				slog.String("method", method),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
				slog.Duration("delay", retryAfter),
				slog.Bool("global", global))
			if held, serr := c.sleepUnlocked(ctx, bucket, retryAfter); serr != nil {
				return outcome{err: serr, retryAfter: retryAfter, global: global}, held
			}
			continue
		}

		apiErr := &APIError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			RawBody:    raw,
		}
		if decoded && payload.Message != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
			if len(payload.Errors) > 0 {
				apiErr.FieldErrors = flattenErrors(payload.Errors)
			}
		}
		c.log.DebugContext(ctx, "request failed",
			slog.String("method", method),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(raw)))
		return outcome{err: apiErr, retryAfter: retryAfter, global: global}, true
	}
}

// sleepUnlocked releases the bucket lock for the duration of the wait, then
// reacquires it. The returned flag reports whether the lock is held again.
func (c *Client) sleepUnlocked(ctx context.Context, bucket *ratelimit.Bucket, d time.Duration) (bool, error) {
	bucket.Unlock()
	if err := sleep(ctx, d); err != nil {
		return false, err
	}
	if err := bucket.Lock(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// jitter returns a random non-negative offset below RouteDelay, spreading
// simultaneous retries apart.
func (c *Client) jitter() time.Duration {
	if c.cfg.RouteDelay <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(c.cfg.RouteDelay)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resetAfterHeader reads the route cooldown from the rate-limit headers. The
// value is in milliseconds already; it is never re-derived from wall-clock
// deltas.
func resetAfterHeader(h http.Header) time.Duration {
	v := h.Get("X-RateLimit-Reset-After")
	if v == "" {
		return 0
	}
	ms, err := strconv.ParseFloat(v, 64)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func globalHeader(h http.Header) bool {
	b, _ := strconv.ParseBool(h.Get("X-RateLimit-Global"))
	return b
}

func isJSONContent(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json")
}
