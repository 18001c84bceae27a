package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobbibones0/Quackscordia/ratelimit"
)

// Doer executes a single HTTP exchange. *http.Client satisfies it; tests and
// custom transports substitute their own.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client dispatches requests against the Discord REST API, enforcing the
// per-bucket and global rate limits. It is safe for concurrent use; requests
// on unrelated buckets never wait on each other.
type Client struct {
	cfg     Config
	http    Doer
	log     *slog.Logger
	buckets *ratelimit.Registry
	global  *ratelimit.GlobalThrottle
	pacer   *rate.Limiter

	shared          ratelimit.SharedThrottle
	cleanupInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.http = d
		}
	}
}

// WithLogger sets the logger used for retry and cooldown diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithPacer adds a proactive client-wide request pacer in front of the
// reactive rate-limit handling, smoothing bursts before they reach the wire.
func WithPacer(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.pacer = rate.NewLimiter(limit, burst)
	}
}

// WithSharedThrottle attaches a cross-process store for the global throttle
// deadline, typically a ratelimit.RedisThrottle shared by all shards.
func WithSharedThrottle(s ratelimit.SharedThrottle) Option {
	return func(c *Client) {
		c.shared = s
	}
}

// WithBucketCleanupInterval tunes how often idle buckets are evicted. Zero
// or less disables eviction.
func WithBucketCleanupInterval(d time.Duration) Option {
	return func(c *Client) {
		c.cleanupInterval = d
	}
}

// New creates a Client from the given configuration.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	c := &Client{
		cfg:             cfg,
		log:             slog.Default(),
		cleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.RequestTimeout}
	}
	c.buckets = ratelimit.NewRegistry(ratelimit.WithCleanupInterval(c.cleanupInterval))
	c.global = ratelimit.NewGlobalThrottle(c.shared)
	return c, nil
}

// Close stops the client's background bucket eviction.
func (c *Client) Close() error {
	return c.buckets.Close()
}

// Buckets reports the number of live rate-limit buckets.
func (c *Client) Buckets() int {
	return c.buckets.Len()
}

// Request dispatches one API call and returns the raw response body. The
// call blocks while the global or bucket cooldown is active and while another
// request on the same bucket is in flight; every wait is interruptible
// through the context. Retries for transient failures happen internally, so
// the returned error is always final.
func (c *Client) Request(ctx context.Context, method, path string, opts ...RequestOption) ([]byte, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	key := ratelimit.Resolve(method, path)
	bucket := c.buckets.Get(key)
	defer bucket.Release()

	if err := c.global.Wait(ctx); err != nil {
		return nil, err
	}
	// Checked before taking the lock so one bucket's cooldown never stalls
	// queued work on unrelated buckets.
	if err := bucket.WaitCooldown(ctx); err != nil {
		return nil, err
	}
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := bucket.Lock(ctx); err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(method, &ro)
	if err != nil {
		bucket.Unlock()
		return nil, err
	}

	url := c.baseURL() + path + encodeQuery(ro.query)
	out, lockHeld := c.commit(ctx, bucket, method, url, c.headers(contentType), body)
	if lockHeld {
		bucket.Unlock()
	}

	if out.retryAfter > 0 {
		until := time.Now().Add(out.retryAfter)
		bucket.SetCooldown(until)
		if out.global {
			c.global.Extend(ctx, until)
			c.log.DebugContext(ctx, "global rate limit reached",
				slog.String("bucket", key),
				slog.Time("reset_at", until))
		}
	}
	return out.data, out.err
}

// RequestJSON dispatches one API call and decodes the response body into v.
// A nil v or an empty body skips decoding.
func (c *Client) RequestJSON(ctx context.Context, method, path string, v any, opts ...RequestOption) error {
	data, err := c.Request(ctx, method, path, opts...)
	if err != nil {
		return err
	}
	if v == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("%s/v%d", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.APIVersion)
}

func (c *Client) headers(contentType string) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", c.cfg.UserAgent)
	h.Set("Authorization", c.cfg.Token)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if c.cfg.APIVersion < precisionCutover {
		h.Set("X-RateLimit-Precision", "millisecond")
	}
	return h
}
