package rest_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobbibones0/Quackscordia/rest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, url string, mutate func(*rest.Config), opts ...rest.Option) *rest.Client {
	t.Helper()

	cfg := rest.Config{
		Token:          "Bot test-token",
		BaseURL:        url,
		APIVersion:     7,
		MaxRetries:     3,
		RouteDelay:     10 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := rest.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRequestSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v7/gateway/bot", r.URL.Path)
		assert.Equal(t, "Bot test-token", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "DiscordBot")
		assert.Equal(t, "millisecond", r.Header.Get("X-RateLimit-Precision"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"wss://gateway.discord.gg","shards":1}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	var out struct {
		URL    string `json:"url"`
		Shards int    `json:"shards"`
	}
	require.NoError(t, client.RequestJSON(context.Background(), http.MethodGet, "/gateway/bot", &out))
	assert.Equal(t, "wss://gateway.discord.gg", out.URL)
	assert.Equal(t, 1, out.Shards)
}

func TestRequestNoPrecisionHeaderFromV8(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-RateLimit-Precision"))
		assert.Equal(t, "/v8/gateway", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, func(cfg *rest.Config) { cfg.APIVersion = 8 })

	_, err := client.Request(context.Background(), http.MethodGet, "/gateway")
	require.NoError(t, err)
}

func TestRequestQueryEncoding(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "q=a%20b&id=7", r.URL.RawQuery)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	_, err := client.Request(context.Background(), http.MethodGet, "/guilds/1/members",
		rest.WithQuery("q", "a b"),
		rest.WithQuery("id", "7"),
	)
	require.NoError(t, err)
}

func TestRequestPostDefaultsToEmptyObject(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "{}", string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, int64(2), r.ContentLength)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	_, err := client.Request(context.Background(), http.MethodPost, "/channels/1/typing")
	require.NoError(t, err)
}

func TestRequestMultipart(t *testing.T) {
	t.Parallel()

	fileContent := []byte("attachment-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.JSONEq(t, `{"content":"see attached"}`, r.FormValue("payload_json"))

		file, header, err := r.FormFile("file1")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "report.png", header.Filename)

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, fileContent, data)

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	_, err := client.Request(context.Background(), http.MethodPost, "/channels/1/messages",
		rest.WithPayload(map[string]string{"content": "see attached"}),
		rest.WithFile("report.png", fileContent),
	)
	require.NoError(t, err)
}

func TestRequest429RetriesAfterServerDelay(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":300,"global":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	start := time.Now()
	data, err := client.Request(context.Background(), http.MethodGet, "/channels/1/messages")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	assert.Equal(t, int32(2), calls.Load(), "exactly one retry")
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond, "retry must honor the server-provided delay")
}

func TestRequest500ExponentialBackoff(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "upstream broke", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	routeDelay := 20 * time.Millisecond
	client := newClient(t, srv.URL, func(cfg *rest.Config) { cfg.RouteDelay = routeDelay })

	start := time.Now()
	_, err := client.Request(context.Background(), http.MethodGet, "/channels/1")
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	// First retry waits at least routeDelay*2^0, second at least routeDelay*2^1.
	assert.GreaterOrEqual(t, time.Since(start), 3*routeDelay)
}

func TestRequestRetriesExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, func(cfg *rest.Config) {
		cfg.MaxRetries = 2
		cfg.RouteDelay = 5 * time.Millisecond
	})

	_, err := client.Request(context.Background(), http.MethodGet, "/channels/1")
	require.Error(t, err)

	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, int32(3), calls.Load(), "transport runs maxRetries+1 times")
}

// failingDoer always reports a connection failure.
type failingDoer struct {
	calls atomic.Int32
}

func (d *failingDoer) Do(*http.Request) (*http.Response, error) {
	d.calls.Add(1)
	return nil, errors.New("dial tcp: connection refused")
}

func TestRequestTransportErrorRetries(t *testing.T) {
	t.Parallel()

	doer := &failingDoer{}
	client := newClient(t, "http://localhost:1", func(cfg *rest.Config) {
		cfg.MaxRetries = 3
		cfg.RouteDelay = 5 * time.Millisecond
	}, rest.WithHTTPClient(doer))

	_, err := client.Request(context.Background(), http.MethodGet, "/gateway")
	require.ErrorIs(t, err, rest.ErrTransport)
	assert.Equal(t, int32(4), doer.calls.Load(), "transport runs maxRetries+1 times")
}

func TestRequestClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{
			"code": 50035,
			"message": "Invalid Form Body",
			"errors": {"name": {"_errors": [{"code": "BASE_TYPE_REQUIRED", "message": "required"}]}}
		}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	_, err := client.Request(context.Background(), http.MethodPost, "/guilds/1/channels",
		rest.WithPayload(map[string]any{}),
	)
	require.Error(t, err)

	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, 50035, apiErr.Code)
	assert.Equal(t, "Invalid Form Body", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "BASE_TYPE_REQUIRED in name : required")
	assert.Equal(t, int32(1), calls.Load(), "client errors are surfaced immediately")
}

func TestRequestNilContext(t *testing.T) {
	t.Parallel()

	client := newClient(t, "http://localhost:1", nil)

	_, err := client.Request(nil, http.MethodGet, "/gateway") //nolint:staticcheck // nil context is the case under test
	assert.ErrorIs(t, err, rest.ErrNilContext)
}

func TestSameBucketNeverOverlaps(t *testing.T) {
	t.Parallel()

	var inflight, maxInflight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		for {
			seen := maxInflight.Load()
			if cur <= seen || maxInflight.CompareAndSwap(seen, cur) {
				break
			}
		}
		time.Sleep(80 * time.Millisecond)
		inflight.Add(-1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	var wg sync.WaitGroup
	for _, path := range []string{"/channels/1/messages/11", "/channels/1/messages/22"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Request(context.Background(), http.MethodGet, path)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInflight.Load(), "same-bucket requests must be serialized")
}

func TestDifferentBucketsOverlap(t *testing.T) {
	t.Parallel()

	var inflight, maxInflight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		for {
			seen := maxInflight.Load()
			if cur <= seen || maxInflight.CompareAndSwap(seen, cur) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		inflight.Add(-1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	var wg sync.WaitGroup
	for _, path := range []string{"/channels/1/messages/11", "/channels/2/messages/22"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Request(context.Background(), http.MethodGet, path)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), maxInflight.Load(), "unrelated buckets must not serialize")
}

func TestSuccessResponseCooldownAppliesToBucket(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Reset-After", "200")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	_, err := client.Request(context.Background(), http.MethodGet, "/channels/1/messages")
	require.NoError(t, err)

	// Same bucket honors the advertised cooldown.
	start := time.Now()
	_, err = client.Request(context.Background(), http.MethodGet, "/channels/1/messages")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestSuccessResponseCooldownLeavesOtherBucketsAlone(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v7/channels/1/messages" {
			w.Header().Set("X-RateLimit-Reset-After", "400")
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	_, err := client.Request(context.Background(), http.MethodGet, "/channels/1/messages")
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Request(context.Background(), http.MethodGet, "/channels/2/messages")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "cooldowns are per bucket")
}

func TestGlobalCooldownAffectsAllBuckets(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v7/channels/1/messages" {
			w.Header().Set("X-RateLimit-Reset-After", "250")
			w.Header().Set("X-RateLimit-Global", "true")
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	_, err := client.Request(context.Background(), http.MethodGet, "/channels/1/messages")
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Request(context.Background(), http.MethodGet, "/guilds/9")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond, "a global cooldown pauses every bucket")
}

func TestRequestContextCancelledDuringCooldown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Reset-After", "60000")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	_, err := client.Request(context.Background(), http.MethodGet, "/channels/1/messages")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Request(ctx, http.MethodGet, "/channels/1/messages")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBucketsReportsPopulation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, nil)

	_, err := client.Request(context.Background(), http.MethodGet, "/channels/1/messages")
	require.NoError(t, err)
	_, err = client.Request(context.Background(), http.MethodGet, "/channels/2/messages")
	require.NoError(t, err)

	assert.Equal(t, 2, client.Buckets())
}
