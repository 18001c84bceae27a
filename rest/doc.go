// Package rest implements a rate-limit-aware dispatcher for the Discord REST
// API.
//
// Many concurrent callers can issue requests through one Client without
// violating the service's per-route or global rate limits. Requests that
// share a rate-limit bucket are serialized and respect that bucket's
// cooldown; unrelated requests never wait on each other. Transient failures
// (connection errors, 429, 5xx) are retried transparently with
// server-provided or exponential delays plus jitter, and cooldown state is
// refreshed from response headers on success and failure alike.
//
// # Basic Usage
//
//	cfg, err := rest.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := rest.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	var msg struct {
//		ID      string `json:"id"`
//		Content string `json:"content"`
//	}
//	err = client.RequestJSON(ctx, http.MethodPost, "/channels/123/messages", &msg,
//		rest.WithPayload(map[string]string{"content": "hello"}),
//	)
//
// # File Uploads
//
// Attachments switch the request body to multipart/form-data with the JSON
// payload carried alongside:
//
//	_, err = client.Request(ctx, http.MethodPost, "/channels/123/messages",
//		rest.WithPayload(map[string]string{"content": "see attached"}),
//		rest.WithFile("report.png", data),
//	)
//
// # Errors
//
// Failed requests return *APIError carrying the HTTP status, the service's
// machine-readable code and message, and any field-level validation errors
// flattened into the message. Retries are exhausted internally; callers only
// ever see the final outcome.
package rest
