package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// QueryParam is a single query-string pair. Parameters keep the order they
// were supplied in.
type QueryParam struct {
	Key   string
	Value string
}

type requestOptions struct {
	query   []QueryParam
	payload any
	files   []File
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

// WithQuery appends one query parameter. Keys and values are percent-encoded
// when the URL is assembled.
func WithQuery(key, value string) RequestOption {
	return func(o *requestOptions) {
		o.query = append(o.query, QueryParam{Key: key, Value: value})
	}
}

// WithPayload sets the JSON payload for body-carrying methods. Absent a
// payload, those methods send an empty JSON object.
func WithPayload(v any) RequestOption {
	return func(o *requestOptions) {
		o.payload = v
	}
}

// WithFile appends one attachment, switching the request to multipart
// encoding.
func WithFile(name string, content []byte) RequestOption {
	return func(o *requestOptions) {
		o.files = append(o.files, File{Name: name, Content: content})
	}
}

// WithFiles appends several attachments, preserving order.
func WithFiles(files ...File) RequestOption {
	return func(o *requestOptions) {
		o.files = append(o.files, files...)
	}
}

// encodeBody serializes the request body. Only PUT, PATCH and POST carry a
// body; attachments promote it to multipart/form-data.
func encodeBody(method string, o *requestOptions) (body []byte, contentType string, err error) {
	switch method {
	case http.MethodPut, http.MethodPatch, http.MethodPost:
	default:
		return nil, "", nil
	}

	payload := []byte("{}")
	if o.payload != nil {
		payload, err = json.Marshal(o.payload)
		if err != nil {
			return nil, "", fmt.Errorf("encode payload: %w", err)
		}
	}

	if len(o.files) > 0 {
		return encodeMultipart(payload, o.files)
	}
	return payload, "application/json", nil
}

// encodeQuery renders ?k=v&k2=v2 with every key and value percent-encoded.
func encodeQuery(params []QueryParam) string {
	if len(params) == 0 {
		return ""
	}

	var b strings.Builder
	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(percentEncode(p.Key))
		b.WriteByte('=')
		b.WriteString(percentEncode(p.Value))
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

// percentEncode escapes every non-alphanumeric byte as %XX uppercase hex.
func percentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0x0F])
		}
	}
	return b.String()
}
