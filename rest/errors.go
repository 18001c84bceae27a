package rest

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNilContext indicates a request was issued without a context.
	ErrNilContext = errors.New("nil context")

	// ErrTransport indicates the HTTP exchange itself failed after all
	// retries were exhausted.
	ErrTransport = errors.New("transport failed")
)

// APIError is the machine-readable failure payload of a non-retried error
// response. Code and Message come from the response body when the service
// provided them; otherwise the raw status line and body text are surfaced.
type APIError struct {
	// Status is the HTTP status code.
	Status int

	// StatusText is the standard reason phrase for Status.
	StatusText string

	// Code is the service's numeric error code, zero when absent.
	Code int

	// Message is the service's error message, empty when the body carried
	// no structured error.
	Message string

	// FieldErrors holds the flattened field-level validation errors, one
	// "<code> in <path> : <message>" line per leaf.
	FieldErrors string

	// RawBody is the undecoded response body.
	RawBody []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		msg := fmt.Sprintf("HTTP Error %d : %s", e.Code, e.Message)
		if e.FieldErrors != "" {
			msg += "\n\t" + e.FieldErrors
		}
		return msg
	}
	return fmt.Sprintf("%d - %s : %s", e.Status, e.StatusText, string(e.RawBody))
}

var plainKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const errorsLeafKey = "_errors"

// flattenErrors walks a nested validation-error tree and emits one line per
// leaf error, joined by newline+tab. Nested keys build a dotted path, numeric
// indexes become brackets, and keys that are not plain identifiers are
// quoted: a.b, a[3], a["odd-key"].
func flattenErrors(tree map[string]any) string {
	var lines []string
	walkErrorTree("", tree, &lines)
	return strings.Join(lines, "\n\t")
}

func walkErrorTree(path string, node map[string]any, lines *[]string) {
	keys := make([]string, 0, len(node))
	for key := range node {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == errorsLeafKey {
			leaves, ok := node[key].([]any)
			if !ok {
				continue
			}
			for _, leaf := range leaves {
				entry, ok := leaf.(map[string]any)
				if !ok {
					continue
				}
				code, _ := entry["code"].(string)
				message, _ := entry["message"].(string)
				*lines = append(*lines, fmt.Sprintf("%s in %s : %s", code, path, message))
			}
			continue
		}

		child, ok := node[key].(map[string]any)
		if !ok {
			continue
		}
		walkErrorTree(childPath(path, key), child, lines)
	}
}

func childPath(base, key string) string {
	if isIndex(key) {
		return base + "[" + key + "]"
	}
	if !plainKey.MatchString(key) {
		return base + `["` + key + `"]`
	}
	if base == "" {
		return key
	}
	return base + "." + key
}

func isIndex(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}
	return true
}
