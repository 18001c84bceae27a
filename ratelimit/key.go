package ratelimit

import (
	"regexp"
	"strings"
)

// majorResources are the container categories whose numeric ids stay in the
// bucket key. Discord scopes limits per instance of these resources; every
// other id is collapsed so that, for example, all message routes under one
// channel share a bucket.
var majorResources = map[string]bool{
	"channels": true,
	"guilds":   true,
	"webhooks": true,
}

var (
	resourceID      = regexp.MustCompile(`([a-z-]+)/\d+`)
	messagesRoot    = regexp.MustCompile(`^/channels/\d+/messages$`)
	reactionsMarker = "/reactions"
)

// Resolve derives the rate-limit bucket key for a request. It is a pure
// function of its inputs and idempotent: resolving an already-resolved key
// returns it unchanged.
//
// Three normalization rules apply, mirroring how Discord assigns buckets:
//
//   - every reaction emoji variant of a message shares one bucket, so the
//     path is truncated at its reactions sub-resource;
//   - numeric ids are dropped unless they follow a major resource;
//   - message deletion has its own, stricter bucket per channel, so a DELETE
//     of a message gets the method folded into the key.
func Resolve(method, path string) string {
	// Anchor on the first occurrence: an emoji whose own name starts with
	// "reactions" must not shift the truncation point.
	if i := strings.Index(path, reactionsMarker); i >= 0 {
		path = path[:i+len(reactionsMarker)]
	}

	path = resourceID.ReplaceAllStringFunc(path, func(match string) string {
		name := match[:strings.IndexByte(match, '/')]
		if majorResources[name] {
			return match
		}
		return name
	})

	if method == "DELETE" && messagesRoot.MatchString(path) {
		return method + path
	}
	return path
}
