// Package activitypub implements the federation engine: the wire
// activities, signed delivery to follower inboxes, inbound processing and
// its inverse, Undo.
package activitypub

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// PublicCollection addresses an activity to everyone.
	PublicCollection = "https://www.w3.org/ns/activitystreams#Public"

	activityStreams = "https://www.w3.org/ns/activitystreams"
	securityV1      = "https://w3id.org/security/v1"
)

func contextValue() []any {
	return []any{activityStreams, securityV1}
}

func boolFromAny(v any) bool {
	b, _ := v.(bool)
	return b
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return s
}

func mapFromAny(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// idFromAny returns the id of a reference that is either a bare URL or an
// embedded object.
func idFromAny(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case map[string]any:
		return stringFromAny(v["id"])
	default:
		return ""
	}
}

func timeFromAnyOrZero(v any) time.Time {
	switch v := v.(type) {
	case string:
		t, _ := time.Parse(time.RFC3339, v)
		return t
	case time.Time:
		return v
	default:
		return time.Time{}
	}
}

func timeFromAny(v any) (time.Time, error) {
	switch v := v.(type) {
	case string:
		return time.Parse(time.RFC3339, v)
	case time.Time:
		return v, nil
	default:
		return time.Time{}, errors.New("timeFromAny: invalid type")
	}
}

func intFromAny(v any) int64 {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		// shakes fist at json number type
		return int64(v)
	case string:
		// some servers quote their numbers.
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// anyToSlice returns v as a slice, wrapping a single value.
func anyToSlice(v any) []any {
	switch v := v.(type) {
	case []any:
		return v
	case nil:
		return nil
	default:
		return []any{v}
	}
}

func stringsFromAny(v any) []string {
	var out []string
	for _, item := range anyToSlice(v) {
		if s := idFromAny(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// hostOf returns the host of uri, or the empty string if uri cannot be parsed.
func hostOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// trimKeyID removes the #main-key suffix from the key id.
func trimKeyID(id string) string {
	if i := strings.Index(id, "#"); i != -1 {
		return id[:i]
	}
	return id
}
