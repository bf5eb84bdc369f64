package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/schema"
)

var decoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// Params decodes the query string of a GET, or the form or JSON body of a
// POST, into v.
func Params(r *http.Request, v any) error {
	switch r.Method {
	case "GET", "HEAD":
		if err := decoder.Decode(v, r.URL.Query()); err != nil {
			return Error(http.StatusBadRequest, err)
		}
	case "POST":
		switch MediaType(r) {
		case "application/json":
			if err := json.UnmarshalFull(r.Body, v); err != nil {
				return Error(http.StatusBadRequest, err)
			}
		case "application/x-www-form-urlencoded":
			if err := r.ParseForm(); err != nil {
				return Error(http.StatusBadRequest, err)
			}
			if err := decoder.Decode(v, r.PostForm); err != nil {
				return Error(http.StatusBadRequest, err)
			}
		default:
			return Error(http.StatusUnsupportedMediaType, fmt.Errorf("unsupported media type: %q", r.Header.Get("Content-Type")))
		}
	default:
		return Error(http.StatusMethodNotAllowed, errors.New("unsupported method: "+r.Method))
	}
	return nil
}

// MediaType returns the media type of the request body, without parameters.
func MediaType(r *http.Request) string {
	typ, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
	return strings.ToLower(strings.TrimSpace(typ))
}

// IsActivityType reports whether typ is one of the media types used to carry
// ActivityStreams documents.
func IsActivityType(typ string) bool {
	switch typ {
	case "application/activity+json", "application/ld+json", "application/json":
		return true
	default:
		return false
	}
}
