// Package to writes HTTP responses.
package to

import (
	"net/http"

	"github.com/go-json-experiment/json"
)

// JSON writes obj to w as indented JSON. Nil slices and maps are written
// as empty arrays and objects.
func JSON(w http.ResponseWriter, obj any) error {
	return write(w, "application/json; charset=utf-8", obj)
}

// ActivityJSON writes obj as an ActivityStreams document.
func ActivityJSON(w http.ResponseWriter, obj any) error {
	return write(w, "application/activity+json; charset=utf-8", obj)
}

func write(w http.ResponseWriter, contentType string, obj any) error {
	w.Header().Set("Content-Type", contentType)
	return json.MarshalOptions{}.MarshalFull(json.EncodeOptions{Indent: "  "}, w, obj)
}
