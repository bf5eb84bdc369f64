package mirror

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos/abc-720.mp4" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "not really a video")
	}))
	defer srv.Close()

	t.Run("fetch and remove", func(t *testing.T) {
		require := require.New(t)

		store, err := NewDiskStore(t.TempDir(), "https://tube.example/static/redundancy/", logger)
		require.NoError(err)

		n, err := store.Fetch(context.Background(), srv.URL+"/videos/abc-720.mp4", "abc/abc-720.mp4")
		require.NoError(err)
		require.EqualValues(len("not really a video"), n)

		data, err := os.ReadFile(filepath.Join(store.Root(), "abc", "abc-720.mp4"))
		require.NoError(err)
		require.Equal("not really a video", string(data))
		require.Equal("https://tube.example/static/redundancy/abc/abc-720.mp4", store.URL("abc/abc-720.mp4"))

		require.NoError(store.Remove("abc/abc-720.mp4"))
		_, err = os.Stat(filepath.Join(store.Root(), "abc", "abc-720.mp4"))
		require.True(os.IsNotExist(err))
		require.NoError(store.Remove("abc/abc-720.mp4"))
	})

	t.Run("missing source", func(t *testing.T) {
		require := require.New(t)

		store, err := NewDiskStore(t.TempDir(), "https://tube.example/static/redundancy", logger)
		require.NoError(err)
		_, err = store.Fetch(context.Background(), srv.URL+"/videos/missing.mp4", "missing.mp4")
		require.Error(err)
	})

	t.Run("keys cannot escape the root", func(t *testing.T) {
		require := require.New(t)

		store, err := NewDiskStore(t.TempDir(), "https://tube.example", logger)
		require.NoError(err)
		require.Error(store.Remove("../etc/passwd"))
		require.Error(store.Remove("/etc/passwd"))
	})
}
