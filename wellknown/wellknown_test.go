package wellknown

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/davecheney/tube/internal/httpx"
	"github.com/davecheney/tube/internal/webfinger"
	"github.com/davecheney/tube/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testDomain = "tube.example"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)
	require.NoError(db.AutoMigrate(models.AllTables()...))
	require.NoError(db.Exec("PRAGMA foreign_keys = ON").Error)
	return db
}

func router(db *gorm.DB) http.Handler {
	s := NewService(db, testDomain)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Get("/.well-known/webfinger", httpx.HandlerFunc(log, s.Webfinger))
	r.Get("/.well-known/host-meta", httpx.HandlerFunc(log, s.HostMeta))
	r.Get("/.well-known/nodeinfo", httpx.HandlerFunc(log, s.NodeInfoIndex))
	r.Get("/nodeinfo/{version}", httpx.HandlerFunc(log, s.NodeInfoShow))
	return r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestWebfinger(t *testing.T) {
	db := setupTestDB(t)

	t.Run("local actors resolve to their actor document", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice, err := models.NewActors(tx).CreateLocal(testDomain, "alice", models.Person)
		require.NoError(err)

		rec := get(router(tx), "/.well-known/webfinger?resource="+url.QueryEscape("acct:alice@"+testDomain))
		require.Equal(http.StatusOK, rec.Code)
		require.Equal("application/jrd+json", rec.Header().Get("Content-Type"))
		var wf webfinger.Webfinger
		require.NoError(json.Unmarshal(rec.Body.Bytes(), &wf))
		require.Equal("acct:alice@"+testDomain, wf.Subject)
		href, err := wf.ActivityPub()
		require.NoError(err)
		require.Equal(alice.URL, href)
	})

	t.Run("unknown actors and other hosts are not found", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		h := router(tx)
		require.Equal(http.StatusNotFound, get(h, "/.well-known/webfinger?resource=acct:nobody@"+testDomain).Code)
		require.Equal(http.StatusNotFound, get(h, "/.well-known/webfinger?resource=acct:alice@elsewhere.example").Code)
	})
}

func TestHostMeta(t *testing.T) {
	require := require.New(t)

	rec := get(router(setupTestDB(t)), "/.well-known/host-meta")
	require.Equal(http.StatusOK, rec.Code)
	require.Contains(rec.Body.String(), `template="https://tube.example/.well-known/webfinger?resource={uri}"`)
	require.Contains(rec.Body.String(), `<Subject>https://tube.example</Subject>`)
}

func TestNodeInfo(t *testing.T) {
	db := setupTestDB(t)

	t.Run("the index links to 2.0", func(t *testing.T) {
		require := require.New(t)

		rec := get(router(db), "/.well-known/nodeinfo")
		require.Equal(http.StatusOK, rec.Code)
		require.Contains(rec.Body.String(), "https://tube.example/nodeinfo/2.0")
	})

	t.Run("usage counts local people", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		actors := models.NewActors(tx)
		_, err := actors.ServerActor(testDomain)
		require.NoError(err)
		_, err = actors.CreateLocal(testDomain, "alice", models.Person)
		require.NoError(err)
		_, err = actors.CreateLocal(testDomain, "alice_channel", models.Group)
		require.NoError(err)

		rec := get(router(tx), "/nodeinfo/2.0")
		require.Equal(http.StatusOK, rec.Code)
		var info struct {
			Usage struct {
				Users struct {
					Total int64 `json:"total"`
				} `json:"users"`
			} `json:"usage"`
		}
		require.NoError(json.Unmarshal(rec.Body.Bytes(), &info))
		require.EqualValues(1, info.Usage.Users.Total)
	})

	t.Run("other versions are not found", func(t *testing.T) {
		require.Equal(t, http.StatusNotFound, get(router(db), "/nodeinfo/1.0").Code)
	})
}
