package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/davecheney/tube/activitypub"
	"github.com/davecheney/tube/internal/config"
	"github.com/davecheney/tube/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testDomain = "tube.example"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// nopFetcher knows no remote documents.
type nopFetcher struct{}

func (nopFetcher) Fetch(ctx context.Context, uri string, obj any) error {
	return fmt.Errorf("GET %s: 404", uri)
}

// memStore records mirrored keys in memory.
type memStore struct {
	files map[string]string
	err   error
}

func newMemStore() *memStore {
	return &memStore{files: map[string]string{}}
}

func (s *memStore) Fetch(ctx context.Context, src, key string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.files[key] = src
	return int64(len(src)), nil
}

func (s *memStore) Remove(key string) error {
	delete(s.files, key)
	return nil
}

func (s *memStore) URL(key string) string {
	return "https://" + testDomain + "/static/redundancy/" + key
}

func newEngine(tx *gorm.DB, cfg config.Redundancy, store MirrorStore) *RedundancyEngine {
	logger := discardLogger()
	directory := activitypub.NewDirectory(tx, activitypub.NewActorCache(100, time.Minute), nopFetcher{}, testDomain, 48*time.Hour, logger)
	videos := activitypub.NewVideos(tx, directory, testDomain, logger)
	deliverer := activitypub.NewDeliverer(tx, testDomain, activitypub.ClientOptions{Timeout: time.Second}, models.DefaultScores, 4, logger)
	return NewRedundancyEngine(tx, testDomain, cfg, videos, deliverer, store, logger)
}

func mockLocalActor(t *testing.T, tx *gorm.DB, name string, typ models.ActorType) *models.Actor {
	t.Helper()
	actor, err := models.NewActors(tx).CreateLocal(testDomain, name, typ)
	require.NoError(t, err)
	return actor
}

func mockRemoteActor(t *testing.T, tx *gorm.DB, name, domain string, typ models.ActorType) *models.Actor {
	t.Helper()
	uri := fmt.Sprintf("https://%s/accounts/%s", domain, name)
	if typ == models.Group {
		uri = fmt.Sprintf("https://%s/video-channels/%s", domain, name)
	}
	actor, err := models.NewActors(tx).Upsert(&models.Actor{
		URL:               uri,
		Type:              typ,
		PreferredUsername: name,
		InboxURL:          uri + "/inbox",
		SharedInboxURL:    "https://" + domain + "/inbox",
		OutboxURL:         uri + "/outbox",
		FollowersURL:      uri + "/followers",
		FollowingURL:      uri + "/following",
	})
	require.NoError(t, err)
	return actor
}

// mockVideo stores a public video by account on channel with a 720p and
// a 360p file.
func mockVideo(t *testing.T, tx *gorm.DB, account, channel *models.Actor, views int64) *models.Video {
	t.Helper()
	require := require.New(t)
	id := uuid.NewString()
	host := channel.Host()
	video := &models.Video{
		URL:            fmt.Sprintf("https://%s/videos/watch/%s", host, id),
		UUID:           id,
		Name:           "video " + id,
		Privacy:        models.Public,
		Remote:         !channel.IsLocal(),
		Views:          views,
		PublishedAt:    time.Now(),
		AccountActorID: account.ID,
		ChannelActorID: channel.ID,
	}
	require.NoError(tx.Create(video).Error)
	for _, res := range []int32{720, 360} {
		require.NoError(tx.Create(&models.VideoFile{
			VideoID:    video.ID,
			Resolution: res,
			Size:       int64(res) << 10,
			MediaType:  "video/mp4",
			FileURL:    fmt.Sprintf("https://%s/static/webseed/%s-%d.mp4", host, id, res),
		}).Error)
	}
	video, err := models.NewVideos(tx).FindByID(video.ID)
	require.NoError(err)
	return video
}

// jobs returns the queued jobs of type typ, oldest first.
func jobs(t *testing.T, tx *gorm.DB, typ models.JobType) []*models.Job {
	t.Helper()
	var jobs []*models.Job
	require.NoError(t, tx.Where("type = ?", typ).Order("id").Find(&jobs).Error)
	return jobs
}

// activityTypes returns the type and object type of each queued unicast.
func activityTypes(t *testing.T, tx *gorm.DB) []string {
	t.Helper()
	var types []string
	for _, job := range jobs(t, tx, models.JobUnicast) {
		var payload activitypub.UnicastPayload
		require.NoError(t, job.Decode(&payload))
		typ, _ := payload.Activity["type"].(string)
		if obj, ok := payload.Activity["object"].(map[string]any); ok {
			inner, _ := obj["type"].(string)
			typ += "(" + inner + ")"
		}
		types = append(types, typ)
	}
	return types
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger: logger.Default.LogMode(func() logger.LogLevel {
			return logger.Warn
		}()),
	})
	require.NoError(err)

	err = db.AutoMigrate(models.AllTables()...)
	require.NoError(err)

	// enable foreign key constraints
	err = db.Exec("PRAGMA foreign_keys = ON").Error
	require.NoError(err)

	return db
}

type permanent struct{ error }

func (permanent) Permanent() bool { return true }

var errFlaky = errors.New("flaky")
