package activitypub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/davecheney/tube/internal/crypto"
	"github.com/davecheney/tube/models"
	"github.com/go-json-experiment/json"
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

// fakeFetcher serves documents from memory, keyed by URL.
type fakeFetcher struct {
	docs    map[string]map[string]any
	fetches int
}

func (f *fakeFetcher) Fetch(ctx context.Context, uri string, obj any) error {
	f.fetches++
	doc, ok := f.docs[uri]
	if !ok {
		return fmt.Errorf("GET %s: 404", uri)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, obj)
}

// harness wires the federation components to tx.
type harness struct {
	tx        *gorm.DB
	fetcher   *fakeFetcher
	directory *Directory
	videos    *Videos
	deliverer *Deliverer
	processor *Processor
}

func newHarness(tx *gorm.DB, opts ...func(*ProcessorOptions)) *harness {
	fetcher := &fakeFetcher{docs: map[string]map[string]any{}}
	logger := discardLogger()
	directory := NewDirectory(tx, NewActorCache(100, time.Minute), fetcher, testDomain, 48*time.Hour, logger)
	videos := NewVideos(tx, directory, testDomain, logger)
	deliverer := NewDeliverer(tx, testDomain, ClientOptions{Timeout: time.Second}, models.DefaultScores, 4, logger)
	popts := ProcessorOptions{Domain: testDomain, Scores: models.DefaultScores}
	for _, opt := range opts {
		opt(&popts)
	}
	return &harness{
		tx:        tx,
		fetcher:   fetcher,
		directory: directory,
		videos:    videos,
		deliverer: deliverer,
		processor: NewProcessor(tx, directory, videos, deliverer, popts, logger),
	}
}

// jobs returns the queued jobs of type typ, oldest first.
func (h *harness) jobs(t *testing.T, typ models.JobType) []*models.Job {
	t.Helper()
	var jobs []*models.Job
	require.NoError(t, h.tx.Where("type = ?", typ).Order("id").Find(&jobs).Error)
	return jobs
}

// activities returns the activities of the queued jobs of type typ.
func (h *harness) activities(t *testing.T, typ models.JobType) []map[string]any {
	t.Helper()
	var activities []map[string]any
	for _, job := range h.jobs(t, typ) {
		var payload struct {
			Activity map[string]any `json:"activity"`
		}
		require.NoError(t, job.Decode(&payload))
		activities = append(activities, payload.Activity)
	}
	return activities
}

// process decodes and processes activity as sent by byActor.
func (h *harness) process(t *testing.T, byActor *models.Actor, activity map[string]any) error {
	t.Helper()
	a, err := Decode(activity)
	require.NoError(t, err)
	return h.processor.Process(context.Background(), a, byActor)
}

func mockLocalActor(t *testing.T, tx *gorm.DB, name string, typ models.ActorType) *models.Actor {
	t.Helper()
	actor, err := models.NewActors(tx).CreateLocal(testDomain, name, typ)
	require.NoError(t, err)
	return actor
}

// remoteActorDocument returns the actor document of a remote actor and
// its private key.
func remoteActorDocument(t *testing.T, name, domain string, typ models.ActorType) (map[string]any, []byte) {
	t.Helper()
	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(t, err)
	path := "/accounts/"
	if typ == models.Group {
		path = "/video-channels/"
	}
	uri := "https://" + domain + path + name
	return map[string]any{
		"id":                uri,
		"type":              string(typ),
		"preferredUsername": name,
		"inbox":             uri + "/inbox",
		"outbox":            uri + "/outbox",
		"followers":         uri + "/followers",
		"following":         uri + "/following",
		"endpoints":         map[string]any{"sharedInbox": "https://" + domain + "/inbox"},
		"publicKey": map[string]any{
			"id":           uri + "#main-key",
			"owner":        uri,
			"publicKeyPem": string(kp.PublicKey),
		},
	}, kp.PrivateKey
}

func mockRemoteActor(t *testing.T, tx *gorm.DB, name, domain string, typ models.ActorType) *models.Actor {
	t.Helper()
	doc, _ := remoteActorDocument(t, name, domain, typ)
	actor, err := models.NewActors(tx).Upsert(decodeActor(doc))
	require.NoError(t, err)
	return actor
}

// mockVideo stores a video by account on channel with a 720p and a 360p
// file. The video is remote if channel is remote.
func mockVideo(t *testing.T, tx *gorm.DB, account, channel *models.Actor) *models.Video {
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

// recordingStore remembers the keys of removed mirrors.
type recordingStore struct {
	removed []string
}

func (s *recordingStore) Remove(key string) error {
	s.removed = append(s.removed, key)
	return nil
}

// mockMirror records that this instance holds file of video.
func mockMirror(t *testing.T, tx *gorm.DB, video *models.Video, file *models.VideoFile) *models.VideoRedundancy {
	t.Helper()
	require := require.New(t)
	server, err := models.NewActors(tx).ServerActor(testDomain)
	require.NoError(err)
	strategy := "most-views"
	expires := time.Now().Add(24 * time.Hour)
	r := &models.VideoRedundancy{
		ExpiresOn:   &expires,
		FileURL:     fmt.Sprintf("https://%s/static/redundancy/%s-%d.mp4", testDomain, video.UUID, file.Resolution),
		URL:         fmt.Sprintf("https://%s/redundancy/videos/%s/%d", testDomain, video.UUID, file.Resolution),
		Strategy:    &strategy,
		VideoFileID: file.ID,
		ActorID:     server.ID,
	}
	require.NoError(models.NewRedundancies(tx).Create(r))
	return r
}

// follow records an accepted follow of target by follower.
func follow(t *testing.T, tx *gorm.DB, follower, target *models.Actor) *models.ActorFollow {
	t.Helper()
	f, _, err := models.NewActorFollows(tx).WithScores(models.DefaultScores).FindOrCreate(follower, target, followURL(follower, target), models.FollowAccepted)
	require.NoError(t, err)
	return f
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
