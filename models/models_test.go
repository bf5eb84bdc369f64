package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/davecheney/tube/internal/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockLocalActor creates a local actor on tube.example.
func MockLocalActor(t *testing.T, tx *gorm.DB, name string, typ ActorType) *Actor {
	t.Helper()
	require := require.New(t)

	actor, err := NewActors(tx).CreateLocal("tube.example", name, typ)
	require.NoError(err)
	return actor
}

// WithSharedInbox sets the shared inbox of a remote actor.
func WithSharedInbox(inbox string) func(*Actor) {
	return func(a *Actor) {
		a.SharedInboxURL = inbox
	}
}

// WithActorType sets the type of a remote actor.
func WithActorType(typ ActorType) func(*Actor) {
	return func(a *Actor) {
		a.Type = typ
	}
}

// MockRemoteActor creates a remote actor on domain.
func MockRemoteActor(t *testing.T, tx *gorm.DB, name, domain string, opts ...func(*Actor)) *Actor {
	t.Helper()
	require := require.New(t)

	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(err)

	uri := fmt.Sprintf("https://%s/accounts/%s", domain, name)
	actor := &Actor{
		URL:               uri,
		Type:              Person,
		PreferredUsername: name,
		InboxURL:          uri + "/inbox",
		OutboxURL:         uri + "/outbox",
		FollowersURL:      uri + "/followers",
		FollowingURL:      uri + "/following",
		PublicKey:         kp.PublicKey,
	}
	for _, opt := range opts {
		opt(actor)
	}
	actor, err = NewActors(tx).Upsert(actor)
	require.NoError(err)
	return actor
}

// WithViews sets the view count of a mock video.
func WithViews(views int64) func(*Video) {
	return func(v *Video) {
		v.Views = views
	}
}

// WithPrivacy sets the privacy of a mock video.
func WithPrivacy(p VideoPrivacy) func(*Video) {
	return func(v *Video) {
		v.Privacy = p
	}
}

// WithPublishedAt sets the publication date of a mock video.
func WithPublishedAt(ts time.Time) func(*Video) {
	return func(v *Video) {
		v.PublishedAt = ts
	}
}

// Live marks a mock video as a live broadcast.
func Live(v *Video) {
	v.IsLive = true
}

// MockVideo creates a video published by account on channel with a single
// 720p file. The video is remote if channel is remote.
func MockVideo(t *testing.T, tx *gorm.DB, account, channel *Actor, opts ...func(*Video)) *Video {
	t.Helper()
	require := require.New(t)

	id := uuid.NewString()
	host := channel.Host()
	video := &Video{
		URL:            fmt.Sprintf("https://%s/videos/watch/%s", host, id),
		UUID:           id,
		Name:           "video " + id,
		Privacy:        Public,
		Remote:         !channel.IsLocal(),
		PublishedAt:    time.Now(),
		AccountActorID: account.ID,
		ChannelActorID: channel.ID,
	}
	for _, opt := range opts {
		opt(video)
	}
	require.NoError(tx.Create(video).Error)
	file := &VideoFile{
		VideoID:    video.ID,
		Resolution: 720,
		Size:       1 << 20,
		MediaType:  "video/mp4",
		FileURL:    fmt.Sprintf("https://%s/static/webseed/%s-720.mp4", host, id),
	}
	require.NoError(tx.Create(file).Error)
	video, err := NewVideos(tx).FindByID(video.ID)
	require.NoError(err)
	return video
}

// reload refreshes an actor's counters from the database.
func reload(t *testing.T, tx *gorm.DB, actor *Actor) *Actor {
	t.Helper()
	fresh, err := NewActors(tx).FindByID(actor.ID)
	require.NoError(t, err)
	return fresh
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

	err = db.AutoMigrate(AllTables()...)
	require.NoError(err)

	// enable foreign key constraints
	err = db.Exec("PRAGMA foreign_keys = ON").Error
	require.NoError(err)

	return db
}
