package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/davecheney/tube/internal/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// mockRedundancy records that actor holds the first file of video.
func mockRedundancy(t *testing.T, tx *gorm.DB, actor *Actor, video *Video, strategy *string, created time.Time, expires *time.Time) *VideoRedundancy {
	t.Helper()
	require := require.New(t)

	file := video.Files[0]
	r := &VideoRedundancy{
		CreatedAt:   created,
		ExpiresOn:   expires,
		FileURL:     fmt.Sprintf("https://%s/static/redundancy/%s-%d.mp4", actor.Host(), video.UUID, file.Resolution),
		URL:         fmt.Sprintf("https://%s/redundancy/videos/%s/%d", actor.Host(), video.UUID, file.Resolution),
		Strategy:    strategy,
		VideoFileID: file.ID,
		ActorID:     actor.ID,
	}
	require.NoError(NewRedundancies(tx).Create(r))
	return r
}

func ptr[T any](v T) *T { return &v }

func TestRedundancyCandidates(t *testing.T) {
	db := setupTestDB(t)

	setup := func(t *testing.T, tx *gorm.DB) (server, account, channel *Actor) {
		t.Helper()
		require := require.New(t)
		server, err := NewActors(tx).ServerActor("tube.example")
		require.NoError(err)
		account = MockRemoteActor(t, tx, "bob", "remote.example")
		channel = MockRemoteActor(t, tx, "bob_channel", "remote.example", WithActorType(Group))
		_, err = NewServers(tx).SetRedundancyAllowed("remote.example", true)
		require.NoError(err)
		return server, account, channel
	}

	t.Run("most viewed returns the top k", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		server, account, channel := setup(t, tx)
		var videos []*Video
		for _, views := range []int64{1000, 900, 800, 700, 600, 500} {
			videos = append(videos, MockVideo(t, tx, account, channel, WithViews(views)))
		}

		ids, err := NewRedundancies(tx).MostViewedCandidates(server, 5)
		require.NoError(err)
		require.Len(ids, 5)
		for i, id := range ids {
			require.Equal(videos[i].ID, id)
		}
	})

	t.Run("ineligible videos are excluded", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		server, account, channel := setup(t, tx)
		eligible := MockVideo(t, tx, account, channel, WithViews(10))
		mirrored := MockVideo(t, tx, account, channel, WithViews(100))
		MockVideo(t, tx, account, channel, WithViews(100), WithPrivacy(Private))
		MockVideo(t, tx, account, channel, WithViews(100), Live)

		// a server that has not opted in.
		carol := MockRemoteActor(t, tx, "carol", "other.example")
		carolChannel := MockRemoteActor(t, tx, "carol_channel", "other.example", WithActorType(Group))
		MockVideo(t, tx, carol, carolChannel, WithViews(100))

		// a local video.
		alice := MockLocalActor(t, tx, "alice", Person)
		aliceChannel := MockLocalActor(t, tx, "alice_channel", Group)
		MockVideo(t, tx, alice, aliceChannel, WithViews(100))

		mockRedundancy(t, tx, server, mirrored, ptr("most-views"), time.Now(), nil)

		ids, err := NewRedundancies(tx).MostViewedCandidates(server, 5)
		require.NoError(err)
		require.Equal([]uint64{uint64(eligible.ID)}, toUint64(ids))

		files, err := NewRedundancies(tx).UnmirroredFiles(server, mirrored)
		require.NoError(err)
		require.Empty(files)
		files, err = NewRedundancies(tx).UnmirroredFiles(server, eligible)
		require.NoError(err)
		require.Len(files, 1)

		// blocking the origin removes its videos from consideration.
		_, err = NewServers(tx).SetBlocked("remote.example", true)
		require.NoError(err)
		ids, err = NewRedundancies(tx).MostViewedCandidates(server, 5)
		require.NoError(err)
		require.Empty(ids)
	})

	t.Run("trending counts views inside the window", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		server, account, channel := setup(t, tx)
		now := time.Now().UTC()
		old := MockVideo(t, tx, account, channel)
		recent := MockVideo(t, tx, account, channel)
		quiet := MockVideo(t, tx, account, channel)

		videos := NewVideos(tx)
		require.NoError(videos.AddViews(old, 500, now.Add(-30*24*time.Hour)))
		require.NoError(videos.AddViews(recent, 20, now.Add(-2*time.Hour)))
		require.NoError(videos.AddViews(recent, 30, now.Add(-2*time.Hour)))
		require.NoError(videos.AddViews(old, 5, now.Add(-time.Hour)))

		ids, err := NewRedundancies(tx).TrendingCandidates(server, 3, now.Add(-7*24*time.Hour))
		require.NoError(err)
		require.Equal(toUint64([]snowflake.ID{recent.ID, old.ID, quiet.ID}), toUint64(ids))

		var bucket VideoView
		require.NoError(tx.Where("video_id = ?", recent.ID).First(&bucket).Error)
		require.EqualValues(50, bucket.Views)
	})

	t.Run("recently added honours the view floor", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		server, account, channel := setup(t, tx)
		now := time.Now().UTC()
		older := MockVideo(t, tx, account, channel, WithViews(20), WithPublishedAt(now.Add(-48*time.Hour)))
		newer := MockVideo(t, tx, account, channel, WithViews(20), WithPublishedAt(now.Add(-time.Hour)))
		MockVideo(t, tx, account, channel, WithViews(2), WithPublishedAt(now))

		ids, err := NewRedundancies(tx).RecentlyAddedCandidates(server, 5, 10)
		require.NoError(err)
		require.Equal(toUint64([]snowflake.ID{newer.ID, older.ID}), toUint64(ids))
	})
}

func TestRedundancyExpiry(t *testing.T) {
	db := setupTestDB(t)

	t.Run("LocalExpired returns expired entries past their lifetime, oldest first", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		server, err := NewActors(tx).ServerActor("tube.example")
		require.NoError(err)
		account := MockRemoteActor(t, tx, "bob", "remote.example")
		channel := MockRemoteActor(t, tx, "bob_channel", "remote.example", WithActorType(Group))

		now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
		strategy := ptr("most-views")
		expired := now.Add(-time.Hour)
		later := now.Add(time.Hour)

		second := mockRedundancy(t, tx, server, MockVideo(t, tx, account, channel), strategy, now.Add(-48*time.Hour), &expired)
		first := mockRedundancy(t, tx, server, MockVideo(t, tx, account, channel), strategy, now.Add(-72*time.Hour), &expired)
		// too young to remove.
		mockRedundancy(t, tx, server, MockVideo(t, tx, account, channel), strategy, now.Add(-2*time.Hour), &expired)
		// not yet expired.
		veteran := mockRedundancy(t, tx, server, MockVideo(t, tx, account, channel), strategy, now.Add(-96*time.Hour), &later)
		// another strategy.
		mockRedundancy(t, tx, server, MockVideo(t, tx, account, channel), ptr("trending"), now.Add(-96*time.Hour), &expired)

		got, err := NewRedundancies(tx).LocalExpired(server, "most-views", 24*time.Hour, now)
		require.NoError(err)
		require.Len(got, 2)
		require.Equal(first.ID, got[0].ID)
		require.Equal(second.ID, got[1].ID)
		require.NotNil(got[0].VideoFile)
		require.NotNil(got[0].VideoFile.Video)

		size, err := NewRedundancies(tx).LocalSize(server, "most-views")
		require.NoError(err)
		require.EqualValues(4<<20, size)

		oldest, err := NewRedundancies(tx).OldestLocal(server, "most-views", 24*time.Hour, now, 1)
		require.NoError(err)
		require.Len(oldest, 1)
		require.Equal(veteran.ID, oldest[0].ID)
	})

	t.Run("RemoveRemoteExpired leaves local entries alone", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		server, err := NewActors(tx).ServerActor("tube.example")
		require.NoError(err)
		alice := MockLocalActor(t, tx, "alice", Person)
		channel := MockLocalActor(t, tx, "alice_channel", Group)
		video := MockVideo(t, tx, alice, channel)
		bob := MockRemoteActor(t, tx, "bob", "remote.example")
		carol := MockRemoteActor(t, tx, "carol", "other.example")

		now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
		past := now.Add(-time.Hour)
		future := now.Add(time.Hour)
		gone := mockRedundancy(t, tx, bob, video, nil, now.Add(-48*time.Hour), &past)
		kept := mockRedundancy(t, tx, carol, video, nil, now.Add(-48*time.Hour), &future)
		local := mockRedundancy(t, tx, server, video, ptr(ManualStrategy), now.Add(-48*time.Hour), nil)

		n, err := NewRedundancies(tx).RemoveRemoteExpired(server, now)
		require.NoError(err)
		require.EqualValues(1, n)

		_, err = NewRedundancies(tx).FindByURL(gone.URL)
		require.ErrorIs(err, gorm.ErrRecordNotFound)
		_, err = NewRedundancies(tx).FindByURL(kept.URL)
		require.NoError(err)
		got, err := NewRedundancies(tx).FindByURL(local.URL)
		require.NoError(err)
		require.True(got.IsOwned())
	})

	t.Run("Upsert updates the announced expiry in place", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockLocalActor(t, tx, "alice", Person)
		channel := MockLocalActor(t, tx, "alice_channel", Group)
		video := MockVideo(t, tx, alice, channel)
		bob := MockRemoteActor(t, tx, "bob", "remote.example")

		first := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
		second := first.Add(24 * time.Hour)
		r := &VideoRedundancy{
			ExpiresOn:   &first,
			FileURL:     "https://remote.example/static/redundancy/a.mp4",
			URL:         "https://remote.example/redundancy/videos/a/720",
			VideoFileID: video.Files[0].ID,
			ActorID:     bob.ID,
		}
		created, err := NewRedundancies(tx).Upsert(r)
		require.NoError(err)
		require.False(created.IsOwned())

		updated, err := NewRedundancies(tx).Upsert(&VideoRedundancy{
			ExpiresOn:   &second,
			FileURL:     r.FileURL,
			URL:         r.URL,
			VideoFileID: r.VideoFileID,
			ActorID:     bob.ID,
		})
		require.NoError(err)
		require.Equal(created.ID, updated.ID)
		require.True(second.Equal(*updated.ExpiresOn))
	})
}

func TestRedundancyPin(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Pin makes a strategy redundancy manual", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		server, err := NewActors(tx).ServerActor("tube.example")
		require.NoError(err)
		account := MockRemoteActor(t, tx, "bob", "remote.example")
		channel := MockRemoteActor(t, tx, "bob_channel", "remote.example", WithActorType(Group))
		expires := time.Now().Add(time.Hour)
		r := mockRedundancy(t, tx, server, MockVideo(t, tx, account, channel), ptr("most-views"), time.Now(), &expires)

		require.NoError(NewRedundancies(tx).Pin(r))
		got, err := NewRedundancies(tx).FindByURL(r.URL)
		require.NoError(err)
		require.NotNil(got.Strategy)
		require.Equal(ManualStrategy, *got.Strategy)
		require.Nil(got.ExpiresOn)
	})
}

func toUint64(ids []snowflake.ID) []uint64 {
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		out = append(out, uint64(id))
	}
	return out
}

func TestRedundancyFindLocalByOwner(t *testing.T) {
	db := setupTestDB(t)

	t.Run("mirrors of videos published as account or channel", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		server, err := NewActors(tx).ServerActor("tube.example")
		require.NoError(err)
		bob := MockRemoteActor(t, tx, "bob", "remote.example")
		channel := MockRemoteActor(t, tx, "bob_channel", "remote.example", WithActorType(Group))
		carol := MockRemoteActor(t, tx, "carol", "other.example")
		carolChannel := MockRemoteActor(t, tx, "carol_channel", "other.example", WithActorType(Group))

		mine := mockRedundancy(t, tx, server, MockVideo(t, tx, bob, channel), ptr("most-views"), time.Now(), nil)
		mockRedundancy(t, tx, server, MockVideo(t, tx, carol, carolChannel), ptr("most-views"), time.Now(), nil)

		for _, owner := range []*Actor{bob, channel} {
			found, err := NewRedundancies(tx).FindLocalByOwner(server, owner)
			require.NoError(err)
			require.Len(found, 1)
			require.Equal(mine.ID, found[0].ID)
			require.NotNil(found[0].VideoFile.Video)
		}
	})
}
