package models

import (
	"testing"
	"time"

	"github.com/davecheney/tube/internal/snowflake"
	"github.com/stretchr/testify/require"
)

func TestActorIsOutdated(t *testing.T) {
	now := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	interval := 48 * time.Hour
	remote := func(created, updated time.Time) *Actor {
		serverID := snowflake.ID(1)
		return &Actor{CreatedAt: created, UpdatedAt: updated, ServerID: &serverID}
	}

	t.Run("local actors are never outdated", func(t *testing.T) {
		require := require.New(t)
		a := &Actor{CreatedAt: now.Add(-365 * 24 * time.Hour), UpdatedAt: now.Add(-365 * 24 * time.Hour)}
		require.False(a.IsOutdated(interval, now))
	})
	t.Run("old and stale", func(t *testing.T) {
		require := require.New(t)
		a := remote(now.Add(-72*time.Hour), now.Add(-72*time.Hour))
		require.True(a.IsOutdated(interval, now))
	})
	t.Run("old but recently refreshed", func(t *testing.T) {
		require := require.New(t)
		a := remote(now.Add(-72*time.Hour), now.Add(-time.Hour))
		require.False(a.IsOutdated(interval, now))
	})
	t.Run("freshly created", func(t *testing.T) {
		require := require.New(t)
		a := remote(now.Add(-time.Hour), now.Add(-time.Hour))
		require.False(a.IsOutdated(interval, now))
	})
}

func TestActors(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Upsert creates the server and account shadow", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		bob := MockRemoteActor(t, tx, "bob", "remote.example")
		require.False(bob.IsLocal())

		server, err := NewServers(tx).FindByHost("remote.example")
		require.NoError(err)
		require.Equal(server.ID, *bob.ServerID)

		_, err = NewAccounts(tx).FindByActor(bob)
		require.NoError(err)

		channel := MockRemoteActor(t, tx, "bob_channel", "remote.example", WithActorType(Group))
		_, err = NewAccounts(tx).FindByActor(channel)
		require.Error(err)
	})

	t.Run("Upsert updates a remote actor in place", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		bob := MockRemoteActor(t, tx, "bob", "remote.example")
		updated, err := NewActors(tx).Upsert(&Actor{
			URL:               bob.URL,
			Type:              Person,
			PreferredUsername: "bob",
			Name:              "Bob",
			InboxURL:          bob.InboxURL,
			SharedInboxURL:    "https://remote.example/inbox",
		})
		require.NoError(err)
		require.Equal(bob.ID, updated.ID)
		require.Equal(bob.ServerID, updated.ServerID)
		require.Equal("Bob", updated.Name)
		require.Equal("https://remote.example/inbox", updated.Inbox())
	})

	t.Run("Upsert never turns a local actor remote", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockLocalActor(t, tx, "alice", Person)
		got, err := NewActors(tx).Upsert(&Actor{
			URL:      alice.URL,
			Type:     Person,
			InboxURL: "https://evil.example/inbox",
		})
		require.NoError(err)
		require.True(got.IsLocal())
		require.Equal(alice.InboxURL, got.InboxURL)
		require.NotEmpty(got.PrivateKey)
	})

	t.Run("ServerActor is created once", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		first, err := NewActors(tx).ServerActor("tube.example")
		require.NoError(err)
		second, err := NewActors(tx).ServerActor("tube.example")
		require.NoError(err)
		require.Equal(first.ID, second.ID)
		require.Equal("https://tube.example/accounts/peertube", first.URL)
		require.Equal("https://tube.example/inbox", first.Inbox())

		_, err = first.PrivKey()
		require.NoError(err)
	})

	t.Run("RebuildCounts", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockLocalActor(t, tx, "alice", Person)
		bob := MockRemoteActor(t, tx, "bob", "remote.example")
		_, _, err := NewActorFollows(tx).FindOrCreate(bob, alice, "", FollowAccepted)
		require.NoError(err)

		// simulate drift.
		require.NoError(tx.Model(&Actor{ID: alice.ID}).UpdateColumn("followers_count", 42).Error)
		require.NoError(NewActors(tx).RebuildCounts())
		require.EqualValues(1, reload(t, tx, alice).FollowersCount)
		require.EqualValues(1, reload(t, tx, bob).FollowingCount)
	})
}
