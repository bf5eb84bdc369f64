package models

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupFileDB returns a database on disk so concurrent transactions use
// separate connections.
func setupFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	dsn := "file:" + filepath.Join(t.TempDir(), "tube.db") + "?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(err)
	require.NoError(db.AutoMigrate(AllTables()...))
	sqlDB, err := db.DB()
	require.NoError(err)
	sqlDB.SetMaxOpenConns(8)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestActorFollowsConcurrentAcceptAndUndo(t *testing.T) {
	require := require.New(t)
	db := setupFileDB(t)
	ctx := context.Background()

	bob := MockLocalActor(t, db, "bob", Person)
	var followers []*Actor
	for i := 0; i < 12; i++ {
		followers = append(followers, MockRemoteActor(t, db, fmt.Sprintf("follower%d", i), "remote.example"))
	}
	for _, follower := range followers {
		_, _, err := NewActorFollows(db).FindOrCreate(follower, bob, follower.URL+"/follows/bob", FollowPending)
		require.NoError(err)
	}

	// accept loads the edge again inside its transaction, as the Accept
	// handler does; an edge already undone is left alone.
	accept := func(follower *Actor) error {
		return Transaction(ctx, db, func(tx *gorm.DB) error {
			follows := NewActorFollows(tx)
			follow, err := follows.Find(follower, bob)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return follows.Accept(follow)
		})
	}
	undo := func(follower *Actor) error {
		return Transaction(ctx, db, func(tx *gorm.DB) error {
			follows := NewActorFollows(tx)
			follow, err := follows.Find(follower, bob)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return follows.Destroy(follow)
		})
	}

	var g errgroup.Group
	for i, follower := range followers {
		g.Go(func() error { return accept(follower) })
		// every third edge is only accepted.
		if i%3 != 0 {
			g.Go(func() error { return undo(follower) })
		}
	}
	require.NoError(g.Wait())

	var accepted int64
	require.NoError(db.Model(&ActorFollow{}).Where("target_actor_id = ? AND state = ?", bob.ID, FollowAccepted).Count(&accepted).Error)
	require.GreaterOrEqual(accepted, int64(4))
	require.EqualValues(accepted, reload(t, db, bob).FollowersCount)
	for _, follower := range followers {
		var following int64
		require.NoError(db.Model(&ActorFollow{}).Where("actor_id = ? AND state = ?", follower.ID, FollowAccepted).Count(&following).Error)
		require.EqualValues(following, reload(t, db, follower).FollowingCount)
	}
}
