package workers

import (
	"context"
	"testing"

	"github.com/davecheney/tube/models"
	"github.com/stretchr/testify/require"
)

func TestSweepScores(t *testing.T) {
	db := setupTestDB(t)

	t.Run("follows at or below zero are removed and counted once", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := mockLocalActor(t, tx, "alice", models.Person)
		follows := models.NewActorFollows(tx)
		for i, score := range []int32{0, -20, 1} {
			follower := mockRemoteActor(t, tx, []string{"bob", "carol", "dave"}[i], "remote.example", models.Person)
			f, _, err := follows.FindOrCreate(follower, alice, follower.URL+"/follows/alice", models.FollowAccepted)
			require.NoError(err)
			require.NoError(tx.Model(f).UpdateColumn("score", score).Error)
		}

		n, err := SweepScores(context.Background(), tx)
		require.NoError(err)
		require.Equal(2, n)

		alice, err = models.NewActors(tx).FindByID(alice.ID)
		require.NoError(err)
		require.EqualValues(1, alice.FollowersCount)

		n, err = SweepScores(context.Background(), tx)
		require.NoError(err)
		require.Zero(n)
	})
}
