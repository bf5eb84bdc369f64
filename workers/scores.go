package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

// NewScoreSweeper returns a worker that removes follows whose delivery
// score has dropped to zero or below, every interval.
func NewScoreSweeper(db *gorm.DB, interval time.Duration, logger *slog.Logger) func(ctx context.Context) error {
	logger = logger.With("component", "score-sweeper")
	return func(ctx context.Context) error {
		for {
			n, err := SweepScores(ctx, db)
			if err != nil {
				logger.Error("sweep failed", "err", err)
			} else if n > 0 {
				logger.Info("removed bad follows", "count", n)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
	}
}

// SweepScores removes the follows whose score is at or below zero and
// returns how many were removed.
func SweepScores(ctx context.Context, db *gorm.DB) (int, error) {
	var n int
	err := models.Transaction(ctx, db, func(tx *gorm.DB) error {
		var err error
		n, err = models.NewActorFollows(tx).RemoveBadFollows()
		return err
	})
	if err == nil {
		followsPruned.Add(float64(n))
	}
	return n, err
}
