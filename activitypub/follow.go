package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/davecheney/tube/internal/snowflake"
	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

// FollowPayload is the payload of a JobFollow.
type FollowPayload struct {
	ActorID snowflake.ID `json:"actorId"`
	// Target is the URL of the actor to follow.
	Target string `json:"target"`
}

// Follows establishes and tears down follows from local actors.
type Follows struct {
	db        *gorm.DB
	directory *Directory
	deliverer *Deliverer
	scores    models.Scores
	logger    *slog.Logger
}

func NewFollows(db *gorm.DB, directory *Directory, deliverer *Deliverer, scores models.Scores, logger *slog.Logger) *Follows {
	return &Follows{
		db:        db,
		directory: directory,
		deliverer: deliverer,
		scores:    scores,
		logger:    logger,
	}
}

// Follow queues a follow of target by the local actor follower.
func (f *Follows) Follow(ctx context.Context, follower *models.Actor, target string) error {
	if !follower.IsLocal() {
		return fmt.Errorf("%s is not a local actor", follower.URL)
	}
	_, err := models.NewJobs(f.db.WithContext(ctx)).Enqueue(models.JobFollow, FollowPayload{
		ActorID: follower.ID,
		Target:  target,
	})
	return err
}

// Process runs a JobFollow: the target is resolved, a pending follow is
// recorded and the Follow activity is sent to the target's inbox.
func (f *Follows) Process(ctx context.Context, job *models.Job) error {
	var payload FollowPayload
	if err := job.Decode(&payload); err != nil {
		return Permanent(err)
	}
	follower, err := models.NewActors(f.db.WithContext(ctx)).FindByID(payload.ActorID)
	if err != nil {
		return Permanent(fmt.Errorf("follower %d: %w", payload.ActorID, err))
	}
	target, err := f.directory.Resolve(ctx, payload.Target)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", payload.Target, err)
	}
	if target.ID == follower.ID {
		return Permanent(fmt.Errorf("%s cannot follow itself", follower.URL))
	}
	return models.Transaction(ctx, f.db, func(tx *gorm.DB) error {
		follow, created, err := models.NewActorFollows(tx).WithScores(f.scores).FindOrCreate(follower, target, followURL(follower, target), models.FollowPending)
		if err != nil {
			return err
		}
		if target.IsLocal() {
			if err := models.NewActorFollows(tx).Accept(follow); err != nil {
				return err
			}
			f.logger.Info("following local actor", "follower", follower.URL, "target", target.URL)
			return nil
		}
		f.logger.Info("sending follow", "follower", follower.URL, "target", target.URL, "created", created, "state", follow.State)
		return f.deliverer.SendFollow(tx, follow, follower, target)
	})
}

// Unfollow removes the follow of target by the local actor follower and
// tells the target.
func (f *Follows) Unfollow(ctx context.Context, follower *models.Actor, target string) error {
	return models.Transaction(ctx, f.db, func(tx *gorm.DB) error {
		actor, err := models.NewActors(tx).FindByURL(target)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s to %s", ErrUnknownFollow, follower.URL, target)
			}
			return err
		}
		follows := models.NewActorFollows(tx)
		follow, err := follows.Find(follower, actor)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s to %s", ErrUnknownFollow, follower.URL, target)
			}
			return err
		}
		if err := follows.Destroy(follow); err != nil {
			return err
		}
		if actor.IsLocal() {
			return nil
		}
		return f.deliverer.SendUndoFollow(tx, follow, follower, actor)
	})
}
