package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

func (p *Processor) processUndo(ctx context.Context, a *Undo, byActor *models.Actor) error {
	if inner := a.Object.Base(); inner.Actor != "" && inner.Actor != byActor.URL {
		return forbidden(byActor.URL, "undo", inner.ID)
	}
	switch inner := a.Object.(type) {
	case *Like:
		return p.undoRate(ctx, &a.Envelope, inner.Object, byActor, models.Like)
	case *Dislike:
		return p.undoRate(ctx, &a.Envelope, inner.Object, byActor, models.Dislike)
	case *Create:
		switch obj := inner.Object.(type) {
		case *DislikeObject:
			return p.undoRate(ctx, &a.Envelope, obj.Object, byActor, models.Dislike)
		case *CacheFileObject:
			return p.undoCacheFile(ctx, &a.Envelope, obj, byActor)
		}
	case *Follow:
		return p.undoFollow(ctx, inner, byActor)
	case *Announce:
		return p.undoAnnounce(ctx, &a.Envelope, inner, byActor)
	}
	p.drop(a, "unsupported undo")
	return nil
}

func (p *Processor) undoRate(ctx context.Context, env *Envelope, videoURL string, byActor *models.Actor, typ models.RateType) error {
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		video, err := models.NewVideos(tx).FindByURL(videoURL)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownVideo, videoURL)
			}
			return err
		}
		account, err := models.NewAccounts(tx).FindByActor(byActor)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return forbidden(byActor.URL, "undo rate of", videoURL)
			}
			return err
		}
		rates := models.NewRates(tx)
		rate, err := rates.Find(account, video)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("%w: %s by %s", ErrUnknownRate, videoURL, byActor.URL)
		case err != nil:
			return err
		case rate.Type != typ:
			return fmt.Errorf("%w: %s by %s is a %s", ErrUnknownRate, videoURL, byActor.URL, rate.Type)
		}
		if err := rates.Destroy(rate); err != nil {
			return err
		}
		return p.deliverer.ForwardVideoRelatedActivity(tx, env.Raw, []*models.Actor{byActor}, video)
	})
}

func (p *Processor) undoCacheFile(ctx context.Context, env *Envelope, cf *CacheFileObject, byActor *models.Actor) error {
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		redundancies := models.NewRedundancies(tx)
		r, err := redundancies.FindByURL(cf.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownRedundancy, cf.ID)
			}
			return err
		}
		if r.ActorID != byActor.ID {
			return forbidden(byActor.URL, "undo", cf.ID)
		}
		if err := redundancies.Destroy(r); err != nil {
			return err
		}
		return p.deliverer.ForwardVideoRelatedActivity(tx, env.Raw, []*models.Actor{byActor}, r.VideoFile.Video)
	})
}

func (p *Processor) undoFollow(ctx context.Context, follow *Follow, byActor *models.Actor) error {
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		target, err := models.NewActors(tx).FindByURL(follow.Object)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s to %s", ErrUnknownFollow, byActor.URL, follow.Object)
			}
			return err
		}
		follows := models.NewActorFollows(tx)
		existing, err := follows.Find(byActor, target)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s to %s", ErrUnknownFollow, byActor.URL, follow.Object)
			}
			return err
		}
		p.logger.Info("follow undone", "follower", byActor.URL, "target", target.URL)
		return follows.Destroy(existing)
	})
}

func (p *Processor) undoAnnounce(ctx context.Context, env *Envelope, announce *Announce, byActor *models.Actor) error {
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		shares := models.NewShares(tx)
		share, err := shares.FindByURL(announce.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownShare, announce.ID)
			}
			return err
		}
		if share.ActorID != byActor.ID {
			return forbidden(byActor.URL, "undo", announce.ID)
		}
		video, err := models.NewVideos(tx).FindByID(share.VideoID)
		if err != nil {
			return err
		}
		if err := shares.Destroy(share); err != nil {
			return err
		}
		return p.deliverer.ForwardVideoRelatedActivity(tx, env.Raw, []*models.Actor{byActor}, video)
	})
}
