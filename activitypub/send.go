package activitypub

import (
	"errors"
	"fmt"

	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

// SendFollow asks the target of follow to accept it.
func (d *Deliverer) SendFollow(tx *gorm.DB, follow *models.ActorFollow, follower, target *models.Actor) error {
	return d.Unicast(tx, buildFollow(follow, follower, target), follower, target.Inbox())
}

// SendUndoFollow withdraws follow.
func (d *Deliverer) SendUndoFollow(tx *gorm.DB, follow *models.ActorFollow, follower, target *models.Actor) error {
	undo := buildUndo(follower, buildFollow(follow, follower, target), Audience{To: []string{target.URL}})
	return d.Unicast(tx, undo, follower, target.Inbox())
}

// SendAccept tells the follower that follow was accepted.
func (d *Deliverer) SendAccept(tx *gorm.DB, follow *models.ActorFollow, follower, target *models.Actor) error {
	return d.Unicast(tx, buildAccept(follow, follower, target), target, follower.Inbox())
}

// SendReject tells the follower that follow was refused.
func (d *Deliverer) SendReject(tx *gorm.DB, follow *models.ActorFollow, follower, target *models.Actor) error {
	return d.Unicast(tx, buildReject(follow, follower, target), target, follower.Inbox())
}

// Rate records that the local account behind actor rates video and
// announces it. A typ of "" withdraws any existing rate.
func (d *Deliverer) Rate(tx *gorm.DB, actor *models.Actor, video *models.Video, typ models.RateType) error {
	account, err := models.NewAccounts(tx).FindByActor(actor)
	if err != nil {
		return fmt.Errorf("%s has no account: %w", actor.URL, err)
	}
	rates := models.NewRates(tx)
	existing, err := rates.Find(account, video)
	switch {
	case err == nil:
		if existing.Type == typ {
			return nil
		}
		if err := rates.Destroy(existing); err != nil {
			return err
		}
		if err := d.SendUndoRate(tx, actor, video, existing.Type); err != nil {
			return err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}
	if typ == "" {
		return nil
	}
	if _, err := rates.Rate(account, video, typ, likeURL(actor, video, typ)); err != nil {
		return err
	}
	if typ == models.Dislike {
		return d.SendDislike(tx, actor, video)
	}
	return d.SendLike(tx, actor, video)
}

func (d *Deliverer) SendLike(tx *gorm.DB, actor *models.Actor, video *models.Video) error {
	return d.SendVideoRelatedActivity(tx, func(audience Audience) map[string]any {
		return buildLike(actor, video, audience)
	}, actor, video)
}

func (d *Deliverer) SendDislike(tx *gorm.DB, actor *models.Actor, video *models.Video) error {
	return d.SendVideoRelatedActivity(tx, func(audience Audience) map[string]any {
		return buildDislike(actor, video, audience)
	}, actor, video)
}

// SendUndoRate withdraws a like or dislike of video by actor.
func (d *Deliverer) SendUndoRate(tx *gorm.DB, actor *models.Actor, video *models.Video, typ models.RateType) error {
	return d.SendVideoRelatedActivity(tx, func(audience Audience) map[string]any {
		inner := buildLike(actor, video, audience)
		if typ == models.Dislike {
			inner = buildDislike(actor, video, audience)
		}
		return buildUndo(actor, inner, audience)
	}, actor, video)
}

// Share records that actor announced video and sends the Announce.
func (d *Deliverer) Share(tx *gorm.DB, actor *models.Actor, video *models.Video) (*models.VideoShare, error) {
	share, err := models.NewShares(tx).FindOrCreate(shareURL(actor, video), actor, video)
	if err != nil {
		return nil, err
	}
	return share, d.SendAnnounce(tx, share, actor, video)
}

// Unshare removes actor's share of video and sends the Undo.
func (d *Deliverer) Unshare(tx *gorm.DB, actor *models.Actor, video *models.Video) error {
	share, err := models.NewShares(tx).FindByURL(shareURL(actor, video))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownShare, shareURL(actor, video))
	}
	if err := models.NewShares(tx).Destroy(share); err != nil {
		return err
	}
	return d.SendUndoAnnounce(tx, share, actor, video)
}

func (d *Deliverer) SendAnnounce(tx *gorm.DB, share *models.VideoShare, actor *models.Actor, video *models.Video) error {
	return d.SendVideoRelatedActivity(tx, func(audience Audience) map[string]any {
		return buildAnnounce(share.URL, actor, video, audience)
	}, actor, video)
}

func (d *Deliverer) SendUndoAnnounce(tx *gorm.DB, share *models.VideoShare, actor *models.Actor, video *models.Video) error {
	return d.SendVideoRelatedActivity(tx, func(audience Audience) map[string]any {
		return buildUndo(actor, buildAnnounce(share.URL, actor, video, audience), audience)
	}, actor, video)
}

// SendCreateCacheFile announces that actor mirrors file of video.
func (d *Deliverer) SendCreateCacheFile(tx *gorm.DB, actor *models.Actor, video *models.Video, file *models.VideoFile, r *models.VideoRedundancy) error {
	return d.SendVideoRelatedActivity(tx, func(audience Audience) map[string]any {
		return buildCreate(r.URL, actor, cacheFileObject(r, actor, video, file), audience)
	}, actor, video)
}

// SendUpdateCacheFile announces a new expiry of r.
func (d *Deliverer) SendUpdateCacheFile(tx *gorm.DB, actor *models.Actor, video *models.Video, file *models.VideoFile, r *models.VideoRedundancy) error {
	return d.SendVideoRelatedActivity(tx, func(audience Audience) map[string]any {
		id := r.URL + "/updates/" + r.UpdatedAt.UTC().Format("20060102T150405")
		return buildUpdate(id, actor, cacheFileObject(r, actor, video, file), audience)
	}, actor, video)
}

// SendUndoCacheFile announces that actor no longer mirrors r.
func (d *Deliverer) SendUndoCacheFile(tx *gorm.DB, actor *models.Actor, video *models.Video, file *models.VideoFile, r *models.VideoRedundancy) error {
	return d.SendVideoRelatedActivity(tx, func(audience Audience) map[string]any {
		create := buildCreate(r.URL, actor, cacheFileObject(r, actor, video, file), audience)
		return buildUndo(actor, create, audience)
	}, actor, video)
}
