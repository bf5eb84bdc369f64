package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/davecheney/tube/internal/algorithms"
	"github.com/davecheney/tube/internal/snowflake"
	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

// MirrorStore holds the bytes of local redundancies.
type MirrorStore interface {
	Remove(key string) error
}

// RedundancyKey names the stored bytes of a local mirror of file.
func RedundancyKey(video *models.Video, file *models.VideoFile) string {
	ext := ""
	switch file.MediaType {
	case "video/mp4":
		ext = ".mp4"
	case "video/webm":
		ext = ".webm"
	case "video/ogg":
		ext = ".ogv"
	}
	return fmt.Sprintf("%s-%d%s", video.UUID, file.Resolution, ext)
}

type ProcessorOptions struct {
	Domain string
	// ManualApproval leaves inbound follows pending until an operator accepts them.
	ManualApproval bool
	Scores         models.Scores
	// Mirrors, if set, has the bytes of local redundancies removed when
	// the video they mirror is deleted.
	Mirrors MirrorStore
	// AcceptRedundancyFrom is one of AcceptAnybody, AcceptFollowings or
	// AcceptNobody. Empty means AcceptAnybody.
	AcceptRedundancyFrom string
}

// Who may tell this instance they hold a mirror of a video.
const (
	AcceptAnybody    = "anybody"
	AcceptFollowings = "followings"
	AcceptNobody     = "nobody"
)

// Processor applies inbound activities to local state.
type Processor struct {
	db        *gorm.DB
	directory *Directory
	videos    *Videos
	deliverer *Deliverer
	opts      ProcessorOptions
	logger    *slog.Logger
	now       func() time.Time
}

func NewProcessor(db *gorm.DB, directory *Directory, videos *Videos, deliverer *Deliverer, opts ProcessorOptions, logger *slog.Logger) *Processor {
	return &Processor{
		db:        db,
		directory: directory,
		videos:    videos,
		deliverer: deliverer,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Process applies activity, sent by byActor. Activities this node does not
// understand are logged and dropped.
func (p *Processor) Process(ctx context.Context, activity Activity, byActor *models.Actor) error {
	if activity.Base().Actor != byActor.URL {
		return forbidden(byActor.URL, "send on behalf of", activity.Base().Actor)
	}
	var err error
	switch a := activity.(type) {
	case *Follow:
		err = p.processFollow(ctx, a, byActor)
	case *Accept:
		err = p.processAccept(ctx, a, byActor)
	case *Reject:
		err = p.processReject(ctx, a, byActor)
	case *Create:
		err = p.processCreate(ctx, a, byActor)
	case *Update:
		err = p.processUpdate(ctx, a, byActor)
	case *Delete:
		err = p.processDelete(ctx, a, byActor)
	case *Announce:
		err = p.processAnnounce(ctx, a, byActor)
	case *Like:
		err = p.rate(ctx, &a.Envelope, a.Object, byActor, models.Like)
	case *Dislike:
		err = p.rate(ctx, &a.Envelope, a.Object, byActor, models.Dislike)
	case *Undo:
		err = p.processUndo(ctx, a, byActor)
	default:
		p.drop(activity, "unsupported activity type")
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	activitiesProcessed.WithLabelValues(kind(activity), status).Inc()
	return err
}

// drop logs an activity that is not applied.
func (p *Processor) drop(activity Activity, reason string) {
	p.logger.Warn("dropping activity", "reason", reason, "kind", kind(activity), "id", activity.Base().ID, "actor", activity.Base().Actor)
	activitiesProcessed.WithLabelValues(kind(activity), "dropped").Inc()
}

func (p *Processor) processFollow(ctx context.Context, a *Follow, byActor *models.Actor) error {
	target, err := models.NewActors(p.db.WithContext(ctx)).FindByURL(a.Object)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Permanent(fmt.Errorf("follow of unknown actor %q", a.Object))
		}
		return err
	}
	if !target.IsLocal() {
		return Permanent(fmt.Errorf("follow of remote actor %q", a.Object))
	}
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		blocked, err := models.NewServers(tx).IsBlocked(byActor.Host())
		if err != nil {
			return err
		}
		if blocked {
			p.logger.Info("rejecting follow from blocked server", "follower", byActor.URL, "target", target.URL)
			return p.deliverer.SendReject(tx, &models.ActorFollow{URL: a.ID}, byActor, target)
		}
		follow, created, err := models.NewActorFollows(tx).WithScores(p.opts.Scores).FindOrCreate(byActor, target, a.ID, models.FollowPending)
		if err != nil {
			return err
		}
		if a.ID != "" && follow.URL != a.ID {
			// the follower may have forgotten an earlier follow; answer the new one.
			follow.URL = a.ID
			if err := tx.Model(follow).UpdateColumn("url", a.ID).Error; err != nil {
				return err
			}
		}
		if follow.State == models.FollowPending && p.opts.ManualApproval && target.Type != models.Application {
			p.logger.Info("follow awaiting approval", "follower", byActor.URL, "target", target.URL, "created", created)
			return nil
		}
		if err := models.NewActorFollows(tx).Accept(follow); err != nil {
			return err
		}
		p.logger.Info("accepted follow", "follower", byActor.URL, "target", target.URL, "created", created)
		return p.deliverer.SendAccept(tx, follow, byActor, target)
	})
}

// findFollow locates the follow an Accept or Reject from target refers to.
func (p *Processor) findFollow(tx *gorm.DB, embedded *Follow, id string, target *models.Actor) (*models.ActorFollow, error) {
	follows := models.NewActorFollows(tx)
	if id != "" {
		follow, err := follows.FindByURL(id)
		switch {
		case err == nil:
			if follow.TargetActorID != target.ID {
				return nil, forbidden(target.URL, "answer", id)
			}
			return follow, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}
	if embedded != nil {
		follower, err := models.NewActors(tx).FindByURL(embedded.Actor)
		if err == nil && follower.IsLocal() && embedded.Object == target.URL {
			if follow, err := follows.Find(follower, target); err == nil {
				return follow, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q answered by %s", ErrUnknownFollow, id, target.URL)
}

func (p *Processor) processAccept(ctx context.Context, a *Accept, byActor *models.Actor) error {
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		follow, err := p.findFollow(tx, a.Follow, a.ObjectID, byActor)
		if err != nil {
			return err
		}
		return models.NewActorFollows(tx).Accept(follow)
	})
}

func (p *Processor) processReject(ctx context.Context, a *Reject, byActor *models.Actor) error {
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		follow, err := p.findFollow(tx, a.Follow, a.ObjectID, byActor)
		if err != nil {
			return err
		}
		return models.NewActorFollows(tx).Destroy(follow)
	})
}

func (p *Processor) processCreate(ctx context.Context, a *Create, byActor *models.Actor) error {
	switch obj := a.Object.(type) {
	case *VideoObject:
		if obj.Account != byActor.URL && obj.Channel != byActor.URL {
			return forbidden(byActor.URL, "create", obj.ID)
		}
		_, err := p.videos.Store(ctx, obj)
		return err
	case *DislikeObject:
		return p.rate(ctx, &a.Envelope, obj.Object, byActor, models.Dislike)
	case *CacheFileObject:
		return p.processCacheFile(ctx, &a.Envelope, obj, byActor)
	case *NoteObject:
		return p.processNote(ctx, &a.Envelope, obj, byActor)
	case *ViewObject:
		return p.processView(ctx, &a.Envelope, obj, byActor)
	default:
		p.drop(a, "unsupported object type")
		return nil
	}
}

func (p *Processor) processUpdate(ctx context.Context, a *Update, byActor *models.Actor) error {
	switch obj := a.Object.(type) {
	case *VideoObject:
		if obj.Account != byActor.URL && obj.Channel != byActor.URL {
			return forbidden(byActor.URL, "update", obj.ID)
		}
		existing, err := models.NewVideos(p.db.WithContext(ctx)).FindByURL(obj.ID)
		switch {
		case err == nil:
			if existing.IsOwned() || !existing.OwnedBy(byActor) {
				return forbidden(byActor.URL, "update", obj.ID)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		_, err = p.videos.Store(ctx, obj)
		return err
	case *CacheFileObject:
		return p.processCacheFile(ctx, &a.Envelope, obj, byActor)
	case *ActorObject:
		return p.processUpdateActor(ctx, obj, byActor)
	default:
		p.drop(a, "unsupported object type")
		return nil
	}
}

func (p *Processor) processUpdateActor(ctx context.Context, obj *ActorObject, byActor *models.Actor) error {
	if obj.Actor.URL != byActor.URL {
		return forbidden(byActor.URL, "update", obj.Actor.URL)
	}
	if obj.Actor.InboxURL == "" || len(obj.Actor.PublicKey) == 0 {
		return Permanent(fmt.Errorf("update of %s has no inbox or key", obj.Actor.URL))
	}
	err := models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		_, err := models.NewActors(tx).Upsert(obj.Actor)
		return err
	})
	p.directory.Invalidate(byActor.URL)
	return err
}

// acceptsRedundancyFrom reports whether mirrors announced by actor are recorded.
func (p *Processor) acceptsRedundancyFrom(ctx context.Context, actor *models.Actor) (bool, error) {
	switch p.opts.AcceptRedundancyFrom {
	case "", AcceptAnybody:
		return true, nil
	case AcceptNobody:
		return false, nil
	case AcceptFollowings:
		db := p.db.WithContext(ctx)
		server, err := models.NewActors(db).ServerActor(p.opts.Domain)
		if err != nil {
			return false, err
		}
		follow, err := models.NewActorFollows(db).Find(server, actor)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return false, nil
		case err != nil:
			return false, err
		}
		return follow.State == models.FollowAccepted, nil
	default:
		return false, fmt.Errorf("unknown redundancy policy %q", p.opts.AcceptRedundancyFrom)
	}
}

// processCacheFile handles both the Create and the Update of a CacheFile.
func (p *Processor) processCacheFile(ctx context.Context, env *Envelope, cf *CacheFileObject, byActor *models.Actor) error {
	if cf.Actor != byActor.URL {
		return forbidden(byActor.URL, "announce a cache file for", cf.Actor)
	}
	if cf.ID == "" || hostOf(cf.ID) != hostOf(byActor.URL) {
		return forbidden(byActor.URL, "announce cache file", cf.ID)
	}
	accepted, err := p.acceptsRedundancyFrom(ctx, byActor)
	if err != nil {
		return err
	}
	if !accepted {
		p.logger.Info("ignoring cache file", "id", cf.ID, "actor", byActor.URL, "accept_from", p.opts.AcceptRedundancyFrom)
		return nil
	}
	video, err := p.videos.GetOrCreateVideoAndAccountAndChannel(ctx, ObjectRef{ID: cf.Object})
	if err != nil {
		return err
	}
	var file *models.VideoFile
	for _, f := range video.Files {
		if f.Resolution != cf.URL.Height {
			continue
		}
		if cf.URL.MediaType != "" && f.MediaType != cf.URL.MediaType {
			continue
		}
		file = f
		break
	}
	if file == nil {
		return Permanent(fmt.Errorf("%w: %s has no %dp file", ErrUnknownVideo, video.URL, cf.URL.Height))
	}
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		redundancies := models.NewRedundancies(tx)
		existing, err := redundancies.FindByURL(cf.ID)
		switch {
		case err == nil:
			if existing.ActorID != byActor.ID {
				return forbidden(byActor.URL, "update", cf.ID)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		_, err = redundancies.Upsert(&models.VideoRedundancy{
			ExpiresOn:   cf.Expires,
			FileURL:     cf.URL.Href,
			URL:         cf.ID,
			VideoFileID: file.ID,
			ActorID:     byActor.ID,
		})
		if err != nil {
			return err
		}
		return p.deliverer.ForwardVideoRelatedActivity(tx, env.Raw, []*models.Actor{byActor}, video)
	})
}

// rate applies a Like or Dislike of the video at videoURL.
func (p *Processor) rate(ctx context.Context, env *Envelope, videoURL string, byActor *models.Actor, typ models.RateType) error {
	video, err := p.videos.GetOrCreateVideoAndAccountAndChannel(ctx, ObjectRef{ID: videoURL})
	if err != nil {
		return err
	}
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		account, err := models.NewAccounts(tx).FindByActor(byActor)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return forbidden(byActor.URL, "rate", video.URL)
			}
			return err
		}
		changed, err := models.NewRates(tx).Rate(account, video, typ, env.ID)
		if err != nil || !changed {
			return err
		}
		return p.deliverer.ForwardVideoRelatedActivity(tx, env.Raw, []*models.Actor{byActor}, video)
	})
}

func (p *Processor) processNote(ctx context.Context, env *Envelope, note *NoteObject, byActor *models.Actor) error {
	if note.AttributedTo != byActor.URL {
		return forbidden(byActor.URL, "create a comment for", note.AttributedTo)
	}
	if note.ID == "" || hostOf(note.ID) != hostOf(byActor.URL) {
		return forbidden(byActor.URL, "create comment", note.ID)
	}
	parent, err := models.NewComments(p.db.WithContext(ctx)).FindByURL(note.InReplyTo)
	var video *models.Video
	switch {
	case err == nil:
		video, err = models.NewVideos(p.db.WithContext(ctx)).FindByID(parent.VideoID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		parent = nil
		video, err = p.videos.GetOrCreateVideoAndAccountAndChannel(ctx, ObjectRef{ID: note.InReplyTo})
	}
	if err != nil {
		return fmt.Errorf("comment %s replies to %s: %w", note.ID, note.InReplyTo, err)
	}
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		comments := models.NewComments(tx)
		comment, err := comments.Create(&models.VideoComment{
			URL:            note.ID,
			Text:           note.Content,
			VideoID:        video.ID,
			AccountActorID: byActor.ID,
		}, parent)
		if err != nil {
			return err
		}
		if !video.IsOwned() {
			return nil
		}
		ancestors, err := comments.Ancestors(comment)
		if err != nil {
			return err
		}
		involved, err := models.NewVideos(tx).ActorsInvolved(video)
		if err != nil {
			return err
		}
		authors, err := models.NewActors(tx).FindByIDs(algorithms.Uniq(algorithms.Map(ancestors, func(c *models.VideoComment) snowflake.ID {
			return c.AccountActorID
		})))
		if err != nil {
			return err
		}
		return p.deliverer.forward(tx, env.Raw, append(involved, authors...), []*models.Actor{byActor})
	})
}

func (p *Processor) processView(ctx context.Context, env *Envelope, view *ViewObject, byActor *models.Actor) error {
	video, err := p.videos.GetOrCreateVideoAndAccountAndChannel(ctx, ObjectRef{ID: view.Object})
	if err != nil {
		return err
	}
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		if err := models.NewVideos(tx).AddViews(video, 1, p.now()); err != nil {
			return err
		}
		return p.deliverer.ForwardVideoRelatedActivity(tx, env.Raw, []*models.Actor{byActor}, video)
	})
}

func (p *Processor) processAnnounce(ctx context.Context, a *Announce, byActor *models.Actor) error {
	if a.ID == "" || hostOf(a.ID) != hostOf(byActor.URL) {
		return forbidden(byActor.URL, "announce as", a.ID)
	}
	video, err := p.videos.GetOrCreateVideoAndAccountAndChannel(ctx, a.Object)
	if err != nil {
		return err
	}
	return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		if _, err := models.NewShares(tx).FindOrCreate(a.ID, byActor, video); err != nil {
			return err
		}
		return p.deliverer.ForwardVideoRelatedActivity(tx, a.Raw, []*models.Actor{byActor}, video)
	})
}

func (p *Processor) processDelete(ctx context.Context, a *Delete, byActor *models.Actor) error {
	db := p.db.WithContext(ctx)
	if a.Object == byActor.URL {
		return p.DeleteActor(ctx, byActor)
	}

	video, err := models.NewVideos(db).FindByURL(a.Object)
	switch {
	case err == nil:
		if video.IsOwned() || !video.OwnedBy(byActor) {
			return forbidden(byActor.URL, "delete", video.URL)
		}
		return p.deleteVideo(ctx, video)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	comment, err := models.NewComments(db).FindByURL(a.Object)
	switch {
	case err == nil:
		video, err := models.NewVideos(db).FindByID(comment.VideoID)
		if err != nil {
			return err
		}
		if comment.AccountActorID != byActor.ID && !video.OwnedBy(byActor) {
			return forbidden(byActor.URL, "delete", comment.URL)
		}
		return models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
			if err := models.NewComments(tx).Destroy(comment); err != nil {
				return err
			}
			return p.deliverer.ForwardVideoRelatedActivity(tx, a.Raw, []*models.Actor{byActor}, video)
		})
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	p.drop(a, "delete of unknown object")
	return nil
}

// DeleteActor removes a remote actor. Videos it published go with it, as
// do the bytes of any local mirrors of them.
func (p *Processor) DeleteActor(ctx context.Context, actor *models.Actor) error {
	if actor.IsLocal() {
		return Permanent(fmt.Errorf("%s is a local actor", actor.URL))
	}
	var mirrored []*models.VideoRedundancy
	err := models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		server, err := models.NewActors(tx).ServerActor(p.opts.Domain)
		if err != nil {
			return err
		}
		if mirrored, err = models.NewRedundancies(tx).FindLocalByOwner(server, actor); err != nil {
			return err
		}
		return models.NewActors(tx).Delete(actor)
	})
	p.directory.Invalidate(actor.URL)
	if err != nil {
		return err
	}
	p.logger.Info("deleted actor", "actor", actor.URL, "mirrors", len(mirrored))
	p.removeMirrors(mirrored)
	return nil
}

// deleteVideo removes a remote video along with any local mirrors of it.
func (p *Processor) deleteVideo(ctx context.Context, video *models.Video) error {
	var mirrored []*models.VideoRedundancy
	err := models.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		server, err := models.NewActors(tx).ServerActor(p.opts.Domain)
		if err != nil {
			return err
		}
		if mirrored, err = models.NewRedundancies(tx).FindLocalByVideo(server, video); err != nil {
			return err
		}
		return models.NewVideos(tx).Delete(video)
	})
	if err != nil {
		return err
	}
	p.logger.Info("deleted remote video", "video", video.URL, "mirrors", len(mirrored))
	p.removeMirrors(mirrored)
	return nil
}

// removeMirrors deletes the bytes of local redundancies whose rows are gone.
func (p *Processor) removeMirrors(redundancies []*models.VideoRedundancy) {
	if p.opts.Mirrors == nil {
		return
	}
	for _, r := range redundancies {
		if !r.IsOwned() || r.VideoFile == nil || r.VideoFile.Video == nil {
			continue
		}
		if err := p.opts.Mirrors.Remove(RedundancyKey(r.VideoFile.Video, r.VideoFile)); err != nil {
			p.logger.Warn("failed to remove mirrored file", "redundancy", r.URL, "err", err)
		}
	}
}
