package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/davecheney/tube/activitypub"
	"github.com/davecheney/tube/internal/algorithms"
	"github.com/davecheney/tube/internal/config"
	"github.com/davecheney/tube/internal/snowflake"
	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

// MirrorStore holds the bytes of mirrored video files.
type MirrorStore interface {
	Fetch(ctx context.Context, src, key string) (int64, error)
	Remove(key string) error
	URL(key string) string
}

// MirrorPayload is the payload of a JobVideoRedundancy job.
type MirrorPayload struct {
	VideoURL string `json:"videoUrl"`
}

// RedundancyEngine mirrors popular remote videos on behalf of the server
// actor, announces each mirror with a CacheFile, and releases mirrors once
// they expire or their strategy runs out of space.
type RedundancyEngine struct {
	db        *gorm.DB
	domain    string
	cfg       config.Redundancy
	videos    *activitypub.Videos
	deliverer *activitypub.Deliverer
	store     MirrorStore
	logger    *slog.Logger
	now       func() time.Time
	rnd       *rand.Rand
}

func NewRedundancyEngine(db *gorm.DB, domain string, cfg config.Redundancy, videos *activitypub.Videos, deliverer *activitypub.Deliverer, store MirrorStore, logger *slog.Logger) *RedundancyEngine {
	return &RedundancyEngine{
		db:        db,
		domain:    domain,
		cfg:       cfg,
		videos:    videos,
		deliverer: deliverer,
		store:     store,
		logger:    logger.With("component", "redundancy"),
		now:       time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run calls Tick every check interval until ctx is canceled.
func (e *RedundancyEngine) Run(ctx context.Context) error {
	if len(e.cfg.Strategies) == 0 {
		e.logger.Info("no strategies configured")
	}
	for {
		if err := e.Tick(ctx); err != nil {
			e.logger.Error("tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.cfg.CheckInterval):
		}
	}
}

// Tick releases expired local mirrors, forgets expired remote ones, then
// mirrors one candidate video for each strategy.
func (e *RedundancyEngine) Tick(ctx context.Context) error {
	server, err := models.NewActors(e.db.WithContext(ctx)).ServerActor(e.domain)
	if err != nil {
		return err
	}

	var errs []error
	for _, s := range e.cfg.Strategies {
		if err := e.expire(ctx, server, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: expire: %w", s.Name, err))
		}
	}

	n, err := models.NewRedundancies(e.db.WithContext(ctx)).RemoveRemoteExpired(server, e.now())
	if err != nil {
		errs = append(errs, fmt.Errorf("remove remote expired: %w", err))
	} else if n > 0 {
		e.logger.Info("forgot expired remote redundancies", "count", n)
	}

	for _, s := range e.cfg.Strategies {
		if err := e.duplicate(ctx, server, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (e *RedundancyEngine) expire(ctx context.Context, server *models.Actor, s config.Strategy) error {
	expired, err := models.NewRedundancies(e.db.WithContext(ctx)).LocalExpired(server, s.Name, s.MinLifetime, e.now())
	if err != nil {
		return err
	}
	for _, r := range expired {
		if err := e.release(ctx, server, r); err != nil {
			return err
		}
	}
	return nil
}

// candidates returns the IDs of the videos strategy s would mirror.
func (e *RedundancyEngine) candidates(ctx context.Context, server *models.Actor, s config.Strategy) ([]snowflake.ID, error) {
	redundancies := models.NewRedundancies(e.db.WithContext(ctx))
	k := e.cfg.RandomizedFactor
	switch s.Name {
	case "most-views":
		return redundancies.MostViewedCandidates(server, k)
	case "trending":
		return redundancies.TrendingCandidates(server, k, e.now().Add(-e.cfg.TrendingInterval))
	case "recently-added":
		return redundancies.RecentlyAddedCandidates(server, k, s.MinViews)
	default:
		return nil, fmt.Errorf("unknown strategy %q", s.Name)
	}
}

// duplicate mirrors the files of one video picked at random from the
// candidates of s.
func (e *RedundancyEngine) duplicate(ctx context.Context, server *models.Actor, s config.Strategy) error {
	ids, err := e.candidates(ctx, server, s)
	if err != nil {
		return err
	}
	id, ok := algorithms.Sample(e.rnd, ids)
	if !ok {
		e.logger.Debug("no candidates", "strategy", s.Name)
		return nil
	}
	video, err := models.NewVideos(e.db.WithContext(ctx)).FindByID(id)
	if err != nil {
		return err
	}
	files, err := models.NewRedundancies(e.db.WithContext(ctx)).UnmirroredFiles(server, video)
	if err != nil {
		return err
	}
	strategy := s.Name
	expires := e.now().Add(s.MinLifetime)
	for _, file := range files {
		fits, err := e.makeRoom(ctx, server, s, file.Size)
		if err != nil {
			return err
		}
		if !fits {
			e.logger.Info("strategy is full", "strategy", s.Name, "video", video.URL, "resolution", file.Resolution)
			return nil
		}
		if _, err := e.mirror(ctx, server, video, file, &strategy, &expires); err != nil {
			return err
		}
	}
	return nil
}

// makeRoom releases the oldest mirrors of s that are past their minimum
// lifetime until size more bytes fit in its budget. It reports false if
// they cannot be made to fit.
func (e *RedundancyEngine) makeRoom(ctx context.Context, server *models.Actor, s config.Strategy, size int64) (bool, error) {
	if s.Size == 0 {
		return true, nil
	}
	if size > s.Size {
		return false, nil
	}
	redundancies := models.NewRedundancies(e.db.WithContext(ctx))
	for {
		used, err := redundancies.LocalSize(server, s.Name)
		if err != nil {
			return false, err
		}
		if used+size <= s.Size {
			return true, nil
		}
		oldest, err := redundancies.OldestLocal(server, s.Name, s.MinLifetime, e.now(), 1)
		if err != nil {
			return false, err
		}
		if len(oldest) == 0 {
			return false, nil
		}
		if err := e.release(ctx, server, oldest[0]); err != nil {
			return false, err
		}
	}
}

// mirror fetches file and records and announces the mirror. The bytes are
// fetched before the transaction starts.
func (e *RedundancyEngine) mirror(ctx context.Context, server *models.Actor, video *models.Video, file *models.VideoFile, strategy *string, expires *time.Time) (*models.VideoRedundancy, error) {
	key := activitypub.RedundancyKey(video, file)
	n, err := e.store.Fetch(ctx, file.FileURL, key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", file.FileURL, err)
	}
	r := &models.VideoRedundancy{
		ExpiresOn:   expires,
		FileURL:     e.store.URL(key),
		URL:         activitypub.RedundancyURL(e.domain, video, file),
		Strategy:    strategy,
		VideoFileID: file.ID,
		ActorID:     server.ID,
	}
	err = models.Transaction(ctx, e.db, func(tx *gorm.DB) error {
		if err := models.NewRedundancies(tx).Create(r); err != nil {
			return err
		}
		return e.deliverer.SendCreateCacheFile(tx, server, video, file, r)
	})
	if err != nil {
		if err := e.store.Remove(key); err != nil {
			e.logger.Warn("remove failed", "key", key, "err", err)
		}
		return nil, err
	}
	e.logger.Info("mirrored", "strategy", *strategy, "video", video.URL, "resolution", file.Resolution, "bytes", n)
	redundancyEvents.WithLabelValues(*strategy, "mirrored").Inc()
	return r, nil
}

// release forgets a local mirror, announces the Undo, and removes its bytes.
func (e *RedundancyEngine) release(ctx context.Context, server *models.Actor, r *models.VideoRedundancy) error {
	file := r.VideoFile
	video := file.Video
	err := models.Transaction(ctx, e.db, func(tx *gorm.DB) error {
		if err := models.NewRedundancies(tx).Destroy(r); err != nil {
			return err
		}
		return e.deliverer.SendUndoCacheFile(tx, server, video, file, r)
	})
	if err != nil {
		return err
	}
	key := activitypub.RedundancyKey(video, file)
	if err := e.store.Remove(key); err != nil {
		e.logger.Warn("remove failed", "key", key, "err", err)
	}
	strategy := models.ManualStrategy
	if r.Strategy != nil {
		strategy = *r.Strategy
	}
	e.logger.Info("released", "strategy", strategy, "video", video.URL, "resolution", file.Resolution)
	redundancyEvents.WithLabelValues(strategy, "released").Inc()
	return nil
}

// Mirror mirrors every file of the remote video at videoURL without an
// expiry. Files already mirrored by a strategy are pinned instead.
func (e *RedundancyEngine) Mirror(ctx context.Context, videoURL string) ([]*models.VideoRedundancy, error) {
	video, err := e.videos.GetOrCreateVideoAndAccountAndChannel(ctx, activitypub.ObjectRef{ID: videoURL})
	if err != nil {
		return nil, err
	}
	if video.IsOwned() {
		return nil, fmt.Errorf("%s is a local video", videoURL)
	}
	server, err := models.NewActors(e.db.WithContext(ctx)).ServerActor(e.domain)
	if err != nil {
		return nil, err
	}

	held, err := models.NewRedundancies(e.db.WithContext(ctx)).FindLocalByVideo(server, video)
	if err != nil {
		return nil, err
	}
	var mirrored []*models.VideoRedundancy
	for _, r := range held {
		if r.Strategy != nil && *r.Strategy == models.ManualStrategy {
			mirrored = append(mirrored, r)
			continue
		}
		err := models.Transaction(ctx, e.db, func(tx *gorm.DB) error {
			if err := models.NewRedundancies(tx).Pin(r); err != nil {
				return err
			}
			return e.deliverer.SendUpdateCacheFile(tx, server, video, r.VideoFile, r)
		})
		if err != nil {
			return nil, err
		}
		mirrored = append(mirrored, r)
	}

	files, err := models.NewRedundancies(e.db.WithContext(ctx)).UnmirroredFiles(server, video)
	if err != nil {
		return nil, err
	}
	strategy := models.ManualStrategy
	for _, file := range files {
		r, err := e.mirror(ctx, server, video, file, &strategy, nil)
		if err != nil {
			return nil, err
		}
		mirrored = append(mirrored, r)
	}
	return mirrored, nil
}

// Unmirror releases every local mirror of the video at videoURL and
// returns how many were released.
func (e *RedundancyEngine) Unmirror(ctx context.Context, videoURL string) (int, error) {
	video, err := models.NewVideos(e.db.WithContext(ctx)).FindByURL(videoURL)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %s", activitypub.ErrUnknownVideo, videoURL)
		}
		return 0, err
	}
	server, err := models.NewActors(e.db.WithContext(ctx)).ServerActor(e.domain)
	if err != nil {
		return 0, err
	}
	held, err := models.NewRedundancies(e.db.WithContext(ctx)).FindLocalByVideo(server, video)
	if err != nil {
		return 0, err
	}
	for _, r := range held {
		if err := e.release(ctx, server, r); err != nil {
			return 0, err
		}
	}
	return len(held), nil
}

// EnqueueMirror queues a request to mirror the video at videoURL.
func (e *RedundancyEngine) EnqueueMirror(ctx context.Context, videoURL string) error {
	_, err := models.NewJobs(e.db.WithContext(ctx)).Enqueue(models.JobVideoRedundancy, MirrorPayload{VideoURL: videoURL})
	return err
}

// ProcessMirror runs a JobVideoRedundancy job.
func (e *RedundancyEngine) ProcessMirror(ctx context.Context, job *models.Job) error {
	var payload MirrorPayload
	if err := job.Decode(&payload); err != nil {
		return activitypub.Permanent(err)
	}
	_, err := e.Mirror(ctx, payload.VideoURL)
	if errors.Is(err, activitypub.ErrUnknownVideo) {
		return activitypub.Permanent(err)
	}
	return err
}
