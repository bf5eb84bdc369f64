package main

import (
	"fmt"

	"github.com/davecheney/tube/activitypub"
	"github.com/davecheney/tube/internal/mirror"
	"github.com/davecheney/tube/models"
	"github.com/davecheney/tube/workers"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// instance holds the federation components of one domain, wired together.
type instance struct {
	db        *gorm.DB
	domain    string
	server    *models.Actor
	directory *activitypub.Directory
	videos    *activitypub.Videos
	deliverer *activitypub.Deliverer
	processor *activitypub.Processor
	inbox     *activitypub.Inbox
	follows   *activitypub.Follows
	store     *mirror.DiskStore
	engine    *workers.RedundancyEngine
	queue     *workers.Queue
}

func newInstance(ctx *Context, db *gorm.DB, domain string) (*instance, error) {
	cfg := ctx.Settings
	logger := ctx.Logger.With("domain", domain)

	server, err := models.NewActors(db).ServerActor(domain)
	if err != nil {
		return nil, fmt.Errorf("server actor: %w", err)
	}

	clients := activitypub.ClientOptions{
		Timeout: cfg.Delivery.RequestTimeout,
	}
	if cfg.Delivery.RateLimit > 0 {
		clients.Limiter = rate.NewLimiter(rate.Limit(cfg.Delivery.RateLimit), max(cfg.Delivery.Burst, 1))
	}
	fetcher, err := activitypub.NewClient(server, clients)
	if err != nil {
		return nil, err
	}

	scores := models.Scores{
		Base:    cfg.Scores.Base,
		Max:     cfg.Scores.Max,
		Bonus:   cfg.Scores.Bonus,
		Penalty: cfg.Scores.Penalty,
	}
	cache := activitypub.NewActorCache(cfg.Federation.ActorCacheSize, cfg.Federation.ActorCacheTTL)
	directory := activitypub.NewDirectory(db, cache, fetcher, domain, cfg.Federation.ActorRefreshInterval, logger)
	videos := activitypub.NewVideos(db, directory, domain, logger)
	deliverer := activitypub.NewDeliverer(db, domain, clients, scores, cfg.Delivery.BroadcastConcurrency, logger)

	store, err := mirror.NewDiskStore(cfg.Redundancy.Storage, "https://"+domain+"/static/redundancy", logger)
	if err != nil {
		return nil, err
	}
	processor := activitypub.NewProcessor(db, directory, videos, deliverer, activitypub.ProcessorOptions{
		Domain:               domain,
		ManualApproval:       cfg.Federation.ManualApproval,
		AcceptRedundancyFrom: cfg.Federation.AcceptRedundancyFrom,
		Scores:               scores,
		Mirrors:              store,
	}, logger)
	follows := activitypub.NewFollows(db, directory, deliverer, scores, logger)
	engine := workers.NewRedundancyEngine(db, domain, cfg.Redundancy, videos, deliverer, store, logger)
	inbox := activitypub.NewInbox(db, directory, processor, logger)

	queue := workers.NewQueue(db, cfg, logger)
	queue.Handle(models.JobBroadcast, deliverer.ProcessBroadcast)
	queue.Handle(models.JobBroadcastParallel, deliverer.ProcessBroadcast)
	queue.Handle(models.JobUnicast, deliverer.ProcessUnicast)
	queue.Handle(models.JobFollow, follows.Process)
	queue.Handle(models.JobInbox, inbox.Process)
	queue.Handle(models.JobVideoRedundancy, engine.ProcessMirror)

	return &instance{
		db:        db,
		domain:    domain,
		server:    server,
		directory: directory,
		videos:    videos,
		deliverer: deliverer,
		processor: processor,
		inbox:     inbox,
		follows:   follows,
		store:     store,
		engine:    engine,
		queue:     queue,
	}, nil
}

// localActor returns the local actor called name.
func (i *instance) localActor(name string) (*models.Actor, error) {
	actor, err := models.NewActors(i.db).FindLocal(name)
	if err != nil {
		return nil, fmt.Errorf("local actor %q: %w", name, err)
	}
	return actor, nil
}
