package activitypub

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/davecheney/tube/internal/webfinger"
	"github.com/davecheney/tube/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Fetcher retrieves remote ActivityPub documents. *Client is a Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, uri string, obj any) error
}

// ActorCache holds recently resolved actors in memory, keyed by URL.
// Anything that mutates an actor must Invalidate it.
type ActorCache struct {
	lru *expirable.LRU[string, *models.Actor]
}

// NewActorCache returns a cache of up to size actors, each kept for at most ttl.
func NewActorCache(size int, ttl time.Duration) *ActorCache {
	return &ActorCache{
		lru: expirable.NewLRU[string, *models.Actor](size, nil, ttl),
	}
}

func (c *ActorCache) Get(url string) (*models.Actor, bool) {
	actor, ok := c.lru.Get(url)
	if ok {
		actorCacheHits.Inc()
	} else {
		actorCacheMisses.Inc()
	}
	return actor, ok
}

func (c *ActorCache) Add(actor *models.Actor) {
	c.lru.Add(actor.URL, actor)
}

func (c *ActorCache) Invalidate(url string) {
	c.lru.Remove(url)
}

func (c *ActorCache) Purge() {
	c.lru.Purge()
}

func (c *ActorCache) Len() int {
	return c.lru.Len()
}

// Directory resolves actor URLs to stored actors, fetching and storing
// remote actors that are unknown or outdated.
type Directory struct {
	db      *gorm.DB
	cache   *ActorCache
	fetcher Fetcher
	domain  string
	refresh time.Duration
	logger  *slog.Logger
	now     func() time.Time

	inflight singleflight.Group
}

// NewDirectory returns a Directory for the instance at domain. Remote
// actors older than refresh are fetched again.
func NewDirectory(db *gorm.DB, cache *ActorCache, fetcher Fetcher, domain string, refresh time.Duration, logger *slog.Logger) *Directory {
	return &Directory{
		db:      db,
		cache:   cache,
		fetcher: fetcher,
		domain:  domain,
		refresh: refresh,
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve returns the actor at uri. Known actors that are not outdated are
// served from the cache or the database; others are fetched and upserted.
// If a refresh fails the stale copy is returned.
func (d *Directory) Resolve(ctx context.Context, uri string) (*models.Actor, error) {
	if actor, ok := d.cache.Get(uri); ok && !actor.IsOutdated(d.refresh, d.now()) {
		return actor, nil
	}
	v, err, _ := d.inflight.Do(uri, func() (any, error) {
		return d.resolve(ctx, uri, false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Actor), nil
}

// Refresh fetches the remote actor at uri regardless of its age.
func (d *Directory) Refresh(ctx context.Context, uri string) (*models.Actor, error) {
	d.cache.Invalidate(uri)
	return d.resolve(ctx, uri, true)
}

func (d *Directory) resolve(ctx context.Context, uri string, force bool) (*models.Actor, error) {
	stale, err := models.NewActors(d.db.WithContext(ctx)).FindByURL(uri)
	switch {
	case err == nil:
		if stale.IsLocal() || (!force && !stale.IsOutdated(d.refresh, d.now())) {
			d.cache.Add(stale)
			return stale, nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if hostOf(uri) == d.domain {
			return nil, fmt.Errorf("local actor %q: %w", uri, err)
		}
	default:
		return nil, err
	}

	remote, err := d.fetch(ctx, uri)
	if err != nil {
		if stale != nil {
			d.logger.Warn("refresh failed, using stored actor", "actor", uri, "err", err)
			return stale, nil
		}
		return nil, err
	}
	var actor *models.Actor
	err = models.Transaction(ctx, d.db, func(tx *gorm.DB) error {
		actor, err = models.NewActors(tx).Upsert(remote)
		return err
	})
	if err != nil {
		return nil, err
	}
	d.logger.Debug("resolved actor", "actor", actor.URL, "type", actor.Type)
	d.cache.Add(actor)
	return actor, nil
}

func (d *Directory) fetch(ctx context.Context, uri string) (*models.Actor, error) {
	obj, err := d.FetchObject(ctx, uri)
	if err != nil {
		return nil, err
	}
	actor := decodeActor(obj)
	switch {
	case actor.URL == "":
		return nil, fmt.Errorf("actor %q has no id", uri)
	case hostOf(actor.URL) != hostOf(uri):
		return nil, fmt.Errorf("actor %q claims id %q on another host", uri, actor.URL)
	case actor.InboxURL == "":
		return nil, fmt.Errorf("actor %q has no inbox", uri)
	case len(actor.PublicKey) == 0:
		return nil, fmt.Errorf("actor %q has no public key", uri)
	}
	switch actor.Type {
	case models.Person, models.Group, models.Application, models.Service, models.Organization:
	default:
		return nil, fmt.Errorf("actor %q has unsupported type %q", uri, actor.Type)
	}
	return actor, nil
}

// FetchObject retrieves the document at uri.
func (d *Directory) FetchObject(ctx context.Context, uri string) (map[string]any, error) {
	var obj map[string]any
	if err := d.fetcher.Fetch(ctx, uri, &obj); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	return obj, nil
}

// ResolveKey returns the actor owning keyID and its public key.
func (d *Directory) ResolveKey(ctx context.Context, keyID string) (*models.Actor, *rsa.PublicKey, error) {
	actor, err := d.Resolve(ctx, trimKeyID(keyID))
	if err != nil {
		return nil, nil, err
	}
	pub, err := actor.PubKey()
	if err != nil {
		return nil, nil, err
	}
	return actor, pub, nil
}

// ResolveAcct resolves a user@host handle with webfinger.
func (d *Directory) ResolveAcct(ctx context.Context, handle string) (*models.Actor, error) {
	acct, err := webfinger.Parse(handle)
	if err != nil {
		return nil, err
	}
	if acct.Host == "" || acct.Host == d.domain {
		return models.NewActors(d.db.WithContext(ctx)).FindLocal(acct.User)
	}
	uri, err := acct.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return d.Resolve(ctx, uri)
}

// Invalidate drops uri from the cache.
func (d *Directory) Invalidate(uri string) {
	d.cache.Invalidate(uri)
}
