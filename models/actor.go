package models

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/davecheney/tube/internal/crypto"
	"github.com/davecheney/tube/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// An Actor is a federated identity: a person, a video channel, or an
// instance's own system actor. An Actor with no Server is local.
type Actor struct {
	ID                snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	URL               string    `gorm:"size:255;uniqueIndex;not null"`
	Type              ActorType `gorm:"default:'Person';not null"`
	PreferredUsername string    `gorm:"size:64;not null"`
	Name              string    `gorm:"size:255"`
	InboxURL          string    `gorm:"size:255;not null"`
	SharedInboxURL    string    `gorm:"size:255;index"`
	OutboxURL         string    `gorm:"size:255"`
	FollowersURL      string    `gorm:"size:255"`
	FollowingURL      string    `gorm:"size:255"`
	PublicKey         []byte    `gorm:"type:text"`
	PrivateKey        []byte    `gorm:"type:text"`
	FollowersCount    int32     `gorm:"default:0;not null"`
	FollowingCount    int32     `gorm:"default:0;not null"`
	ServerID          *snowflake.ID
	Server            *Server `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
}

type ActorType string

const (
	Person       ActorType = "Person"
	Group        ActorType = "Group"
	Application  ActorType = "Application"
	Service      ActorType = "Service"
	Organization ActorType = "Organization"
)

func (ActorType) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "enum('Person', 'Group', 'Application', 'Service', 'Organization')"
	default:
		return "TEXT"
	}
}

func (a *Actor) BeforeCreate(tx *gorm.DB) error {
	if a.ID == 0 {
		a.ID = snowflake.Now()
	}
	return nil
}

// IsLocal reports whether the actor belongs to this instance.
func (a *Actor) IsLocal() bool {
	return a.ServerID == nil
}

// IsOutdated reports whether a remote actor should be fetched again.
// Local actors are never outdated.
func (a *Actor) IsOutdated(interval time.Duration, now time.Time) bool {
	if a.IsLocal() {
		return false
	}
	horizon := now.Add(-interval)
	return a.CreatedAt.Before(horizon) && a.UpdatedAt.Before(horizon)
}

// Inbox returns the actor's shared inbox URL if it has one, otherwise its inbox URL.
func (a *Actor) Inbox() string {
	if a.SharedInboxURL != "" {
		return a.SharedInboxURL
	}
	return a.InboxURL
}

// Host returns the host component of the actor's URL.
func (a *Actor) Host() string {
	u, err := url.Parse(a.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// HasAccount reports whether actors of this type get an account shadow.
func (a *Actor) HasAccount() bool {
	return a.Type != Group
}

func (a *Actor) PublicKeyID() string {
	return a.URL + "#main-key"
}

func (a *Actor) PrivKey() (*rsa.PrivateKey, error) {
	if len(a.PrivateKey) == 0 {
		return nil, fmt.Errorf("actor %s has no private key", a.URL)
	}
	_, priv, err := crypto.ParseRSAPrivateKey(a.PrivateKey)
	return priv, err
}

func (a *Actor) PubKey() (*rsa.PublicKey, error) {
	if len(a.PublicKey) == 0 {
		return nil, fmt.Errorf("actor %s has no public key", a.URL)
	}
	return crypto.ParseRSAPublicKey(a.PublicKey)
}

type Actors struct {
	db *gorm.DB
}

func NewActors(db *gorm.DB) *Actors {
	return &Actors{db: db}
}

// FindByURL returns the actor with the given URL if it exists locally.
func (a *Actors) FindByURL(url string) (*Actor, error) {
	return first[Actor](a.db.Where("url = ?", url))
}

// FindByID returns the actor with the given ID.
func (a *Actors) FindByID(id snowflake.ID) (*Actor, error) {
	return first[Actor](a.db.Where("id = ?", id))
}

// FindByIDs returns the actors with the given IDs, in ID order.
func (a *Actors) FindByIDs(ids []snowflake.ID) ([]*Actor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var actors []*Actor
	err := a.db.Where("id IN ?", ids).Order("id").Find(&actors).Error
	return actors, err
}

// FindLocal returns the local actor with the given preferred username and type.
func (a *Actors) FindLocal(name string, types ...ActorType) (*Actor, error) {
	query := a.db.Where("preferred_username = ? AND server_id IS NULL", name)
	if len(types) > 0 {
		query = query.Where("type IN ?", types)
	}
	return first[Actor](query)
}

// Upsert stores a remote actor, creating it and its server if necessary.
// An existing actor keeps its identity: local actors are returned unchanged,
// and a remote actor's ID, server and counters are never rewritten.
func (a *Actors) Upsert(remote *Actor) (*Actor, error) {
	host := remote.Host()
	if host == "" {
		return nil, fmt.Errorf("actor %q has no host", remote.URL)
	}
	existing, err := a.FindByURL(remote.URL)
	switch {
	case err == nil:
		if existing.IsLocal() {
			return existing, nil
		}
		err := a.db.Model(existing).Select(
			"type", "preferred_username", "name",
			"inbox_url", "shared_inbox_url", "outbox_url",
			"followers_url", "following_url", "public_key",
			"updated_at",
		).Updates(&Actor{
			Type:              remote.Type,
			PreferredUsername: remote.PreferredUsername,
			Name:              remote.Name,
			InboxURL:          remote.InboxURL,
			SharedInboxURL:    remote.SharedInboxURL,
			OutboxURL:         remote.OutboxURL,
			FollowersURL:      remote.FollowersURL,
			FollowingURL:      remote.FollowingURL,
			PublicKey:         remote.PublicKey,
			UpdatedAt:         time.Now(),
		}).Error
		if err != nil {
			return nil, err
		}
		return a.FindByURL(remote.URL)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	server, err := NewServers(a.db).FindOrCreate(host)
	if err != nil {
		return nil, err
	}
	actor := &Actor{
		URL:               remote.URL,
		Type:              remote.Type,
		PreferredUsername: remote.PreferredUsername,
		Name:              remote.Name,
		InboxURL:          remote.InboxURL,
		SharedInboxURL:    remote.SharedInboxURL,
		OutboxURL:         remote.OutboxURL,
		FollowersURL:      remote.FollowersURL,
		FollowingURL:      remote.FollowingURL,
		PublicKey:         remote.PublicKey,
		ServerID:          &server.ID,
	}
	if err := a.db.Create(actor).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost a race with another writer; theirs is as good as ours.
			return a.FindByURL(remote.URL)
		}
		return nil, err
	}
	if actor.HasAccount() {
		if _, err := NewAccounts(a.db).FindOrCreate(actor); err != nil {
			return nil, err
		}
	}
	return actor, nil
}

// CreateLocal creates a local actor on domain with a fresh key pair.
func (a *Actors) CreateLocal(domain, name string, typ ActorType) (*Actor, error) {
	kp, err := crypto.GenerateRSAKeypair()
	if err != nil {
		return nil, err
	}
	base := "https://" + domain
	uri := base + "/accounts/" + name
	if typ == Group {
		uri = base + "/video-channels/" + name
	}
	actor := &Actor{
		URL:               uri,
		Type:              typ,
		PreferredUsername: name,
		Name:              name,
		InboxURL:          uri + "/inbox",
		SharedInboxURL:    base + "/inbox",
		OutboxURL:         uri + "/outbox",
		FollowersURL:      uri + "/followers",
		FollowingURL:      uri + "/following",
		PublicKey:         kp.PublicKey,
		PrivateKey:        kp.PrivateKey,
	}
	err = a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(actor).Error; err != nil {
			return err
		}
		if !actor.HasAccount() {
			return nil
		}
		_, err := NewAccounts(tx).FindOrCreate(actor)
		return err
	})
	return actor, err
}

// ServerActorName is the preferred username of the instance's own actor.
const ServerActorName = "peertube"

// ServerActor returns the instance's own actor, creating it on first use.
func (a *Actors) ServerActor(domain string) (*Actor, error) {
	actor, err := a.FindLocal(ServerActorName, Application)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return a.CreateLocal(domain, ServerActorName, Application)
	}
	return actor, err
}

// Delete removes an actor. Follow edges are destroyed one at a time so
// the counters of the actors on the other end are rebuilt, rates are
// destroyed so video counters stay in step.
func (a *Actors) Delete(actor *Actor) error {
	var follows []*ActorFollow
	if err := a.db.Where("actor_id = ? OR target_actor_id = ?", actor.ID, actor.ID).Find(&follows).Error; err != nil {
		return err
	}
	for _, follow := range follows {
		if err := NewActorFollows(a.db).Destroy(follow); err != nil {
			return err
		}
	}
	account, err := NewAccounts(a.db).FindByActor(actor)
	switch {
	case err == nil:
		var rates []*Rate
		if err := a.db.Where("account_id = ?", account.ID).Find(&rates).Error; err != nil {
			return err
		}
		for _, rate := range rates {
			if err := NewRates(a.db).Destroy(rate); err != nil {
				return err
			}
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}
	return a.db.Delete(actor).Error
}

// RebuildCounts recomputes the follower and following counts of every
// actor from the accepted follow edges.
func (a *Actors) RebuildCounts() error {
	followers := a.db.Model(&ActorFollow{}).Select("COUNT(*)").Where("actor_follows.target_actor_id = actors.id AND actor_follows.state = ?", FollowAccepted)
	following := a.db.Model(&ActorFollow{}).Select("COUNT(*)").Where("actor_follows.actor_id = actors.id AND actor_follows.state = ?", FollowAccepted)
	return a.db.Model(&Actor{}).Where("1 = 1").UpdateColumns(map[string]any{
		"followers_count": followers,
		"following_count": following,
	}).Error
}
