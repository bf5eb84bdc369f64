package models

import (
	"errors"
	"time"

	"github.com/davecheney/tube/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// An ActorFollow is a directed subscription from Actor to TargetActor.
// Only accepted follows contribute to the followers and following counts.
type ActorFollow struct {
	ID            snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ActorID       snowflake.ID `gorm:"uniqueIndex:uidx_actor_follows_actor_id_target_actor_id;not null;"`
	Actor         *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	TargetActorID snowflake.ID `gorm:"uniqueIndex:uidx_actor_follows_actor_id_target_actor_id;index;not null;"`
	TargetActor   *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	State         FollowState  `gorm:"not null;default:'pending'"`
	// Score is adjusted by delivery outcomes. It is clamped above at
	// Scores.Max but not below, follows with a score at or below zero are
	// removed by the next sweep.
	Score int32 `gorm:"not null;index"`
	// URL is the id of the Follow activity that created this edge.
	URL string `gorm:"size:255;index"`
}

type FollowState string

const (
	FollowPending  FollowState = "pending"
	FollowAccepted FollowState = "accepted"
)

func (FollowState) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "enum('pending', 'accepted')"
	default:
		return "TEXT"
	}
}

// Scores bounds and steps the trust score of a follow.
type Scores struct {
	Base    int32
	Max     int32
	Bonus   int32
	Penalty int32
}

var DefaultScores = Scores{
	Base:    1000,
	Max:     10000,
	Bonus:   10,
	Penalty: -10,
}

func (f *ActorFollow) BeforeCreate(tx *gorm.DB) error {
	if f.ID == 0 {
		f.ID = snowflake.Now()
	}
	return nil
}

func (f *ActorFollow) AfterCreate(tx *gorm.DB) error {
	return forEach(tx, f.updateFollowersCount, f.updateFollowingCount)
}

func (f *ActorFollow) AfterUpdate(tx *gorm.DB) error {
	return forEach(tx, f.updateFollowersCount, f.updateFollowingCount)
}

// AfterDelete rebuilds the counts of both ends of the edge whatever the
// state of the deleted edge was.
func (f *ActorFollow) AfterDelete(tx *gorm.DB) error {
	return forEach(tx, f.updateFollowersCount, f.updateFollowingCount)
}

// updateFollowersCount updates the followers count for the target.
func (f *ActorFollow) updateFollowersCount(tx *gorm.DB) error {
	followers := tx.Model(&ActorFollow{}).Select("COUNT(*)").Where("target_actor_id = ? AND state = ?", f.TargetActorID, FollowAccepted)
	return tx.Model(&Actor{ID: f.TargetActorID}).UpdateColumn("followers_count", followers).Error
}

// updateFollowingCount updates the following count for the actor.
func (f *ActorFollow) updateFollowingCount(tx *gorm.DB) error {
	following := tx.Model(&ActorFollow{}).Select("COUNT(*)").Where("actor_id = ? AND state = ?", f.ActorID, FollowAccepted)
	return tx.Model(&Actor{ID: f.ActorID}).UpdateColumn("following_count", following).Error
}

type ActorFollows struct {
	db     *gorm.DB
	scores Scores
}

func NewActorFollows(db *gorm.DB) *ActorFollows {
	return &ActorFollows{db: db, scores: DefaultScores}
}

// WithScores returns a copy of f which uses scores.
func (f *ActorFollows) WithScores(scores Scores) *ActorFollows {
	return &ActorFollows{db: f.db, scores: scores}
}

// Find returns the edge from follower to target, or gorm.ErrRecordNotFound.
func (f *ActorFollows) Find(follower, target *Actor) (*ActorFollow, error) {
	follow, err := first[ActorFollow](f.db.Where("actor_id = ? AND target_actor_id = ?", follower.ID, target.ID))
	if err != nil {
		return nil, err
	}
	follow.Actor, follow.TargetActor = follower, target
	return follow, nil
}

// FindByURL returns the edge created by the Follow activity with the given id.
func (f *ActorFollows) FindByURL(url string) (*ActorFollow, error) {
	return first[ActorFollow](f.db.Preload("Actor").Preload("TargetActor").Where("url = ?", url))
}

// FindOrCreate returns the edge from follower to target, creating it in
// state if it does not exist. created reports whether a new edge was made.
func (f *ActorFollows) FindOrCreate(follower, target *Actor, url string, state FollowState) (follow *ActorFollow, created bool, err error) {
	follow, err = f.Find(follower, target)
	if err == nil {
		return follow, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	follow = &ActorFollow{
		ActorID:       follower.ID,
		TargetActorID: target.ID,
		State:         state,
		Score:         f.scores.Base,
		URL:           url,
	}
	if err := f.db.Create(follow).Error; err != nil {
		return nil, false, err
	}
	follow.Actor, follow.TargetActor = follower, target
	return follow, true, nil
}

// Accept moves a pending edge to accepted. Accepting an accepted edge is a no-op.
func (f *ActorFollows) Accept(follow *ActorFollow) error {
	if follow.State == FollowAccepted {
		return nil
	}
	follow.State = FollowAccepted
	return f.db.Model(follow).Update("state", FollowAccepted).Error
}

// Destroy removes the edge and rebuilds the counters of both ends.
func (f *ActorFollows) Destroy(follow *ActorFollow) error {
	return f.db.Delete(follow).Error
}

// UpdateScores adds delta to the score of every follow whose follower
// receives deliveries at one of inboxes. The result is clamped at the
// maximum score.
func (f *ActorFollows) UpdateScores(inboxes []string, delta int32) (int64, error) {
	if len(inboxes) == 0 {
		return 0, nil
	}
	followers := f.db.Model(&Actor{}).Select("id").Where("inbox_url IN ? OR shared_inbox_url IN ?", inboxes, inboxes)
	res := f.db.Model(&ActorFollow{}).
		Where("actor_id IN (?)", followers).
		UpdateColumn("score", gorm.Expr(least(f.db)+"(score + ?, ?)", delta, f.scores.Max))
	return res.RowsAffected, res.Error
}

// RemoveBadFollows destroys every follow whose score is at or below zero.
func (f *ActorFollows) RemoveBadFollows() (int, error) {
	var follows []*ActorFollow
	if err := f.db.Where("score <= 0").Find(&follows).Error; err != nil {
		return 0, err
	}
	for _, follow := range follows {
		if err := f.Destroy(follow); err != nil {
			return 0, err
		}
	}
	return len(follows), nil
}

// FollowerInboxes returns the distinct delivery inboxes of the remote,
// unblocked, accepted followers of targets. A follower's shared inbox is
// preferred over its personal inbox. Inboxes in except are omitted.
func (f *ActorFollows) FollowerInboxes(targets []snowflake.ID, except []string) ([]string, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	const inbox = "COALESCE(NULLIF(actors.shared_inbox_url, ''), actors.inbox_url)"
	query := f.db.Model(&ActorFollow{}).
		Select("DISTINCT "+inbox+" AS inbox").
		Joins("JOIN actors ON actors.id = actor_follows.actor_id").
		Joins("JOIN servers ON servers.id = actors.server_id").
		Where("actor_follows.target_actor_id IN ? AND actor_follows.state = ? AND servers.blocked = ?", targets, FollowAccepted, false)
	if len(except) > 0 {
		query = query.Where(inbox+" NOT IN ?", except)
	}
	var inboxes []string
	return inboxes, query.Order("inbox").Scan(&inboxes).Error
}

// Followers returns a page of the accepted followers of target, newest first.
func (f *ActorFollows) Followers(target *Actor, offset, limit int) ([]*Actor, error) {
	var actors []*Actor
	err := f.db.Joins("JOIN actor_follows ON actor_follows.actor_id = actors.id").
		Where("actor_follows.target_actor_id = ? AND actor_follows.state = ?", target.ID, FollowAccepted).
		Order("actor_follows.id DESC").Offset(offset).Limit(limit).Find(&actors).Error
	return actors, err
}

// Following returns a page of the actors that actor follows, newest first.
func (f *ActorFollows) Following(actor *Actor, offset, limit int) ([]*Actor, error) {
	var actors []*Actor
	err := f.db.Joins("JOIN actor_follows ON actor_follows.target_actor_id = actors.id").
		Where("actor_follows.actor_id = ? AND actor_follows.state = ?", actor.ID, FollowAccepted).
		Order("actor_follows.id DESC").Offset(offset).Limit(limit).Find(&actors).Error
	return actors, err
}

// least returns the name of the two argument minimum function of the dialect.
func least(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return "MIN"
	}
	return "LEAST"
}
