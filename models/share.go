package models

import (
	"time"

	"github.com/davecheney/tube/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// A VideoShare records that an actor announced a video.
type VideoShare struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	// URL is the id of the Announce activity.
	URL     string       `gorm:"size:255;uniqueIndex;not null"`
	ActorID snowflake.ID `gorm:"index;not null"`
	Actor   *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	VideoID snowflake.ID `gorm:"index;not null"`
	Video   *Video       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
}

func (s *VideoShare) BeforeCreate(tx *gorm.DB) error {
	if s.ID == 0 {
		s.ID = snowflake.Now()
	}
	return nil
}

type Shares struct {
	db *gorm.DB
}

func NewShares(db *gorm.DB) *Shares {
	return &Shares{db: db}
}

// FindByURL returns the share created by the Announce with the given id.
func (s *Shares) FindByURL(url string) (*VideoShare, error) {
	return first[VideoShare](s.db.Preload("Actor").Where("url = ?", url))
}

// FindOrCreate records the share, returning the existing record if the
// Announce has been seen before.
func (s *Shares) FindOrCreate(url string, actor *Actor, video *Video) (*VideoShare, error) {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoNothing: true,
	}).Create(&VideoShare{URL: url, ActorID: actor.ID, VideoID: video.ID}).Error
	if err != nil {
		return nil, err
	}
	return s.FindByURL(url)
}

// FindByActor returns a page of the shares made by actor, newest first.
func (s *Shares) FindByActor(actor *Actor, offset, limit int) ([]*VideoShare, error) {
	var shares []*VideoShare
	err := s.db.Preload("Video").Where("actor_id = ?", actor.ID).Order("id DESC").Offset(offset).Limit(limit).Find(&shares).Error
	return shares, err
}

func (s *Shares) Destroy(share *VideoShare) error {
	return s.db.Delete(share).Error
}
