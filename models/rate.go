package models

import (
	"errors"
	"time"

	"github.com/davecheney/tube/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// A Rate is an account's like or dislike of a video. Each Rate is counted
// in exactly one of the video's Likes or Dislikes.
type Rate struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	AccountID snowflake.ID `gorm:"uniqueIndex:uidx_rates_account_id_video_id;not null"`
	Account   *Account     `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	VideoID   snowflake.ID `gorm:"uniqueIndex:uidx_rates_account_id_video_id;index;not null"`
	Video     *Video       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	Type      RateType     `gorm:"not null"`
	// URL is the id of the activity that created the rate.
	URL string `gorm:"size:255"`
}

type RateType string

const (
	Like    RateType = "like"
	Dislike RateType = "dislike"
)

func (RateType) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "enum('like', 'dislike')"
	default:
		return "TEXT"
	}
}

// column returns the video counter a rate of this type is counted in.
func (t RateType) column() string {
	if t == Dislike {
		return "dislikes"
	}
	return "likes"
}

func (r *Rate) BeforeCreate(tx *gorm.DB) error {
	if r.ID == 0 {
		r.ID = snowflake.Now()
	}
	return nil
}

type Rates struct {
	db *gorm.DB
}

func NewRates(db *gorm.DB) *Rates {
	return &Rates{db: db}
}

// Find returns the rate of account on video, or gorm.ErrRecordNotFound.
func (r *Rates) Find(account *Account, video *Video) (*Rate, error) {
	return first[Rate](r.db.Where("account_id = ? AND video_id = ?", account.ID, video.ID))
}

// Rate records that account rated video as typ. Re-rating with the same
// type is a no-op; changing type moves the count between counters.
// changed reports whether anything was written.
func (r *Rates) Rate(account *Account, video *Video, typ RateType, url string) (changed bool, err error) {
	existing, err := r.Find(account, video)
	switch {
	case err == nil:
		if existing.Type == typ {
			return false, nil
		}
		if err := r.adjust(video, existing.Type, -1); err != nil {
			return false, err
		}
		if err := r.db.Model(existing).Updates(map[string]any{"type": typ, "url": url}).Error; err != nil {
			return false, err
		}
		return true, r.adjust(video, typ, 1)
	case errors.Is(err, gorm.ErrRecordNotFound):
		rate := &Rate{
			AccountID: account.ID,
			VideoID:   video.ID,
			Type:      typ,
			URL:       url,
		}
		if err := r.db.Create(rate).Error; err != nil {
			return false, err
		}
		return true, r.adjust(video, typ, 1)
	default:
		return false, err
	}
}

// Destroy removes the rate and decrements the counter it was counted in.
func (r *Rates) Destroy(rate *Rate) error {
	if err := r.db.Delete(rate).Error; err != nil {
		return err
	}
	return r.adjust(&Video{ID: rate.VideoID}, rate.Type, -1)
}

func (r *Rates) adjust(video *Video, typ RateType, delta int64) error {
	col := typ.column()
	return r.db.Model(&Video{ID: video.ID}).UpdateColumn(col, gorm.Expr(col+" + ?", delta)).Error
}
