package models

import (
	"errors"
	"time"

	"github.com/davecheney/tube/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// A Video is a published video. Remote videos are shadows of videos owned
// by another instance.
type Video struct {
	ID             snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	URL            string       `gorm:"size:255;uniqueIndex;not null"`
	UUID           string       `gorm:"size:36;index;not null"`
	Name           string       `gorm:"size:255;not null"`
	Privacy        VideoPrivacy `gorm:"not null;default:'public'"`
	Remote         bool         `gorm:"not null;index"`
	IsLive         bool         `gorm:"not null;default:false"`
	Views          int64        `gorm:"not null;default:0;index"`
	Likes          int64        `gorm:"not null;default:0"`
	Dislikes       int64        `gorm:"not null;default:0"`
	PublishedAt    time.Time    `gorm:"index"`
	AccountActorID snowflake.ID `gorm:"not null"`
	AccountActor   *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	ChannelActorID snowflake.ID `gorm:"not null;index"`
	ChannelActor   *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	Files          []*VideoFile `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
}

type VideoPrivacy string

const (
	Public   VideoPrivacy = "public"
	Unlisted VideoPrivacy = "unlisted"
	Private  VideoPrivacy = "private"
)

func (VideoPrivacy) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "enum('public', 'unlisted', 'private')"
	default:
		return "TEXT"
	}
}

func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.ID == 0 {
		v.ID = snowflake.Now()
	}
	return nil
}

// IsOwned reports whether this instance is the origin of the video.
func (v *Video) IsOwned() bool {
	return !v.Remote
}

func (v *Video) IsPublic() bool {
	return v.Privacy == Public
}

// OwnedBy reports whether actor is the video's account or channel.
func (v *Video) OwnedBy(actor *Actor) bool {
	return v.AccountActorID == actor.ID || v.ChannelActorID == actor.ID
}

// A VideoFile is one rendition of a Video.
type VideoFile struct {
	ID         snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt  time.Time
	VideoID    snowflake.ID `gorm:"uniqueIndex:uidx_video_files_video_id_resolution;not null"`
	Video      *Video       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	Resolution int32        `gorm:"uniqueIndex:uidx_video_files_video_id_resolution;not null"`
	Size       int64        `gorm:"not null;default:0"`
	MediaType  string       `gorm:"size:64"`
	FileURL    string       `gorm:"size:512;not null"`
}

func (f *VideoFile) BeforeCreate(tx *gorm.DB) error {
	if f.ID == 0 {
		f.ID = snowflake.Now()
	}
	return nil
}

// A VideoView counts the views a video received in one hour.
type VideoView struct {
	ID        uint32       `gorm:"primarykey"`
	VideoID   snowflake.ID `gorm:"uniqueIndex:uidx_video_views_video_id_start_date;not null"`
	Video     *Video       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	StartDate time.Time    `gorm:"uniqueIndex:uidx_video_views_video_id_start_date;index;not null"`
	Views     int64        `gorm:"not null;default:0"`
}

type Videos struct {
	db *gorm.DB
}

func NewVideos(db *gorm.DB) *Videos {
	return &Videos{db: db}
}

// PreloadVideo preloads the actors and files of a video.
func PreloadVideo(query *gorm.DB) *gorm.DB {
	return query.Preload("AccountActor").Preload("ChannelActor").Preload("Files", func(db *gorm.DB) *gorm.DB {
		return db.Order("resolution DESC")
	})
}

// FindByURL returns the video with the given URL, or gorm.ErrRecordNotFound.
func (v *Videos) FindByURL(url string) (*Video, error) {
	return first[Video](v.db.Scopes(PreloadVideo).Where("url = ?", url))
}

// FindByID returns the video with the given ID, or gorm.ErrRecordNotFound.
func (v *Videos) FindByID(id snowflake.ID) (*Video, error) {
	return first[Video](v.db.Scopes(PreloadVideo).Where("id = ?", id))
}

// FindByActor returns a page of the public videos published by actor as
// account or channel, newest first.
func (v *Videos) FindByActor(actor *Actor, offset, limit int) ([]*Video, error) {
	var videos []*Video
	err := v.db.Scopes(PreloadVideo).
		Where("(account_actor_id = ? OR channel_actor_id = ?) AND privacy = ?", actor.ID, actor.ID, Public).
		Order("published_at DESC").Offset(offset).Limit(limit).Find(&videos).Error
	return videos, err
}

// CountByActor returns the number of public videos published by actor.
func (v *Videos) CountByActor(actor *Actor) (int64, error) {
	var count int64
	err := v.db.Model(&Video{}).
		Where("(account_actor_id = ? OR channel_actor_id = ?) AND privacy = ?", actor.ID, actor.ID, Public).
		Count(&count).Error
	return count, err
}

// Upsert stores a remote video and its files, keyed by URL. Files are
// matched on resolution; files no longer advertised are removed.
func (v *Videos) Upsert(video *Video) (*Video, error) {
	existing, err := v.FindByURL(video.URL)
	switch {
	case err == nil:
		if existing.IsOwned() {
			return existing, nil
		}
		err := v.db.Model(existing).Select("name", "privacy", "is_live", "views", "published_at", "uuid").Updates(&Video{
			Name:        video.Name,
			Privacy:     video.Privacy,
			IsLive:      video.IsLive,
			Views:       video.Views,
			PublishedAt: video.PublishedAt,
			UUID:        video.UUID,
		}).Error
		if err != nil {
			return nil, err
		}
		video.ID = existing.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		video.Remote = true
		files := video.Files
		video.Files = nil
		if err := v.db.Omit(clause.Associations).Create(video).Error; err != nil {
			return nil, err
		}
		video.Files = files
	default:
		return nil, err
	}
	if err := v.replaceFiles(video.ID, video.Files); err != nil {
		return nil, err
	}
	return v.FindByID(video.ID)
}

func (v *Videos) replaceFiles(videoID snowflake.ID, files []*VideoFile) error {
	resolutions := make([]int32, 0, len(files))
	for _, f := range files {
		f.VideoID = videoID
		resolutions = append(resolutions, f.Resolution)
		err := v.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "video_id"}, {Name: "resolution"}},
			DoUpdates: clause.AssignmentColumns([]string{"size", "media_type", "file_url"}),
		}).Create(f).Error
		if err != nil {
			return err
		}
	}
	stale := v.db.Where("video_id = ?", videoID)
	if len(resolutions) > 0 {
		stale = stale.Where("resolution NOT IN ?", resolutions)
	}
	return stale.Delete(&VideoFile{}).Error
}

// Delete removes a video, its files, and everything that refers to them.
func (v *Videos) Delete(video *Video) error {
	return v.db.Delete(video).Error
}

// AddViews records views of video at ts, bumping the total and the hourly bucket.
func (v *Videos) AddViews(video *Video, views int64, ts time.Time) error {
	if err := v.db.Model(video).UpdateColumn("views", gorm.Expr("views + ?", views)).Error; err != nil {
		return err
	}
	bucket := &VideoView{
		VideoID:   video.ID,
		StartDate: ts.UTC().Truncate(time.Hour),
		Views:     views,
	}
	return v.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}, {Name: "start_date"}},
		DoUpdates: clause.Assignments(map[string]any{"views": gorm.Expr("video_views.views + ?", views)}),
	}).Create(bucket).Error
}

// ActorsInvolved returns the actors that have taken part in video: its
// account and channel, the actors that shared it, and the accounts that
// commented on it.
func (v *Videos) ActorsInvolved(video *Video) ([]*Actor, error) {
	sharers := v.db.Model(&VideoShare{}).Select("actor_id").Where("video_id = ?", video.ID)
	commenters := v.db.Model(&VideoComment{}).Select("account_actor_id").Where("video_id = ?", video.ID)
	var actors []*Actor
	err := v.db.Where("id IN ? OR id IN (?) OR id IN (?)",
		[]snowflake.ID{video.AccountActorID, video.ChannelActorID}, sharers, commenters,
	).Order("id").Find(&actors).Error
	return actors, err
}
