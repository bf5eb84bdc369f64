package models

import (
	"errors"
	"time"

	"github.com/davecheney/tube/internal/snowflake"
	"gorm.io/gorm"
)

// ManualStrategy is the strategy of redundancies created by an operator.
// They have no expiry.
const ManualStrategy = "manual"

// A VideoRedundancy records that an actor holds a mirrored copy of one
// video file. Local redundancies have a Strategy, remote ones do not.
type VideoRedundancy struct {
	ID          snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresOn   *time.Time   `gorm:"index"`
	FileURL     string       `gorm:"size:512;not null"`
	URL         string       `gorm:"size:255;uniqueIndex;not null"`
	Strategy    *string      `gorm:"size:64;index"`
	VideoFileID snowflake.ID `gorm:"uniqueIndex:uidx_video_redundancies_actor_id_video_file_id;not null"`
	VideoFile   *VideoFile   `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	ActorID     snowflake.ID `gorm:"uniqueIndex:uidx_video_redundancies_actor_id_video_file_id;not null"`
	Actor       *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
}

func (r *VideoRedundancy) BeforeCreate(tx *gorm.DB) error {
	if r.ID == 0 {
		r.ID = snowflake.Now()
	}
	return nil
}

// IsOwned reports whether the mirrored bytes are held by this instance.
func (r *VideoRedundancy) IsOwned() bool {
	return r.Strategy != nil
}

type Redundancies struct {
	db *gorm.DB
}

func NewRedundancies(db *gorm.DB) *Redundancies {
	return &Redundancies{db: db}
}

// PreloadRedundancy preloads the file, video, and actors of a redundancy.
func PreloadRedundancy(query *gorm.DB) *gorm.DB {
	return query.Preload("Actor").Preload("VideoFile").Preload("VideoFile.Video").
		Preload("VideoFile.Video.AccountActor").Preload("VideoFile.Video.ChannelActor")
}

// FindByURL returns the redundancy announced by the CacheFile with the given id.
func (r *Redundancies) FindByURL(url string) (*VideoRedundancy, error) {
	return first[VideoRedundancy](r.db.Scopes(PreloadRedundancy).Where("url = ?", url))
}

// FindByActorAndFile returns actor's redundancy of file.
func (r *Redundancies) FindByActorAndFile(actor *Actor, file *VideoFile) (*VideoRedundancy, error) {
	return first[VideoRedundancy](r.db.Scopes(PreloadRedundancy).Where("actor_id = ? AND video_file_id = ?", actor.ID, file.ID))
}

// Create stores a redundancy.
func (r *Redundancies) Create(redundancy *VideoRedundancy) error {
	return r.db.Create(redundancy).Error
}

// Upsert stores a redundancy announced by actor. An existing redundancy
// of the same file by the same actor is updated in place.
func (r *Redundancies) Upsert(redundancy *VideoRedundancy) (*VideoRedundancy, error) {
	existing, err := first[VideoRedundancy](r.db.Where("url = ? OR (actor_id = ? AND video_file_id = ?)", redundancy.URL, redundancy.ActorID, redundancy.VideoFileID))
	switch {
	case err == nil:
		err := r.db.Model(existing).Select("expires_on", "file_url", "url").Updates(&VideoRedundancy{
			ExpiresOn: redundancy.ExpiresOn,
			FileURL:   redundancy.FileURL,
			URL:       redundancy.URL,
		}).Error
		if err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := r.Create(redundancy); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return r.FindByURL(redundancy.URL)
}

func (r *Redundancies) Destroy(redundancy *VideoRedundancy) error {
	return r.db.Delete(redundancy).Error
}

// FindLocalByVideo returns actor's redundancies of any file of video.
func (r *Redundancies) FindLocalByVideo(actor *Actor, video *Video) ([]*VideoRedundancy, error) {
	var redundancies []*VideoRedundancy
	err := r.db.Scopes(PreloadRedundancy).
		Joins("JOIN video_files ON video_files.id = video_redundancies.video_file_id").
		Where("video_redundancies.actor_id = ? AND video_files.video_id = ?", actor.ID, video.ID).
		Find(&redundancies).Error
	return redundancies, err
}

// FindLocalByOwner returns actor's redundancies of any file of a video
// published by owner, as account or as channel.
func (r *Redundancies) FindLocalByOwner(actor, owner *Actor) ([]*VideoRedundancy, error) {
	var redundancies []*VideoRedundancy
	err := r.db.Scopes(PreloadRedundancy).
		Joins("JOIN video_files ON video_files.id = video_redundancies.video_file_id").
		Joins("JOIN videos ON videos.id = video_files.video_id").
		Where("video_redundancies.actor_id = ? AND (videos.account_actor_id = ? OR videos.channel_actor_id = ?)", actor.ID, owner.ID, owner.ID).
		Find(&redundancies).Error
	return redundancies, err
}

// candidates restricts videos to those actor may mirror: public, remote,
// not live, from a server that allows redundancy, with at least one file
// actor does not already hold.
func candidates(actor *Actor) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		held := db.Session(&gorm.Session{NewDB: true}).Model(&VideoRedundancy{}).Select("video_file_id").Where("actor_id = ?", actor.ID)
		unmirrored := db.Session(&gorm.Session{NewDB: true}).Model(&VideoFile{}).Select("video_id").Where("id NOT IN (?)", held)
		return db.
			Joins("JOIN actors channels ON channels.id = videos.channel_actor_id").
			Joins("JOIN servers ON servers.id = channels.server_id").
			Where("videos.privacy = ? AND videos.remote = ? AND videos.is_live = ?", Public, true, false).
			Where("servers.redundancy_allowed = ? AND servers.blocked = ?", true, false).
			Where("videos.id IN (?)", unmirrored)
	}
}

// MostViewedCandidates returns the IDs of the k most viewed videos actor may mirror.
func (r *Redundancies) MostViewedCandidates(actor *Actor, k int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.Model(&Video{}).Scopes(candidates(actor)).
		Order("videos.views DESC").Order("videos.id").Limit(k).
		Pluck("videos.id", &ids).Error
	return ids, err
}

// TrendingCandidates returns the IDs of the k videos actor may mirror with
// the most views since since.
func (r *Redundancies) TrendingCandidates(actor *Actor, k int, since time.Time) ([]snowflake.ID, error) {
	var rows []struct {
		ID    snowflake.ID
		Score int64
	}
	err := r.db.Model(&Video{}).Scopes(candidates(actor)).
		Select("videos.id AS id, COALESCE(SUM(video_views.views), 0) AS score").
		Joins("LEFT JOIN video_views ON video_views.video_id = videos.id AND video_views.start_date >= ?", since).
		Group("videos.id").
		Order("score DESC").Order("videos.id").Limit(k).
		Scan(&rows).Error
	ids := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, err
}

// RecentlyAddedCandidates returns the IDs of the k most recently published
// videos with at least minViews views that actor may mirror.
func (r *Redundancies) RecentlyAddedCandidates(actor *Actor, k int, minViews int64) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.Model(&Video{}).Scopes(candidates(actor)).
		Where("videos.views >= ?", minViews).
		Order("videos.published_at DESC").Order("videos.id").Limit(k).
		Pluck("videos.id", &ids).Error
	return ids, err
}

// UnmirroredFiles returns the files of video that actor does not hold.
func (r *Redundancies) UnmirroredFiles(actor *Actor, video *Video) ([]*VideoFile, error) {
	held := r.db.Model(&VideoRedundancy{}).Select("video_file_id").Where("actor_id = ?", actor.ID)
	var files []*VideoFile
	err := r.db.Where("video_id = ? AND id NOT IN (?)", video.ID, held).Order("resolution DESC").Find(&files).Error
	return files, err
}

// LocalExpired returns actor's redundancies of strategy that expired
// before now and were created more than minLifetime ago, oldest first.
func (r *Redundancies) LocalExpired(actor *Actor, strategy string, minLifetime time.Duration, now time.Time) ([]*VideoRedundancy, error) {
	var redundancies []*VideoRedundancy
	err := r.db.Scopes(PreloadRedundancy).
		Where("actor_id = ? AND strategy = ?", actor.ID, strategy).
		Where("expires_on IS NOT NULL AND expires_on < ? AND created_at < ?", now, now.Add(-minLifetime)).
		Order("created_at").Order("id").
		Find(&redundancies).Error
	return redundancies, err
}

// OldestLocal returns actor's redundancies of strategy that are past
// minLifetime, oldest first, limited to limit rows.
func (r *Redundancies) OldestLocal(actor *Actor, strategy string, minLifetime time.Duration, now time.Time, limit int) ([]*VideoRedundancy, error) {
	var redundancies []*VideoRedundancy
	err := r.db.Scopes(PreloadRedundancy).
		Where("actor_id = ? AND strategy = ? AND created_at < ?", actor.ID, strategy, now.Add(-minLifetime)).
		Order("created_at").Order("id").Limit(limit).
		Find(&redundancies).Error
	return redundancies, err
}

// LocalSize returns the total size of the files actor holds for strategy.
func (r *Redundancies) LocalSize(actor *Actor, strategy string) (int64, error) {
	var size int64
	err := r.db.Model(&VideoRedundancy{}).
		Select("COALESCE(SUM(video_files.size), 0)").
		Joins("JOIN video_files ON video_files.id = video_redundancies.video_file_id").
		Where("video_redundancies.actor_id = ? AND video_redundancies.strategy = ?", actor.ID, strategy).
		Scan(&size).Error
	return size, err
}

// RemoveRemoteExpired forgets redundancies held by actors other than
// actor which expired before now.
func (r *Redundancies) RemoveRemoteExpired(actor *Actor, now time.Time) (int64, error) {
	res := r.db.Where("actor_id <> ? AND expires_on IS NOT NULL AND expires_on < ?", actor.ID, now).Delete(&VideoRedundancy{})
	return res.RowsAffected, res.Error
}

// Pin turns a local redundancy into a manual one which never expires.
func (r *Redundancies) Pin(redundancy *VideoRedundancy) error {
	strategy := ManualStrategy
	redundancy.Strategy = &strategy
	redundancy.ExpiresOn = nil
	redundancy.UpdatedAt = time.Now()
	return r.db.Model(redundancy).Select("strategy", "expires_on", "updated_at").Updates(redundancy).Error
}
