package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

// Videos resolves video references to stored videos, creating shadows of
// unknown remote videos on demand.
type Videos struct {
	db        *gorm.DB
	directory *Directory
	domain    string
	logger    *slog.Logger
}

func NewVideos(db *gorm.DB, directory *Directory, domain string, logger *slog.Logger) *Videos {
	return &Videos{
		db:        db,
		directory: directory,
		domain:    domain,
		logger:    logger,
	}
}

// GetOrCreateVideoAndAccountAndChannel returns the video ref refers to. A
// known video is returned as stored. An unknown remote video is fetched
// from its origin, never taken from ref.Embedded, and stored along with its
// account and channel actors. Local videos are never fetched.
func (v *Videos) GetOrCreateVideoAndAccountAndChannel(ctx context.Context, ref ObjectRef) (*models.Video, error) {
	if ref.ID == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrUnknownVideo)
	}
	video, err := models.NewVideos(v.db.WithContext(ctx)).FindByURL(ref.ID)
	switch {
	case err == nil:
		return video, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	if hostOf(ref.ID) == v.domain {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVideo, ref.ID)
	}
	// unknown videos always come from their origin, embedded copies are ignored.
	obj, err := v.directory.FetchObject(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownVideo, err)
	}
	if stringFromAny(obj["type"]) != "Video" {
		return nil, fmt.Errorf("%w: %s is a %q", ErrUnknownVideo, ref.ID, stringFromAny(obj["type"]))
	}
	if id := stringFromAny(obj["id"]); id != ref.ID {
		return nil, Permanent(fmt.Errorf("%w: %s was fetched as %s", ErrUnknownVideo, ref.ID, id))
	}
	return v.Store(ctx, decodeVideo(obj))
}

// Store creates or updates the remote video described by obj. Its actors
// are resolved before the transaction starts.
func (v *Videos) Store(ctx context.Context, obj *VideoObject) (*models.Video, error) {
	if err := v.validate(obj); err != nil {
		return nil, err
	}
	account, err := v.directory.Resolve(ctx, obj.Account)
	if err != nil {
		return nil, fmt.Errorf("video %s account: %w", obj.ID, err)
	}
	channel, err := v.directory.Resolve(ctx, obj.Channel)
	if err != nil {
		return nil, fmt.Errorf("video %s channel: %w", obj.ID, err)
	}
	video := &models.Video{
		URL:            obj.ID,
		UUID:           obj.UUID,
		Name:           obj.Name,
		Privacy:        obj.Privacy,
		Remote:         true,
		IsLive:         obj.IsLive,
		Views:          obj.Views,
		PublishedAt:    obj.Published,
		AccountActorID: account.ID,
		ChannelActorID: channel.ID,
	}
	if video.PublishedAt.IsZero() {
		video.PublishedAt = time.Now()
	}
	for _, f := range obj.Files {
		video.Files = append(video.Files, &models.VideoFile{
			Resolution: f.Height,
			Size:       f.Size,
			MediaType:  f.MediaType,
			FileURL:    f.Href,
		})
	}
	var stored *models.Video
	err = models.Transaction(ctx, v.db, func(tx *gorm.DB) error {
		stored, err = models.NewVideos(tx).Upsert(video)
		return err
	})
	if err != nil {
		return nil, err
	}
	v.logger.Info("stored remote video", "video", stored.URL, "files", len(stored.Files))
	return stored, nil
}

func (v *Videos) validate(obj *VideoObject) error {
	host := hostOf(obj.ID)
	switch {
	case obj.ID == "" || host == "":
		return errors.New("video has no id")
	case host == v.domain:
		return Permanent(fmt.Errorf("video %s claims to be local", obj.ID))
	case obj.Account == "" || obj.Channel == "":
		return Permanent(fmt.Errorf("video %s is not attributed to an account and a channel", obj.ID))
	case hostOf(obj.Channel) != host:
		return Permanent(fmt.Errorf("video %s is attributed to channel %s on another host", obj.ID, obj.Channel))
	case len(obj.Files) == 0 && !obj.IsLive:
		return Permanent(fmt.Errorf("video %s has no files", obj.ID))
	}
	return nil
}
