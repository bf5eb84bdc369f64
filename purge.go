package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/davecheney/tube/activitypub"
	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

type PurgeCmd struct {
	Domain string `required:"" help:"domain of the instance"`
	URL    string `arg:"" help:"URL of the remote video or actor to purge"`
}

func (c *PurgeCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	inst, err := newInstance(ctx, db, c.Domain)
	if err != nil {
		return err
	}

	video, err := models.NewVideos(db).FindByURL(c.URL)
	switch {
	case err == nil:
		return purgeVideo(inst, video)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	actor, err := models.NewActors(db).FindByURL(c.URL)
	switch {
	case err == nil:
		if actor.IsLocal() {
			return fmt.Errorf("%s is a local actor, use delete-account", c.URL)
		}
		if err := inst.processor.DeleteActor(context.Background(), actor); err != nil {
			return err
		}
		fmt.Println("purged actor", actor.URL)
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("unknown URL: %s", c.URL)
	default:
		return err
	}
}

// purgeVideo releases the local mirrors of a remote video, then forgets it.
func purgeVideo(inst *instance, video *models.Video) error {
	if video.IsOwned() {
		return fmt.Errorf("%s is a local video", video.URL)
	}
	if _, err := inst.engine.Unmirror(context.Background(), video.URL); err != nil && !errors.Is(err, activitypub.ErrUnknownVideo) {
		return err
	}
	err := models.Transaction(context.Background(), inst.db, func(tx *gorm.DB) error {
		return models.NewVideos(tx).Delete(video)
	})
	if err != nil {
		return err
	}
	fmt.Println("purged video", video.URL)
	return nil
}
