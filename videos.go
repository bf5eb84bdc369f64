package main

import (
	"context"
	"fmt"

	"github.com/davecheney/tube/activitypub"
	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

type MirrorCmd struct {
	Domain string `required:"" help:"domain of the instance"`
	Video  string `arg:"" help:"URL of the remote video"`
	Stop   bool   `help:"release the local mirrors of the video"`
	Now    bool   `help:"mirror now rather than queueing a job"`
}

func (m *MirrorCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	inst, err := newInstance(ctx, db, m.Domain)
	if err != nil {
		return err
	}
	switch {
	case m.Stop:
		n, err := inst.engine.Unmirror(context.Background(), m.Video)
		if err != nil {
			return err
		}
		fmt.Println("released", n, "mirrors of", m.Video)
	case m.Now:
		mirrored, err := inst.engine.Mirror(context.Background(), m.Video)
		if err != nil {
			return err
		}
		for _, r := range mirrored {
			fmt.Println(r.URL, r.FileURL)
		}
	default:
		if err := inst.engine.EnqueueMirror(context.Background(), m.Video); err != nil {
			return err
		}
		fmt.Println("queued mirror of", m.Video)
	}
	return nil
}

type RateCmd struct {
	Domain string `required:"" help:"domain of the instance"`
	Actor  string `required:"" help:"local account which rates"`
	Video  string `arg:"" help:"URL of the video"`
	Rating string `enum:"like,dislike,none" default:"like" help:"like, dislike, or none to withdraw"`
}

func (r *RateCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	inst, err := newInstance(ctx, db, r.Domain)
	if err != nil {
		return err
	}
	actor, err := inst.localActor(r.Actor)
	if err != nil {
		return err
	}
	video, err := inst.videos.GetOrCreateVideoAndAccountAndChannel(context.Background(), activitypub.ObjectRef{ID: r.Video})
	if err != nil {
		return err
	}
	var typ models.RateType
	switch r.Rating {
	case "like":
		typ = models.Like
	case "dislike":
		typ = models.Dislike
	}
	return models.Transaction(context.Background(), db, func(tx *gorm.DB) error {
		return inst.deliverer.Rate(tx, actor, video, typ)
	})
}

type ShareCmd struct {
	Domain string `required:"" help:"domain of the instance"`
	Actor  string `required:"" help:"local actor which shares"`
	Video  string `arg:"" help:"URL of the video"`
	Undo   bool   `help:"withdraw the share"`
}

func (s *ShareCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	inst, err := newInstance(ctx, db, s.Domain)
	if err != nil {
		return err
	}
	actor, err := inst.localActor(s.Actor)
	if err != nil {
		return err
	}
	video, err := inst.videos.GetOrCreateVideoAndAccountAndChannel(context.Background(), activitypub.ObjectRef{ID: s.Video})
	if err != nil {
		return err
	}
	var share *models.VideoShare
	err = models.Transaction(context.Background(), db, func(tx *gorm.DB) error {
		if s.Undo {
			return inst.deliverer.Unshare(tx, actor, video)
		}
		share, err = inst.deliverer.Share(tx, actor, video)
		return err
	})
	if err == nil && share != nil {
		fmt.Println(share.URL)
	}
	return err
}
