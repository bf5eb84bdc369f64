package main

import (
	"context"
	"fmt"
	"strings"
)

type FollowCmd struct {
	Domain string `required:"" help:"domain of the instance"`
	Actor  string `required:"" help:"local actor to follow with"`
	Object string `required:"" help:"URL or user@host of the actor to follow"`
}

func (f *FollowCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	inst, err := newInstance(ctx, db, f.Domain)
	if err != nil {
		return err
	}
	follower, err := inst.localActor(f.Actor)
	if err != nil {
		return err
	}
	target, err := inst.targetURL(context.Background(), f.Object)
	if err != nil {
		return err
	}
	if err := inst.follows.Follow(context.Background(), follower, target); err != nil {
		return err
	}
	fmt.Println("queued follow of", target, "by", follower.URL)
	return nil
}

type UnfollowCmd struct {
	Domain string `required:"" help:"domain of the instance"`
	Actor  string `required:"" help:"local actor which follows"`
	Object string `required:"" help:"URL or user@host of the followed actor"`
}

func (u *UnfollowCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	inst, err := newInstance(ctx, db, u.Domain)
	if err != nil {
		return err
	}
	follower, err := inst.localActor(u.Actor)
	if err != nil {
		return err
	}
	target, err := inst.targetURL(context.Background(), u.Object)
	if err != nil {
		return err
	}
	return inst.follows.Unfollow(context.Background(), follower, target)
}

// targetURL returns the actor URL of object, which is either a URL or a
// user@host handle resolved with webfinger.
func (i *instance) targetURL(ctx context.Context, object string) (string, error) {
	if strings.HasPrefix(object, "https://") || strings.HasPrefix(object, "http://") {
		return object, nil
	}
	actor, err := i.directory.ResolveAcct(ctx, object)
	if err != nil {
		return "", err
	}
	return actor.URL, nil
}
