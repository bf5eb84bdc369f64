package main

import (
	"context"
	"fmt"
)

type FetchActorCmd struct {
	Domain string `required:"" help:"domain of the instance to sign the request as"`
	Actor  string `required:"" help:"URL or user@host of the actor to fetch"`
}

func (f *FetchActorCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	inst, err := newInstance(ctx, db, f.Domain)
	if err != nil {
		return err
	}
	uri, err := inst.targetURL(context.Background(), f.Actor)
	if err != nil {
		return err
	}
	actor, err := inst.directory.Refresh(context.Background(), uri)
	if err != nil {
		return fmt.Errorf("failed to fetch actor: %w", err)
	}
	fmt.Println(actor.URL, actor.Type, actor.Inbox())
	return nil
}
