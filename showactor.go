package main

import (
	"fmt"
	"os"

	"github.com/davecheney/tube/models"
	"github.com/go-json-experiment/json"
)

type ShowActorCmd struct {
	Actor string `required:"" help:"The actor URL to display."`
}

func (s *ShowActorCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}

	actor, err := models.NewActors(db).FindByURL(s.Actor)
	if err != nil {
		return fmt.Errorf("failed to find actor %s: %w", s.Actor, err)
	}

	host := ""
	if !actor.IsLocal() {
		host = actor.Host()
	}
	return json.MarshalOptions{}.MarshalFull(json.EncodeOptions{Indent: "  "}, os.Stdout, map[string]any{
		"id":            actor.URL,
		"type":          actor.Type,
		"name":          actor.PreferredUsername,
		"server":        host,
		"inbox":         actor.Inbox(),
		"followers":     actor.FollowersCount,
		"following":     actor.FollowingCount,
		"lastRefreshed": actor.UpdatedAt,
	})
}
