package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/carlmjohnson/requests"
	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

// SynchroniseFollowersCmd compares the following collection published by a
// remote actor with the follow edges recorded locally.
type SynchroniseFollowersCmd struct {
	Source string `required:"" help:"remote actor URL"`
}

type orderedCollection struct {
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
	First      string `json:"first"`
}

type orderedCollectionPage struct {
	Type         string   `json:"type"`
	TotalItems   int      `json:"totalItems"`
	Next         string   `json:"next"`
	OrderedItems []string `json:"orderedItems"`
}

const activityStreams = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

func (s *SynchroniseFollowersCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	actors := models.NewActors(db)
	follows := models.NewActorFollows(db)

	source, err := actors.FindByURL(s.Source)
	if err != nil {
		return fmt.Errorf("source actor %s: %w", s.Source, err)
	}

	var col orderedCollection
	err = requests.URL(s.Source+"/following").
		Header("Accept", activityStreams).
		ToJSON(&col).
		Fetch(context.Background())
	if err != nil {
		return err
	}

	url := col.First
	for url != "" {
		var page orderedCollectionPage
		err := requests.URL(url).
			Header("Accept", activityStreams).
			ToJSON(&page).
			Fetch(context.Background())
		if err != nil {
			return err
		}
		for _, item := range page.OrderedItems {
			target, err := actors.FindByURL(item)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !target.IsLocal() {
				continue
			}
			follow, err := follows.Find(source, target)
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				fmt.Println("missing", item)
			case err != nil:
				return err
			case follow.State != models.FollowAccepted:
				fmt.Println(follow.State, item)
			default:
				fmt.Println("ok", item)
			}
		}
		url = page.Next
	}
	return nil
}
