package main

import (
	"fmt"

	"github.com/davecheney/tube/models"
)

type CreateInstanceCmd struct {
	Domain string `required:"" help:"domain name of the instance to create"`
}

func (c *CreateInstanceCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	actor, err := models.NewActors(db).ServerActor(c.Domain)
	if err != nil {
		return err
	}
	fmt.Println(actor.URL)
	return nil
}
