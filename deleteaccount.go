package main

import (
	"context"

	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

type DeleteAccountCmd struct {
	Name string `required:"" help:"name of the account or channel to delete"`
}

func (d *DeleteAccountCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}

	return models.Transaction(context.Background(), db, func(tx *gorm.DB) error {
		actors := models.NewActors(tx)
		actor, err := actors.FindLocal(d.Name, models.Person, models.Group)
		if err != nil {
			return err
		}
		return actors.Delete(actor)
	})
}
