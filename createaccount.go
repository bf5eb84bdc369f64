package main

import (
	"context"
	"fmt"

	"github.com/davecheney/tube/models"
	"gorm.io/gorm"
)

type CreateAccountCmd struct {
	Name      string `required:"" help:"name of the account to create"`
	Domain    string `required:"" help:"domain of the instance"`
	NoChannel bool   `help:"do not create a default channel"`
}

func (c *CreateAccountCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	return models.Transaction(context.Background(), db, func(tx *gorm.DB) error {
		actors := models.NewActors(tx)
		account, err := actors.CreateLocal(c.Domain, c.Name, models.Person)
		if err != nil {
			return err
		}
		fmt.Println(account.URL)
		if c.NoChannel {
			return nil
		}
		channel, err := actors.CreateLocal(c.Domain, c.Name+"_channel", models.Group)
		if err != nil {
			return err
		}
		fmt.Println(channel.URL)
		return nil
	})
}
