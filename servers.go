package main

import (
	"fmt"

	"github.com/davecheney/tube/models"
)

type BlockCmd struct {
	Host    string `arg:"" help:"host of the server"`
	Unblock bool   `help:"remove the block"`
}

func (b *BlockCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	server, err := models.NewServers(db).SetBlocked(b.Host, !b.Unblock)
	if err != nil {
		return err
	}
	fmt.Println(server.Host, "blocked:", server.Blocked)
	return nil
}

type AllowRedundancyCmd struct {
	Host string `arg:"" help:"host of the server"`
	Deny bool   `help:"stop mirroring the server's videos"`
}

func (a *AllowRedundancyCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	server, err := models.NewServers(db).SetRedundancyAllowed(a.Host, !a.Deny)
	if err != nil {
		return err
	}
	fmt.Println(server.Host, "redundancy allowed:", server.RedundancyAllowed)
	return nil
}
