package main

import (
	"context"
	"time"

	"github.com/davecheney/tube/models"
	"github.com/davecheney/tube/workers"
	"gorm.io/gorm"
)

type HouseKeepingCmd struct {
	Domain string        `required:"" help:"domain of the instance"`
	Age    time.Duration `help:"purge failed and expired jobs older than this" default:"168h"`
}

func (c *HouseKeepingCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	logger := ctx.Logger

	n, err := models.NewJobs(db).Purge(time.Now().Add(-c.Age))
	if err != nil {
		return err
	}
	logger.Info("purged jobs", "count", n)

	pruned, err := workers.SweepScores(context.Background(), db)
	if err != nil {
		return err
	}
	logger.Info("removed bad follows", "count", pruned)

	// counters are kept by hooks, rebuild them in case a writer bypassed them.
	err = models.Transaction(context.Background(), db, func(tx *gorm.DB) error {
		return models.NewActors(tx).RebuildCounts()
	})
	if err != nil {
		return err
	}
	logger.Info("rebuilt follow counters")

	server, err := models.NewActors(db).ServerActor(c.Domain)
	if err != nil {
		return err
	}
	forgot, err := models.NewRedundancies(db).RemoveRemoteExpired(server, time.Now())
	if err != nil {
		return err
	}
	logger.Info("forgot expired remote redundancies", "count", forgot)
	return nil
}
