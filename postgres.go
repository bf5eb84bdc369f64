//go:build postgres

package main

import (
	"github.com/davecheney/tube/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newDialector(dsn string) gorm.Dialector {
	pgcfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return postgres.Open(dsn)
	}
	pgcfg.RuntimeParams["timezone"] = "UTC"
	return postgres.New(postgres.Config{
		Conn: stdlib.OpenDB(*pgcfg),
	})
}

func configureDB(db *gorm.DB, cfg config.Database) error {
	return sizePool(db, cfg)
}
