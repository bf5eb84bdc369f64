//go:build sqlite

package main

import (
	"github.com/davecheney/tube/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newDialector(dsn string) gorm.Dialector {
	return sqlite.Open(dsn)
}

func configureDB(db *gorm.DB, cfg config.Database) error {
	// one writer at a time, whatever the config says.
	cfg.MaxOpenConns = 1
	if err := sizePool(db, cfg); err != nil {
		return err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return err
		}
	}
	return nil
}
