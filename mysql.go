//go:build !sqlite && !postgres

package main

import (
	"time"

	"github.com/davecheney/tube/internal/config"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// newDialector parses dsn and forces the options the models rely on:
// utf8mb4 for titles and descriptions, and UTC times.
func newDialector(dsn string) gorm.Dialector {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		// let gorm report the bad DSN when the database is opened.
		return mysql.Open(dsn)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["charset"] = "utf8mb4"
	return mysql.New(mysql.Config{
		DSNConfig: cfg,
		DSN:       cfg.FormatDSN(),
	})
}

func configureDB(db *gorm.DB, cfg config.Database) error {
	return sizePool(db, cfg)
}
