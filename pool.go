package main

import (
	"github.com/davecheney/tube/internal/config"
	"gorm.io/gorm"
)

// sizePool applies cfg to the connection pool underlying db.
func sizePool(db *gorm.DB, cfg config.Database) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(min(cfg.MaxIdleConns, cfg.MaxOpenConns))
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return nil
}
