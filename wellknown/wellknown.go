// Package wellknown serves the /.well-known endpoints used for discovery
// of the instance and its actors.
package wellknown

import (
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	domain string
}

func NewService(db *gorm.DB, domain string) *Service {
	return &Service{
		db:     db,
		domain: domain,
	}
}
