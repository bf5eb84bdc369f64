package models

import (
	"time"

	"github.com/davecheney/tube/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// A Server is a remote instance. Remote actors belong to a Server, local
// actors do not.
type Server struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Host      string `gorm:"size:255;uniqueIndex;not null"`
	// RedundancyAllowed records that the server has opted in to having its
	// videos mirrored by this instance.
	RedundancyAllowed bool `gorm:"not null;default:false"`
	// Blocked servers are neither delivered to nor accepted from.
	Blocked bool `gorm:"not null;default:false"`
}

func (s *Server) BeforeCreate(tx *gorm.DB) error {
	if s.ID == 0 {
		s.ID = snowflake.Now()
	}
	return nil
}

type Servers struct {
	db *gorm.DB
}

func NewServers(db *gorm.DB) *Servers {
	return &Servers{db: db}
}

// FindByHost returns the server for host, or gorm.ErrRecordNotFound.
func (s *Servers) FindByHost(host string) (*Server, error) {
	return first[Server](s.db.Where("host = ?", host))
}

// FindOrCreate returns the server for host, creating it if necessary.
func (s *Servers) FindOrCreate(host string) (*Server, error) {
	server := &Server{Host: host}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "host"}},
		DoNothing: true,
	}).Create(server).Error
	if err != nil {
		return nil, err
	}
	return s.FindByHost(host)
}

// IsBlocked reports whether host has been blocked. Unknown hosts are not blocked.
func (s *Servers) IsBlocked(host string) (bool, error) {
	var count int64
	err := s.db.Model(&Server{}).Where("host = ? AND blocked = ?", host, true).Count(&count).Error
	return count > 0, err
}

// SetBlocked blocks or unblocks host.
func (s *Servers) SetBlocked(host string, blocked bool) (*Server, error) {
	server, err := s.FindOrCreate(host)
	if err != nil {
		return nil, err
	}
	server.Blocked = blocked
	return server, s.db.Model(server).UpdateColumn("blocked", blocked).Error
}

// SetRedundancyAllowed records whether host allows its videos to be mirrored.
func (s *Servers) SetRedundancyAllowed(host string, allowed bool) (*Server, error) {
	server, err := s.FindOrCreate(host)
	if err != nil {
		return nil, err
	}
	server.RedundancyAllowed = allowed
	return server, s.db.Model(server).UpdateColumn("redundancy_allowed", allowed).Error
}
