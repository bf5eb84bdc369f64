package models

import (
	"time"

	"github.com/davecheney/tube/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// An Account is the account shadow of a Person or Application actor.
// Reactions and comments hang off an Account, never a bare Actor.
type Account struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	ActorID   snowflake.ID `gorm:"uniqueIndex;not null"`
	Actor     *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == 0 {
		a.ID = snowflake.Now()
	}
	return nil
}

type Accounts struct {
	db *gorm.DB
}

func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// FindByActor returns the account shadow of actor, or gorm.ErrRecordNotFound.
func (a *Accounts) FindByActor(actor *Actor) (*Account, error) {
	account, err := first[Account](a.db.Where("actor_id = ?", actor.ID))
	if err != nil {
		return nil, err
	}
	account.Actor = actor
	return account, nil
}

// FindOrCreate returns the account shadow of actor, creating it if necessary.
func (a *Accounts) FindOrCreate(actor *Actor) (*Account, error) {
	err := a.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor_id"}},
		DoNothing: true,
	}).Create(&Account{ActorID: actor.ID}).Error
	if err != nil {
		return nil, err
	}
	return a.FindByActor(actor)
}
