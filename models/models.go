// Package models contains the persistent state of the federation engine and
// the repositories that mutate it.
package models

import (
	"gorm.io/gorm"
)

// AllTables returns a slice of all tables in the database.
func AllTables() []interface{} {
	return []interface{}{
		&Server{},
		&Actor{}, &Account{}, &ActorFollow{},
		&Video{}, &VideoFile{}, &VideoView{},
		&Rate{}, &VideoShare{}, &VideoComment{},
		&VideoRedundancy{},
		&Job{},
	}
}

// forEach calls each function in turn, stopping at the first error.
func forEach(tx *gorm.DB, fns ...func(*gorm.DB) error) error {
	for _, fn := range fns {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}

// first returns the first element of the result of query, or
// gorm.ErrRecordNotFound. It uses Find rather than First so that a
// missing record is not logged as an error.
func first[T any](query *gorm.DB) (*T, error) {
	var rows []*T
	if err := query.Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return rows[0], nil
}
