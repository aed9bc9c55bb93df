package database

import (
	"github.com/rs/zerolog"
)

// Repository bundles all relational stores over one pool.
type Repository struct {
	db  *DB
	log zerolog.Logger

	retentionDays int
}

// NewRepository wires the stores. retentionDays bounds run history; values
// below 1 fall back to the 90-day default.
func NewRepository(db *DB, retentionDays int, log zerolog.Logger) *Repository {
	if retentionDays < 1 {
		retentionDays = 90
	}
	return &Repository{
		db:            db,
		log:           log.With().Str("component", "repository").Logger(),
		retentionDays: retentionDays,
	}
}
