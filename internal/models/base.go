package models

import (
	"database/sql"
	"time"
)

// Base holds the fields every entity shares.
type Base struct {
	// ID is assigned by the store on flush. Zero means not yet persisted.
	ID int64

	// Created is set at insertion time.
	Created time.Time
}

// Identity returns the base itself, so embedding types satisfy part of Record.
func (b *Base) Identity() *Base {
	return b
}

// Persisted reports whether the store has assigned an id.
func (b *Base) Persisted() bool {
	return b.ID != 0
}

// SoftDelete is embedded by entities that are marked inactive instead of
// being removed.
type SoftDelete struct {
	Deleted sql.NullTime
}

// Delete stamps the current time into Deleted. It does not flush or commit.
func (d *SoftDelete) Delete() {
	d.Deleted = sql.NullTime{Time: time.Now().UTC(), Valid: true}
}

// IsDeleted reports whether the row has been soft-deleted.
func (d *SoftDelete) IsDeleted() bool {
	return d.Deleted.Valid
}

// DeletedAt returns the deletion time, or nil for active rows.
func (d *SoftDelete) DeletedAt() *time.Time {
	if !d.Deleted.Valid {
		return nil
	}
	t := d.Deleted.Time
	return &t
}

// SoftDeletable is implemented by entities embedding SoftDelete.
type SoftDeletable interface {
	Record
	Delete()
	IsDeleted() bool
}
