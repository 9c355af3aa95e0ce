// Package store is the persistence layer for identities and observations.
// The gorm implementation runs on SQLite (pure Go, no cgo) and enforces a
// unique public key per identity, which is what makes find-or-create safe
// when two ingestions race.
package store

import (
	"context"
	"errors"

	"github.com/vesaa/wgtally/internal/models"
)

// ErrNotFound is returned when an identity does not exist.
var ErrNotFound = errors.New("store: not found")

// IdentityStore persists peer identities.
type IdentityStore interface {
	// FindOrCreateIdentity returns the identity for publicKey, creating it
	// on first sight. Concurrent callers always get the same row.
	FindOrCreateIdentity(ctx context.Context, publicKey string) (*models.Identity, error)
	FindIdentity(ctx context.Context, id uint) (*models.Identity, error)
	// ListIdentities returns every identity ordered by ID.
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	UpdateIdentityProfile(ctx context.Context, id uint, p models.Profile) (*models.Identity, error)
}

// ObservationStore persists the append-only traffic time series.
type ObservationStore interface {
	AppendObservation(ctx context.Context, obs *models.Observation) error
	// RecentObservations returns at most limit rows for the identity,
	// newest first; ties on ObservedAt go to the later insert.
	RecentObservations(ctx context.Context, identityID uint, limit int) ([]models.Observation, error)
}

// Repository combines both stores with a transaction boundary.
type Repository interface {
	IdentityStore
	ObservationStore
	// Transaction runs fn against a transactional Repository. Returning an
	// error from fn rolls back everything fn wrote.
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}
