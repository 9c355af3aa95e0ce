package ledger

import (
	"context"
	"errors"

	"github.com/vesaa/wgtally/internal/models"
	"github.com/vesaa/wgtally/internal/store"
)

// Identity returns one identity by ID.
func (l *Ledger) Identity(ctx context.Context, id uint) (*models.Identity, error) {
	ident, err := l.repo.FindIdentity(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}
	return ident, err
}

// Annotate sets the display name and contact of an identity. Input
// validation belongs to the caller.
func (l *Ledger) Annotate(ctx context.Context, id uint, p models.Profile) (*models.Identity, error) {
	ident, err := l.repo.UpdateIdentityProfile(ctx, id, p)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}
	return ident, err
}

// LatestObservation returns the newest observation for an identity, or nil
// if it has none.
func (l *Ledger) LatestObservation(ctx context.Context, identityID uint) (*models.Observation, error) {
	obs, err := l.repo.RecentObservations(ctx, identityID, 1)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, nil
	}
	return &obs[0], nil
}

// History returns up to limit observations, newest first. A non-positive
// limit returns nothing.
func (l *Ledger) History(ctx context.Context, identityID uint, limit int) ([]models.Observation, error) {
	return l.repo.RecentObservations(ctx, identityID, limit)
}

// Totals sums the same window History returns for limit. It is not a
// lifetime total.
func (l *Ledger) Totals(ctx context.Context, identityID uint, limit int) (models.Totals, error) {
	obs, err := l.History(ctx, identityID, limit)
	if err != nil {
		return models.Totals{}, err
	}
	return SumWindow(obs), nil
}

// SumWindow adds up the counters of obs.
func SumWindow(obs []models.Observation) models.Totals {
	var t models.Totals
	for _, o := range obs {
		t.ReceivedBytes += o.ReceivedBytes
		t.SentBytes += o.SentBytes
	}
	t.Count = len(obs)
	return t
}

// AllIdentitiesWithLatest pairs every identity with its newest observation,
// in identity ID order. Identities without observations are left out.
func (l *Ledger) AllIdentitiesWithLatest(ctx context.Context) ([]models.IdentitySnapshot, error) {
	idents, err := l.repo.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.IdentitySnapshot, 0, len(idents))
	for _, ident := range idents {
		latest, err := l.LatestObservation(ctx, ident.ID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			continue
		}
		out = append(out, models.IdentitySnapshot{Identity: ident, Latest: *latest})
	}
	return out, nil
}
