// Package ledger attributes WireGuard traffic counters to peer identities.
//
// Ingest takes the raw text of `wg show all dump`, resolves an identity per
// peer key and appends one observation per identity, all in one transaction.
// The query methods read the accumulated series back for display. Nothing in
// this package logs; callers decide how to surface errors.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vesaa/wgtally/internal/dump"
	"github.com/vesaa/wgtally/internal/models"
	"github.com/vesaa/wgtally/internal/store"
)

// ErrIdentityNotFound is returned for an unknown identity ID.
var ErrIdentityNotFound = errors.New("identity not found")

// IngestError is returned by Ingest when a batch is rejected. Nothing from
// the batch was committed.
type IngestError struct {
	Err error
}

func (e *IngestError) Error() string { return "ingest: " + e.Err.Error() }

func (e *IngestError) Unwrap() error { return e.Err }

// Ledger is the traffic accounting core.
type Ledger struct {
	repo store.Repository
	now  func() time.Time

	// ingestMu keeps ingestion single-writer; the unique public key index is
	// the backstop for writers outside this process.
	ingestMu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source for new observations.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New returns a Ledger backed by repo.
func New(repo store.Repository, opts ...Option) *Ledger {
	l := &Ledger{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve returns the identity for a peer key, creating it on first sight.
func (l *Ledger) Resolve(ctx context.Context, peerKey string) (*models.Identity, error) {
	return l.repo.FindOrCreateIdentity(ctx, peerKey)
}

// Record appends one observation for ident, stamped with the current time.
// It does no comparison against earlier observations.
func (l *Ledger) Record(ctx context.Context, ident *models.Identity, obs dump.Observation) (*models.Observation, error) {
	return record(ctx, l.repo, ident, obs, l.now())
}

func record(ctx context.Context, repo store.ObservationStore, ident *models.Identity, obs dump.Observation, at time.Time) (*models.Observation, error) {
	row := &models.Observation{
		IdentityID:    ident.ID,
		ObservedAt:    at,
		ReceivedBytes: obs.ReceivedBytes,
		SentBytes:     obs.SentBytes,
		Endpoint:      obs.Endpoint,
	}
	if err := repo.AppendObservation(ctx, row); err != nil {
		return nil, fmt.Errorf("recording observation for %s: %w", ident.PublicKey, err)
	}
	return row, nil
}

// Ingest parses a dump and records one observation per distinct peer.
// The whole batch commits or none of it does; failures are *IngestError.
func (l *Ledger) Ingest(ctx context.Context, text string) (models.IngestResult, error) {
	peers, err := dump.Parse(text)
	if err != nil {
		return models.IngestResult{}, &IngestError{Err: err}
	}

	l.ingestMu.Lock()
	defer l.ingestMu.Unlock()

	at := l.now()
	var res models.IngestResult
	err = l.repo.Transaction(ctx, func(tx store.Repository) error {
		for _, key := range dump.Keys(peers) {
			ident, err := tx.FindOrCreateIdentity(ctx, key)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", key, err)
			}
			res.IdentitiesTouched++
			if _, err := record(ctx, tx, ident, peers[key], at); err != nil {
				return err
			}
			res.ObservationsCreated++
		}
		return nil
	})
	if err != nil {
		return models.IngestResult{}, &IngestError{Err: err}
	}
	return res, nil
}
