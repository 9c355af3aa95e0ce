package models

import "time"

// Observation is one ingestion event for one identity: the cumulative
// counters the tunnel reported at ObservedAt. Rows are append-only.
type Observation struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	IdentityID uint      `gorm:"not null;index:idx_obs_identity_time,priority:1" json:"identity_id"`
	ObservedAt time.Time `gorm:"not null;index:idx_obs_identity_time,priority:2" json:"observed_at"`

	ReceivedBytes int64 `gorm:"not null;default:0" json:"received_bytes"`
	SentBytes     int64 `gorm:"not null;default:0" json:"sent_bytes"`

	// Endpoint is the last-known ip:port; empty when the peer never connected.
	Endpoint string `gorm:"size:120" json:"endpoint"`
}

// IdentitySnapshot is the DTO behind the peers dashboard.
type IdentitySnapshot struct {
	Identity Identity    `json:"identity"`
	Latest   Observation `json:"latest"`
}

// Totals sums the counters of a bounded observation window.
type Totals struct {
	ReceivedBytes int64 `json:"received_bytes"`
	SentBytes     int64 `json:"sent_bytes"`
	Count         int   `json:"count"`
}

// IngestResult reports what one dump ingestion wrote.
type IngestResult struct {
	IdentitiesTouched   int `json:"identities_touched"`
	ObservationsCreated int `json:"observations_created"`
}
