// Package models defines GORM data models for wgtally.
package models

import "gorm.io/gorm"

// Identity represents one WireGuard peer, keyed by its public key.
// It is created the first time a key shows up in a dump and never deleted.
type Identity struct {
	gorm.Model

	// PublicKey is immutable once created.
	PublicKey string `gorm:"uniqueIndex;size:64;not null" json:"public_key"`

	// Name / Email are set from the annotate endpoint only.
	Name  string `gorm:"size:64" json:"name"`
	Email string `gorm:"size:120" json:"email"`

	Observations []Observation `gorm:"foreignKey:IdentityID" json:"-"`
}

// DisplayName returns the annotated name, or a short key prefix for
// peers nobody has named yet.
func (i *Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if len(i.PublicKey) > 8 {
		return i.PublicKey[:8]
	}
	return i.PublicKey
}

// Profile holds the operator-editable fields of an Identity.
type Profile struct {
	Name  string `json:"name" binding:"required,min=1,max=64"`
	Email string `json:"email" binding:"omitempty,email,max=120"`
}
