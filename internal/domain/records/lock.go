package records

import "time"

// EditLock es el token de exclusión por entidad. Como máximo uno activo por
// (entity_type, entity_id); vence en ExpiresAt aunque nadie lo libere.
type EditLock struct {
	EntityKind Kind      `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	HolderID   string    `db:"holder_id" json:"holder_id"`
	HolderName string    `db:"holder_name" json:"holder_name,omitempty"`
	Reason     string    `db:"reason" json:"reason,omitempty"`
	AcquiredAt time.Time `db:"acquired_at" json:"acquired_at"`
	ExpiresAt  time.Time `db:"expires_at" json:"expires_at"`
}

func (l EditLock) Ref() EntityRef {
	return EntityRef{Kind: l.EntityKind, ID: l.EntityID}
}

func (l EditLock) ActiveAt(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}
