package store

import (
	"context"
	"time"

	"tnr-records/internal/domain/records"
)

// Store es el puerto transaccional que consumen los servicios. Cada
// operación recibe el Tx explícitamente; no hay handle global.
type Store interface {
	// RunInTx ejecuta fn en una transacción: si fn devuelve error no se
	// persiste nada.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	// View ejecuta fn en modo solo lectura.
	View(ctx context.Context, fn func(tx Tx) error) error
}

type ListFilter struct {
	IncludeMerged bool
	Limit         int
}

type PairFilter struct {
	Kind   records.Kind
	Status records.PairStatus
	Limit  int
}

// Tx son los verbos que el núcleo necesita del storage. Los "no encontrado"
// se devuelven como error que satisface errors.Is(err, records.ErrNotFound).
type Tx interface {
	// Entidades
	InsertEntity(ctx context.Context, e records.Entity) error
	GetEntity(ctx context.Context, ref records.EntityRef) (records.Entity, error)
	ListEntities(ctx context.Context, kind records.Kind, filter ListFilter) ([]records.Entity, error)
	// ClaimEntities toma un reclamo exclusivo sobre las filas hasta el fin de
	// la transacción. Si otra transacción las tiene, falla con Conflict
	// (entity_busy) en lugar de esperar.
	ClaimEntities(ctx context.Context, refs ...records.EntityRef) error
	UpdateField(ctx context.Context, ref records.EntityRef, field, value string, at time.Time) error
	MarkMerged(ctx context.Context, loser records.EntityRef, survivorID string, at time.Time) error
	// CountPeopleByPhone compara teléfonos normalizados, no el texto crudo.
	CountPeopleByPhone(ctx context.Context, phone string, excludeIDs ...string) (int, error)

	// Vínculos e identificadores
	InsertRelationship(ctx context.Context, r records.Relationship) error
	UpdateRelationship(ctx context.Context, r records.Relationship) error
	ListRelationships(ctx context.Context, ref records.EntityRef) ([]records.Relationship, error)
	InsertIdentifier(ctx context.Context, id records.Identifier) error
	UpdateIdentifier(ctx context.Context, id records.Identifier) error
	ListIdentifiers(ctx context.Context, ref records.EntityRef) ([]records.Identifier, error)

	// Locks
	GetLock(ctx context.Context, ref records.EntityRef) (records.EditLock, error)
	// InsertLock devuelve false si ya existe una fila para la entidad.
	InsertLock(ctx context.Context, l records.EditLock) (bool, error)
	// ReplaceLock reemplaza prev por next solo si la fila sigue siendo prev
	// (mismo holder y vencimiento).
	ReplaceLock(ctx context.Context, prev, next records.EditLock) (bool, error)
	// DeleteLock borra el lock de holderID (o cualquiera si holderID == "").
	DeleteLock(ctx context.Context, ref records.EntityRef, holderID string) (bool, error)
	DeleteExpiredLocks(ctx context.Context, now time.Time) (int, error)

	// Auditoría
	AppendAudit(ctx context.Context, e *records.AuditEntry) error
	GetAudit(ctx context.Context, editID string) (records.AuditEntry, error)
	// ListAudit devuelve entradas de la entidad o que la referencian, más
	// nuevas primero.
	ListAudit(ctx context.Context, ref records.EntityRef, limit int) ([]records.AuditEntry, error)
	MarkRolledBack(ctx context.Context, editID string, at time.Time) error

	// Pares candidatos
	InsertPair(ctx context.Context, p records.CandidatePair) error
	GetPair(ctx context.Context, pairID string) (records.CandidatePair, error)
	FindPendingPair(ctx context.Context, kind records.Kind, a, b string) (records.CandidatePair, error)
	UpdatePairScores(ctx context.Context, p records.CandidatePair) error
	ListPairs(ctx context.Context, filter PairFilter) ([]records.CandidatePair, error)
	// TransitionPair es el compare-and-swap pending -> terminal.
	TransitionPair(ctx context.Context, pairID string, d records.PairDecision) (bool, error)
	InsertSuppression(ctx context.Context, s records.Suppression) error
	IsSuppressed(ctx context.Context, kind records.Kind, a, b string) (bool, error)
}
