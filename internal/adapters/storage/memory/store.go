package memory

import (
	"context"
	"errors"
	"sync"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/ports/store"
)

var (
	ErrNotFound = records.ErrNotFound
	ErrReadOnly = errors.New("memory: write in read-only transaction")
)

type lockKey struct {
	kind records.Kind
	id   string
}

type suppressionKey struct {
	kind      records.Kind
	low, high string
}

type state struct {
	entities      map[records.EntityRef]records.Entity
	relationships map[string]records.Relationship
	identifiers   map[string]records.Identifier
	locks         map[lockKey]records.EditLock
	audit         map[string]records.AuditEntry
	pairs         map[string]records.CandidatePair
	suppressions  map[suppressionKey]records.Suppression
	nextSeq       int64
}

func newState() state {
	return state{
		entities:      map[records.EntityRef]records.Entity{},
		relationships: map[string]records.Relationship{},
		identifiers:   map[string]records.Identifier{},
		locks:         map[lockKey]records.EditLock{},
		audit:         map[string]records.AuditEntry{},
		pairs:         map[string]records.CandidatePair{},
		suppressions:  map[suppressionKey]records.Suppression{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.entities {
		c.entities[k] = records.Clone(v)
	}
	for k, v := range s.relationships {
		c.relationships[k] = records.CloneRelationship(v)
	}
	for k, v := range s.identifiers {
		c.identifiers[k] = v
	}
	for k, v := range s.locks {
		c.locks[k] = v
	}
	for k, v := range s.audit {
		c.audit[k] = records.CloneAudit(v)
	}
	for k, v := range s.pairs {
		c.pairs[k] = records.ClonePair(v)
	}
	for k, v := range s.suppressions {
		c.suppressions[k] = v
	}
	c.nextSeq = s.nextSeq
	return c
}

// Store es el fake transaccional en memoria: cada transacción trabaja sobre
// una copia del estado y solo la publica si fn termina sin error.
type Store struct {
	mu    sync.RWMutex
	state state

	claimMu sync.Mutex
	held    map[records.EntityRef]int
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		state: newState(),
		held:  map[records.EntityRef]int{},
	}
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, st: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}

	s.state = tx.st
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx := &memTx{store: s, st: s.state, readOnly: true}
	return fn(tx)
}

// HoldEntity simula otra transacción en vuelo que tiene tomada la fila de la
// entidad (equivalente a un SELECT ... FOR UPDATE ajeno). Mientras no se
// llame a release, ClaimEntities sobre esa entidad falla con entity_busy.
func (s *Store) HoldEntity(ref records.EntityRef) (release func()) {
	s.claimMu.Lock()
	s.held[ref]++
	s.claimMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.claimMu.Lock()
			defer s.claimMu.Unlock()
			s.held[ref]--
			if s.held[ref] <= 0 {
				delete(s.held, ref)
			}
		})
	}
}

func (s *Store) isHeld(ref records.EntityRef) bool {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	return s.held[ref] > 0
}

type memTx struct {
	store    *Store
	st       state
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func notFound(what, id string) error {
	return records.NotFound(what+"_not_found", what+" "+id+" not found").With("id", id)
}

// Seed inserta entidades, vínculos e identificadores en una sola transacción.
func (s *Store) Seed(ctx context.Context, items ...any) error {
	return s.RunInTx(ctx, func(tx store.Tx) error {
		for _, it := range items {
			var err error
			switch v := it.(type) {
			case records.Entity:
				err = tx.InsertEntity(ctx, v)
			case records.Relationship:
				err = tx.InsertRelationship(ctx, v)
			case records.Identifier:
				err = tx.InsertIdentifier(ctx, v)
			case records.EditLock:
				_, err = tx.InsertLock(ctx, v)
			default:
				err = errors.New("memory: unsupported seed item")
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
