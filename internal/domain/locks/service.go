package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/platform/logger"
	"tnr-records/internal/platform/metrics"
	"tnr-records/internal/platform/tracing"
	"tnr-records/internal/ports/store"
)

const DefaultTTL = 15 * time.Minute

// Policy define qué exige el camino de escritura respecto del lock.
type Policy string

const (
	// PolicyRequired: el editor tiene que tener un lock activo.
	PolicyRequired Policy = "required"
	// PolicyAdvisory: solo bloquea si otro holder tiene un lock activo.
	PolicyAdvisory Policy = "advisory"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyRequired, "":
		return PolicyRequired, nil
	case PolicyAdvisory:
		return PolicyAdvisory, nil
	}
	return "", fmt.Errorf("unknown edit lock policy %q", s)
}

func (p Policy) RequiresHeld() bool {
	return p != PolicyAdvisory
}

type Options struct {
	TTL    time.Duration
	Logger logger.Logger
}

type Service struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
	log   logger.Logger
}

func NewService(st store.Store, opts Options) *Service {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store: st,
		ttl:   ttl,
		now:   time.Now,
		log:   log.With(map[string]any{"component": "locks"}),
	}
}

func (s *Service) TTL() time.Duration { return s.ttl }

type AcquireInput struct {
	Ref        records.EntityRef
	HolderID   string
	HolderName string
	Reason     string
}

type LockResult struct {
	Lock      records.EditLock
	Refreshed bool
}

// Acquire toma el lock de la entidad. Un lock vencido se reemplaza; si el
// mismo holder ya lo tiene se extiende el vencimiento.
func (s *Service) Acquire(ctx context.Context, in AcquireInput) (LockResult, error) {
	ctx, span := tracing.StartSpan(ctx, "locks.Acquire")
	defer span.End()

	if err := in.Ref.Validate(); err != nil {
		return LockResult{}, err
	}
	holder := strings.TrimSpace(in.HolderID)
	if holder == "" {
		return LockResult{}, records.Validation("holder_required", "holder_id is required")
	}

	var res LockResult
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetEntity(ctx, in.Ref); err != nil {
			return err
		}

		now := s.now().UTC()
		next := records.EditLock{
			EntityKind: in.Ref.Kind,
			EntityID:   in.Ref.ID,
			HolderID:   holder,
			HolderName: strings.TrimSpace(in.HolderName),
			Reason:     strings.TrimSpace(in.Reason),
			AcquiredAt: now,
			ExpiresAt:  now.Add(s.ttl),
		}

		ok, err := tx.InsertLock(ctx, next)
		if err != nil {
			return err
		}
		if ok {
			res = LockResult{Lock: next}
			return nil
		}

		cur, err := tx.GetLock(ctx, in.Ref)
		if err != nil {
			return err
		}

		refreshed := false
		switch {
		case !cur.ActiveAt(now):
			// vencido: se reemplaza
		case cur.HolderID == holder:
			next.AcquiredAt = cur.AcquiredAt
			if next.HolderName == "" {
				next.HolderName = cur.HolderName
			}
			if next.Reason == "" {
				next.Reason = cur.Reason
			}
			refreshed = true
		default:
			return alreadyLocked(cur)
		}

		ok, err = tx.ReplaceLock(ctx, cur, next)
		if err != nil {
			return err
		}
		if ok {
			res = LockResult{Lock: next, Refreshed: refreshed}
			return nil
		}

		// La fila cambió entre la lectura y el reemplazo: otro acquire la tomó
		// o el reaper la borró. En el segundo caso se reintenta el insert.
		latest, err := tx.GetLock(ctx, in.Ref)
		switch {
		case err == nil:
			return alreadyLocked(latest)
		case !errors.Is(err, records.ErrNotFound):
			return err
		}

		next.AcquiredAt = now
		ok, err = tx.InsertLock(ctx, next)
		if err != nil {
			return err
		}
		if !ok {
			if latest, gerr := tx.GetLock(ctx, in.Ref); gerr == nil {
				return alreadyLocked(latest)
			}
			return records.Conflict("already_locked", "entity lock changed concurrently")
		}
		res = LockResult{Lock: next}
		return nil
	})
	if err != nil {
		if errors.Is(err, records.ErrConflict) {
			metrics.LockAcquireTotal.WithLabelValues("conflict").Inc()
			s.log.Info("lock conflict", map[string]any{
				"entity_type": in.Ref.Kind,
				"entity_id":   in.Ref.ID,
				"holder_id":   holder,
			})
		}
		return LockResult{}, records.TransactionFailure(err, "failed to acquire lock")
	}

	if res.Refreshed {
		metrics.LockAcquireTotal.WithLabelValues("refreshed").Inc()
	} else {
		metrics.LockAcquireTotal.WithLabelValues("acquired").Inc()
	}
	return res, nil
}

// Release libera el lock si holderID lo tiene activo. Devuelve false si no
// había nada que liberar; un lock propio ya vencido se borra igual pero
// cuenta como no liberado.
func (s *Service) Release(ctx context.Context, ref records.EntityRef, holderID string) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}
	holderID = strings.TrimSpace(holderID)
	if holderID == "" {
		return false, records.Validation("holder_required", "holder_id is required")
	}

	var released bool
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		cur, err := tx.GetLock(ctx, ref)
		if err != nil {
			if errors.Is(err, records.ErrNotFound) {
				return nil
			}
			return err
		}
		if cur.HolderID != holderID {
			return nil
		}

		ok, err := tx.DeleteLock(ctx, ref, holderID)
		if err != nil {
			return err
		}
		released = ok && cur.ActiveAt(s.now())
		return nil
	})
	if err != nil {
		return false, records.TransactionFailure(err, "failed to release lock")
	}
	return released, nil
}

// Status devuelve el lock activo o nil.
func (s *Service) Status(ctx context.Context, ref records.EntityRef) (*records.EditLock, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var out *records.EditLock
	err := s.store.View(ctx, func(tx store.Tx) error {
		l, err := tx.GetLock(ctx, ref)
		if err != nil {
			if errors.Is(err, records.ErrNotFound) {
				return nil
			}
			return err
		}
		if l.ActiveAt(s.now()) {
			out = &l
		}
		return nil
	})
	if err != nil {
		return nil, records.TransactionFailure(err, "failed to read lock")
	}
	return out, nil
}

// Check es la guarda del camino de escritura; corre dentro del Tx del caller.
// Con requireHeld el editor tiene que tener el lock activo.
func (s *Service) Check(ctx context.Context, tx store.Tx, ref records.EntityRef, holderID string, requireHeld bool) error {
	l, err := tx.GetLock(ctx, ref)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		return err
	}

	active := err == nil && l.ActiveAt(s.now())
	switch {
	case active && l.HolderID != holderID:
		return alreadyLocked(l)
	case !active && requireHeld:
		return records.Conflict("lock_required", "acquire the edit lock before editing").
			With("entity_type", ref.Kind).
			With("entity_id", ref.ID)
	}
	return nil
}

// ReapExpired borra los locks vencidos.
func (s *Service) ReapExpired(ctx context.Context) (int, error) {
	var n int
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.DeleteExpiredLocks(ctx, s.now().UTC())
		return err
	})
	if err != nil {
		return 0, records.TransactionFailure(err, "failed to reap locks")
	}
	if n > 0 {
		metrics.LockReapedTotal.Add(float64(n))
		s.log.Info("expired locks reaped", map[string]any{"count": n})
	}
	return n, nil
}

func alreadyLocked(l records.EditLock) *records.Error {
	who := l.HolderName
	if who == "" {
		who = l.HolderID
	}
	return records.Conflict("already_locked", "entity is locked by "+who).
		With("lock", l)
}
