package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tnr-records/internal/domain/records"
)

var lockCols = []string{"entity_type", "entity_id", "holder_id", "holder_name", "reason", "acquired_at", "expires_at"}

func (t *sqlTx) GetLock(ctx context.Context, ref records.EntityRef) (records.EditLock, error) {
	sb := t.s.flavor.NewSelectBuilder()
	sb.Select(lockCols...).From("edit_locks").
		Where(sb.Equal("entity_type", ref.Kind), sb.Equal("entity_id", ref.ID))
	q, args := sb.Build()

	var l records.EditLock
	if err := t.tx.GetContext(ctx, &l, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return records.EditLock{}, notFound("lock", ref.String())
		}
		return records.EditLock{}, err
	}
	return l, nil
}

// InsertLock se apoya en la PK (entity_type, entity_id): si la fila existe
// no inserta y devuelve false.
func (t *sqlTx) InsertLock(ctx context.Context, l records.EditLock) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	ib := t.s.flavor.NewInsertBuilder()
	ib.InsertInto("edit_locks").Cols(lockCols...).Values(
		l.EntityKind, l.EntityID, l.HolderID, l.HolderName, l.Reason, utc(l.AcquiredAt), utc(l.ExpiresAt),
	)
	q, args := ib.Build()
	q += " ON CONFLICT (entity_type, entity_id) DO NOTHING"

	n, err := t.exec(ctx, q, args...)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *sqlTx) ReplaceLock(ctx context.Context, prev, next records.EditLock) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	ub := t.s.flavor.NewUpdateBuilder()
	ub.Update("edit_locks").
		Set(
			ub.Assign("holder_id", next.HolderID),
			ub.Assign("holder_name", next.HolderName),
			ub.Assign("reason", next.Reason),
			ub.Assign("acquired_at", utc(next.AcquiredAt)),
			ub.Assign("expires_at", utc(next.ExpiresAt)),
		).
		Where(
			ub.Equal("entity_type", prev.EntityKind),
			ub.Equal("entity_id", prev.EntityID),
			ub.Equal("holder_id", prev.HolderID),
			ub.Equal("expires_at", utc(prev.ExpiresAt)),
		)
	q, args := ub.Build()

	n, err := t.exec(ctx, q, args...)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *sqlTx) DeleteLock(ctx context.Context, ref records.EntityRef, holderID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	db := t.s.flavor.NewDeleteBuilder()
	db.DeleteFrom("edit_locks").Where(db.Equal("entity_type", ref.Kind), db.Equal("entity_id", ref.ID))
	if holderID != "" {
		db.Where(db.Equal("holder_id", holderID))
	}
	q, args := db.Build()

	n, err := t.exec(ctx, q, args...)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *sqlTx) DeleteExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	db := t.s.flavor.NewDeleteBuilder()
	db.DeleteFrom("edit_locks").Where(db.LessEqualThan("expires_at", utc(now)))
	q, args := db.Build()

	n, err := t.exec(ctx, q, args...)
	return int(n), err
}
