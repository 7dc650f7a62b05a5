package memory

import (
	"context"
	"time"

	"tnr-records/internal/domain/records"
)

func keyOf(ref records.EntityRef) lockKey {
	return lockKey{kind: ref.Kind, id: ref.ID}
}

func (t *memTx) GetLock(ctx context.Context, ref records.EntityRef) (records.EditLock, error) {
	l, ok := t.st.locks[keyOf(ref)]
	if !ok {
		return records.EditLock{}, notFound("lock", ref.String())
	}
	return l, nil
}

func (t *memTx) InsertLock(ctx context.Context, l records.EditLock) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	k := keyOf(l.Ref())
	if _, exists := t.st.locks[k]; exists {
		return false, nil
	}
	t.st.locks[k] = l
	return true, nil
}

func (t *memTx) ReplaceLock(ctx context.Context, prev, next records.EditLock) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	k := keyOf(prev.Ref())
	cur, ok := t.st.locks[k]
	if !ok || cur.HolderID != prev.HolderID || !cur.ExpiresAt.Equal(prev.ExpiresAt) {
		return false, nil
	}
	t.st.locks[k] = next
	return true, nil
}

func (t *memTx) DeleteLock(ctx context.Context, ref records.EntityRef, holderID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	k := keyOf(ref)
	cur, ok := t.st.locks[k]
	if !ok {
		return false, nil
	}
	if holderID != "" && cur.HolderID != holderID {
		return false, nil
	}
	delete(t.st.locks, k)
	return true, nil
}

func (t *memTx) DeleteExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	n := 0
	for k, l := range t.st.locks {
		if !l.ActiveAt(now) {
			delete(t.st.locks, k)
			n++
		}
	}
	return n, nil
}
