package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tnr-records/internal/adapters/storage/memory"
	"tnr-records/internal/domain/records"
	"tnr-records/internal/ports/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var catRef = records.Ref(records.KindCat, "cat-1")

func newTestService(t *testing.T) (*Service, *memory.Store, *time.Time) {
	t.Helper()

	st := memory.NewStore()
	require.NoError(t, st.Seed(context.Background(), &records.Cat{Meta: records.Meta{ID: "cat-1"}, Name: "Tom"}))

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := NewService(st, Options{TTL: 15 * time.Minute})
	svc.now = func() time.Time { return now }
	return svc, st, &now
}

func TestAcquire_NewLock(t *testing.T) {
	svc, _, now := newTestService(t)

	res, err := svc.Acquire(context.Background(), AcquireInput{Ref: catRef, HolderID: "u1", HolderName: "Ana"})
	require.NoError(t, err)

	assert.False(t, res.Refreshed)
	assert.Equal(t, "u1", res.Lock.HolderID)
	assert.Equal(t, *now, res.Lock.AcquiredAt)
	assert.Equal(t, now.Add(15*time.Minute), res.Lock.ExpiresAt)
}

func TestAcquire_UnknownEntity(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Acquire(context.Background(), AcquireInput{Ref: records.Ref(records.KindCat, "nope"), HolderID: "u1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, records.ErrNotFound))
}

func TestAcquire_SameHolderRefreshes(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	first, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u1"})
	require.NoError(t, err)

	*now = now.Add(5 * time.Minute)
	second, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u1"})
	require.NoError(t, err)

	assert.True(t, second.Refreshed)
	assert.Equal(t, first.Lock.AcquiredAt, second.Lock.AcquiredAt)
	assert.Equal(t, now.Add(15*time.Minute), second.Lock.ExpiresAt)
}

func TestAcquire_OtherHolderConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u1", HolderName: "Ana"})
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, records.ErrConflict))
	assert.Equal(t, "already_locked", records.CodeOf(err))

	de, ok := records.AsError(err)
	require.True(t, ok)
	held, ok := de.Details["lock"].(records.EditLock)
	require.True(t, ok)
	assert.Equal(t, "u1", held.HolderID)
}

func TestAcquire_ExpiredLockIsReplaced(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u1"})
	require.NoError(t, err)

	*now = now.Add(16 * time.Minute)
	res, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "u2", res.Lock.HolderID)
	assert.False(t, res.Refreshed)
}

func TestAcquire_ConcurrentOnlyOneWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := fmt.Sprintf("u%d", i)
			_, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: holder})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, holder)
				return
			}
			if records.CodeOf(err) == "already_locked" {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, conflicts)

	l, err := svc.Status(ctx, catRef)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, winners[0], l.HolderID)
}

func TestRelease_ThenOtherHolderAcquires(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u1"})
	require.NoError(t, err)

	released, err := svc.Release(ctx, catRef, "u2")
	require.NoError(t, err)
	assert.False(t, released, "only the holder can release")

	released, err = svc.Release(ctx, catRef, "u1")
	require.NoError(t, err)
	assert.True(t, released)

	res, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "u2", res.Lock.HolderID)
}

func TestStatus_ExpiredIsNil(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	l, err := svc.Status(ctx, catRef)
	require.NoError(t, err)
	assert.Nil(t, l)

	_, err = svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u1"})
	require.NoError(t, err)

	*now = now.Add(15 * time.Minute)
	l, err = svc.Status(ctx, catRef)
	require.NoError(t, err)
	assert.Nil(t, l, "lock expiring exactly now is no longer active")
}

func TestCheck(t *testing.T) {
	svc, st, now := newTestService(t)
	ctx := context.Background()

	check := func(holder string, requireHeld bool) error {
		return st.View(ctx, func(tx store.Tx) error {
			return svc.Check(ctx, tx, catRef, holder, requireHeld)
		})
	}

	// sin lock
	assert.Equal(t, "lock_required", records.CodeOf(check("u1", true)))
	assert.NoError(t, check("u1", false))

	_, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u1"})
	require.NoError(t, err)

	assert.NoError(t, check("u1", true))
	assert.NoError(t, check("u1", false))
	assert.Equal(t, "already_locked", records.CodeOf(check("u2", true)))
	assert.Equal(t, "already_locked", records.CodeOf(check("u2", false)))

	// vencido: cuenta como sin lock
	*now = now.Add(time.Hour)
	assert.Equal(t, "lock_required", records.CodeOf(check("u1", true)))
	assert.NoError(t, check("u2", false))
}

func TestReapExpired(t *testing.T) {
	svc, st, now := newTestService(t)
	ctx := context.Background()
	require.NoError(t, st.Seed(ctx, &records.Cat{Meta: records.Meta{ID: "cat-2"}}))

	_, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u1"})
	require.NoError(t, err)

	*now = now.Add(10 * time.Minute)
	_, err = svc.Acquire(ctx, AcquireInput{Ref: records.Ref(records.KindCat, "cat-2"), HolderID: "u1"})
	require.NoError(t, err)

	*now = now.Add(6 * time.Minute)
	n, err := svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	l, err := svc.Status(ctx, records.Ref(records.KindCat, "cat-2"))
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.True(t, p.RequiresHeld())

	p, err = ParsePolicy("Advisory")
	require.NoError(t, err)
	assert.False(t, p.RequiresHeld())

	_, err = ParsePolicy("never")
	assert.Error(t, err)
}

func TestNewReaper_InvalidSchedule(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := NewReaper(svc, "not a schedule", nil)
	assert.Error(t, err)

	r, err := NewReaper(svc, "@every 30s", nil)
	require.NoError(t, err)
	r.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
}

// reapingStore borra el lock vencido justo antes de cada ReplaceLock, como
// si el reaper corriera entre la lectura y el reemplazo.
type reapingStore struct{ *memory.Store }

func (s reapingStore) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.RunInTx(ctx, func(tx store.Tx) error { return fn(reapingTx{Tx: tx}) })
}

type reapingTx struct{ store.Tx }

func (tx reapingTx) ReplaceLock(ctx context.Context, prev, next records.EditLock) (bool, error) {
	if _, err := tx.Tx.DeleteLock(ctx, prev.Ref(), ""); err != nil {
		return false, err
	}
	return false, nil
}

func TestAcquire_ExpiredLockReapedMidway(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	st := memory.NewStore()
	require.NoError(t, st.Seed(ctx,
		&records.Cat{Meta: records.Meta{ID: "cat-1"}, Name: "Tom"},
		records.EditLock{
			EntityKind: records.KindCat,
			EntityID:   "cat-1",
			HolderID:   "u1",
			AcquiredAt: now.Add(-30 * time.Minute),
			ExpiresAt:  now.Add(-15 * time.Minute),
		},
	))

	svc := NewService(reapingStore{st}, Options{TTL: 15 * time.Minute})
	svc.now = func() time.Time { return now }

	res, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "u2", res.Lock.HolderID)
	assert.False(t, res.Refreshed)
	assert.Equal(t, now, res.Lock.AcquiredAt)

	l, err := svc.Status(ctx, catRef)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "u2", l.HolderID)
}

func TestRelease_ExpiredLockIsNotReleased(t *testing.T) {
	svc, st, now := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u1"})
	require.NoError(t, err)

	*now = now.Add(20 * time.Minute)
	released, err := svc.Release(ctx, catRef, "u1")
	require.NoError(t, err)
	assert.False(t, released)

	err = st.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetLock(ctx, catRef)
		return err
	})
	assert.True(t, errors.Is(err, records.ErrNotFound), "stale row is cleaned up")
}

func TestReaper_SweepsOnSchedule(t *testing.T) {
	svc, st, now := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, AcquireInput{Ref: catRef, HolderID: "u1"})
	require.NoError(t, err)
	*now = now.Add(time.Hour)

	r, err := NewReaper(svc, "@every 1s", nil)
	require.NoError(t, err)
	r.Start()

	require.Eventually(t, func() bool {
		err := st.View(ctx, func(tx store.Tx) error {
			_, err := tx.GetLock(ctx, catRef)
			return err
		})
		return errors.Is(err, records.ErrNotFound)
	}, 5*time.Second, 50*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	r.Stop(stopCtx)
	r.Stop(stopCtx)
}
