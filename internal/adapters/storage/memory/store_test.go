package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/ports/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	require.NoError(t, s.Seed(context.Background(),
		&records.Person{Meta: records.Meta{ID: "p-1", CreatedAt: t0}, FirstName: "Ana", Phone: "7075550101"},
		&records.Person{Meta: records.Meta{ID: "p-2", CreatedAt: t0.Add(time.Minute)}, FirstName: "Ana", Phone: "7075550101"},
		&records.Person{Meta: records.Meta{ID: "p-3", CreatedAt: t0.Add(2 * time.Minute), MergedInto: "p-1"}, Phone: "7075550101"},
	))
	return s
}

func TestRunInTx_DiscardsOnError(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.UpdateField(ctx, records.Ref(records.KindPerson, "p-1"), "first_name", "Changed", t0))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		e, err := tx.GetEntity(ctx, records.Ref(records.KindPerson, "p-1"))
		require.NoError(t, err)
		v, _ := records.GetField(e, "first_name")
		assert.Equal(t, "Ana", v)
		return nil
	}))
}

func TestView_RejectsWrites(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.View(ctx, func(tx store.Tx) error {
		return tx.UpdateField(ctx, records.Ref(records.KindPerson, "p-1"), "first_name", "X", t0)
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestGetEntity_ReturnsCopy(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		e, err := tx.GetEntity(ctx, records.Ref(records.KindPerson, "p-1"))
		require.NoError(t, err)
		records.SetField(e, "first_name", "Mutated")

		again, err := tx.GetEntity(ctx, records.Ref(records.KindPerson, "p-1"))
		require.NoError(t, err)
		v, _ := records.GetField(again, "first_name")
		assert.Equal(t, "Ana", v)

		_, err = tx.GetEntity(ctx, records.Ref(records.KindCat, "nope"))
		assert.ErrorIs(t, err, records.ErrNotFound)
		return nil
	}))
}

func TestListEntities_SkipsTombstones(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		live, err := tx.ListEntities(ctx, records.KindPerson, store.ListFilter{})
		require.NoError(t, err)
		require.Len(t, live, 2)
		assert.Equal(t, "p-1", live[0].Base().ID)

		all, err := tx.ListEntities(ctx, records.KindPerson, store.ListFilter{IncludeMerged: true, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		n, err := tx.CountPeopleByPhone(ctx, "7075550101", "p-1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	}))
}

func TestHoldEntity_MakesClaimFail(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	ref := records.Ref(records.KindPerson, "p-2")

	release := s.HoldEntity(ref)
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.ClaimEntities(ctx, records.Ref(records.KindPerson, "p-1"), ref)
	})
	assert.Equal(t, "entity_busy", records.CodeOf(err))

	release()
	release()
	assert.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.ClaimEntities(ctx, ref)
	}))
}

func TestLocks_CompareAndSwap(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	ref := records.Ref(records.KindPerson, "p-1")
	first := records.EditLock{EntityKind: ref.Kind, EntityID: ref.ID, HolderID: "staff-a", AcquiredAt: t0, ExpiresAt: t0.Add(time.Minute)}

	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		ok, err := tx.InsertLock(ctx, first)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.InsertLock(ctx, records.EditLock{EntityKind: ref.Kind, EntityID: ref.ID, HolderID: "staff-b"})
		require.NoError(t, err)
		assert.False(t, ok)

		next := first
		next.HolderID = "staff-b"
		stale := first
		stale.ExpiresAt = t0.Add(time.Hour)
		ok, err = tx.ReplaceLock(ctx, stale, next)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = tx.ReplaceLock(ctx, first, next)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.DeleteLock(ctx, ref, "staff-a")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := tx.DeleteExpiredLocks(ctx, t0.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = tx.GetLock(ctx, ref)
		assert.ErrorIs(t, err, records.ErrNotFound)
		return nil
	}))
}

func TestCountPeopleByPhone_IgnoresFormatting(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx,
		&records.Person{Meta: records.Meta{ID: "p-4"}, Phone: "(707) 555-0101"},
		&records.Person{Meta: records.Meta{ID: "p-5"}, Phone: "1-707-555-0101"},
	))

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		n, err := tx.CountPeopleByPhone(ctx, "707.555.0101", "p-1")
		require.NoError(t, err)
		assert.Equal(t, 3, n, "p-2, p-4 and p-5; p-3 is a tombstone")
		return nil
	}))
}

func TestRelationships_ExclusivePerEnd(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	owner := func(id, personID string) records.Relationship {
		return records.Relationship{
			ID: id, Type: records.RelOwner,
			FromKind: records.KindPerson, FromID: personID,
			ToKind: records.KindCat, ToID: "c-1",
			CreatedAt: t0,
		}
	}
	require.NoError(t, s.Seed(ctx, owner("r-1", "p-1")))

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertRelationship(ctx, owner("r-2", "p-2"))
	})
	assert.ErrorIs(t, err, records.ErrConflict)
	assert.Equal(t, "exclusive_link", records.CodeOf(err))

	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		ended := owner("r-1", "p-1")
		ended.Type = records.RelFormerOwner
		at := t0.Add(time.Hour)
		ended.EndedAt = &at
		if err := tx.UpdateRelationship(ctx, ended); err != nil {
			return err
		}
		return tx.InsertRelationship(ctx, owner("r-2", "p-2"))
	}))
}
