package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tnr-records/internal/adapters/storage/sqlite"
	"tnr-records/internal/domain/audit"
	"tnr-records/internal/domain/links"
	"tnr-records/internal/domain/locks"
	"tnr-records/internal/domain/merges"
	"tnr-records/internal/domain/records"
	"tnr-records/internal/domain/scoring"
	"tnr-records/internal/ports/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db, DriverSQLite))
	v, err := MigrationVersion(ctx, db, DriverSQLite)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	st, err := New(db, DriverSQLite, nil)
	require.NoError(t, err)
	return st
}

func seed(t *testing.T, st *Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.RunInTx(ctx, func(tx store.Tx) error { return fn(ctx, tx) }))
}

func TestEntities_RoundTrip(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	ref := records.Ref(records.KindPerson, "p-1")

	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertEntity(ctx, &records.Person{
			Meta:      records.Meta{ID: "p-1", SourceSystem: "airtable", CreatedAt: t0, UpdatedAt: t0},
			FirstName: "Maria",
			Email:     "maria@example.org",
		})
	})

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		return tx.UpdateField(ctx, ref, "phone", "7075550101", t0.Add(time.Hour))
	})
	require.NoError(t, err)

	err = st.View(ctx, func(tx store.Tx) error {
		e, err := tx.GetEntity(ctx, ref)
		require.NoError(t, err)
		p := e.(*records.Person)
		assert.Equal(t, "Maria", p.FirstName)
		assert.Equal(t, "7075550101", p.Phone)
		assert.Equal(t, "airtable", p.SourceSystem)
		assert.True(t, p.UpdatedAt.Equal(t0.Add(time.Hour)))
		assert.False(t, p.IsMerged())

		n, err := tx.CountPeopleByPhone(ctx, "7075550101")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = tx.CountPeopleByPhone(ctx, "7075550101", "p-1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, err = tx.GetEntity(ctx, records.Ref(records.KindPerson, "nope"))
		assert.ErrorIs(t, err, records.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	// View rechaza escrituras
	err = st.View(ctx, func(tx store.Tx) error {
		return tx.UpdateField(ctx, ref, "phone", "", t0)
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertEntity(ctx, &records.Cat{Meta: records.Meta{ID: "c-1", CreatedAt: t0}}); err != nil {
			return err
		}
		return records.Validation("boom", "forced failure")
	})
	require.Error(t, err)

	err = st.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetEntity(ctx, records.Ref(records.KindCat, "c-1"))
		return err
	})
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestLocks_InsertReplaceExpire(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	l := records.EditLock{
		EntityKind: records.KindCat, EntityID: "c-1",
		HolderID: "u1", AcquiredAt: t0, ExpiresAt: t0.Add(15 * time.Minute),
	}

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		ok, err := tx.InsertLock(ctx, l)
		require.NoError(t, err)
		assert.True(t, ok)

		other := l
		other.HolderID = "u2"
		ok, err = tx.InsertLock(ctx, other)
		require.NoError(t, err)
		assert.False(t, ok, "second insert must not win")

		next := l
		next.ExpiresAt = t0.Add(30 * time.Minute)
		ok, err = tx.ReplaceLock(ctx, other, next)
		require.NoError(t, err)
		assert.False(t, ok, "stale prev must not replace")

		ok, err = tx.ReplaceLock(ctx, l, next)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := tx.GetLock(ctx, l.Ref())
		require.NoError(t, err)
		assert.True(t, got.ExpiresAt.Equal(next.ExpiresAt))

		n, err := tx.DeleteExpiredLocks(ctx, t0.Add(20*time.Minute))
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = tx.DeleteExpiredLocks(ctx, t0.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = tx.GetLock(ctx, l.Ref())
		assert.ErrorIs(t, err, records.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestAudit_SeqAndRelatedOrdering(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	p1 := records.Ref(records.KindPerson, "p-1")

	var first, second records.AuditEntry
	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		first = records.AuditEntry{
			EditID: "e-1", EntityKind: records.KindPerson, EntityID: "p-1",
			EditType: records.EditFieldUpdate, FieldName: "phone", OldValue: "null", NewValue: `"1"`,
			EditorID: "u1", Source: records.SourceWebUI, CreatedAt: t0,
		}
		if err := tx.AppendAudit(ctx, &first); err != nil {
			return err
		}
		second = records.AuditEntry{
			EditID: "e-2", EntityKind: records.KindPerson, EntityID: "p-2",
			EditType: records.EditStructuralMerge, RelatedKind: records.KindPerson, RelatedID: "p-1",
			EditorID: "u1", Source: records.SourceMergeEngine, CreatedAt: t0,
		}
		return tx.AppendAudit(ctx, &second)
	})
	assert.Greater(t, second.Seq, first.Seq)

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		entries, err := tx.ListAudit(ctx, p1, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		// mismo instante: desempata seq, el más nuevo primero
		assert.Equal(t, "e-2", entries[0].EditID)
		assert.Equal(t, "null", entries[0].OldValue)

		require.NoError(t, tx.MarkRolledBack(ctx, "e-1", t0.Add(time.Minute)))
		got, err := tx.GetAudit(ctx, "e-1")
		require.NoError(t, err)
		assert.True(t, got.IsRolledBack)
		require.NotNil(t, got.RolledBackAt)

		assert.ErrorIs(t, tx.MarkRolledBack(ctx, "missing", t0), records.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestPairs_TransitionIsCompareAndSwap(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPair(ctx, records.CandidatePair{
			PairID: "pair-1", EntityKind: records.KindPerson, LeftID: "p-1", RightID: "p-2",
			FieldScores: records.FieldScores{"email": 6}, MatchProbability: 0.98,
			Status: records.PairPending, CreatedAt: t0, UpdatedAt: t0,
		})
	})

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.FindPendingPair(ctx, records.KindPerson, "p-2", "p-1")
		require.NoError(t, err)
		assert.Equal(t, "pair-1", p.PairID)
		assert.Equal(t, records.FieldScores{"email": 6}, p.FieldScores)

		d := records.PairDecision{Status: records.PairKeptSeparate, DecidedBy: "u1", At: t0}
		ok, err := tx.TransitionPair(ctx, "pair-1", d)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.TransitionPair(ctx, "pair-1", d)
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = tx.TransitionPair(ctx, "missing", d)
		assert.ErrorIs(t, err, records.ErrNotFound)

		require.NoError(t, tx.InsertSuppression(ctx, records.Suppression{EntityKind: records.KindPerson, LowID: "p-2", HighID: "p-1", PairID: "pair-1", CreatedBy: "u1", CreatedAt: t0}))
		require.NoError(t, tx.InsertSuppression(ctx, records.Suppression{EntityKind: records.KindPerson, LowID: "p-1", HighID: "p-2", PairID: "pair-1", CreatedBy: "u1", CreatedAt: t0}))
		sup, err := tx.IsSuppressed(ctx, records.KindPerson, "p-1", "p-2")
		require.NoError(t, err)
		assert.True(t, sup)

		_, err = tx.FindPendingPair(ctx, records.KindPerson, "p-1", "p-2")
		assert.ErrorIs(t, err, records.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMergeFlow_OnSQLite(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		for _, e := range []records.Entity{
			&records.Person{Meta: records.Meta{ID: "p-1", CreatedAt: t0}, FirstName: "John", LastName: "Smith", Email: "john@example.org"},
			&records.Person{Meta: records.Meta{ID: "p-2", CreatedAt: t0}, FirstName: "John", LastName: "Smith", Email: "john@example.org"},
			&records.Cat{Meta: records.Meta{ID: "c-1", CreatedAt: t0}, Name: "Tom"},
		} {
			if err := tx.InsertEntity(ctx, e); err != nil {
				return err
			}
		}
		return tx.InsertRelationship(ctx, records.Relationship{
			ID: "r-1", Type: records.RelOwner,
			FromKind: records.KindPerson, FromID: "p-2",
			ToKind: records.KindCat, ToID: "c-1",
			CreatedAt: t0,
		})
	})

	auditSvc := audit.NewService(st)
	svc := merges.NewService(st, auditSvc, locks.NewService(st, locks.Options{}), links.NewLinker(),
		scoring.NewScorer(scoring.DefaultWeights()), merges.Options{})

	sub, err := svc.Submit(ctx, merges.SubmitInput{Kind: records.KindPerson, LeftID: "p-1", RightID: "p-2"})
	require.NoError(t, err)
	require.True(t, sub.Created)

	res, err := svc.Resolve(ctx, merges.ResolveInput{PairID: sub.Pair.PairID, Decision: records.DecisionMerge, DecidedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Repoint.Moved)

	err = st.View(ctx, func(tx store.Tx) error {
		loser, err := tx.GetEntity(ctx, records.Ref(records.KindPerson, "p-2"))
		require.NoError(t, err)
		assert.Equal(t, "p-1", loser.Base().MergedInto)

		rels, err := tx.ListRelationships(ctx, records.Ref(records.KindCat, "c-1"))
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, "p-1", rels[0].FromID)

		list, err := tx.ListEntities(ctx, records.KindPerson, store.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, list, 1)
		return nil
	})
	require.NoError(t, err)

	h, err := auditSvc.History(ctx, records.Ref(records.KindPerson, "p-2"), 0)
	require.NoError(t, err)
	require.Len(t, h.Entries, 1)
	assert.Equal(t, records.EditStructuralMerge, h.Entries[0].EditType)
	assert.Equal(t, "John Smith", h.Entries[0].RelatedEntityName)

	_, err = svc.Resolve(ctx, merges.ResolveInput{PairID: sub.Pair.PairID, Decision: records.DecisionDismiss, DecidedBy: "u1"})
	assert.Equal(t, "already_resolved", records.CodeOf(err))
}

func TestCountPeopleByPhone_IgnoresFormatting(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		for id, phone := range map[string]string{
			"p-1": "(707) 555-0101",
			"p-2": "707-555-0101",
			"p-3": "1 707.555.0101",
			"p-4": "415 555 0000",
		} {
			if err := tx.InsertEntity(ctx, &records.Person{Meta: records.Meta{ID: id, CreatedAt: t0, UpdatedAt: t0}, Phone: phone}); err != nil {
				return err
			}
		}
		return nil
	})

	err := st.View(ctx, func(tx store.Tx) error {
		n, err := tx.CountPeopleByPhone(ctx, "7075550101", "p-1", "p-2")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = tx.CountPeopleByPhone(ctx, "(707) 555-0101")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		return nil
	})
	require.NoError(t, err)

	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateField(ctx, records.Ref(records.KindPerson, "p-4"), "phone", "707 555 0101", t0.Add(time.Hour))
	})
	err = st.View(ctx, func(tx store.Tx) error {
		n, err := tx.CountPeopleByPhone(ctx, "7075550101")
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		return nil
	})
	require.NoError(t, err)
}

func TestRelationships_ExclusiveIndex(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	link := func(id string, typ records.RelationshipType, from, to records.EntityRef) records.Relationship {
		return records.Relationship{
			ID: id, Type: typ,
			FromKind: from.Kind, FromID: from.ID,
			ToKind: to.Kind, ToID: to.ID,
			CreatedAt: t0,
		}
	}
	p1 := records.Ref(records.KindPerson, "p-1")
	p2 := records.Ref(records.KindPerson, "p-2")
	c1 := records.Ref(records.KindCat, "c-1")
	l1 := records.Ref(records.KindPlace, "pl-1")
	l2 := records.Ref(records.KindPlace, "pl-2")

	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertRelationship(ctx, link("r-own-1", records.RelOwner, p1, c1)); err != nil {
			return err
		}
		return tx.InsertRelationship(ctx, link("r-site-1", records.RelResidesAt, c1, l1))
	})

	err := st.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertRelationship(ctx, link("r-own-2", records.RelOwner, p2, c1))
	})
	assert.ErrorIs(t, err, records.ErrConflict)
	assert.Equal(t, "exclusive_link", records.CodeOf(err))

	err = st.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertRelationship(ctx, link("r-site-2", records.RelResidesAt, c1, l2))
	})
	assert.Equal(t, "exclusive_link", records.CodeOf(err))

	// Caretaker no es exclusivo; un owner cerrado tampoco cuenta.
	seed(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertRelationship(ctx, link("r-care-1", records.RelCaretaker, p1, c1)); err != nil {
			return err
		}
		if err := tx.InsertRelationship(ctx, link("r-care-2", records.RelCaretaker, p2, c1)); err != nil {
			return err
		}
		ended := link("r-own-1", records.RelFormerOwner, p1, c1)
		at := t0.Add(time.Hour)
		ended.EndedAt = &at
		if err := tx.UpdateRelationship(ctx, ended); err != nil {
			return err
		}
		return tx.InsertRelationship(ctx, link("r-own-2", records.RelOwner, p2, c1))
	})
}
