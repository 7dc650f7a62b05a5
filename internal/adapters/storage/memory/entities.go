package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/ports/store"
)

func (t *memTx) InsertEntity(ctx context.Context, e records.Entity) error {
	if err := t.writable(); err != nil {
		return err
	}
	ref := e.Ref()
	if err := ref.Validate(); err != nil {
		return err
	}
	if _, exists := t.st.entities[ref]; exists {
		return errors.New("memory: entity already exists")
	}
	t.st.entities[ref] = records.Clone(e)
	return nil
}

func (t *memTx) GetEntity(ctx context.Context, ref records.EntityRef) (records.Entity, error) {
	e, ok := t.st.entities[ref]
	if !ok {
		return nil, records.EntityNotFound(ref)
	}
	return records.Clone(e), nil
}

func (t *memTx) ListEntities(ctx context.Context, kind records.Kind, filter store.ListFilter) ([]records.Entity, error) {
	out := make([]records.Entity, 0)
	for ref, e := range t.st.entities {
		if ref.Kind != kind {
			continue
		}
		if !filter.IncludeMerged && e.Base().IsMerged() {
			continue
		}
		out = append(out, records.Clone(e))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Base(), out[j].Base()
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *memTx) ClaimEntities(ctx context.Context, refs ...records.EntityRef) error {
	for _, ref := range refs {
		if _, ok := t.st.entities[ref]; !ok {
			return records.EntityNotFound(ref)
		}
		if t.store.isHeld(ref) {
			return records.Conflict("entity_busy", "entity is being modified by another operation").
				With("entity_type", ref.Kind).
				With("entity_id", ref.ID)
		}
	}
	return nil
}

func (t *memTx) UpdateField(ctx context.Context, ref records.EntityRef, field, value string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	e, ok := t.st.entities[ref]
	if !ok {
		return records.EntityNotFound(ref)
	}
	if !records.SetField(e, field, value) {
		return records.Validation("field_not_editable", "unknown field "+field).With("field", field)
	}
	e.Base().UpdatedAt = at
	return nil
}

func (t *memTx) MarkMerged(ctx context.Context, loser records.EntityRef, survivorID string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	e, ok := t.st.entities[loser]
	if !ok {
		return records.EntityNotFound(loser)
	}
	m := e.Base()
	m.MergedInto = survivorID
	ts := at
	m.MergedAt = &ts
	m.UpdatedAt = at
	return nil
}

func (t *memTx) CountPeopleByPhone(ctx context.Context, phone string, excludeIDs ...string) (int, error) {
	phone = records.NormalizePhone(phone)
	if phone == "" {
		return 0, nil
	}
	skip := map[string]struct{}{}
	for _, id := range excludeIDs {
		skip[id] = struct{}{}
	}

	n := 0
	for ref, e := range t.st.entities {
		if ref.Kind != records.KindPerson || e.Base().IsMerged() {
			continue
		}
		if _, ok := skip[ref.ID]; ok {
			continue
		}
		if p, ok := e.(*records.Person); ok && records.NormalizePhone(p.Phone) == phone {
			n++
		}
	}
	return n, nil
}
