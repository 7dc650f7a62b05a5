package memory

import (
	"context"
	"errors"
	"sort"

	"tnr-records/internal/domain/records"
)

func (t *memTx) InsertRelationship(ctx context.Context, r records.Relationship) error {
	if err := t.writable(); err != nil {
		return err
	}
	if r.ID == "" {
		return errors.New("memory: relationship id required")
	}
	if _, exists := t.st.relationships[r.ID]; exists {
		return errors.New("memory: relationship already exists")
	}
	if err := t.checkExclusive(r); err != nil {
		return err
	}
	t.st.relationships[r.ID] = records.CloneRelationship(r)
	return nil
}

// checkExclusive replica los índices únicos parciales de la base: un solo
// vínculo activo por extremo exclusivo y tipo.
func (t *memTx) checkExclusive(r records.Relationship) error {
	end, ok := r.ExclusiveEnd()
	if !ok || !r.Active() {
		return nil
	}
	for id, x := range t.st.relationships {
		if id == r.ID || x.Type != r.Type || !x.Active() {
			continue
		}
		if xe, _ := x.ExclusiveEnd(); xe == end {
			return records.ExclusiveLinkTaken(end, r.Type).With("relationship_id", id)
		}
	}
	return nil
}

func (t *memTx) UpdateRelationship(ctx context.Context, r records.Relationship) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.relationships[r.ID]; !ok {
		return notFound("relationship", r.ID)
	}
	if err := t.checkExclusive(r); err != nil {
		return err
	}
	t.st.relationships[r.ID] = records.CloneRelationship(r)
	return nil
}

func (t *memTx) ListRelationships(ctx context.Context, ref records.EntityRef) ([]records.Relationship, error) {
	out := make([]records.Relationship, 0)
	for _, r := range t.st.relationships {
		if r.Touches(ref) {
			out = append(out, records.CloneRelationship(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *memTx) InsertIdentifier(ctx context.Context, id records.Identifier) error {
	if err := t.writable(); err != nil {
		return err
	}
	if id.ID == "" {
		return errors.New("memory: identifier id required")
	}
	if _, exists := t.st.identifiers[id.ID]; exists {
		return errors.New("memory: identifier already exists")
	}
	t.st.identifiers[id.ID] = id
	return nil
}

func (t *memTx) UpdateIdentifier(ctx context.Context, id records.Identifier) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.identifiers[id.ID]; !ok {
		return notFound("identifier", id.ID)
	}
	t.st.identifiers[id.ID] = id
	return nil
}

func (t *memTx) ListIdentifiers(ctx context.Context, ref records.EntityRef) ([]records.Identifier, error) {
	out := make([]records.Identifier, 0)
	for _, id := range t.st.identifiers {
		if id.Owner() == ref {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
