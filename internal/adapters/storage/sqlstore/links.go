package sqlstore

import (
	"context"

	"tnr-records/internal/domain/records"
)

var relCols = []string{"id", "rel_type", "from_type", "from_id", "to_type", "to_id", "source", "notes", "created_at", "ended_at", "superseded_by"}

var identCols = []string{"id", "entity_type", "entity_id", "id_type", "id_value", "source", "merged_from", "created_at"}

func (t *sqlTx) InsertRelationship(ctx context.Context, r records.Relationship) error {
	if err := t.writable(); err != nil {
		return err
	}
	ib := t.s.flavor.NewInsertBuilder()
	ib.InsertInto("relationships").Cols(relCols...).Values(
		r.ID, r.Type, r.FromKind, r.FromID, r.ToKind, r.ToID,
		r.Source, r.Notes, utc(r.CreatedAt), utcPtr(r.EndedAt), r.SupersededBy,
	)
	q, args := ib.Build()
	_, err := t.exec(ctx, q, args...)
	return relationshipErr(r, err)
}

func (t *sqlTx) UpdateRelationship(ctx context.Context, r records.Relationship) error {
	if err := t.writable(); err != nil {
		return err
	}
	ub := t.s.flavor.NewUpdateBuilder()
	ub.Update("relationships").
		Set(
			ub.Assign("rel_type", r.Type),
			ub.Assign("from_type", r.FromKind),
			ub.Assign("from_id", r.FromID),
			ub.Assign("to_type", r.ToKind),
			ub.Assign("to_id", r.ToID),
			ub.Assign("source", r.Source),
			ub.Assign("notes", r.Notes),
			ub.Assign("ended_at", utcPtr(r.EndedAt)),
			ub.Assign("superseded_by", r.SupersededBy),
		).
		Where(ub.Equal("id", r.ID))
	q, args := ub.Build()
	n, err := t.exec(ctx, q, args...)
	if err != nil {
		return relationshipErr(r, err)
	}
	if n == 0 {
		return notFound("relationship", r.ID)
	}
	return nil
}

func relationshipErr(r records.Relationship, err error) error {
	if err == nil || !isExclusiveViolation(err) {
		return err
	}
	end, _ := r.ExclusiveEnd()
	return records.ExclusiveLinkTaken(end, r.Type)
}

// ListRelationships devuelve los vínculos (activos y cerrados) donde ref
// aparece en cualquiera de los dos extremos.
func (t *sqlTx) ListRelationships(ctx context.Context, ref records.EntityRef) ([]records.Relationship, error) {
	sb := t.s.flavor.NewSelectBuilder()
	sb.Select(relCols...).From("relationships").Where(
		sb.Or(
			sb.And(sb.Equal("from_type", ref.Kind), sb.Equal("from_id", ref.ID)),
			sb.And(sb.Equal("to_type", ref.Kind), sb.Equal("to_id", ref.ID)),
		),
	)
	sb.OrderBy("created_at", "id").Asc()
	q, args := sb.Build()

	out := make([]records.Relationship, 0)
	if err := t.tx.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *sqlTx) InsertIdentifier(ctx context.Context, id records.Identifier) error {
	if err := t.writable(); err != nil {
		return err
	}
	ib := t.s.flavor.NewInsertBuilder()
	ib.InsertInto("identifiers").Cols(identCols...).Values(
		id.ID, id.EntityKind, id.EntityID, id.IDType, id.Value, id.Source, id.MergedFrom, utc(id.CreatedAt),
	)
	q, args := ib.Build()
	_, err := t.exec(ctx, q, args...)
	return err
}

func (t *sqlTx) UpdateIdentifier(ctx context.Context, id records.Identifier) error {
	if err := t.writable(); err != nil {
		return err
	}
	ub := t.s.flavor.NewUpdateBuilder()
	ub.Update("identifiers").
		Set(
			ub.Assign("entity_type", id.EntityKind),
			ub.Assign("entity_id", id.EntityID),
			ub.Assign("id_type", id.IDType),
			ub.Assign("id_value", id.Value),
			ub.Assign("source", id.Source),
			ub.Assign("merged_from", id.MergedFrom),
		).
		Where(ub.Equal("id", id.ID))
	q, args := ub.Build()
	n, err := t.exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("identifier", id.ID)
	}
	return nil
}

func (t *sqlTx) ListIdentifiers(ctx context.Context, ref records.EntityRef) ([]records.Identifier, error) {
	sb := t.s.flavor.NewSelectBuilder()
	sb.Select(identCols...).From("identifiers").
		Where(sb.Equal("entity_type", ref.Kind), sb.Equal("entity_id", ref.ID))
	sb.OrderBy("created_at", "id").Asc()
	q, args := sb.Build()

	out := make([]records.Identifier, 0)
	if err := t.tx.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}
