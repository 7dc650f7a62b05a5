package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/ports/store"
)

var tables = map[records.Kind]string{
	records.KindPerson:  "people",
	records.KindCat:     "cats",
	records.KindPlace:   "places",
	records.KindRequest: "requests",
}

const phoneNormalizedCol = "phone_normalized"

var metaCols = []string{"id", "source_system", "source_record_id", "created_at", "updated_at", "merged_into", "merged_at"}

func tableFor(kind records.Kind) (string, []string, error) {
	table, ok := tables[kind]
	if !ok {
		_, err := records.ParseKind(string(kind))
		return "", nil, err
	}
	schema, _ := records.SchemaFor(kind)
	cols := append(append([]string{}, metaCols...), schema.FieldNames()...)
	return table, cols, nil
}

func (t *sqlTx) InsertEntity(ctx context.Context, e records.Entity) error {
	if err := t.writable(); err != nil {
		return err
	}
	ref := e.Ref()
	if err := ref.Validate(); err != nil {
		return err
	}
	table, cols, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}

	m := e.Base()
	vals := []any{m.ID, m.SourceSystem, m.SourceRecordID, utc(m.CreatedAt), utc(m.UpdatedAt), m.MergedInto, utcPtr(m.MergedAt)}
	fields := records.Fields(e)
	for _, c := range cols[len(metaCols):] {
		vals = append(vals, fields[c])
	}
	// Las filas llegan de ingesta sin normalizar; la búsqueda por teléfono
	// compartido usa la columna normalizada.
	if ref.Kind == records.KindPerson {
		cols = append(cols, phoneNormalizedCol)
		vals = append(vals, records.NormalizePhone(fields["phone"]))
	}

	ib := t.s.flavor.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(cols...)
	ib.Values(vals...)
	q, args := ib.Build()
	_, err = t.exec(ctx, q, args...)
	return err
}

func (t *sqlTx) GetEntity(ctx context.Context, ref records.EntityRef) (records.Entity, error) {
	table, cols, err := tableFor(ref.Kind)
	if err != nil {
		return nil, err
	}
	e, err := records.New(ref.Kind, "")
	if err != nil {
		return nil, err
	}

	sb := t.s.flavor.NewSelectBuilder()
	sb.Select(cols...).From(table).Where(sb.Equal("id", ref.ID))
	q, args := sb.Build()
	if err := t.tx.GetContext(ctx, e, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, records.EntityNotFound(ref)
		}
		return nil, err
	}
	return e, nil
}

func (t *sqlTx) ListEntities(ctx context.Context, kind records.Kind, filter store.ListFilter) ([]records.Entity, error) {
	table, cols, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	sb := t.s.flavor.NewSelectBuilder()
	sb.Select(cols...).From(table)
	if !filter.IncludeMerged {
		sb.Where(sb.Equal("merged_into", ""))
	}
	sb.OrderBy("created_at", "id").Asc()
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	q, args := sb.Build()

	rows, err := t.tx.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]records.Entity, 0)
	for rows.Next() {
		e, _ := records.New(kind, "")
		if err := rows.StructScan(e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClaimEntities toma las filas en orden (tipo, id) para que dos merges
// cruzados no se bloqueen entre sí. En Postgres es FOR UPDATE NOWAIT; en
// SQLite la única conexión ya serializa a los escritores y alcanza con
// comprobar que existan.
func (t *sqlTx) ClaimEntities(ctx context.Context, refs ...records.EntityRef) error {
	sorted := append([]records.EntityRef(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Kind == sorted[j].Kind {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Kind < sorted[j].Kind
	})

	for _, ref := range sorted {
		table, _, err := tableFor(ref.Kind)
		if err != nil {
			return err
		}
		sb := t.s.flavor.NewSelectBuilder()
		sb.Select("id").From(table).Where(sb.Equal("id", ref.ID))
		q, args := sb.Build()
		if t.s.driver == DriverPostgres {
			q += " FOR UPDATE NOWAIT"
		}

		var id string
		if err := t.tx.GetContext(ctx, &id, q, args...); err != nil {
			switch {
			case errors.Is(err, sql.ErrNoRows):
				return records.EntityNotFound(ref)
			case isBusy(err):
				return records.Conflict("entity_busy", "entity is being modified by another operation").
					With("entity_type", ref.Kind).
					With("entity_id", ref.ID)
			}
			return err
		}
	}
	return nil
}

func (t *sqlTx) UpdateField(ctx context.Context, ref records.EntityRef, field, value string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	table, _, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	if err := records.CheckEditable(ref.Kind, field); err != nil {
		return err
	}

	ub := t.s.flavor.NewUpdateBuilder()
	assigns := []string{ub.Assign(field, value), ub.Assign("updated_at", utc(at))}
	if ref.Kind == records.KindPerson && field == "phone" {
		assigns = append(assigns, ub.Assign(phoneNormalizedCol, records.NormalizePhone(value)))
	}
	ub.Update(table).Set(assigns...).Where(ub.Equal("id", ref.ID))
	q, args := ub.Build()
	n, err := t.exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return records.EntityNotFound(ref)
	}
	return nil
}

func (t *sqlTx) MarkMerged(ctx context.Context, loser records.EntityRef, survivorID string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	table, _, err := tableFor(loser.Kind)
	if err != nil {
		return err
	}

	ub := t.s.flavor.NewUpdateBuilder()
	ub.Update(table).
		Set(
			ub.Assign("merged_into", survivorID),
			ub.Assign("merged_at", utc(at)),
			ub.Assign("updated_at", utc(at)),
		).
		Where(ub.Equal("id", loser.ID))
	q, args := ub.Build()
	n, err := t.exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return records.EntityNotFound(loser)
	}
	return nil
}

func (t *sqlTx) CountPeopleByPhone(ctx context.Context, phone string, excludeIDs ...string) (int, error) {
	phone = records.NormalizePhone(phone)
	if phone == "" {
		return 0, nil
	}
	sb := t.s.flavor.NewSelectBuilder()
	sb.Select("COUNT(*)").From(tables[records.KindPerson]).
		Where(sb.Equal(phoneNormalizedCol, phone), sb.Equal("merged_into", ""))
	if len(excludeIDs) > 0 {
		sb.Where(sb.NotIn("id", toAny(excludeIDs)...))
	}
	q, args := sb.Build()

	var n int
	if err := t.tx.GetContext(ctx, &n, q, args...); err != nil {
		return 0, err
	}
	return n, nil
}
