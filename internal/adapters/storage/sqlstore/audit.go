package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tnr-records/internal/domain/records"
)

var auditCols = []string{
	"edit_id", "entity_type", "entity_id", "edit_type", "field_name", "old_value", "new_value",
	"related_entity_type", "related_entity_id", "related_edit_id", "reason", "notes",
	"editor_id", "editor_name", "source", "batch_id", "created_at", "is_rolled_back", "rolled_back_at",
}

func jsonOrNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

// AppendAudit inserta la entrada y completa e.Seq con el valor asignado por
// la base.
func (t *sqlTx) AppendAudit(ctx context.Context, e *records.AuditEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	if e.EditID == "" {
		return errors.New("sqlstore: edit id required")
	}

	ib := t.s.flavor.NewInsertBuilder()
	ib.InsertInto("entity_edits").Cols(auditCols...).Values(
		e.EditID, e.EntityKind, e.EntityID, e.EditType, e.FieldName, jsonOrNull(e.OldValue), jsonOrNull(e.NewValue),
		e.RelatedKind, e.RelatedID, e.RelatedEditID, e.Reason, e.Notes,
		e.EditorID, e.EditorName, e.Source, e.BatchID, utc(e.CreatedAt), e.IsRolledBack, utcPtr(e.RolledBackAt),
	)
	q, args := ib.Build()
	q += " RETURNING seq"

	return t.tx.QueryRowxContext(ctx, q, args...).Scan(&e.Seq)
}

func (t *sqlTx) GetAudit(ctx context.Context, editID string) (records.AuditEntry, error) {
	sb := t.s.flavor.NewSelectBuilder()
	sb.Select(append([]string{"seq"}, auditCols...)...).From("entity_edits").Where(sb.Equal("edit_id", editID))
	q, args := sb.Build()

	var e records.AuditEntry
	if err := t.tx.GetContext(ctx, &e, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return records.AuditEntry{}, notFound("audit_entry", editID)
		}
		return records.AuditEntry{}, err
	}
	return e, nil
}

func (t *sqlTx) ListAudit(ctx context.Context, ref records.EntityRef, limit int) ([]records.AuditEntry, error) {
	sb := t.s.flavor.NewSelectBuilder()
	sb.Select(append([]string{"seq"}, auditCols...)...).From("entity_edits").Where(
		sb.Or(
			sb.And(sb.Equal("entity_type", ref.Kind), sb.Equal("entity_id", ref.ID)),
			sb.And(sb.Equal("related_entity_type", ref.Kind), sb.Equal("related_entity_id", ref.ID)),
		),
	)
	sb.OrderBy("created_at DESC", "seq DESC")
	if limit > 0 {
		sb.Limit(limit)
	}
	q, args := sb.Build()

	out := make([]records.AuditEntry, 0)
	if err := t.tx.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *sqlTx) MarkRolledBack(ctx context.Context, editID string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	ub := t.s.flavor.NewUpdateBuilder()
	ub.Update("entity_edits").
		Set(ub.Assign("is_rolled_back", true), ub.Assign("rolled_back_at", utc(at))).
		Where(ub.Equal("edit_id", editID))
	q, args := ub.Build()

	n, err := t.exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("audit_entry", editID)
	}
	return nil
}
