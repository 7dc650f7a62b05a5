package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"tnr-records/internal/domain/records"
)

func (t *memTx) AppendAudit(ctx context.Context, e *records.AuditEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	if e.EditID == "" {
		return errors.New("memory: edit id required")
	}
	if _, exists := t.st.audit[e.EditID]; exists {
		return errors.New("memory: audit entry already exists")
	}
	t.st.nextSeq++
	e.Seq = t.st.nextSeq
	t.st.audit[e.EditID] = records.CloneAudit(*e)
	return nil
}

func (t *memTx) GetAudit(ctx context.Context, editID string) (records.AuditEntry, error) {
	e, ok := t.st.audit[editID]
	if !ok {
		return records.AuditEntry{}, notFound("audit_entry", editID)
	}
	return records.CloneAudit(e), nil
}

func (t *memTx) ListAudit(ctx context.Context, ref records.EntityRef, limit int) ([]records.AuditEntry, error) {
	out := make([]records.AuditEntry, 0)
	for _, e := range t.st.audit {
		if e.Touches(ref) {
			out = append(out, records.CloneAudit(e))
		}
	}

	// Más reciente primero; seq desempata entradas del mismo instante.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq > out[j].Seq
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) MarkRolledBack(ctx context.Context, editID string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	e, ok := t.st.audit[editID]
	if !ok {
		return notFound("audit_entry", editID)
	}
	e.IsRolledBack = true
	ts := at
	e.RolledBackAt = &ts
	t.st.audit[editID] = e
	return nil
}
