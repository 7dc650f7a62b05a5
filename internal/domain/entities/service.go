package entities

import (
	"context"
	"strings"
	"time"

	"tnr-records/internal/domain/audit"
	"tnr-records/internal/domain/locks"
	"tnr-records/internal/domain/records"
	"tnr-records/internal/platform/logger"
	"tnr-records/internal/platform/metrics"
	"tnr-records/internal/platform/tracing"
	"tnr-records/internal/ports/store"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type Options struct {
	Policy locks.Policy
	Logger logger.Logger
}

// Service es el camino de escritura de campos: valida contra el esquema,
// aplica la política de locks y deja una entrada de auditoría por campo.
type Service struct {
	store  store.Store
	audit  *audit.Service
	locks  *locks.Service
	policy locks.Policy
	now    func() time.Time
	log    logger.Logger
}

func NewService(st store.Store, auditSvc *audit.Service, lockSvc *locks.Service, opts Options) *Service {
	policy := opts.Policy
	if policy == "" {
		policy = locks.PolicyRequired
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:  st,
		audit:  auditSvc,
		locks:  lockSvc,
		policy: policy,
		now:    time.Now,
		log:    log.With(map[string]any{"component": "entities"}),
	}
}

func (s *Service) Policy() locks.Policy { return s.policy }

func (s *Service) Get(ctx context.Context, ref records.EntityRef) (records.Entity, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var out records.Entity
	err := s.store.View(ctx, func(tx store.Tx) error {
		e, err := tx.GetEntity(ctx, ref)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, records.TransactionFailure(err, "failed to read entity")
	}
	return out, nil
}

type ListInput struct {
	IncludeMerged bool
	Limit         int
}

// List excluye lápidas salvo que se pida lo contrario.
func (s *Service) List(ctx context.Context, kind records.Kind, in ListInput) ([]records.Entity, error) {
	if !kind.Valid() {
		_, err := records.ParseKind(string(kind))
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var out []records.Entity
	err := s.store.View(ctx, func(tx store.Tx) error {
		items, err := tx.ListEntities(ctx, kind, store.ListFilter{IncludeMerged: in.IncludeMerged, Limit: limit})
		if err != nil {
			return err
		}
		out = items
		return nil
	})
	if err != nil {
		return nil, records.TransactionFailure(err, "failed to list entities")
	}
	return out, nil
}

type Links struct {
	Relationships []records.Relationship
	Identifiers   []records.Identifier
}

func (s *Service) Links(ctx context.Context, ref records.EntityRef, includeEnded bool) (Links, error) {
	if err := ref.Validate(); err != nil {
		return Links{}, err
	}
	var out Links
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetEntity(ctx, ref); err != nil {
			return err
		}
		rels, err := tx.ListRelationships(ctx, ref)
		if err != nil {
			return err
		}
		out.Relationships = make([]records.Relationship, 0, len(rels))
		for _, r := range rels {
			if r.Active() || includeEnded {
				out.Relationships = append(out.Relationships, r)
			}
		}
		out.Identifiers, err = tx.ListIdentifiers(ctx, ref)
		return err
	})
	if err != nil {
		return Links{}, records.TransactionFailure(err, "failed to read relationships")
	}
	return out, nil
}

type FieldChange struct {
	Field  string
	Value  string
	Reason string
}

type ApplyInput struct {
	Ref        records.EntityRef
	Edits      []FieldChange
	EditorID   string
	EditorName string
	Source     string
	// Reason se usa para los cambios que no traen uno propio.
	Reason string
}

type ApplyResult struct {
	EditIDs []string
	BatchID string
	Entity  records.Entity
}

// Apply valida todos los cambios antes de tocar nada; después, en una sola
// transacción, escribe los campos que cambian y su auditoría.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	ctx, span := tracing.StartSpan(ctx, "entities.Apply")
	defer span.End()

	if err := in.Ref.Validate(); err != nil {
		return ApplyResult{}, err
	}
	editor := strings.TrimSpace(in.EditorID)
	if editor == "" {
		return ApplyResult{}, records.Validation("editor_required", "editor_id is required")
	}
	if len(in.Edits) == 0 {
		return ApplyResult{}, records.Validation("no_edits", "at least one edit is required")
	}

	schema, _ := records.SchemaFor(in.Ref.Kind)
	changes := make([]FieldChange, 0, len(in.Edits))
	seen := map[string]bool{}
	for _, ed := range in.Edits {
		field := strings.TrimSpace(ed.Field)
		if err := records.CheckEditable(in.Ref.Kind, field); err != nil {
			return ApplyResult{}, err
		}
		if seen[field] {
			return ApplyResult{}, records.Validation("duplicate_field", "field "+field+" appears more than once").
				With("field", field)
		}
		seen[field] = true

		v, err := schema.Normalize(field, ed.Value)
		if err != nil {
			return ApplyResult{}, err
		}
		reason := strings.TrimSpace(ed.Reason)
		if reason == "" {
			reason = in.Reason
		}
		changes = append(changes, FieldChange{Field: field, Value: v, Reason: reason})
	}

	var res ApplyResult
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		if err := s.locks.Check(ctx, tx, in.Ref, editor, s.policy.RequiresHeld()); err != nil {
			return err
		}
		if err := tx.ClaimEntities(ctx, in.Ref); err != nil {
			return err
		}

		e, err := tx.GetEntity(ctx, in.Ref)
		if err != nil {
			return err
		}
		if err := notMerged(e); err != nil {
			return err
		}

		now := s.now().UTC()
		batchID := audit.NewID()
		for _, c := range changes {
			old, _ := records.GetField(e, c.Field)
			if old == c.Value {
				continue
			}
			if err := tx.UpdateField(ctx, in.Ref, c.Field, c.Value, now); err != nil {
				return err
			}
			id, err := s.audit.LogFieldEdit(ctx, tx, audit.FieldEdit{
				Ref:        in.Ref,
				Field:      c.Field,
				OldValue:   old,
				NewValue:   c.Value,
				Reason:     c.Reason,
				EditorID:   editor,
				EditorName: in.EditorName,
				Source:     in.Source,
				BatchID:    batchID,
			})
			if err != nil {
				return err
			}
			res.EditIDs = append(res.EditIDs, id)
		}
		if len(res.EditIDs) > 0 {
			res.BatchID = batchID
		}

		res.Entity, err = tx.GetEntity(ctx, in.Ref)
		return err
	})
	if err != nil {
		return ApplyResult{}, records.TransactionFailure(err, "failed to apply edits")
	}

	if n := len(res.EditIDs); n > 0 {
		metrics.FieldEditsTotal.WithLabelValues(string(in.Ref.Kind)).Add(float64(n))
		s.log.Debug("fields updated", map[string]any{
			"entity_type": in.Ref.Kind,
			"entity_id":   in.Ref.ID,
			"editor_id":   editor,
			"count":       n,
			"batch_id":    res.BatchID,
		})
	}
	return res, nil
}

type RollbackInput struct {
	EditID     string
	EditorID   string
	EditorName string
	Reason     string
}

type RollbackResult struct {
	EditID           string
	RolledBackEditID string
	Entity           records.Entity
}

// Rollback revierte una edición de campo. Solo procede si el campo todavía
// tiene el valor que dejó esa edición.
func (s *Service) Rollback(ctx context.Context, in RollbackInput) (RollbackResult, error) {
	ctx, span := tracing.StartSpan(ctx, "entities.Rollback")
	defer span.End()

	editID := strings.TrimSpace(in.EditID)
	if editID == "" {
		return RollbackResult{}, records.Validation("edit_id_required", "edit_id is required")
	}
	editor := strings.TrimSpace(in.EditorID)
	if editor == "" {
		return RollbackResult{}, records.Validation("editor_required", "editor_id is required")
	}

	var res RollbackResult
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		orig, err := tx.GetAudit(ctx, editID)
		if err != nil {
			return err
		}
		if orig.EditType != records.EditFieldUpdate {
			return records.Validation("not_reversible", "only field updates can be rolled back").
				With("edit_type", orig.EditType)
		}
		if orig.IsRolledBack {
			return records.Conflict("already_rolled_back", "edit was already rolled back").
				With("edit_id", orig.EditID)
		}

		ref := orig.Ref()
		if err := s.locks.Check(ctx, tx, ref, editor, s.policy.RequiresHeld()); err != nil {
			return err
		}
		if err := tx.ClaimEntities(ctx, ref); err != nil {
			return err
		}
		e, err := tx.GetEntity(ctx, ref)
		if err != nil {
			return err
		}
		if err := notMerged(e); err != nil {
			return err
		}

		current, _ := records.GetField(e, orig.FieldName)
		if current != records.FieldValueFromJSON(orig.NewValue) {
			return records.Conflict("stale_rollback", "field changed after this edit").
				With("field", orig.FieldName).
				With("current_value", current)
		}
		restored := records.FieldValueFromJSON(orig.OldValue)

		now := s.now().UTC()
		if err := tx.UpdateField(ctx, ref, orig.FieldName, restored, now); err != nil {
			return err
		}
		id, err := s.audit.LogStructuralChange(ctx, tx, audit.StructuralChange{
			Type:          records.EditRollback,
			Ref:           ref,
			RelatedEditID: orig.EditID,
			FieldName:     orig.FieldName,
			OldValue:      current,
			NewValue:      restored,
			Reason:        in.Reason,
			EditorID:      editor,
			EditorName:    in.EditorName,
			Source:        records.SourceWebUI,
		})
		if err != nil {
			return err
		}
		if err := tx.MarkRolledBack(ctx, orig.EditID, now); err != nil {
			return err
		}

		res.EditID = id
		res.RolledBackEditID = orig.EditID
		res.Entity, err = tx.GetEntity(ctx, ref)
		return err
	})
	if err != nil {
		return RollbackResult{}, records.TransactionFailure(err, "failed to roll back edit")
	}

	s.log.Info("edit rolled back", map[string]any{
		"edit_id":     res.RolledBackEditID,
		"rollback_id": res.EditID,
		"editor_id":   editor,
	})
	return res, nil
}

func notMerged(e records.Entity) error {
	m := e.Base()
	if !m.IsMerged() {
		return nil
	}
	ref := e.Ref()
	return records.Conflict("entity_merged", "entity was merged into "+m.MergedInto).
		With("entity_type", ref.Kind).
		With("entity_id", ref.ID).
		With("merged_into", m.MergedInto)
}
