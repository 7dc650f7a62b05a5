package ownership

import (
	"context"
	"strings"
	"time"

	"tnr-records/internal/domain/audit"
	"tnr-records/internal/domain/links"
	"tnr-records/internal/domain/locks"
	"tnr-records/internal/domain/records"
	"tnr-records/internal/platform/logger"
	"tnr-records/internal/platform/metrics"
	"tnr-records/internal/platform/tracing"
	"tnr-records/internal/ports/store"
)

type Options struct {
	Policy locks.Policy
	Logger logger.Logger
}

type Service struct {
	store  store.Store
	audit  *audit.Service
	locks  *locks.Service
	linker *links.Linker
	policy locks.Policy
	now    func() time.Time
	log    logger.Logger
}

func NewService(st store.Store, auditSvc *audit.Service, lockSvc *locks.Service, linker *links.Linker, opts Options) *Service {
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
		linker: linker,
		policy: policy,
		now:    time.Now,
		log:    log.With(map[string]any{"component": "ownership"}),
	}
}

type TransferInput struct {
	CatID      string
	NewOwnerID string
	// Type: owner (default) o caretaker.
	Type       records.RelationshipType
	Reason     string
	Notes      string
	EditorID   string
	EditorName string
	Source     string
}

type TransferResult struct {
	EditID       string
	OldOwnerID   string
	NewOwnerID   string
	Relationship records.Relationship
}

// Transfer cierra los vínculos activos del tipo pedido sobre el gato
// (quedan como former_*), crea el nuevo y audita el cambio.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ownership.Transfer")
	defer span.End()

	typ := in.Type
	if typ == "" {
		typ = records.RelOwner
	}
	if typ != records.RelOwner && typ != records.RelCaretaker {
		return TransferResult{}, records.Validation("invalid_transfer_type", "transfer type must be owner or caretaker").
			With("relationship_type", typ)
	}
	cat := records.Ref(records.KindCat, in.CatID)
	person := records.Ref(records.KindPerson, in.NewOwnerID)
	if err := cat.Validate(); err != nil {
		return TransferResult{}, err
	}
	if err := person.Validate(); err != nil {
		return TransferResult{}, err
	}
	editor := strings.TrimSpace(in.EditorID)
	if editor == "" {
		return TransferResult{}, records.Validation("editor_required", "editor_id is required")
	}

	var res TransferResult
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		if err := s.locks.Check(ctx, tx, cat, editor, s.policy.RequiresHeld()); err != nil {
			return err
		}
		if err := tx.ClaimEntities(ctx, cat, person); err != nil {
			return err
		}
		for _, ref := range []records.EntityRef{cat, person} {
			e, err := tx.GetEntity(ctx, ref)
			if err != nil {
				return err
			}
			if e.Base().IsMerged() {
				return records.NotFound("entity_merged", ref.String()+" was merged into "+e.Base().MergedInto).
					With("entity_type", ref.Kind).
					With("entity_id", ref.ID).
					With("merged_into", e.Base().MergedInto)
			}
		}

		rels, err := tx.ListRelationships(ctx, cat)
		if err != nil {
			return err
		}
		current := make([]records.Relationship, 0, 1)
		for _, r := range rels {
			if r.Active() && r.Type == typ && r.To() == cat {
				if r.From() == person {
					return records.Validation("no_change", person.ID+" is already the cat's "+string(typ)).
						With("relationship_id", r.ID)
				}
				current = append(current, r)
			}
		}

		now := s.now().UTC()
		for _, r := range current {
			if _, err := s.linker.Retire(ctx, tx, r, now); err != nil {
				return err
			}
		}
		if len(current) > 0 {
			res.OldOwnerID = current[0].FromID
		}

		rel, _, err := s.linker.Link(ctx, tx, links.LinkInput{
			Type:   typ,
			From:   person,
			To:     cat,
			Source: in.Source,
			Notes:  in.Notes,
		})
		if err != nil {
			return err
		}
		res.Relationship = rel
		res.NewOwnerID = person.ID

		key := string(typ) + "_id"
		var oldValue any
		if res.OldOwnerID != "" {
			oldValue = map[string]string{key: res.OldOwnerID}
		} else {
			oldValue = map[string]any{key: nil}
		}
		res.EditID, err = s.audit.LogStructuralChange(ctx, tx, audit.StructuralChange{
			Type:       records.EditOwnershipTransfer,
			Ref:        cat,
			Related:    person,
			FieldName:  string(typ),
			OldValue:   oldValue,
			NewValue:   map[string]string{key: person.ID},
			Reason:     in.Reason,
			Notes:      in.Notes,
			EditorID:   editor,
			EditorName: in.EditorName,
			Source:     in.Source,
		})
		return err
	})
	if err != nil {
		return TransferResult{}, records.TransactionFailure(err, "failed to transfer ownership")
	}

	metrics.OwnershipTransfersTotal.WithLabelValues(string(typ)).Inc()
	s.log.Info("ownership transferred", map[string]any{
		"cat_id":            cat.ID,
		"old_owner_id":      res.OldOwnerID,
		"new_owner_id":      res.NewOwnerID,
		"relationship_type": typ,
		"editor_id":         editor,
		"edit_id":           res.EditID,
	})
	return res, nil
}
