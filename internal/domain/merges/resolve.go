package merges

import (
	"context"
	"strings"

	"tnr-records/internal/domain/audit"
	"tnr-records/internal/domain/links"
	"tnr-records/internal/domain/records"
	"tnr-records/internal/platform/metrics"
	"tnr-records/internal/platform/tracing"
	"tnr-records/internal/ports/store"
)

type ResolveInput struct {
	PairID        string
	Decision      records.Decision
	DecidedBy     string
	DecidedByName string
	Reason        string
	// KeepID elige la entidad sobreviviente de un merge (default: left).
	KeepID  string
	Source  string
	BatchID string
}

type ResolveResult struct {
	Pair       records.CandidatePair
	EditID     string
	SurvivorID string
	LoserID    string
	Repoint    *links.RepointResult
}

// Resolve cierra un par pendiente. Todo ocurre en una transacción: la
// transición del par (CAS desde pending), el cambio estructural y la
// auditoría se confirman juntos o no se confirma nada.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (ResolveResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merges.Resolve")
	defer span.End()

	pairID := strings.TrimSpace(in.PairID)
	if pairID == "" {
		return ResolveResult{}, records.Validation("pair_id_required", "pair_id is required")
	}
	decision, err := records.ParseDecision(string(in.Decision))
	if err != nil {
		return ResolveResult{}, err
	}
	decider := strings.TrimSpace(in.DecidedBy)
	if decider == "" {
		return ResolveResult{}, records.Validation("editor_required", "decided_by is required")
	}

	var res ResolveResult
	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		pair, err := tx.GetPair(ctx, pairID)
		if err != nil {
			return err
		}
		if pair.Status != records.PairPending {
			return alreadyResolved(pair)
		}

		d := records.PairDecision{
			Status:        decision.Status(),
			DecidedBy:     decider,
			DecidedByName: strings.TrimSpace(in.DecidedByName),
			Reason:        strings.TrimSpace(in.Reason),
			At:            s.now().UTC(),
		}

		if decision == records.DecisionMerge {
			return s.merge(ctx, tx, pair, d, in, &res)
		}

		ok, err := tx.TransitionPair(ctx, pair.PairID, d)
		if err != nil {
			return err
		}
		if !ok {
			return alreadyResolved(pair)
		}
		if decision == records.DecisionKeepSeparate {
			lo, hi := records.PairKey(pair.LeftID, pair.RightID)
			if err := tx.InsertSuppression(ctx, records.Suppression{
				EntityKind: pair.EntityKind,
				LowID:      lo,
				HighID:     hi,
				PairID:     pair.PairID,
				CreatedBy:  decider,
				CreatedAt:  d.At,
			}); err != nil {
				return err
			}
		}

		res.EditID, err = s.audit.LogStructuralChange(ctx, tx, audit.StructuralChange{
			Type:       records.EditMergeDecision,
			Ref:        pair.Left(),
			Related:    pair.Right(),
			FieldName:  "pair_status",
			OldValue:   map[string]any{"pair_id": pair.PairID, "status": records.PairPending},
			NewValue:   map[string]any{"pair_id": pair.PairID, "status": d.Status},
			Reason:     d.Reason,
			EditorID:   decider,
			EditorName: d.DecidedByName,
			Source:     in.Source,
			BatchID:    in.BatchID,
		})
		if err != nil {
			return err
		}
		res.Pair = decided(pair, d)
		return nil
	})
	if err != nil {
		result := "error"
		switch records.CodeOf(err) {
		case "already_resolved":
			result = "already_resolved"
		case "already_locked", "entity_busy":
			result = "locked"
		}
		metrics.MergeResolutionsTotal.WithLabelValues(string(decision), result).Inc()
		return ResolveResult{}, records.TransactionFailure(err, "failed to resolve candidate pair")
	}

	metrics.MergeResolutionsTotal.WithLabelValues(string(decision), "ok").Inc()
	fields := map[string]any{
		"pair_id":    res.Pair.PairID,
		"decision":   decision,
		"decided_by": decider,
		"edit_id":    res.EditID,
	}
	if res.SurvivorID != "" {
		fields["survivor_id"] = res.SurvivorID
		fields["loser_id"] = res.LoserID
	}
	if in.BatchID != "" {
		fields["batch_id"] = in.BatchID
	}
	s.log.Info("candidate pair resolved", fields)
	return res, nil
}

// merge: la lápida (loser) queda con merged_into apuntando al sobreviviente
// y sus vínculos e identificadores pasan al sobreviviente.
func (s *Service) merge(ctx context.Context, tx store.Tx, pair records.CandidatePair, d records.PairDecision, in ResolveInput, res *ResolveResult) error {
	survivor, loser := pair.Left(), pair.Right()
	switch strings.TrimSpace(in.KeepID) {
	case "", pair.LeftID:
	case pair.RightID:
		survivor, loser = loser, survivor
	default:
		return records.Validation("invalid_keep_id", "keep_id must be one of the pair's entities").
			With("keep_id", in.KeepID).
			With("pair_id", pair.PairID)
	}

	if err := tx.ClaimEntities(ctx, survivor, loser); err != nil {
		return err
	}
	var loserEntity records.Entity
	for _, ref := range []records.EntityRef{survivor, loser} {
		e, err := tx.GetEntity(ctx, ref)
		if err != nil {
			return err
		}
		if e.Base().IsMerged() {
			return mergedConflict(e)
		}
		// Un lock de otro editor bloquea el merge; no hace falta tener uno propio.
		if err := s.locks.Check(ctx, tx, ref, d.DecidedBy, false); err != nil {
			return err
		}
		if ref == loser {
			loserEntity = e
		}
	}

	ok, err := tx.TransitionPair(ctx, pair.PairID, d)
	if err != nil {
		return err
	}
	if !ok {
		return alreadyResolved(pair)
	}

	rp, err := s.linker.Repoint(ctx, tx, loser, survivor, d.At)
	if err != nil {
		return err
	}
	if err := tx.MarkMerged(ctx, loser, survivor.ID, d.At); err != nil {
		return err
	}
	// El lock del decisor sobre la lápida ya no protege nada.
	if _, err := tx.DeleteLock(ctx, loser, d.DecidedBy); err != nil {
		return err
	}

	source := in.Source
	if source == "" {
		source = records.SourceMergeEngine
	}
	res.EditID, err = s.audit.LogStructuralChange(ctx, tx, audit.StructuralChange{
		Type:      records.EditStructuralMerge,
		Ref:       survivor,
		Related:   loser,
		FieldName: "merged_into",
		OldValue:  records.Fields(loserEntity),
		NewValue: map[string]any{
			"pair_id":     pair.PairID,
			"survivor_id": survivor.ID,
			"loser_id":    loser.ID,
			"repoint":     rp,
		},
		Reason:     d.Reason,
		EditorID:   d.DecidedBy,
		EditorName: d.DecidedByName,
		Source:     source,
		BatchID:    in.BatchID,
	})
	if err != nil {
		return err
	}

	res.Pair = decided(pair, d)
	res.SurvivorID = survivor.ID
	res.LoserID = loser.ID
	res.Repoint = &rp
	return nil
}

type BatchInput struct {
	PairIDs       []string
	Decision      records.Decision
	DecidedBy     string
	DecidedByName string
	Reason        string
	Source        string
}

type ItemResult struct {
	PairID  string             `json:"pair_id"`
	Success bool               `json:"success"`
	Status  records.PairStatus `json:"status,omitempty"`
	EditID  string             `json:"edit_id,omitempty"`
	Code    string             `json:"code,omitempty"`
	Message string             `json:"message,omitempty"`
}

type BatchResult struct {
	BatchID   string       `json:"batch_id"`
	Items     []ItemResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// ResolveBatch aplica la misma decisión a varios pares. Cada par va en su
// propia transacción: un par que falla no revierte los demás. Si alguno
// falla se devuelve el resultado completo junto con *records.BatchError.
func (s *Service) ResolveBatch(ctx context.Context, in BatchInput) (BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merges.ResolveBatch")
	defer span.End()

	if len(in.PairIDs) == 0 {
		return BatchResult{}, records.Validation("no_pairs", "at least one pair_id is required")
	}
	if len(in.PairIDs) > MaxBatchSize {
		return BatchResult{}, records.Validation("batch_too_large", "too many pairs in one batch").
			With("max", MaxBatchSize)
	}
	decision, err := records.ParseDecision(string(in.Decision))
	if err != nil {
		return BatchResult{}, err
	}
	if strings.TrimSpace(in.DecidedBy) == "" {
		return BatchResult{}, records.Validation("editor_required", "decided_by is required")
	}

	out := BatchResult{
		BatchID: audit.NewID(),
		Items:   make([]ItemResult, 0, len(in.PairIDs)),
	}
	var failedIDs []string
	for _, id := range in.PairIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r, err := s.Resolve(ctx, ResolveInput{
			PairID:        id,
			Decision:      decision,
			DecidedBy:     in.DecidedBy,
			DecidedByName: in.DecidedByName,
			Reason:        in.Reason,
			Source:        in.Source,
			BatchID:       out.BatchID,
		})
		if err != nil {
			item := ItemResult{PairID: id, Code: records.CodeOf(err), Message: err.Error()}
			if de, ok := records.AsError(err); ok && de.Message != "" {
				item.Message = de.Message
			}
			out.Items = append(out.Items, item)
			out.Failed++
			failedIDs = append(failedIDs, id)
			continue
		}
		out.Items = append(out.Items, ItemResult{PairID: id, Success: true, Status: r.Pair.Status, EditID: r.EditID})
		out.Succeeded++
	}

	if out.Failed > 0 {
		s.log.Warn("batch resolve finished with failures", map[string]any{
			"batch_id":  out.BatchID,
			"decision":  decision,
			"succeeded": out.Succeeded,
			"failed":    out.Failed,
		})
		return out, &records.BatchError{Total: len(in.PairIDs), Failed: out.Failed, FailedIDs: failedIDs}
	}
	return out, nil
}

func alreadyResolved(p records.CandidatePair) error {
	return records.Conflict("already_resolved", "candidate pair is no longer pending").
		With("pair_id", p.PairID).
		With("status", p.Status)
}

func decided(p records.CandidatePair, d records.PairDecision) records.CandidatePair {
	p.Status = d.Status
	p.DecidedBy = d.DecidedBy
	p.DecidedByName = d.DecidedByName
	p.DecisionReason = d.Reason
	at := d.At
	p.DecidedAt = &at
	p.UpdatedAt = d.At
	return p
}
