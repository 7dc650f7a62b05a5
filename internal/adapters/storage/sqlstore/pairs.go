package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/ports/store"
)

var pairCols = []string{
	"pair_id", "entity_type", "left_entity_id", "right_entity_id", "match_type", "field_scores",
	"composite_score", "match_probability", "status", "decided_by", "decided_by_name", "decided_at",
	"decision_reason", "created_at", "updated_at",
}

func (t *sqlTx) InsertPair(ctx context.Context, p records.CandidatePair) error {
	if err := t.writable(); err != nil {
		return err
	}
	ib := t.s.flavor.NewInsertBuilder()
	ib.InsertInto("candidate_pairs").Cols(pairCols...).Values(
		p.PairID, p.EntityKind, p.LeftID, p.RightID, p.MatchType, p.FieldScores,
		p.CompositeScore, p.MatchProbability, p.Status, p.DecidedBy, p.DecidedByName, utcPtr(p.DecidedAt),
		p.DecisionReason, utc(p.CreatedAt), utc(p.UpdatedAt),
	)
	q, args := ib.Build()
	_, err := t.exec(ctx, q, args...)
	return err
}

func (t *sqlTx) GetPair(ctx context.Context, pairID string) (records.CandidatePair, error) {
	sb := t.s.flavor.NewSelectBuilder()
	sb.Select(pairCols...).From("candidate_pairs").Where(sb.Equal("pair_id", pairID))
	q, args := sb.Build()

	var p records.CandidatePair
	if err := t.tx.GetContext(ctx, &p, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return records.CandidatePair{}, notFound("pair", pairID)
		}
		return records.CandidatePair{}, err
	}
	return p, nil
}

// FindPendingPair busca el par pendiente entre a y b sin importar el lado.
func (t *sqlTx) FindPendingPair(ctx context.Context, kind records.Kind, a, b string) (records.CandidatePair, error) {
	sb := t.s.flavor.NewSelectBuilder()
	sb.Select(pairCols...).From("candidate_pairs").Where(
		sb.Equal("entity_type", kind),
		sb.Equal("status", records.PairPending),
		sb.Or(
			sb.And(sb.Equal("left_entity_id", a), sb.Equal("right_entity_id", b)),
			sb.And(sb.Equal("left_entity_id", b), sb.Equal("right_entity_id", a)),
		),
	)
	sb.Limit(1)
	q, args := sb.Build()

	var p records.CandidatePair
	if err := t.tx.GetContext(ctx, &p, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			lo, hi := records.PairKey(a, b)
			return records.CandidatePair{}, notFound("pair", lo+"/"+hi)
		}
		return records.CandidatePair{}, err
	}
	return p, nil
}

func (t *sqlTx) UpdatePairScores(ctx context.Context, p records.CandidatePair) error {
	if err := t.writable(); err != nil {
		return err
	}
	ub := t.s.flavor.NewUpdateBuilder()
	ub.Update("candidate_pairs").
		Set(
			ub.Assign("match_type", p.MatchType),
			ub.Assign("field_scores", p.FieldScores),
			ub.Assign("composite_score", p.CompositeScore),
			ub.Assign("match_probability", p.MatchProbability),
			ub.Assign("updated_at", utc(p.UpdatedAt)),
		).
		Where(ub.Equal("pair_id", p.PairID))
	q, args := ub.Build()

	n, err := t.exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("pair", p.PairID)
	}
	return nil
}

func (t *sqlTx) ListPairs(ctx context.Context, filter store.PairFilter) ([]records.CandidatePair, error) {
	sb := t.s.flavor.NewSelectBuilder()
	sb.Select(pairCols...).From("candidate_pairs")
	if filter.Kind != "" {
		sb.Where(sb.Equal("entity_type", filter.Kind))
	}
	if filter.Status != "" {
		sb.Where(sb.Equal("status", filter.Status))
	}
	sb.OrderBy("match_probability DESC", "created_at ASC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	q, args := sb.Build()

	out := make([]records.CandidatePair, 0)
	if err := t.tx.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionPair: el WHERE status = 'pending' es el compare-and-swap. Con
// cero filas afectadas el par no existe o ya fue resuelto.
func (t *sqlTx) TransitionPair(ctx context.Context, pairID string, d records.PairDecision) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	ub := t.s.flavor.NewUpdateBuilder()
	ub.Update("candidate_pairs").
		Set(
			ub.Assign("status", d.Status),
			ub.Assign("decided_by", d.DecidedBy),
			ub.Assign("decided_by_name", d.DecidedByName),
			ub.Assign("decision_reason", d.Reason),
			ub.Assign("decided_at", utc(d.At)),
			ub.Assign("updated_at", utc(d.At)),
		).
		Where(ub.Equal("pair_id", pairID), ub.Equal("status", records.PairPending))
	q, args := ub.Build()

	n, err := t.exec(ctx, q, args...)
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := t.GetPair(ctx, pairID); err != nil {
		return false, err
	}
	return false, nil
}

func (t *sqlTx) InsertSuppression(ctx context.Context, s records.Suppression) error {
	if err := t.writable(); err != nil {
		return err
	}
	lo, hi := records.PairKey(s.LowID, s.HighID)
	ib := t.s.flavor.NewInsertBuilder()
	ib.InsertInto("merge_suppressions").
		Cols("entity_type", "low_id", "high_id", "pair_id", "created_by", "created_at").
		Values(s.EntityKind, lo, hi, s.PairID, s.CreatedBy, utc(s.CreatedAt))
	q, args := ib.Build()
	q += " ON CONFLICT (entity_type, low_id, high_id) DO NOTHING"

	_, err := t.exec(ctx, q, args...)
	return err
}

func (t *sqlTx) IsSuppressed(ctx context.Context, kind records.Kind, a, b string) (bool, error) {
	lo, hi := records.PairKey(a, b)
	sb := t.s.flavor.NewSelectBuilder()
	sb.Select("COUNT(*)").From("merge_suppressions").
		Where(sb.Equal("entity_type", kind), sb.Equal("low_id", lo), sb.Equal("high_id", hi))
	q, args := sb.Build()

	var n int
	if err := t.tx.GetContext(ctx, &n, q, args...); err != nil {
		return false, err
	}
	return n > 0, nil
}
