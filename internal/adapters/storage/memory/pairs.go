package memory

import (
	"context"
	"errors"
	"sort"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/ports/store"
)

func (t *memTx) InsertPair(ctx context.Context, p records.CandidatePair) error {
	if err := t.writable(); err != nil {
		return err
	}
	if p.PairID == "" {
		return errors.New("memory: pair id required")
	}
	if _, exists := t.st.pairs[p.PairID]; exists {
		return errors.New("memory: pair already exists")
	}
	t.st.pairs[p.PairID] = records.ClonePair(p)
	return nil
}

func (t *memTx) GetPair(ctx context.Context, pairID string) (records.CandidatePair, error) {
	p, ok := t.st.pairs[pairID]
	if !ok {
		return records.CandidatePair{}, notFound("pair", pairID)
	}
	return records.ClonePair(p), nil
}

func (t *memTx) FindPendingPair(ctx context.Context, kind records.Kind, a, b string) (records.CandidatePair, error) {
	lo, hi := records.PairKey(a, b)
	for _, p := range t.st.pairs {
		if p.EntityKind != kind || p.Status != records.PairPending {
			continue
		}
		plo, phi := records.PairKey(p.LeftID, p.RightID)
		if plo == lo && phi == hi {
			return records.ClonePair(p), nil
		}
	}
	return records.CandidatePair{}, notFound("pair", lo+"/"+hi)
}

func (t *memTx) UpdatePairScores(ctx context.Context, p records.CandidatePair) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.st.pairs[p.PairID]
	if !ok {
		return notFound("pair", p.PairID)
	}
	cur.MatchType = p.MatchType
	cur.FieldScores = p.FieldScores
	cur.CompositeScore = p.CompositeScore
	cur.MatchProbability = p.MatchProbability
	cur.UpdatedAt = p.UpdatedAt
	t.st.pairs[p.PairID] = records.ClonePair(cur)
	return nil
}

func (t *memTx) ListPairs(ctx context.Context, filter store.PairFilter) ([]records.CandidatePair, error) {
	out := make([]records.CandidatePair, 0)
	for _, p := range t.st.pairs {
		if filter.Kind != "" && p.EntityKind != filter.Kind {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, records.ClonePair(p))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchProbability == out[j].MatchProbability {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].MatchProbability > out[j].MatchProbability
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *memTx) TransitionPair(ctx context.Context, pairID string, d records.PairDecision) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	p, ok := t.st.pairs[pairID]
	if !ok {
		return false, notFound("pair", pairID)
	}
	if p.Status != records.PairPending {
		return false, nil
	}
	p.Status = d.Status
	p.DecidedBy = d.DecidedBy
	p.DecidedByName = d.DecidedByName
	p.DecisionReason = d.Reason
	at := d.At
	p.DecidedAt = &at
	p.UpdatedAt = d.At
	t.st.pairs[pairID] = p
	return true, nil
}

func (t *memTx) InsertSuppression(ctx context.Context, s records.Suppression) error {
	if err := t.writable(); err != nil {
		return err
	}
	lo, hi := records.PairKey(s.LowID, s.HighID)
	s.LowID, s.HighID = lo, hi
	k := suppressionKey{kind: s.EntityKind, low: lo, high: hi}
	if _, exists := t.st.suppressions[k]; exists {
		return nil
	}
	t.st.suppressions[k] = s
	return nil
}

func (t *memTx) IsSuppressed(ctx context.Context, kind records.Kind, a, b string) (bool, error) {
	lo, hi := records.PairKey(a, b)
	_, ok := t.st.suppressions[suppressionKey{kind: kind, low: lo, high: hi}]
	return ok, nil
}
