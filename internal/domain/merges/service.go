package merges

import (
	"context"
	"errors"
	"strings"
	"time"

	"tnr-records/internal/domain/audit"
	"tnr-records/internal/domain/links"
	"tnr-records/internal/domain/locks"
	"tnr-records/internal/domain/records"
	"tnr-records/internal/domain/scoring"
	"tnr-records/internal/platform/logger"
	"tnr-records/internal/platform/metrics"
	"tnr-records/internal/platform/tracing"
	"tnr-records/internal/ports/store"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	MaxBatchSize     = 200
)

type Options struct {
	Logger logger.Logger
}

type Service struct {
	store  store.Store
	audit  *audit.Service
	locks  *locks.Service
	linker *links.Linker
	scorer *scoring.Scorer
	now    func() time.Time
	log    logger.Logger
}

func NewService(st store.Store, auditSvc *audit.Service, lockSvc *locks.Service, linker *links.Linker, scorer *scoring.Scorer, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:  st,
		audit:  auditSvc,
		locks:  lockSvc,
		linker: linker,
		scorer: scorer,
		now:    time.Now,
		log:    log.With(map[string]any{"component": "merges"}),
	}
}

type SubmitInput struct {
	Kind      records.Kind
	LeftID    string
	RightID   string
	MatchType string
}

type SubmitResult struct {
	Pair     records.CandidatePair
	Created  bool
	Outcomes map[string]scoring.Outcome
	Tier     scoring.Tier
}

// Submit recibe un par del matcher externo, lo puntúa y lo deja pendiente.
// Si ya hay un par pendiente para las mismas entidades (en cualquier orden)
// se conserva la probabilidad más alta.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merges.Submit")
	defer span.End()

	left := records.Ref(in.Kind, in.LeftID)
	right := records.Ref(in.Kind, in.RightID)
	if err := left.Validate(); err != nil {
		return SubmitResult{}, err
	}
	if err := right.Validate(); err != nil {
		return SubmitResult{}, err
	}
	if left == right {
		return SubmitResult{}, records.Validation("same_entity", "a candidate pair needs two different entities")
	}
	matchType := strings.TrimSpace(in.MatchType)
	if matchType == "" {
		matchType = "external"
	}

	outcome := "created"
	var res SubmitResult
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		suppressed, err := tx.IsSuppressed(ctx, in.Kind, left.ID, right.ID)
		if err != nil {
			return err
		}
		if suppressed {
			return records.Conflict("suppressed", "pair was marked keep_separate").
				With("left_entity_id", left.ID).
				With("right_entity_id", right.ID)
		}

		le, err := tx.GetEntity(ctx, left)
		if err != nil {
			return err
		}
		re, err := tx.GetEntity(ctx, right)
		if err != nil {
			return err
		}
		for _, e := range []records.Entity{le, re} {
			if e.Base().IsMerged() {
				return mergedConflict(e)
			}
		}

		var opts []scoring.Option
		if lp, ok := le.(*records.Person); ok {
			rp := re.(*records.Person)
			phone := records.NormalizePhone(lp.Phone)
			if phone != "" && phone == records.NormalizePhone(rp.Phone) {
				n, err := tx.CountPeopleByPhone(ctx, phone, lp.ID, rp.ID)
				if err != nil {
					return err
				}
				opts = append(opts, scoring.WithSharedPhoneCount(n))
			}
		}

		sc, err := s.scorer.Score(le, re, opts...)
		if err != nil {
			return err
		}
		res.Outcomes = sc.Outcomes
		res.Tier = sc.Tier

		now := s.now().UTC()
		existing, err := tx.FindPendingPair(ctx, in.Kind, left.ID, right.ID)
		switch {
		case err == nil:
			if sc.MatchProbability > existing.MatchProbability {
				existing.MatchType = matchType
				existing.FieldScores = sc.FieldScores
				existing.CompositeScore = sc.CompositeScore
				existing.MatchProbability = sc.MatchProbability
				existing.UpdatedAt = now
				if err := tx.UpdatePairScores(ctx, existing); err != nil {
					return err
				}
				outcome = "updated"
			} else {
				outcome = "unchanged"
			}
			res.Pair = existing
			return nil
		case !errors.Is(err, records.ErrNotFound):
			return err
		}

		p := records.CandidatePair{
			PairID:           uuid.NewString(),
			EntityKind:       in.Kind,
			LeftID:           left.ID,
			RightID:          right.ID,
			MatchType:        matchType,
			FieldScores:      sc.FieldScores,
			CompositeScore:   sc.CompositeScore,
			MatchProbability: sc.MatchProbability,
			Status:           records.PairPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.InsertPair(ctx, p); err != nil {
			return err
		}
		res.Pair = p
		res.Created = true
		return nil
	})
	if err != nil {
		switch records.CodeOf(err) {
		case "suppressed":
			outcome = "suppressed"
		default:
			outcome = "rejected"
		}
		metrics.CandidatePairsSubmitted.WithLabelValues(outcome).Inc()
		return SubmitResult{}, records.TransactionFailure(err, "failed to submit candidate pair")
	}

	metrics.CandidatePairsSubmitted.WithLabelValues(outcome).Inc()
	metrics.MatchProbability.WithLabelValues(string(in.Kind)).Observe(res.Pair.MatchProbability)
	return res, nil
}

type ListFilter struct {
	Kind   records.Kind
	Status records.PairStatus
	Limit  int
}

// List ordena por probabilidad descendente (lo más probable primero).
func (s *Service) List(ctx context.Context, f ListFilter) ([]records.CandidatePair, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		_, err := records.ParseKind(string(f.Kind))
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var out []records.CandidatePair
	err := s.store.View(ctx, func(tx store.Tx) error {
		items, err := tx.ListPairs(ctx, store.PairFilter{Kind: f.Kind, Status: f.Status, Limit: limit})
		if err != nil {
			return err
		}
		out = items
		return nil
	})
	if err != nil {
		return nil, records.TransactionFailure(err, "failed to list candidate pairs")
	}
	return out, nil
}

// PairView es el par con las dos entidades tal como están hoy.
type PairView struct {
	Pair  records.CandidatePair
	Left  records.Entity
	Right records.Entity
}

func (s *Service) Get(ctx context.Context, pairID string) (PairView, error) {
	var out PairView
	err := s.store.View(ctx, func(tx store.Tx) error {
		p, err := tx.GetPair(ctx, strings.TrimSpace(pairID))
		if err != nil {
			return err
		}
		out.Pair = p
		if out.Left, err = tx.GetEntity(ctx, p.Left()); err != nil {
			return err
		}
		out.Right, err = tx.GetEntity(ctx, p.Right())
		return err
	})
	if err != nil {
		return PairView{}, records.TransactionFailure(err, "failed to read candidate pair")
	}
	return out, nil
}

func mergedConflict(e records.Entity) error {
	ref := e.Ref()
	return records.Conflict("entity_merged", ref.String()+" was already merged into "+e.Base().MergedInto).
		With("entity_type", ref.Kind).
		With("entity_id", ref.ID).
		With("merged_into", e.Base().MergedInto)
}
