package records

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PairStatus: un par es terminal en cuanto deja pending.
// @Enum pending, merged, kept_separate, dismissed
type PairStatus string

const (
	PairPending      PairStatus = "pending"
	PairMerged       PairStatus = "merged"
	PairKeptSeparate PairStatus = "kept_separate"
	PairDismissed    PairStatus = "dismissed"
)

func (s PairStatus) Terminal() bool {
	return s == PairMerged || s == PairKeptSeparate || s == PairDismissed
}

func ParsePairStatus(s string) (PairStatus, error) {
	switch PairStatus(strings.ToLower(strings.TrimSpace(s))) {
	case PairPending:
		return PairPending, nil
	case PairMerged:
		return PairMerged, nil
	case PairKeptSeparate:
		return PairKeptSeparate, nil
	case PairDismissed:
		return PairDismissed, nil
	}
	return "", Validation("unknown_pair_status", fmt.Sprintf("unknown pair status %q", s))
}

// Decision de un revisor sobre un par candidato.
// @Enum merge, keep_separate, dismiss
type Decision string

const (
	DecisionMerge        Decision = "merge"
	DecisionKeepSeparate Decision = "keep_separate"
	DecisionDismiss      Decision = "dismiss"
)

func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionMerge:
		return DecisionMerge, nil
	case DecisionKeepSeparate:
		return DecisionKeepSeparate, nil
	case DecisionDismiss:
		return DecisionDismiss, nil
	}
	return "", Validation("unknown_decision", fmt.Sprintf("unknown decision %q", s)).
		With("decision", s)
}

// Status terminal al que lleva la decisión.
func (d Decision) Status() PairStatus {
	switch d {
	case DecisionMerge:
		return PairMerged
	case DecisionKeepSeparate:
		return PairKeptSeparate
	default:
		return PairDismissed
	}
}

// FieldScores mapea clase de campo -> peso con signo. Se persiste como JSON.
type FieldScores map[string]float64

func (f FieldScores) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]float64(f))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (f *FieldScores) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*f = FieldScores{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case map[string]any:
		out := make(FieldScores, len(v))
		for k, x := range v {
			n, ok := x.(float64)
			if !ok {
				return fmt.Errorf("field_scores: %s is %T, not a number", k, x)
			}
			out[k] = n
		}
		*f = out
		return nil
	default:
		return fmt.Errorf("field_scores: unsupported type %T", src)
	}
	out := map[string]float64{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
	}
	*f = out
	return nil
}

type CandidatePair struct {
	PairID           string      `db:"pair_id" json:"pair_id"`
	EntityKind       Kind        `db:"entity_type" json:"entity_type"`
	LeftID           string      `db:"left_entity_id" json:"left_entity_id"`
	RightID          string      `db:"right_entity_id" json:"right_entity_id"`
	MatchType        string      `db:"match_type" json:"match_type"`
	FieldScores      FieldScores `db:"field_scores" json:"field_scores"`
	CompositeScore   float64     `db:"composite_score" json:"composite_score"`
	MatchProbability float64     `db:"match_probability" json:"match_probability"`
	Status           PairStatus  `db:"status" json:"status"`
	DecidedBy        string      `db:"decided_by" json:"decided_by,omitempty"`
	DecidedByName    string      `db:"decided_by_name" json:"decided_by_name,omitempty"`
	DecidedAt        *time.Time  `db:"decided_at" json:"decided_at,omitempty"`
	DecisionReason   string      `db:"decision_reason" json:"decision_reason,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

func (p CandidatePair) Left() EntityRef  { return EntityRef{Kind: p.EntityKind, ID: p.LeftID} }
func (p CandidatePair) Right() EntityRef { return EntityRef{Kind: p.EntityKind, ID: p.RightID} }

func ClonePair(p CandidatePair) CandidatePair {
	if p.FieldScores != nil {
		fs := make(FieldScores, len(p.FieldScores))
		for k, v := range p.FieldScores {
			fs[k] = v
		}
		p.FieldScores = fs
	}
	if p.DecidedAt != nil {
		t := *p.DecidedAt
		p.DecidedAt = &t
	}
	return p
}

// PairDecision es lo que se escribe al cerrar un par.
type PairDecision struct {
	Status        PairStatus
	DecidedBy     string
	DecidedByName string
	Reason        string
	At            time.Time
}

// Suppression evita que el matcher vuelva a proponer un par ya separado.
// El orden de los ids está normalizado (LowID < HighID).
type Suppression struct {
	EntityKind Kind      `db:"entity_type" json:"entity_type"`
	LowID      string    `db:"low_id" json:"low_id"`
	HighID     string    `db:"high_id" json:"high_id"`
	PairID     string    `db:"pair_id" json:"pair_id"`
	CreatedBy  string    `db:"created_by" json:"created_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PairKey ordena dos ids para comparar pares sin importar el lado.
func PairKey(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}
