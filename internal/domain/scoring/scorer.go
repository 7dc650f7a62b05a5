// Package scoring compara dos entidades del mismo tipo campo por campo y
// combina la evidencia en un score compuesto y una probabilidad de match.
// No decide nada: solo cuantifica para el revisor.
package scoring

import (
	"math"
	"strings"

	"tnr-records/internal/domain/records"
)

type Outcome string

const (
	OutcomeExact     Outcome = "exact"
	OutcomeNearHigh  Outcome = "near_high"
	OutcomeNearLow   Outcome = "near_low"
	OutcomeProximate Outcome = "proximate"
	OutcomeMismatch  Outcome = "mismatch"
	OutcomeMissing   Outcome = "missing"
	OutcomeShared    Outcome = "shared"
)

type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
	TierNone   Tier = "none"
)

// Result: FieldScores solo tiene las clases que aportaron evidencia; los
// campos faltantes aparecen en Outcomes como "missing".
type Result struct {
	FieldScores      records.FieldScores `json:"field_scores"`
	Outcomes         map[string]Outcome  `json:"outcomes"`
	CompositeScore   float64             `json:"composite_score"`
	MatchProbability float64             `json:"match_probability"`
	Tier             Tier                `json:"tier"`
}

type Scorer struct {
	w Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

func (s *Scorer) Weights() Weights { return s.w }

type Option func(*options)

type options struct {
	sharedPhone int
}

// WithSharedPhoneCount indica cuántas otras personas tienen el mismo teléfono.
func WithSharedPhoneCount(n int) Option {
	return func(o *options) { o.sharedPhone = n }
}

func (s *Scorer) Score(left, right records.Entity, opts ...Option) (Result, error) {
	if left == nil || right == nil {
		return Result{}, records.Validation("entity_required", "both entities are required")
	}
	lk, rk := left.Ref().Kind, right.Ref().Kind
	if lk != rk {
		return Result{}, records.Validation("kind_mismatch", "cannot compare "+string(lk)+" with "+string(rk))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	acc := &accumulator{w: s.w, scores: records.FieldScores{}, outcomes: map[string]Outcome{}}
	switch l := left.(type) {
	case *records.Person:
		acc.person(l, right.(*records.Person), o)
	case *records.Cat:
		acc.cat(l, right.(*records.Cat))
	case *records.Place:
		r := right.(*records.Place)
		acc.name("name", l.Name, r.Name)
		acc.address("address", l.Address, r.Address)
	case *records.Request:
		r := right.(*records.Request)
		acc.address("site_address", l.SiteAddress, r.SiteAddress)
		acc.name("summary", l.Summary, r.Summary)
	}

	composite := 0.0
	for _, v := range acc.scores {
		composite += v
	}
	p := Probability(composite, s.w.Prior)
	return Result{
		FieldScores:      acc.scores,
		Outcomes:         acc.outcomes,
		CompositeScore:   composite,
		MatchProbability: p,
		Tier:             s.TierFor(p),
	}, nil
}

// Probability es la transformada logística del score compuesto más el prior.
func Probability(composite, prior float64) float64 {
	return 1.0 / (1.0 + math.Exp(-(composite + prior)))
}

func (s *Scorer) TierFor(p float64) Tier {
	switch {
	case p >= s.w.Tiers.High:
		return TierHigh
	case p >= s.w.Tiers.Medium:
		return TierMedium
	case p >= s.w.Tiers.Low:
		return TierLow
	default:
		return TierNone
	}
}

type accumulator struct {
	w        Weights
	scores   records.FieldScores
	outcomes map[string]Outcome
}

func (a *accumulator) set(field string, out Outcome, weight float64) {
	a.outcomes[field] = out
	a.scores[field] = weight
}

func (a *accumulator) missing(field string) {
	a.outcomes[field] = OutcomeMissing
}

func (a *accumulator) person(l, r *records.Person, o options) {
	le, re := records.NormalizeEmail(l.Email), records.NormalizeEmail(r.Email)
	switch {
	case le == "" || re == "":
		a.missing("email")
	case le == re:
		a.set("email", OutcomeExact, a.w.EmailExact)
	default:
		a.set("email", OutcomeMismatch, a.w.EmailMismatch)
	}

	lp, rp := records.NormalizePhone(l.Phone), records.NormalizePhone(r.Phone)
	switch {
	case lp == "" || rp == "":
		a.missing("phone")
	case lp == rp:
		a.set("phone", OutcomeExact, a.w.PhoneExact)
		if o.sharedPhone > 0 {
			a.set("phone_shared", OutcomeShared, a.w.PhoneShared)
		}
	default:
		a.set("phone", OutcomeMismatch, a.w.PhoneMismatch)
	}

	a.name("name", l.FirstName+" "+l.LastName, r.FirstName+" "+r.LastName)
	a.address("address", l.Address, r.Address)
}

func (a *accumulator) cat(l, r *records.Cat) {
	a.name("name", l.Name, r.Name)

	ls, rs := known(l.Sex), known(r.Sex)
	switch {
	case ls == "" || rs == "":
		a.missing("sex")
	case ls == rs:
		// el acuerdo en sexo no suma evidencia
		a.outcomes["sex"] = OutcomeExact
	default:
		a.set("sex", OutcomeMismatch, a.w.SexMismatch)
	}

	lc, rc := known(l.Color), known(r.Color)
	switch {
	case lc == "" || rc == "":
		a.missing("color")
	case lc == rc:
		a.set("color", OutcomeExact, a.w.ColorExact)
	default:
		a.set("color", OutcomeMismatch, a.w.ColorMismatch)
	}
}

// name clasifica nombres (o textos cortos) en exact / near_high / near_low /
// mismatch con Jaro-Winkler sobre la forma normalizada.
func (a *accumulator) name(field, l, r string) {
	ln, rn := records.NormalizeName(l), records.NormalizeName(r)
	if ln == "" || rn == "" {
		a.missing(field)
		return
	}
	if ln == rn {
		a.set(field, OutcomeExact, a.w.NameExact)
		return
	}
	sim := JaroWinkler(ln, rn)
	switch {
	case sim >= a.w.NameNearHighThreshold:
		a.set(field, OutcomeNearHigh, a.w.NameNearHigh)
	case sim >= a.w.NameNearLowThreshold:
		a.set(field, OutcomeNearLow, a.w.NameNearLow)
	default:
		a.set(field, OutcomeMismatch, a.w.NameMismatch)
	}
}

func (a *accumulator) address(field, l, r string) {
	la, ra := records.NormalizeAddress(l), records.NormalizeAddress(r)
	switch {
	case la == "" || ra == "":
		a.missing(field)
	case la == ra:
		a.set(field, OutcomeExact, a.w.AddressExact)
	case LevenshteinRatio(la, ra) >= a.w.AddressNearThreshold:
		a.set(field, OutcomeProximate, a.w.AddressNear)
	default:
		a.set(field, OutcomeMismatch, a.w.AddressMismatch)
	}
}

func known(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "unknown" {
		return ""
	}
	return s
}
