package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"tnr-records/internal/domain/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func person(id, first, last, email, phone, addr string) *records.Person {
	return &records.Person{
		Meta:      records.Meta{ID: id},
		FirstName: first,
		LastName:  last,
		Email:     email,
		Phone:     phone,
		Address:   addr,
	}
}

func TestScore_EmailMatchPhoneMissing(t *testing.T) {
	s := NewScorer(DefaultWeights())

	a := person("a", "", "", "j@x.com", "5551234567", "")
	b := person("b", "", "", "j@x.com", "", "")

	res, err := s.Score(a, b)
	require.NoError(t, err)

	assert.Equal(t, OutcomeExact, res.Outcomes["email"])
	assert.Equal(t, OutcomeMissing, res.Outcomes["phone"])
	_, hasPhone := res.FieldScores["phone"]
	assert.False(t, hasPhone, "missing data carries no weight")

	assert.Equal(t, records.FieldScores{"email": 6.0}, res.FieldScores)
	assert.InDelta(t, 6.0, res.CompositeScore, 1e-9)
	assert.InDelta(t, Probability(6.0, -2.0), res.MatchProbability, 1e-9)
	assert.Greater(t, res.MatchProbability, 0.95)
	assert.Equal(t, TierHigh, res.Tier)
}

func TestScore_MissingNeverMovesProbability(t *testing.T) {
	s := NewScorer(DefaultWeights())

	base, err := s.Score(
		person("a", "John", "Smith", "js@x.org", "", ""),
		person("b", "John", "Smith", "js@x.org", "", ""),
	)
	require.NoError(t, err)

	withOneSidedPhone, err := s.Score(
		person("a", "John", "Smith", "js@x.org", "707-555-0199", ""),
		person("b", "John", "Smith", "js@x.org", "", ""),
	)
	require.NoError(t, err)

	assert.Equal(t, base.MatchProbability, withOneSidedPhone.MatchProbability)
}

func TestScore_PhoneRules(t *testing.T) {
	s := NewScorer(DefaultWeights())

	t.Run("leading 1 and punctuation normalise", func(t *testing.T) {
		res, err := s.Score(
			person("a", "", "", "", "+1 (707) 555-0101", ""),
			person("b", "", "", "", "707.555.0101", ""),
		)
		require.NoError(t, err)
		assert.Equal(t, OutcomeExact, res.Outcomes["phone"])
	})

	t.Run("short numbers count as missing", func(t *testing.T) {
		res, err := s.Score(
			person("a", "", "", "", "555-0101", ""),
			person("b", "", "", "", "707-555-0101", ""),
		)
		require.NoError(t, err)
		assert.Equal(t, OutcomeMissing, res.Outcomes["phone"])
	})

	t.Run("shared phone is penalised", func(t *testing.T) {
		a := person("a", "", "", "", "7075550101", "")
		b := person("b", "", "", "", "7075550101", "")

		plain, err := s.Score(a, b)
		require.NoError(t, err)
		shared, err := s.Score(a, b, WithSharedPhoneCount(2))
		require.NoError(t, err)

		assert.Equal(t, -3.0, shared.FieldScores["phone_shared"])
		assert.Less(t, shared.MatchProbability, plain.MatchProbability)
	})

	t.Run("different phones disagree", func(t *testing.T) {
		res, err := s.Score(
			person("a", "", "", "", "7075550101", ""),
			person("b", "", "", "", "7075550199", ""),
		)
		require.NoError(t, err)
		assert.Equal(t, -1.5, res.FieldScores["phone"])
	})
}

func TestScore_NameTiers(t *testing.T) {
	s := NewScorer(DefaultWeights())

	cases := []struct {
		a, b string
		want Outcome
	}{
		{"Maria Lopez", "maria  lopez", OutcomeExact},
		{"Jonathan Smith", "Jonathon Smith", OutcomeNearHigh},
		{"Katherine Jones", "Catherine Johns", OutcomeNearLow},
		{"Maria Lopez", "Kevin Nguyen", OutcomeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.a+"/"+tc.b, func(t *testing.T) {
			res, err := s.Score(
				&records.Person{Meta: records.Meta{ID: "a"}, FirstName: tc.a},
				&records.Person{Meta: records.Meta{ID: "b"}, FirstName: tc.b},
			)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Outcomes["name"], "jw=%v", JaroWinkler(records.NormalizeName(tc.a), records.NormalizeName(tc.b)))
		})
	}
}

func TestScore_AddressClasses(t *testing.T) {
	s := NewScorer(DefaultWeights())

	res, err := s.Score(
		&records.Place{Meta: records.Meta{ID: "a"}, Address: "123 Main Street"},
		&records.Place{Meta: records.Meta{ID: "b"}, Address: "123 main st."},
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExact, res.Outcomes["address"])
	assert.Equal(t, OutcomeMissing, res.Outcomes["name"])

	res, err = s.Score(
		&records.Place{Meta: records.Meta{ID: "a"}, Address: "1234 Sebastopol Rd"},
		&records.Place{Meta: records.Meta{ID: "b"}, Address: "1243 Sebastopol Rd"},
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProximate, res.Outcomes["address"])

	res, err = s.Score(
		&records.Place{Meta: records.Meta{ID: "a"}, Address: "1 Elm Ct"},
		&records.Place{Meta: records.Meta{ID: "b"}, Address: "900 Industrial Blvd"},
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, res.Outcomes["address"])
}

func TestScore_Cats(t *testing.T) {
	s := NewScorer(DefaultWeights())

	res, err := s.Score(
		&records.Cat{Meta: records.Meta{ID: "a"}, Name: "Mittens", Sex: "female", Color: "Tabby"},
		&records.Cat{Meta: records.Meta{ID: "b"}, Name: "Mittens", Sex: "unknown", Color: "tabby"},
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissing, res.Outcomes["sex"])
	assert.Equal(t, records.FieldScores{"name": 3.0, "color": 1.0}, res.FieldScores)

	res, err = s.Score(
		&records.Cat{Meta: records.Meta{ID: "a"}, Name: "Mittens", Sex: "female"},
		&records.Cat{Meta: records.Meta{ID: "b"}, Name: "Mittens", Sex: "male"},
	)
	require.NoError(t, err)
	assert.Equal(t, -4.0, res.FieldScores["sex"])
}

func TestScore_Requests(t *testing.T) {
	s := NewScorer(DefaultWeights())

	res, err := s.Score(
		&records.Request{Meta: records.Meta{ID: "a"}, SiteAddress: "55 Oak Ave", Summary: "colony behind barn"},
		&records.Request{Meta: records.Meta{ID: "b"}, SiteAddress: "55 Oak Avenue", Summary: "colony behind the barn"},
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExact, res.Outcomes["site_address"])
	assert.Contains(t, []Outcome{OutcomeNearHigh, OutcomeNearLow}, res.Outcomes["summary"])
}

func TestScore_KindMismatch(t *testing.T) {
	s := NewScorer(DefaultWeights())
	_, err := s.Score(&records.Cat{Meta: records.Meta{ID: "a"}}, &records.Person{Meta: records.Meta{ID: "b"}})
	assert.Equal(t, "kind_mismatch", records.CodeOf(err))
}

func TestProbability_Monotonic(t *testing.T) {
	prev := 0.0
	for c := -10.0; c <= 10.0; c += 0.5 {
		p := Probability(c, -2.0)
		assert.GreaterOrEqual(t, p, prev)
		assert.True(t, p >= 0 && p <= 1)
		prev = p
	}
}

func TestLoadWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prior: -3\nemail_exact: 7.5\ntiers:\n  high: 0.97\n  medium: 0.8\n  low: 0.5\n"), 0o600))

	w, err := LoadWeights(path)
	require.NoError(t, err)
	assert.Equal(t, -3.0, w.Prior)
	assert.Equal(t, 7.5, w.EmailExact)
	assert.Equal(t, 5.0, w.PhoneExact, "unset keys keep defaults")
	assert.Equal(t, 0.97, w.Tiers.High)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("address_near_threshold: 1.5\n"), 0o600))
	_, err = LoadWeights(bad)
	assert.Error(t, err)

	w, err = LoadWeights("")
	require.NoError(t, err)
	assert.Equal(t, DefaultWeights(), w)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, JaroWinkler("martha", "martha"))
	assert.InDelta(t, 0.961, JaroWinkler("martha", "marhta"), 0.001)
	assert.InDelta(t, 0.813, JaroWinkler("dixon", "dicksonx"), 0.001)
	assert.Equal(t, 0.0, JaroWinkler("", "abc"))

	assert.Equal(t, 1.0, LevenshteinRatio("", ""))
	assert.InDelta(t, 1.0-3.0/7.0, LevenshteinRatio("kitten", "sitting"), 1e-9)
}
