package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights son pesos log-odds por clase de evidencia. Positivo = acuerdo,
// negativo = desacuerdo. Los umbrales están en [0,1].
type Weights struct {
	Prior float64 `yaml:"prior"`

	EmailExact    float64 `yaml:"email_exact"`
	EmailMismatch float64 `yaml:"email_mismatch"`

	PhoneExact    float64 `yaml:"phone_exact"`
	PhoneMismatch float64 `yaml:"phone_mismatch"`
	PhoneShared   float64 `yaml:"phone_shared"`

	NameExact    float64 `yaml:"name_exact"`
	NameNearHigh float64 `yaml:"name_near_high"`
	NameNearLow  float64 `yaml:"name_near_low"`
	NameMismatch float64 `yaml:"name_mismatch"`

	AddressExact    float64 `yaml:"address_exact"`
	AddressNear     float64 `yaml:"address_near"`
	AddressMismatch float64 `yaml:"address_mismatch"`

	SexMismatch   float64 `yaml:"sex_mismatch"`
	ColorExact    float64 `yaml:"color_exact"`
	ColorMismatch float64 `yaml:"color_mismatch"`

	NameNearHighThreshold float64 `yaml:"name_near_high_threshold"`
	NameNearLowThreshold  float64 `yaml:"name_near_low_threshold"`
	AddressNearThreshold  float64 `yaml:"address_near_threshold"`

	Tiers TierThresholds `yaml:"tiers"`
}

type TierThresholds struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

func DefaultWeights() Weights {
	return Weights{
		Prior: -2.0,

		EmailExact:    6.0,
		EmailMismatch: -2.0,

		PhoneExact:    5.0,
		PhoneMismatch: -1.5,
		PhoneShared:   -3.0,

		NameExact:    3.0,
		NameNearHigh: 2.0,
		NameNearLow:  1.0,
		NameMismatch: -2.5,

		AddressExact:    2.5,
		AddressNear:     1.5,
		AddressMismatch: -1.0,

		SexMismatch:   -4.0,
		ColorExact:    1.0,
		ColorMismatch: -0.5,

		NameNearHighThreshold: 0.92,
		NameNearLowThreshold:  0.80,
		AddressNearThreshold:  0.85,

		Tiers: TierThresholds{High: 0.95, Medium: 0.80, Low: 0.50},
	}
}

// LoadWeights lee un YAML parcial; lo que no aparece queda con el default.
func LoadWeights(path string) (Weights, error) {
	w := DefaultWeights()
	if path == "" {
		return w, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("read scorer weights: %w", err)
	}
	if err := yaml.Unmarshal(b, &w); err != nil {
		return Weights{}, fmt.Errorf("parse scorer weights: %w", err)
	}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"name_near_high_threshold": w.NameNearHighThreshold,
		"name_near_low_threshold":  w.NameNearLowThreshold,
		"address_near_threshold":   w.AddressNearThreshold,
		"tiers.high":               w.Tiers.High,
		"tiers.medium":             w.Tiers.Medium,
		"tiers.low":                w.Tiers.Low,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("scorer weights: %s must be in (0,1], got %v", name, v)
		}
	}
	if w.NameNearLowThreshold > w.NameNearHighThreshold {
		return fmt.Errorf("scorer weights: name_near_low_threshold above name_near_high_threshold")
	}
	if !(w.Tiers.Low <= w.Tiers.Medium && w.Tiers.Medium <= w.Tiers.High) {
		return fmt.Errorf("scorer weights: tiers must satisfy low <= medium <= high")
	}
	return nil
}
