package records

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type FieldType string

const (
	FieldText  FieldType = "text"
	FieldEmail FieldType = "email"
	FieldPhone FieldType = "phone"
	FieldEnum  FieldType = "enum"
	FieldYear  FieldType = "year"
	FieldCount FieldType = "count"
)

// FieldSpec describe un campo editable de una entidad.
type FieldSpec struct {
	Name    string
	Type    FieldType
	Options []string // solo para FieldEnum
	MaxLen  int
}

// Schema es el esquema tipado de un Kind: la lista de campos editables.
// Los campos de sistema (SystemFields) nunca son editables.
type Schema struct {
	Kind   Kind
	Fields []FieldSpec
}

// SystemFields son columnas comunes que ningún editor puede tocar.
var SystemFields = []string{
	"id",
	"created_at",
	"updated_at",
	"merged_into",
	"merged_at",
	"source_system",
	"source_record_id",
}

var schemas = map[Kind]Schema{
	KindPerson: {Kind: KindPerson, Fields: []FieldSpec{
		{Name: "first_name", Type: FieldText, MaxLen: 120},
		{Name: "last_name", Type: FieldText, MaxLen: 120},
		{Name: "email", Type: FieldEmail, MaxLen: 254},
		{Name: "phone", Type: FieldPhone},
		{Name: "address", Type: FieldText, MaxLen: 300},
		{Name: "preferred_contact", Type: FieldEnum, Options: []string{"phone", "email", "text"}},
		{Name: "notes", Type: FieldText, MaxLen: 4000},
	}},
	KindCat: {Kind: KindCat, Fields: []FieldSpec{
		{Name: "name", Type: FieldText, MaxLen: 120},
		{Name: "sex", Type: FieldEnum, Options: []string{"male", "female", "unknown"}},
		{Name: "color", Type: FieldText, MaxLen: 120},
		{Name: "altered_status", Type: FieldEnum, Options: []string{"intact", "spayed", "neutered", "unknown"}},
		{Name: "ear_tipped", Type: FieldEnum, Options: []string{"yes", "no", "unknown"}},
		{Name: "birth_year", Type: FieldYear},
		{Name: "notes", Type: FieldText, MaxLen: 4000},
	}},
	KindPlace: {Kind: KindPlace, Fields: []FieldSpec{
		{Name: "name", Type: FieldText, MaxLen: 200},
		{Name: "address", Type: FieldText, MaxLen: 300},
		{Name: "place_kind", Type: FieldEnum, Options: []string{"residence", "business", "colony_site", "clinic", "other"}},
		{Name: "notes", Type: FieldText, MaxLen: 4000},
	}},
	KindRequest: {Kind: KindRequest, Fields: []FieldSpec{
		{Name: "summary", Type: FieldText, MaxLen: 500},
		{Name: "site_address", Type: FieldText, MaxLen: 300},
		{Name: "status", Type: FieldEnum, Options: []string{"new", "triaged", "scheduled", "in_progress", "completed", "cancelled", "on_hold"}},
		{Name: "priority", Type: FieldEnum, Options: []string{"low", "normal", "high", "urgent"}},
		{Name: "estimated_cat_count", Type: FieldCount},
		{Name: "notes", Type: FieldText, MaxLen: 4000},
	}},
}

func SchemaFor(k Kind) (Schema, bool) {
	s, ok := schemas[k]
	return s, ok
}

func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// FieldNames devuelve los nombres de campos editables en orden de declaración.
func (s Schema) FieldNames() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.Name)
	}
	return out
}

func IsSystemField(name string) bool {
	for _, f := range SystemFields {
		if f == name {
			return true
		}
	}
	return false
}

var validate = validator.New()

// Normalize valida y normaliza un valor para el campo indicado.
// "" siempre es válido y significa "sin valor".
func (s Schema) Normalize(field, value string) (string, error) {
	field = strings.TrimSpace(field)
	spec, ok := s.Field(field)
	if !ok {
		return "", Validation("field_not_editable", fmt.Sprintf("field %q is not editable on %s", field, s.Kind)).
			With("entity_type", s.Kind).
			With("field", field)
	}

	v := strings.TrimSpace(value)
	if v == "" {
		return "", nil
	}

	invalid := func(msg string) error {
		return Validation("invalid_value", msg).
			With("entity_type", s.Kind).
			With("field", field).
			With("value", value)
	}

	switch spec.Type {
	case FieldText:
		if spec.MaxLen > 0 && len(v) > spec.MaxLen {
			return "", invalid(fmt.Sprintf("%s exceeds %d characters", field, spec.MaxLen))
		}
		return v, nil

	case FieldEmail:
		v = NormalizeEmail(v)
		if err := validate.Var(v, "email"); err != nil {
			return "", invalid(fmt.Sprintf("%s must be a valid email address", field))
		}
		return v, nil

	case FieldPhone:
		p := NormalizePhone(v)
		if p == "" {
			return "", invalid(fmt.Sprintf("%s must contain at least 10 digits", field))
		}
		return p, nil

	case FieldEnum:
		v = strings.ToLower(v)
		for _, o := range spec.Options {
			if o == v {
				return v, nil
			}
		}
		return "", invalid(fmt.Sprintf("%s must be one of %s", field, strings.Join(spec.Options, ", ")))

	case FieldYear:
		y, err := strconv.Atoi(v)
		if err != nil || y < 1980 || y > time.Now().Year() {
			return "", invalid(fmt.Sprintf("%s must be a year between 1980 and %d", field, time.Now().Year()))
		}
		return strconv.Itoa(y), nil

	case FieldCount:
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 10000 {
			return "", invalid(fmt.Sprintf("%s must be a non-negative integer", field))
		}
		return strconv.Itoa(n), nil
	}

	return "", invalid("unsupported field type")
}

// CheckEditable rechaza campos de sistema y campos desconocidos.
func CheckEditable(kind Kind, field string) error {
	s, ok := SchemaFor(kind)
	if !ok {
		return Validation("unknown_entity_type", fmt.Sprintf("unknown entity type %q", kind))
	}
	if IsSystemField(field) {
		return Validation("field_not_editable", fmt.Sprintf("field %q is managed by the system", field)).
			With("entity_type", kind).
			With("field", field)
	}
	if _, ok := s.Field(field); !ok {
		return Validation("field_not_editable", fmt.Sprintf("field %q is not editable on %s", field, kind)).
			With("entity_type", kind).
			With("field", field)
	}
	return nil
}
