package records

import (
	"strings"
	"time"
)

// Meta son los campos comunes a toda entidad. Ninguno es editable.
type Meta struct {
	ID             string     `db:"id" json:"id"`
	SourceSystem   string     `db:"source_system" json:"source_system"`
	SourceRecordID string     `db:"source_record_id" json:"source_record_id"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	MergedInto     string     `db:"merged_into" json:"merged_into,omitempty"`
	MergedAt       *time.Time `db:"merged_at" json:"merged_at,omitempty"`
}

// IsMerged indica si la entidad es una lápida (perdió un merge).
func (m *Meta) IsMerged() bool {
	return m.MergedInto != ""
}

// Entity es la variante cerrada {Person, Cat, Place, Request}. El método
// no exportado impide implementaciones fuera de este paquete.
type Entity interface {
	Ref() EntityRef
	Base() *Meta
	DisplayName() string
	field(name string) *string
}

type Person struct {
	Meta
	FirstName        string `db:"first_name" json:"first_name"`
	LastName         string `db:"last_name" json:"last_name"`
	Email            string `db:"email" json:"email"`
	Phone            string `db:"phone" json:"phone"`
	Address          string `db:"address" json:"address"`
	PreferredContact string `db:"preferred_contact" json:"preferred_contact"`
	Notes            string `db:"notes" json:"notes"`
}

type Cat struct {
	Meta
	Name          string `db:"name" json:"name"`
	Sex           string `db:"sex" json:"sex"`
	Color         string `db:"color" json:"color"`
	AlteredStatus string `db:"altered_status" json:"altered_status"`
	EarTipped     string `db:"ear_tipped" json:"ear_tipped"`
	BirthYear     string `db:"birth_year" json:"birth_year"`
	Notes         string `db:"notes" json:"notes"`
}

type Place struct {
	Meta
	Name      string `db:"name" json:"name"`
	Address   string `db:"address" json:"address"`
	PlaceKind string `db:"place_kind" json:"place_kind"`
	Notes     string `db:"notes" json:"notes"`
}

type Request struct {
	Meta
	Summary           string `db:"summary" json:"summary"`
	SiteAddress       string `db:"site_address" json:"site_address"`
	Status            string `db:"status" json:"status"`
	Priority          string `db:"priority" json:"priority"`
	EstimatedCatCount string `db:"estimated_cat_count" json:"estimated_cat_count"`
	Notes             string `db:"notes" json:"notes"`
}

func (p *Person) Ref() EntityRef  { return EntityRef{Kind: KindPerson, ID: p.ID} }
func (c *Cat) Ref() EntityRef     { return EntityRef{Kind: KindCat, ID: c.ID} }
func (p *Place) Ref() EntityRef   { return EntityRef{Kind: KindPlace, ID: p.ID} }
func (r *Request) Ref() EntityRef { return EntityRef{Kind: KindRequest, ID: r.ID} }

func (p *Person) Base() *Meta  { return &p.Meta }
func (c *Cat) Base() *Meta     { return &c.Meta }
func (p *Place) Base() *Meta   { return &p.Meta }
func (r *Request) Base() *Meta { return &r.Meta }

func (p *Person) DisplayName() string {
	n := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if n == "" {
		n = p.Email
	}
	return n
}

func (c *Cat) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return "cat " + shortID(c.ID)
}

func (p *Place) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Address
}

func (r *Request) DisplayName() string {
	if r.Summary != "" {
		return r.Summary
	}
	return "request " + shortID(r.ID)
}

func (p *Person) field(name string) *string {
	switch name {
	case "first_name":
		return &p.FirstName
	case "last_name":
		return &p.LastName
	case "email":
		return &p.Email
	case "phone":
		return &p.Phone
	case "address":
		return &p.Address
	case "preferred_contact":
		return &p.PreferredContact
	case "notes":
		return &p.Notes
	}
	return nil
}

func (c *Cat) field(name string) *string {
	switch name {
	case "name":
		return &c.Name
	case "sex":
		return &c.Sex
	case "color":
		return &c.Color
	case "altered_status":
		return &c.AlteredStatus
	case "ear_tipped":
		return &c.EarTipped
	case "birth_year":
		return &c.BirthYear
	case "notes":
		return &c.Notes
	}
	return nil
}

func (p *Place) field(name string) *string {
	switch name {
	case "name":
		return &p.Name
	case "address":
		return &p.Address
	case "place_kind":
		return &p.PlaceKind
	case "notes":
		return &p.Notes
	}
	return nil
}

func (r *Request) field(name string) *string {
	switch name {
	case "summary":
		return &r.Summary
	case "site_address":
		return &r.SiteAddress
	case "status":
		return &r.Status
	case "priority":
		return &r.Priority
	case "estimated_cat_count":
		return &r.EstimatedCatCount
	case "notes":
		return &r.Notes
	}
	return nil
}

// New devuelve una entidad vacía del kind indicado.
func New(kind Kind, id string) (Entity, error) {
	m := Meta{ID: id}
	switch kind {
	case KindPerson:
		return &Person{Meta: m}, nil
	case KindCat:
		return &Cat{Meta: m}, nil
	case KindPlace:
		return &Place{Meta: m}, nil
	case KindRequest:
		return &Request{Meta: m}, nil
	}
	_, err := ParseKind(string(kind))
	return nil, err
}

// GetField lee un campo del esquema. ok=false si el campo no existe.
func GetField(e Entity, name string) (string, bool) {
	p := e.field(name)
	if p == nil {
		return "", false
	}
	return *p, true
}

// SetField escribe un campo del esquema en memoria (no persiste).
func SetField(e Entity, name, value string) bool {
	p := e.field(name)
	if p == nil {
		return false
	}
	*p = value
	return true
}

// Fields devuelve los campos del esquema como mapa.
func Fields(e Entity) map[string]string {
	s, _ := SchemaFor(e.Ref().Kind)
	out := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		v, _ := GetField(e, f.Name)
		out[f.Name] = v
	}
	return out
}

// Clone hace una copia independiente de la entidad.
func Clone(e Entity) Entity {
	var out Entity
	switch v := e.(type) {
	case *Person:
		c := *v
		out = &c
	case *Cat:
		c := *v
		out = &c
	case *Place:
		c := *v
		out = &c
	case *Request:
		c := *v
		out = &c
	default:
		return nil
	}
	if t := e.Base().MergedAt; t != nil {
		tt := *t
		out.Base().MergedAt = &tt
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Flatten aplana la entidad para la API: metadatos + campos del esquema.
func Flatten(e Entity) map[string]any {
	m := e.Base()
	out := map[string]any{
		"entity_type":      e.Ref().Kind,
		"id":               m.ID,
		"display_name":     e.DisplayName(),
		"source_system":    m.SourceSystem,
		"source_record_id": m.SourceRecordID,
		"created_at":       m.CreatedAt,
		"updated_at":       m.UpdatedAt,
	}
	if m.IsMerged() {
		out["merged_into"] = m.MergedInto
		out["merged_at"] = m.MergedAt
	}
	for k, v := range Fields(e) {
		out[k] = v
	}
	return out
}
