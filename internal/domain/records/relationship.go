package records

import (
	"fmt"
	"strings"
	"time"
)

// RelationshipType codifica dirección y exclusividad del vínculo.
type RelationshipType string

const (
	RelOwner           RelationshipType = "owner"
	RelFormerOwner     RelationshipType = "former_owner"
	RelCaretaker       RelationshipType = "caretaker"
	RelFormerCaretaker RelationshipType = "former_caretaker"
	RelBroughtBy       RelationshipType = "brought_by"

	RelResident       RelationshipType = "resident"
	RelFormerResident RelationshipType = "former_resident"

	RelResidesAt       RelationshipType = "resides_at"
	RelFormerResidesAt RelationshipType = "former_resides_at"

	RelSameSite RelationshipType = "same_site"
	RelAdjacent RelationshipType = "adjacent"

	RelRequester   RelationshipType = "requester"
	RelRequestSite RelationshipType = "request_site"
	RelRequestCat  RelationshipType = "request_cat"
	RelAppointment RelationshipType = "appointment"
)

// Side indica qué extremo del vínculo admite un solo vínculo activo.
type Side int

const (
	SideNone Side = iota
	SideFrom
	SideTo
)

type RelationshipRule struct {
	Type      RelationshipType
	From      Kind
	To        Kind
	Exclusive Side
	Retired   RelationshipType // forma "former_*"; vacío = se cierra sin retag
}

var relationshipRules = map[RelationshipType]RelationshipRule{
	RelOwner:           {Type: RelOwner, From: KindPerson, To: KindCat, Exclusive: SideTo, Retired: RelFormerOwner},
	RelFormerOwner:     {Type: RelFormerOwner, From: KindPerson, To: KindCat},
	RelCaretaker:       {Type: RelCaretaker, From: KindPerson, To: KindCat, Retired: RelFormerCaretaker},
	RelFormerCaretaker: {Type: RelFormerCaretaker, From: KindPerson, To: KindCat},
	RelBroughtBy:       {Type: RelBroughtBy, From: KindPerson, To: KindCat},
	RelResident:        {Type: RelResident, From: KindPerson, To: KindPlace, Retired: RelFormerResident},
	RelFormerResident:  {Type: RelFormerResident, From: KindPerson, To: KindPlace},
	RelResidesAt:       {Type: RelResidesAt, From: KindCat, To: KindPlace, Exclusive: SideFrom, Retired: RelFormerResidesAt},
	RelFormerResidesAt: {Type: RelFormerResidesAt, From: KindCat, To: KindPlace},
	RelSameSite:        {Type: RelSameSite, From: KindPlace, To: KindPlace},
	RelAdjacent:        {Type: RelAdjacent, From: KindPlace, To: KindPlace},
	RelRequester:       {Type: RelRequester, From: KindRequest, To: KindPerson, Exclusive: SideFrom},
	RelRequestSite:     {Type: RelRequestSite, From: KindRequest, To: KindPlace, Exclusive: SideFrom},
	RelRequestCat:      {Type: RelRequestCat, From: KindRequest, To: KindCat},
	RelAppointment:     {Type: RelAppointment, From: KindRequest, To: KindCat},
}

func RuleFor(t RelationshipType) (RelationshipRule, bool) {
	r, ok := relationshipRules[t]
	return r, ok
}

func ParseRelationshipType(s string) (RelationshipType, error) {
	t := RelationshipType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := relationshipRules[t]; !ok {
		return "", Validation("unknown_relationship_type", fmt.Sprintf("unknown relationship type %q", s)).
			With("relationship_type", s)
	}
	return t, nil
}

// Relationship es un vínculo tipado entre dos entidades. Nunca se borra:
// se cierra con EndedAt (y opcionalmente SupersededBy cuando colapsa en otro).
type Relationship struct {
	ID           string           `db:"id" json:"id"`
	Type         RelationshipType `db:"rel_type" json:"type"`
	FromKind     Kind             `db:"from_type" json:"from_type"`
	FromID       string           `db:"from_id" json:"from_id"`
	ToKind       Kind             `db:"to_type" json:"to_type"`
	ToID         string           `db:"to_id" json:"to_id"`
	Source       string           `db:"source" json:"source"`
	Notes        string           `db:"notes" json:"notes"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	EndedAt      *time.Time       `db:"ended_at" json:"ended_at,omitempty"`
	SupersededBy string           `db:"superseded_by" json:"superseded_by,omitempty"`
}

func (r Relationship) From() EntityRef { return EntityRef{Kind: r.FromKind, ID: r.FromID} }
func (r Relationship) To() EntityRef   { return EntityRef{Kind: r.ToKind, ID: r.ToID} }
func (r Relationship) Active() bool    { return r.EndedAt == nil }

func (r Relationship) Touches(ref EntityRef) bool {
	return r.From() == ref || r.To() == ref
}

// ExclusiveEnd devuelve el extremo que admite un solo vínculo activo de este
// tipo; ok=false si el tipo no es exclusivo.
func (r Relationship) ExclusiveEnd() (EntityRef, bool) {
	rule, _ := RuleFor(r.Type)
	switch rule.Exclusive {
	case SideFrom:
		return r.From(), true
	case SideTo:
		return r.To(), true
	}
	return EntityRef{}, false
}

// ExclusiveLinkTaken es el conflicto de una segunda relación activa exclusiva.
func ExclusiveLinkTaken(end EntityRef, t RelationshipType) *Error {
	return Conflict("exclusive_link", fmt.Sprintf("%s already has an active %s link", end, t)).
		With("entity_type", end.Kind).
		With("entity_id", end.ID)
}

// Repointed devuelve una copia con cada extremo `from` reemplazado por `to`.
func (r Relationship) Repointed(from, to EntityRef) Relationship {
	out := r
	if out.From() == from {
		out.FromKind, out.FromID = to.Kind, to.ID
	}
	if out.To() == from {
		out.ToKind, out.ToID = to.Kind, to.ID
	}
	return out
}

// SameEdge compara tipo y extremos.
func (r Relationship) SameEdge(o Relationship) bool {
	return r.Type == o.Type && r.From() == o.From() && r.To() == o.To()
}

func CloneRelationship(r Relationship) Relationship {
	if r.EndedAt != nil {
		t := *r.EndedAt
		r.EndedAt = &t
	}
	return r
}

// Identifier es un identificador externo de una entidad (microchip, id de
// clínica, id de origen). Viaja con la entidad en un merge.
type Identifier struct {
	ID         string    `db:"id" json:"id"`
	EntityKind Kind      `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	IDType     string    `db:"id_type" json:"id_type"`
	Value      string    `db:"id_value" json:"id_value"`
	Source     string    `db:"source" json:"source"`
	MergedFrom string    `db:"merged_from" json:"merged_from,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (i Identifier) Owner() EntityRef { return EntityRef{Kind: i.EntityKind, ID: i.EntityID} }
