package records

import (
	"fmt"
	"strings"
)

// Kind es el conjunto cerrado de tipos de entidad.
// @Enum person, cat, place, request
type Kind string

const (
	KindPerson  Kind = "person"
	KindCat     Kind = "cat"
	KindPlace   Kind = "place"
	KindRequest Kind = "request"
)

var Kinds = []Kind{KindPerson, KindCat, KindPlace, KindRequest}

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPerson:
		return KindPerson, nil
	case KindCat:
		return KindCat, nil
	case KindPlace:
		return KindPlace, nil
	case KindRequest:
		return KindRequest, nil
	}
	return "", Validation("unknown_entity_type", fmt.Sprintf("unknown entity type %q", s)).
		With("entity_type", s)
}

func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

// EntityRef identifica una entidad por (tipo, id).
type EntityRef struct {
	Kind Kind   `json:"entity_type"`
	ID   string `json:"entity_id"`
}

func Ref(kind Kind, id string) EntityRef {
	return EntityRef{Kind: kind, ID: strings.TrimSpace(id)}
}

func (r EntityRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

func (r EntityRef) Validate() error {
	if !r.Kind.Valid() {
		return Validation("unknown_entity_type", fmt.Sprintf("unknown entity type %q", r.Kind)).
			With("entity_type", r.Kind)
	}
	if strings.TrimSpace(r.ID) == "" {
		return Validation("entity_id_required", "entity id is required").
			With("entity_type", r.Kind)
	}
	return nil
}
