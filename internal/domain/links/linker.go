// Package links es el único camino de escritura de vínculos entre entidades:
// alta con reglas de exclusividad, retiro a la forma "former_*" y re-apuntado
// de vínculos e identificadores cuando dos entidades se fusionan.
package links

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/ports/store"

	"github.com/google/uuid"
)

type Linker struct {
	now func() time.Time
}

func NewLinker() *Linker {
	return &Linker{now: time.Now}
}

type LinkInput struct {
	Type   records.RelationshipType
	From   records.EntityRef
	To     records.EntityRef
	Source string
	Notes  string
}

// Link crea el vínculo dentro del Tx del caller. Si ya existe uno activo
// idéntico lo devuelve con created=false.
func (l *Linker) Link(ctx context.Context, tx store.Tx, in LinkInput) (rel records.Relationship, created bool, err error) {
	rule, ok := records.RuleFor(in.Type)
	if !ok {
		_, err := records.ParseRelationshipType(string(in.Type))
		return records.Relationship{}, false, err
	}
	if in.From.Kind != rule.From || in.To.Kind != rule.To {
		return records.Relationship{}, false, records.Validation("invalid_link_kinds",
			fmt.Sprintf("%s links %s to %s", rule.Type, rule.From, rule.To)).
			With("relationship_type", rule.Type)
	}
	if in.From == in.To {
		return records.Relationship{}, false, records.Validation("self_link", "an entity cannot be linked to itself")
	}

	candidate := records.Relationship{
		Type:     in.Type,
		FromKind: in.From.Kind,
		FromID:   in.From.ID,
		ToKind:   in.To.Kind,
		ToID:     in.To.ID,
	}

	existing, err := tx.ListRelationships(ctx, in.From)
	if err != nil {
		return records.Relationship{}, false, err
	}
	for _, r := range existing {
		if r.Active() && r.SameEdge(candidate) {
			return r, false, nil
		}
	}

	var exclusiveOn records.EntityRef
	switch rule.Exclusive {
	case records.SideFrom:
		exclusiveOn = in.From
	case records.SideTo:
		exclusiveOn = in.To
		if existing, err = tx.ListRelationships(ctx, in.To); err != nil {
			return records.Relationship{}, false, err
		}
	}
	if !exclusiveOn.IsZero() {
		if cur, ok := activeOnSide(existing, rule, exclusiveOn, ""); ok {
			return records.Relationship{}, false, records.ExclusiveLinkTaken(exclusiveOn, rule.Type).
				With("relationship_id", cur.ID)
		}
	}

	candidate.ID = uuid.NewString()
	candidate.Source = sourceOr(in.Source)
	candidate.Notes = strings.TrimSpace(in.Notes)
	candidate.CreatedAt = l.now().UTC()
	if err := tx.InsertRelationship(ctx, candidate); err != nil {
		return records.Relationship{}, false, err
	}
	return candidate, true, nil
}

// Retire cierra un vínculo activo y, si la regla lo define, lo re-etiqueta a
// su forma histórica (owner -> former_owner).
func (l *Linker) Retire(ctx context.Context, tx store.Tx, r records.Relationship, at time.Time) (records.Relationship, error) {
	if !r.Active() {
		return r, nil
	}
	if rule, ok := records.RuleFor(r.Type); ok && rule.Retired != "" {
		r.Type = rule.Retired
	}
	ts := at
	r.EndedAt = &ts
	if err := tx.UpdateRelationship(ctx, r); err != nil {
		return records.Relationship{}, err
	}
	return r, nil
}

// RepointResult resume lo que hizo Repoint; se guarda en la auditoría del merge.
type RepointResult struct {
	Moved                int `json:"relationships_moved"`
	Collapsed            int `json:"relationships_collapsed"`
	Retired              int `json:"relationships_retired"`
	IdentifiersMoved     int `json:"identifiers_moved"`
	IdentifiersCollapsed int `json:"identifiers_collapsed"`
}

// Repoint mueve vínculos e identificadores de loser a survivor:
//   - un vínculo que quedaría idéntico a uno activo del sobreviviente se cierra
//     con SupersededBy apuntando al que queda;
//   - uno que quedaría apuntando a sí mismo se cierra;
//   - uno que rompería una regla de exclusividad se retira a su forma histórica;
//   - los vínculos ya cerrados se mueven tal cual.
func (l *Linker) Repoint(ctx context.Context, tx store.Tx, loser, survivor records.EntityRef, at time.Time) (RepointResult, error) {
	var res RepointResult
	ts := at

	loserRels, err := tx.ListRelationships(ctx, loser)
	if err != nil {
		return res, err
	}
	survRels, err := tx.ListRelationships(ctx, survivor)
	if err != nil {
		return res, err
	}
	active := make([]records.Relationship, 0, len(survRels))
	for _, r := range survRels {
		if r.Active() && !r.Touches(loser) {
			active = append(active, r)
		}
	}

	for _, r := range loserRels {
		moved := r.Repointed(loser, survivor)

		if !r.Active() {
			if err := tx.UpdateRelationship(ctx, moved); err != nil {
				return res, err
			}
			res.Moved++
			continue
		}

		if moved.From() == moved.To() {
			r.EndedAt = &ts
			if err := tx.UpdateRelationship(ctx, r); err != nil {
				return res, err
			}
			res.Collapsed++
			continue
		}

		if dup, ok := findSameEdge(active, moved); ok {
			r.EndedAt = &ts
			r.SupersededBy = dup.ID
			if err := tx.UpdateRelationship(ctx, r); err != nil {
				return res, err
			}
			res.Collapsed++
			continue
		}

		rule, _ := records.RuleFor(r.Type)
		if side, ok := moved.ExclusiveEnd(); ok && side == survivor {
			if _, taken := activeOnSide(active, rule, survivor, r.ID); taken {
				if rule.Retired != "" {
					moved.Type = rule.Retired
				}
				moved.EndedAt = &ts
				if err := tx.UpdateRelationship(ctx, moved); err != nil {
					return res, err
				}
				res.Retired++
				continue
			}
		}

		if err := tx.UpdateRelationship(ctx, moved); err != nil {
			return res, err
		}
		active = append(active, moved)
		res.Moved++
	}

	survIDs, err := tx.ListIdentifiers(ctx, survivor)
	if err != nil {
		return res, err
	}
	have := map[string]bool{}
	for _, id := range survIDs {
		have[identKey(id)] = true
	}
	loserIDs, err := tx.ListIdentifiers(ctx, loser)
	if err != nil {
		return res, err
	}
	for _, id := range loserIDs {
		k := identKey(id)
		if have[k] {
			res.IdentifiersCollapsed++
			continue
		}
		id.EntityKind, id.EntityID = survivor.Kind, survivor.ID
		id.MergedFrom = loser.ID
		if err := tx.UpdateIdentifier(ctx, id); err != nil {
			return res, err
		}
		have[k] = true
		res.IdentifiersMoved++
	}

	return res, nil
}

func findSameEdge(rels []records.Relationship, r records.Relationship) (records.Relationship, bool) {
	for _, x := range rels {
		if x.Active() && x.SameEdge(r) {
			return x, true
		}
	}
	return records.Relationship{}, false
}

func activeOnSide(rels []records.Relationship, rule records.RelationshipRule, ref records.EntityRef, skipID string) (records.Relationship, bool) {
	for _, x := range rels {
		if x.ID == skipID || !x.Active() || x.Type != rule.Type {
			continue
		}
		if end, ok := x.ExclusiveEnd(); ok && end == ref {
			return x, true
		}
	}
	return records.Relationship{}, false
}

func identKey(id records.Identifier) string {
	return strings.ToLower(strings.TrimSpace(id.IDType)) + "\x00" + strings.TrimSpace(id.Value)
}

func sourceOr(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return records.SourceWebUI
	}
	return s
}
