package records

import (
	"encoding/json"
	"time"
)

// EditType clasifica una entrada de auditoría.
// @Enum field_update, structural_merge, ownership_transfer, rollback, merge_decision
type EditType string

const (
	EditFieldUpdate       EditType = "field_update"
	EditStructuralMerge   EditType = "structural_merge"
	EditOwnershipTransfer EditType = "ownership_transfer"
	EditRollback          EditType = "rollback"
	// EditMergeDecision registra keep_separate / dismiss (sin cambio estructural).
	EditMergeDecision EditType = "merge_decision"
)

func (t EditType) Valid() bool {
	switch t {
	case EditFieldUpdate, EditStructuralMerge, EditOwnershipTransfer, EditRollback, EditMergeDecision:
		return true
	}
	return false
}

// Origen de la edición.
const (
	SourceWebUI       = "web_ui"
	SourceAPI         = "api"
	SourceMergeEngine = "merge_engine"
	SourceSystem      = "system"
)

// AuditEntry es inmutable salvo IsRolledBack / RolledBackAt.
// OldValue/NewValue guardan JSON ("null" cuando no hay valor).
type AuditEntry struct {
	EditID        string     `db:"edit_id" json:"edit_id"`
	Seq           int64      `db:"seq" json:"seq"`
	EntityKind    Kind       `db:"entity_type" json:"entity_type"`
	EntityID      string     `db:"entity_id" json:"entity_id"`
	EditType      EditType   `db:"edit_type" json:"edit_type"`
	FieldName     string     `db:"field_name" json:"field_name,omitempty"`
	OldValue      string     `db:"old_value" json:"-"`
	NewValue      string     `db:"new_value" json:"-"`
	RelatedKind   Kind       `db:"related_entity_type" json:"related_entity_type,omitempty"`
	RelatedID     string     `db:"related_entity_id" json:"related_entity_id,omitempty"`
	RelatedEditID string     `db:"related_edit_id" json:"related_edit_id,omitempty"`
	Reason        string     `db:"reason" json:"reason,omitempty"`
	Notes         string     `db:"notes" json:"notes,omitempty"`
	EditorID      string     `db:"editor_id" json:"editor_id"`
	EditorName    string     `db:"editor_name" json:"editor_name,omitempty"`
	Source        string     `db:"source" json:"source"`
	BatchID       string     `db:"batch_id" json:"batch_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	IsRolledBack  bool       `db:"is_rolled_back" json:"is_rolled_back"`
	RolledBackAt  *time.Time `db:"rolled_back_at" json:"rolled_back_at,omitempty"`
}

func (a AuditEntry) Ref() EntityRef {
	return EntityRef{Kind: a.EntityKind, ID: a.EntityID}
}

func (a AuditEntry) RelatedRef() EntityRef {
	return EntityRef{Kind: a.RelatedKind, ID: a.RelatedID}
}

// Touches indica si la entrada pertenece a ref o la referencia como relacionada.
func (a AuditEntry) Touches(ref EntityRef) bool {
	return a.Ref() == ref || a.RelatedRef() == ref
}

func CloneAudit(a AuditEntry) AuditEntry {
	if a.RolledBackAt != nil {
		t := *a.RolledBackAt
		a.RolledBackAt = &t
	}
	return a
}

// FieldValueJSON codifica un valor de campo: "" se guarda como null.
func FieldValueJSON(v string) string {
	if v == "" {
		return "null"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// FieldValueFromJSON es la inversa de FieldValueJSON.
func FieldValueFromJSON(raw string) string {
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return ""
	}
	return s
}

// ValueJSON codifica un valor estructurado (p.ej. {"owner_id": ...}).
func ValueJSON(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
