package audit

import (
	"context"
	"strings"
	"time"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/platform/tracing"
	"tnr-records/internal/ports/store"

	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Service escribe y lee el ledger. Las escrituras reciben el Tx del caller:
// la entrada se confirma junto con el cambio que registra, o no se confirma.
type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		now:   time.Now,
	}
}

// NewID genera ids ordenables en el tiempo para edit_id y batch_id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type FieldEdit struct {
	Ref        records.EntityRef
	Field      string
	OldValue   string
	NewValue   string
	Reason     string
	EditorID   string
	EditorName string
	Source     string
	BatchID    string
}

func (s *Service) LogFieldEdit(ctx context.Context, tx store.Tx, in FieldEdit) (string, error) {
	if err := in.Ref.Validate(); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Field) == "" {
		return "", records.Validation("field_required", "field name is required")
	}
	if strings.TrimSpace(in.EditorID) == "" {
		return "", records.Validation("editor_required", "editor_id is required")
	}

	e := records.AuditEntry{
		EditID:     NewID(),
		EntityKind: in.Ref.Kind,
		EntityID:   in.Ref.ID,
		EditType:   records.EditFieldUpdate,
		FieldName:  in.Field,
		OldValue:   records.FieldValueJSON(in.OldValue),
		NewValue:   records.FieldValueJSON(in.NewValue),
		Reason:     strings.TrimSpace(in.Reason),
		EditorID:   strings.TrimSpace(in.EditorID),
		EditorName: strings.TrimSpace(in.EditorName),
		Source:     sourceOr(in.Source, records.SourceWebUI),
		BatchID:    in.BatchID,
		CreatedAt:  s.now().UTC(),
	}
	if err := tx.AppendAudit(ctx, &e); err != nil {
		return "", err
	}
	return e.EditID, nil
}

// StructuralChange cubre merges, transferencias, decisiones y rollbacks.
// OldValue/NewValue se serializan a JSON.
type StructuralChange struct {
	Type          records.EditType
	Ref           records.EntityRef
	Related       records.EntityRef
	RelatedEditID string
	FieldName     string
	OldValue      any
	NewValue      any
	Reason        string
	Notes         string
	EditorID      string
	EditorName    string
	Source        string
	BatchID       string
}

func (s *Service) LogStructuralChange(ctx context.Context, tx store.Tx, in StructuralChange) (string, error) {
	if !in.Type.Valid() || in.Type == records.EditFieldUpdate {
		return "", records.Validation("invalid_edit_type", "unsupported structural edit type "+string(in.Type))
	}
	if err := in.Ref.Validate(); err != nil {
		return "", err
	}
	if !in.Related.IsZero() {
		if err := in.Related.Validate(); err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(in.EditorID) == "" {
		return "", records.Validation("editor_required", "editor_id is required")
	}

	e := records.AuditEntry{
		EditID:        NewID(),
		EntityKind:    in.Ref.Kind,
		EntityID:      in.Ref.ID,
		EditType:      in.Type,
		FieldName:     in.FieldName,
		OldValue:      encodeValue(in.OldValue),
		NewValue:      encodeValue(in.NewValue),
		RelatedKind:   in.Related.Kind,
		RelatedID:     in.Related.ID,
		RelatedEditID: in.RelatedEditID,
		Reason:        strings.TrimSpace(in.Reason),
		Notes:         strings.TrimSpace(in.Notes),
		EditorID:      strings.TrimSpace(in.EditorID),
		EditorName:    strings.TrimSpace(in.EditorName),
		Source:        sourceOr(in.Source, records.SourceWebUI),
		BatchID:       in.BatchID,
		CreatedAt:     s.now().UTC(),
	}
	if err := tx.AppendAudit(ctx, &e); err != nil {
		return "", err
	}
	return e.EditID, nil
}

// HistoryEntry agrega el nombre legible de la entidad relacionada.
type HistoryEntry struct {
	records.AuditEntry
	RelatedEntityName string
}

// Batch agrupa las entradas de una misma acción de usuario.
type Batch struct {
	BatchID   string
	EditIDs   []string
	CreatedAt time.Time
}

type History struct {
	Entries []HistoryEntry
	Batches []Batch
}

// History devuelve el historial de la entidad, más reciente primero. Incluye
// las entradas donde la entidad aparece como relacionada (p.ej. el merge que
// la convirtió en lápida).
func (s *Service) History(ctx context.Context, ref records.EntityRef, limit int) (History, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.History")
	defer span.End()

	if err := ref.Validate(); err != nil {
		return History{}, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	var out History
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetEntity(ctx, ref); err != nil {
			return err
		}

		entries, err := tx.ListAudit(ctx, ref, limit)
		if err != nil {
			return err
		}

		names := map[records.EntityRef]string{}
		out.Entries = make([]HistoryEntry, 0, len(entries))
		batchIdx := map[string]int{}

		for _, e := range entries {
			he := HistoryEntry{AuditEntry: e}

			if rel := e.RelatedRef(); rel.ID != "" && rel.Kind.Valid() {
				// Desde la perspectiva de la entidad relacionada, el "otro" es el dueño de la entrada.
				other := rel
				if rel == ref {
					other = e.Ref()
				}
				name, ok := names[other]
				if !ok {
					if re, err := tx.GetEntity(ctx, other); err == nil {
						name = re.DisplayName()
					}
					names[other] = name
				}
				he.RelatedEntityName = name
			}
			out.Entries = append(out.Entries, he)

			if e.BatchID == "" {
				continue
			}
			if i, ok := batchIdx[e.BatchID]; ok {
				out.Batches[i].EditIDs = append(out.Batches[i].EditIDs, e.EditID)
				continue
			}
			batchIdx[e.BatchID] = len(out.Batches)
			out.Batches = append(out.Batches, Batch{
				BatchID:   e.BatchID,
				EditIDs:   []string{e.EditID},
				CreatedAt: e.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return History{}, records.TransactionFailure(err, "failed to read history")
	}
	return out, nil
}

// Get devuelve una entrada por edit_id.
func (s *Service) Get(ctx context.Context, editID string) (records.AuditEntry, error) {
	var out records.AuditEntry
	err := s.store.View(ctx, func(tx store.Tx) error {
		e, err := tx.GetAudit(ctx, strings.TrimSpace(editID))
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return records.AuditEntry{}, records.TransactionFailure(err, "failed to read audit entry")
	}
	return out, nil
}

func encodeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return records.FieldValueJSON(x)
	default:
		return records.ValueJSON(v)
	}
}

func sourceOr(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}
