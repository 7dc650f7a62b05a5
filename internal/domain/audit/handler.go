package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/platform/httpjson"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Get("/entities/{kind}/{id}/history", historyHandler(svc))
	r.Get("/audit/{editID}", getEntryHandler(svc))
}

type entryResponse struct {
	EditID            string           `json:"edit_id"`
	EntityType        records.Kind     `json:"entity_type"`
	EntityID          string           `json:"entity_id"`
	EditType          records.EditType `json:"edit_type"`
	FieldName         string           `json:"field_name,omitempty"`
	OldValue          json.RawMessage  `json:"old_value" swaggertype:"object"`
	NewValue          json.RawMessage  `json:"new_value" swaggertype:"object"`
	RelatedEntityType records.Kind     `json:"related_entity_type,omitempty"`
	RelatedEntityID   string           `json:"related_entity_id,omitempty"`
	RelatedEntityName string           `json:"related_entity_name,omitempty"`
	RelatedEditID     string           `json:"related_edit_id,omitempty"`
	Reason            string           `json:"reason,omitempty"`
	Notes             string           `json:"notes,omitempty"`
	EditorID          string           `json:"editor_id"`
	EditorName        string           `json:"editor_name,omitempty"`
	Source            string           `json:"source"`
	BatchID           string           `json:"batch_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	IsRolledBack      bool             `json:"is_rolled_back"`
	RolledBackAt      *time.Time       `json:"rolled_back_at,omitempty"`
}

type batchResponse struct {
	BatchID   string    `json:"batch_id"`
	EditIDs   []string  `json:"edit_ids"`
	CreatedAt time.Time `json:"created_at"`
}

type historyResponse struct {
	Entries []entryResponse `json:"entries"`
	Batches []batchResponse `json:"batches"`
}

// @Summary Historial de cambios de una entidad
// @Description Devuelve las entradas de auditoría de la entidad (más recientes primero), con el nombre legible de la entidad relacionada y la agrupación por batch_id.
// @Tags audit
// @Produce json
// @Param kind path string true "Tipo de entidad (person, cat, place, request)"
// @Param id path string true "ID de la entidad"
// @Param limit query int false "Máximo de entradas (1-500). Por defecto 50"
// @Success 200 {object} historyResponse
// @Failure 400 {object} httpjson.ErrorResponse
// @Failure 404 {object} httpjson.ErrorResponse
// @Router /entities/{kind}/{id}/history [get]
func historyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := records.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > MaxHistoryLimit {
				httpjson.WriteError(w, records.Validation("invalid_limit", "limit must be between 1 and 500"))
				return
			}
			limit = n
		}

		h, err := svc.History(r.Context(), records.Ref(kind, chi.URLParam(r, "id")), limit)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		out := historyResponse{
			Entries: make([]entryResponse, 0, len(h.Entries)),
			Batches: make([]batchResponse, 0, len(h.Batches)),
		}
		for _, e := range h.Entries {
			er := toEntryResponse(e.AuditEntry)
			er.RelatedEntityName = e.RelatedEntityName
			out.Entries = append(out.Entries, er)
		}
		for _, b := range h.Batches {
			out.Batches = append(out.Batches, batchResponse{BatchID: b.BatchID, EditIDs: b.EditIDs, CreatedAt: b.CreatedAt})
		}

		httpjson.WriteJSON(w, http.StatusOK, out)
	}
}

// @Summary Obtener una entrada de auditoría
// @Tags audit
// @Produce json
// @Param editID path string true "edit_id"
// @Success 200 {object} entryResponse
// @Failure 404 {object} httpjson.ErrorResponse
// @Router /audit/{editID} [get]
func getEntryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := svc.Get(r.Context(), chi.URLParam(r, "editID"))
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toEntryResponse(e))
	}
}

func toEntryResponse(e records.AuditEntry) entryResponse {
	return entryResponse{
		EditID:            e.EditID,
		EntityType:        e.EntityKind,
		EntityID:          e.EntityID,
		EditType:          e.EditType,
		FieldName:         e.FieldName,
		OldValue:          rawOrNull(e.OldValue),
		NewValue:          rawOrNull(e.NewValue),
		RelatedEntityType: e.RelatedKind,
		RelatedEntityID:   e.RelatedID,
		RelatedEditID:     e.RelatedEditID,
		Reason:            e.Reason,
		Notes:             e.Notes,
		EditorID:          e.EditorID,
		EditorName:        e.EditorName,
		Source:            e.Source,
		BatchID:           e.BatchID,
		CreatedAt:         e.CreatedAt,
		IsRolledBack:      e.IsRolledBack,
		RolledBackAt:      e.RolledBackAt,
	}
}

func rawOrNull(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}
