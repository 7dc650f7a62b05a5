package entities

import (
	"net/http"
	"strconv"
	"strings"

	"tnr-records/internal/domain/ownership"
	"tnr-records/internal/domain/records"
	"tnr-records/internal/middleware"
	"tnr-records/internal/platform/httpjson"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service, transfers *ownership.Service) {
	r.Get("/entities/{kind}", listHandler(svc))
	r.Get("/entities/{kind}/{id}", getHandler(svc))
	r.Patch("/entities/{kind}/{id}", patchHandler(svc, transfers))
	r.Get("/entities/{kind}/{id}/relationships", linksHandler(svc))

	r.Post("/audit/{editID}/rollback", rollbackHandler(svc))
}

type fieldEditRequest struct {
	Field string `json:"field" validate:"required"`
	// null o "" limpian el campo.
	Value  *string `json:"value"`
	Reason string  `json:"reason" validate:"max=1000"`
}

type patchRequest struct {
	Edits      []fieldEditRequest `json:"edits" validate:"omitempty,dive"`
	EditorID   string             `json:"editor_id"`
	EditorName string             `json:"editor_name"`
	Reason     string             `json:"reason" validate:"max=1000"`

	// edit_type=ownership_transfer (solo cat).
	EditType         string `json:"edit_type"`
	NewOwnerID       string `json:"new_owner_id"`
	RelationshipType string `json:"relationship_type"`
	Notes            string `json:"notes" validate:"max=4000"`
}

type patchResponse struct {
	Success bool           `json:"success"`
	EditIDs []string       `json:"edit_ids"`
	BatchID string         `json:"batch_id,omitempty"`
	Entity  map[string]any `json:"entity"`
}

type transferResponse struct {
	Success      bool                 `json:"success"`
	EditID       string               `json:"edit_id"`
	OldOwnerID   *string              `json:"old_owner_id"`
	NewOwnerID   string               `json:"new_owner_id"`
	Relationship records.Relationship `json:"relationship"`
}

type listResponse struct {
	EntityType records.Kind     `json:"entity_type"`
	Count      int              `json:"count"`
	Items      []map[string]any `json:"items"`
}

type linksResponse struct {
	Relationships []records.Relationship `json:"relationships"`
	Identifiers   []records.Identifier   `json:"identifiers"`
}

type rollbackRequest struct {
	Reason     string `json:"reason" validate:"max=1000"`
	EditorID   string `json:"editor_id"`
	EditorName string `json:"editor_name"`
}

type rollbackResponse struct {
	Success          bool           `json:"success"`
	EditID           string         `json:"edit_id"`
	RolledBackEditID string         `json:"rolled_back_edit_id"`
	Entity           map[string]any `json:"entity"`
}

func refFrom(r *http.Request) (records.EntityRef, error) {
	kind, err := records.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return records.EntityRef{}, err
	}
	ref := records.Ref(kind, chi.URLParam(r, "id"))
	return ref, ref.Validate()
}

// @Summary Listar entidades
// @Description Por defecto excluye entidades fusionadas (lápidas).
// @Tags entities
// @Produce json
// @Param kind path string true "Tipo de entidad (person, cat, place, request)"
// @Param include_merged query bool false "Incluir lápidas"
// @Param limit query int false "Máximo (1-1000). Por defecto 100"
// @Success 200 {object} listResponse
// @Failure 400 {object} httpjson.ErrorResponse
// @Router /entities/{kind} [get]
func listHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := records.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		q := r.URL.Query()
		in := ListInput{}
		if raw := strings.TrimSpace(q.Get("include_merged")); raw != "" {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				httpjson.WriteError(w, records.Validation("invalid_include_merged", "include_merged must be a boolean"))
				return
			}
			in.IncludeMerged = b
		}
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > MaxListLimit {
				httpjson.WriteError(w, records.Validation("invalid_limit", "limit must be between 1 and 1000"))
				return
			}
			in.Limit = n
		}

		items, err := svc.List(r.Context(), kind, in)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		out := listResponse{EntityType: kind, Count: len(items), Items: make([]map[string]any, 0, len(items))}
		for _, e := range items {
			out.Items = append(out.Items, toEntityResponse(e))
		}
		httpjson.WriteJSON(w, http.StatusOK, out)
	}
}

// @Summary Obtener una entidad
// @Tags entities
// @Produce json
// @Param kind path string true "Tipo de entidad"
// @Param id path string true "ID de la entidad"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} httpjson.ErrorResponse
// @Router /entities/{kind}/{id} [get]
func getHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := refFrom(r)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		e, err := svc.Get(r.Context(), ref)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toEntityResponse(e))
	}
}

// @Summary Editar campos de una entidad
// @Description Aplica todos los cambios en una transacción y deja una entrada de auditoría por campo modificado (mismo batch_id). Con edit_type=ownership_transfer sobre un cat transfiere el dueño/cuidador.
// @Tags entities
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Dev only: user id (si no hay verifier)"
// @Param X-Debug-User-Name header string false "Dev only: nombre del editor"
// @Param kind path string true "Tipo de entidad"
// @Param id path string true "ID de la entidad"
// @Param body body patchRequest true "Cambios"
// @Success 200 {object} patchResponse
// @Failure 400 {object} httpjson.ErrorResponse
// @Failure 401 {object} httpjson.ErrorResponse
// @Failure 404 {object} httpjson.ErrorResponse
// @Failure 409 {object} httpjson.ErrorResponse
// @Router /entities/{kind}/{id} [patch]
func patchHandler(svc *Service, transfers *ownership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := refFrom(r)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		var req patchRequest
		if err := httpjson.Decode(r, &req); err != nil {
			httpjson.WriteError(w, err)
			return
		}

		claims, ok := middleware.EditorOr(w, r, req.EditorID, req.EditorName)
		if !ok {
			return
		}

		switch strings.TrimSpace(req.EditType) {
		case "", string(records.EditFieldUpdate):
		case string(records.EditOwnershipTransfer):
			if ref.Kind != records.KindCat {
				httpjson.WriteError(w, records.Validation("invalid_edit_type", "ownership transfers apply to cats only"))
				return
			}
			handleTransfer(w, r, transfers, ref, req, claims.UserID, claims.DisplayName())
			return
		default:
			httpjson.WriteError(w, records.Validation("invalid_edit_type", "unsupported edit_type "+req.EditType))
			return
		}

		edits := make([]FieldChange, 0, len(req.Edits))
		for _, e := range req.Edits {
			fc := FieldChange{Field: e.Field, Reason: e.Reason}
			if e.Value != nil {
				fc.Value = *e.Value
			}
			edits = append(edits, fc)
		}

		res, err := svc.Apply(r.Context(), ApplyInput{
			Ref:        ref,
			Edits:      edits,
			EditorID:   claims.UserID,
			EditorName: claims.DisplayName(),
			Source:     records.SourceWebUI,
			Reason:     req.Reason,
		})
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		ids := res.EditIDs
		if ids == nil {
			ids = []string{}
		}
		httpjson.WriteJSON(w, http.StatusOK, patchResponse{
			Success: true,
			EditIDs: ids,
			BatchID: res.BatchID,
			Entity:  toEntityResponse(res.Entity),
		})
	}
}

func handleTransfer(w http.ResponseWriter, r *http.Request, transfers *ownership.Service, cat records.EntityRef, req patchRequest, editorID, editorName string) {
	var typ records.RelationshipType
	if raw := strings.TrimSpace(req.RelationshipType); raw != "" {
		t, err := records.ParseRelationshipType(raw)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		typ = t
	}
	if strings.TrimSpace(req.NewOwnerID) == "" {
		httpjson.WriteError(w, records.Validation("new_owner_required", "new_owner_id is required").With("field", "new_owner_id"))
		return
	}

	res, err := transfers.Transfer(r.Context(), ownership.TransferInput{
		CatID:      cat.ID,
		NewOwnerID: req.NewOwnerID,
		Type:       typ,
		Reason:     req.Reason,
		Notes:      req.Notes,
		EditorID:   editorID,
		EditorName: editorName,
		Source:     records.SourceWebUI,
	})
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}

	out := transferResponse{
		Success:      true,
		EditID:       res.EditID,
		NewOwnerID:   res.NewOwnerID,
		Relationship: res.Relationship,
	}
	if res.OldOwnerID != "" {
		old := res.OldOwnerID
		out.OldOwnerID = &old
	}
	httpjson.WriteJSON(w, http.StatusOK, out)
}

// @Summary Vínculos e identificadores de una entidad
// @Tags entities
// @Produce json
// @Param kind path string true "Tipo de entidad"
// @Param id path string true "ID de la entidad"
// @Param include_ended query bool false "Incluir vínculos cerrados"
// @Success 200 {object} linksResponse
// @Failure 404 {object} httpjson.ErrorResponse
// @Router /entities/{kind}/{id}/relationships [get]
func linksHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := refFrom(r)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		includeEnded, _ := strconv.ParseBool(r.URL.Query().Get("include_ended"))

		l, err := svc.Links(r.Context(), ref, includeEnded)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, linksResponse{Relationships: l.Relationships, Identifiers: l.Identifiers})
	}
}

// @Summary Revertir una edición de campo
// @Tags audit
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Dev only: user id (si no hay verifier)"
// @Param editID path string true "edit_id a revertir"
// @Param body body rollbackRequest false "Motivo"
// @Success 200 {object} rollbackResponse
// @Failure 400 {object} httpjson.ErrorResponse
// @Failure 404 {object} httpjson.ErrorResponse
// @Failure 409 {object} httpjson.ErrorResponse
// @Router /audit/{editID}/rollback [post]
func rollbackHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rollbackRequest
		if r.ContentLength != 0 {
			if err := httpjson.Decode(r, &req); err != nil {
				httpjson.WriteError(w, err)
				return
			}
		}

		claims, ok := middleware.EditorOr(w, r, req.EditorID, req.EditorName)
		if !ok {
			return
		}

		res, err := svc.Rollback(r.Context(), RollbackInput{
			EditID:     chi.URLParam(r, "editID"),
			EditorID:   claims.UserID,
			EditorName: claims.DisplayName(),
			Reason:     req.Reason,
		})
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		httpjson.WriteJSON(w, http.StatusOK, rollbackResponse{
			Success:          true,
			EditID:           res.EditID,
			RolledBackEditID: res.RolledBackEditID,
			Entity:           toEntityResponse(res.Entity),
		})
	}
}

func toEntityResponse(e records.Entity) map[string]any {
	return records.Flatten(e)
}
