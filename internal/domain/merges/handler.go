package merges

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"tnr-records/internal/domain/links"
	"tnr-records/internal/domain/records"
	"tnr-records/internal/domain/scoring"
	"tnr-records/internal/middleware"
	"tnr-records/internal/platform/httpjson"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Get("/candidate-pairs", listHandler(svc))
	r.Post("/candidate-pairs", submitHandler(svc))
	r.Post("/candidate-pairs/resolve", batchHandler(svc))
	r.Get("/candidate-pairs/{pairID}", getHandler(svc))
	r.Post("/candidate-pairs/{pairID}/resolve", resolveHandler(svc))
}

type submitRequest struct {
	EntityType    string `json:"entity_type" validate:"required"`
	LeftEntityID  string `json:"left_entity_id" validate:"required"`
	RightEntityID string `json:"right_entity_id" validate:"required"`
	MatchType     string `json:"match_type" validate:"max=64"`
}

type submitResponse struct {
	Success  bool                       `json:"success"`
	Created  bool                       `json:"created"`
	Tier     scoring.Tier               `json:"tier"`
	Outcomes map[string]scoring.Outcome `json:"outcomes"`
	Pair     records.CandidatePair      `json:"pair"`
}

type listResponse struct {
	Count int                     `json:"count"`
	Items []records.CandidatePair `json:"items"`
}

type pairResponse struct {
	Pair  records.CandidatePair `json:"pair"`
	Left  map[string]any        `json:"left"`
	Right map[string]any        `json:"right"`
}

type resolveRequest struct {
	Decision      string `json:"decision" validate:"required,oneof=merge keep_separate dismiss"`
	KeepID        string `json:"keep_id"`
	Reason        string `json:"reason" validate:"max=1000"`
	DecidedBy     string `json:"decided_by"`
	DecidedByName string `json:"decided_by_name"`
}

type resolveResponse struct {
	Success    bool                  `json:"success"`
	EditID     string                `json:"edit_id"`
	SurvivorID string                `json:"survivor_id,omitempty"`
	LoserID    string                `json:"loser_id,omitempty"`
	Repoint    *links.RepointResult  `json:"repoint,omitempty"`
	Pair       records.CandidatePair `json:"pair"`
}

type batchRequest struct {
	PairIDs       []string `json:"pair_ids" validate:"required,min=1,max=200,dive,required"`
	Decision      string   `json:"decision" validate:"required,oneof=merge keep_separate dismiss"`
	Reason        string   `json:"reason" validate:"max=1000"`
	DecidedBy     string   `json:"decided_by"`
	DecidedByName string   `json:"decided_by_name"`
}

type batchResponse struct {
	Success bool `json:"success"`
	BatchResult
}

// @Summary Listar pares candidatos
// @Description Ordenados por probabilidad de match descendente.
// @Tags candidate-pairs
// @Produce json
// @Param entity_type query string false "Filtrar por tipo (person, cat, place, request)"
// @Param status query string false "pending, merged, kept_separate, dismissed. Por defecto pending"
// @Param limit query int false "Máximo (1-500). Por defecto 50"
// @Success 200 {object} listResponse
// @Failure 400 {object} httpjson.ErrorResponse
// @Router /candidate-pairs [get]
func listHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := ListFilter{Status: records.PairPending}

		if raw := strings.TrimSpace(q.Get("entity_type")); raw != "" {
			k, err := records.ParseKind(raw)
			if err != nil {
				httpjson.WriteError(w, err)
				return
			}
			f.Kind = k
		}
		if raw := strings.TrimSpace(q.Get("status")); raw != "" {
			st, err := records.ParsePairStatus(raw)
			if err != nil {
				httpjson.WriteError(w, err)
				return
			}
			f.Status = st
		}
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > MaxListLimit {
				httpjson.WriteError(w, records.Validation("invalid_limit", "limit must be between 1 and 500"))
				return
			}
			f.Limit = n
		}

		items, err := svc.List(r.Context(), f)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		if items == nil {
			items = []records.CandidatePair{}
		}
		httpjson.WriteJSON(w, http.StatusOK, listResponse{Count: len(items), Items: items})
	}
}

// @Summary Registrar un par candidato
// @Description Entrada del matcher externo. Puntúa el par; si ya existe uno pendiente para las mismas entidades se conserva la probabilidad más alta.
// @Tags candidate-pairs
// @Accept json
// @Produce json
// @Param body body submitRequest true "Par candidato"
// @Success 201 {object} submitResponse
// @Success 200 {object} submitResponse
// @Failure 400 {object} httpjson.ErrorResponse
// @Failure 404 {object} httpjson.ErrorResponse
// @Failure 409 {object} httpjson.ErrorResponse
// @Router /candidate-pairs [post]
func submitHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := httpjson.Decode(r, &req); err != nil {
			httpjson.WriteError(w, err)
			return
		}
		kind, err := records.ParseKind(req.EntityType)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		res, err := svc.Submit(r.Context(), SubmitInput{
			Kind:      kind,
			LeftID:    req.LeftEntityID,
			RightID:   req.RightEntityID,
			MatchType: req.MatchType,
		})
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		httpjson.WriteJSON(w, status, submitResponse{
			Success:  true,
			Created:  res.Created,
			Tier:     res.Tier,
			Outcomes: res.Outcomes,
			Pair:     res.Pair,
		})
	}
}

// @Summary Obtener un par candidato
// @Description Incluye el estado actual de ambas entidades para la pantalla de revisión.
// @Tags candidate-pairs
// @Produce json
// @Param pairID path string true "pair_id"
// @Success 200 {object} pairResponse
// @Failure 404 {object} httpjson.ErrorResponse
// @Router /candidate-pairs/{pairID} [get]
func getHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.Get(r.Context(), chi.URLParam(r, "pairID"))
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, pairResponse{
			Pair:  v.Pair,
			Left:  records.Flatten(v.Left),
			Right: records.Flatten(v.Right),
		})
	}
}

// @Summary Resolver un par candidato
// @Description merge fusiona las entidades (keep_id elige la sobreviviente, por defecto la izquierda); keep_separate suprime el par para el matcher; dismiss lo descarta.
// @Tags candidate-pairs
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Dev only: user id (si no hay verifier)"
// @Param pairID path string true "pair_id"
// @Param body body resolveRequest true "Decisión"
// @Success 200 {object} resolveResponse
// @Failure 400 {object} httpjson.ErrorResponse
// @Failure 401 {object} httpjson.ErrorResponse
// @Failure 404 {object} httpjson.ErrorResponse
// @Failure 409 {object} httpjson.ErrorResponse
// @Router /candidate-pairs/{pairID}/resolve [post]
func resolveHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if err := httpjson.Decode(r, &req); err != nil {
			httpjson.WriteError(w, err)
			return
		}
		claims, ok := middleware.EditorOr(w, r, req.DecidedBy, req.DecidedByName)
		if !ok {
			return
		}

		res, err := svc.Resolve(r.Context(), ResolveInput{
			PairID:        chi.URLParam(r, "pairID"),
			Decision:      records.Decision(req.Decision),
			DecidedBy:     claims.UserID,
			DecidedByName: claims.DisplayName(),
			Reason:        req.Reason,
			KeepID:        req.KeepID,
			Source:        records.SourceWebUI,
		})
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		httpjson.WriteJSON(w, http.StatusOK, resolveResponse{
			Success:    true,
			EditID:     res.EditID,
			SurvivorID: res.SurvivorID,
			LoserID:    res.LoserID,
			Repoint:    res.Repoint,
			Pair:       res.Pair,
		})
	}
}

// @Summary Resolver pares en lote
// @Description Cada par se resuelve en su propia transacción. Si alguno falla responde 207 con el detalle por par.
// @Tags candidate-pairs
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Dev only: user id (si no hay verifier)"
// @Param body body batchRequest true "Pares y decisión"
// @Success 200 {object} batchResponse
// @Success 207 {object} batchResponse
// @Failure 400 {object} httpjson.ErrorResponse
// @Failure 401 {object} httpjson.ErrorResponse
// @Router /candidate-pairs/resolve [post]
func batchHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := httpjson.Decode(r, &req); err != nil {
			httpjson.WriteError(w, err)
			return
		}
		claims, ok := middleware.EditorOr(w, r, req.DecidedBy, req.DecidedByName)
		if !ok {
			return
		}

		res, err := svc.ResolveBatch(r.Context(), BatchInput{
			PairIDs:       req.PairIDs,
			Decision:      records.Decision(req.Decision),
			DecidedBy:     claims.UserID,
			DecidedByName: claims.DisplayName(),
			Reason:        req.Reason,
			Source:        records.SourceWebUI,
		})
		var be *records.BatchError
		switch {
		case err == nil:
			httpjson.WriteJSON(w, http.StatusOK, batchResponse{Success: true, BatchResult: res})
		case errors.As(err, &be):
			httpjson.WriteJSON(w, http.StatusMultiStatus, batchResponse{Success: false, BatchResult: res})
		default:
			httpjson.WriteError(w, err)
		}
	}
}
