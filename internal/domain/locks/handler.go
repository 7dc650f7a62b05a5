package locks

import (
	"errors"
	"net/http"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/middleware"
	"tnr-records/internal/platform/httpjson"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Get("/entities/{kind}/{id}/lock", statusHandler(svc))
	r.Post("/entities/{kind}/{id}/lock", acquireHandler(svc))
	r.Delete("/entities/{kind}/{id}/lock", releaseHandler(svc))
}

type acquireRequest struct {
	HolderID   string `json:"holder_id" validate:"max=200"`
	HolderName string `json:"holder_name" validate:"max=200"`
	Reason     string `json:"reason" validate:"max=500"`
}

type releaseRequest struct {
	HolderID string `json:"holder_id" validate:"max=200"`
}

type lockResponse struct {
	Success bool              `json:"success"`
	Locked  bool              `json:"locked"`
	Lock    *records.EditLock `json:"lock,omitempty"`
}

type acquireResponse struct {
	Success   bool             `json:"success"`
	Refreshed bool             `json:"refreshed"`
	Lock      records.EditLock `json:"lock"`
}

type conflictResponse struct {
	Success bool               `json:"success"`
	Error   httpjson.ErrorBody `json:"error"`
	Lock    any                `json:"lock,omitempty"`
}

type releaseResponse struct {
	Success  bool `json:"success"`
	Released bool `json:"released"`
}

func refFrom(r *http.Request) (records.EntityRef, error) {
	kind, err := records.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return records.EntityRef{}, err
	}
	ref := records.Ref(kind, chi.URLParam(r, "id"))
	return ref, ref.Validate()
}

// @Summary Estado del lock de edición
// @Tags locks
// @Produce json
// @Param kind path string true "Tipo de entidad"
// @Param id path string true "ID de la entidad"
// @Success 200 {object} lockResponse
// @Failure 400 {object} httpjson.ErrorResponse
// @Router /entities/{kind}/{id}/lock [get]
func statusHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := refFrom(r)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		l, err := svc.Status(r.Context(), ref)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lockResponse{Success: true, Locked: l != nil, Lock: l})
	}
}

// @Summary Tomar el lock de edición
// @Description Si el mismo usuario ya lo tiene se extiende el vencimiento. Si lo tiene otro usuario responde 409 con el lock vigente.
// @Tags locks
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Dev only: user id (si no hay verifier)"
// @Param kind path string true "Tipo de entidad"
// @Param id path string true "ID de la entidad"
// @Param body body acquireRequest false "Holder (si no hay claims) y motivo"
// @Success 200 {object} acquireResponse
// @Failure 401 {object} httpjson.ErrorResponse
// @Failure 404 {object} httpjson.ErrorResponse
// @Failure 409 {object} conflictResponse
// @Router /entities/{kind}/{id}/lock [post]
func acquireHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := refFrom(r)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		var req acquireRequest
		if r.ContentLength != 0 {
			if err := httpjson.Decode(r, &req); err != nil {
				httpjson.WriteError(w, err)
				return
			}
		}
		claims, ok := middleware.EditorOr(w, r, req.HolderID, req.HolderName)
		if !ok {
			return
		}

		res, err := svc.Acquire(r.Context(), AcquireInput{
			Ref:        ref,
			HolderID:   claims.UserID,
			HolderName: claims.DisplayName(),
			Reason:     req.Reason,
		})
		if err != nil {
			if errors.Is(err, records.ErrConflict) {
				out := conflictResponse{Success: false, Error: httpjson.ErrorBodyFor(err)}
				if de, ok := records.AsError(err); ok {
					out.Lock = de.Details["lock"]
				}
				httpjson.WriteJSON(w, http.StatusConflict, out)
				return
			}
			httpjson.WriteError(w, err)
			return
		}

		httpjson.WriteJSON(w, http.StatusOK, acquireResponse{Success: true, Refreshed: res.Refreshed, Lock: res.Lock})
	}
}

// @Summary Liberar el lock de edición
// @Tags locks
// @Produce json
// @Param X-Debug-User-ID header string false "Dev only: user id (si no hay verifier)"
// @Param kind path string true "Tipo de entidad"
// @Param id path string true "ID de la entidad"
// @Param body body releaseRequest false "Holder (si no hay claims)"
// @Success 200 {object} releaseResponse
// @Failure 401 {object} httpjson.ErrorResponse
// @Router /entities/{kind}/{id}/lock [delete]
func releaseHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := refFrom(r)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}

		var req releaseRequest
		if r.ContentLength != 0 {
			if err := httpjson.Decode(r, &req); err != nil {
				httpjson.WriteError(w, err)
				return
			}
		}
		claims, ok := middleware.EditorOr(w, r, req.HolderID, "")
		if !ok {
			return
		}

		released, err := svc.Release(r.Context(), ref, claims.UserID)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, releaseResponse{Success: true, Released: released})
	}
}
