// Package httpjson junta los helpers JSON que antes se duplicaban en cada
// handler (writeJSON) más el mapeo de errores de dominio a HTTP.
package httpjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"tnr-records/internal/domain/records"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reporta errores con el nombre JSON del campo.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor mapea la categoría del error a un status HTTP.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, records.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, records.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, records.ErrPartialBatch):
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBodyFor arma el cuerpo estructurado. Los errores no tipados no
// filtran detalles internos.
func ErrorBodyFor(err error) ErrorBody {
	if de, ok := records.AsError(err); ok {
		msg := de.Message
		if msg == "" {
			msg = de.Kind.Error()
		}
		body := ErrorBody{Code: de.Code, Message: msg, Details: de.Details}
		if body.Code == "" {
			body.Code = strings.ReplaceAll(de.Kind.Error(), " ", "_")
		}
		return body
	}
	return ErrorBody{Code: "internal_error", Message: "internal error"}
}

func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), ErrorResponse{Success: false, Error: ErrorBodyFor(err)})
}

// Decode lee el body JSON en v y corre las validaciones `validate:"..."`.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return records.Validation("invalid_json", "invalid json body")
	}
	return Validate(v)
}

func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return records.Validation("invalid_request", fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag())).
				With("field", fe.Field())
		}
		return records.Validation("invalid_request", err.Error())
	}
	return nil
}
