package records

import (
	"errors"
	"fmt"
	"strings"
)

// Categorías de error. Se comparan con errors.Is sobre *Error.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("invalid input")
	ErrTransaction  = errors.New("transaction failure")
	ErrPartialBatch = errors.New("partial batch failure")
)

// Error lleva la categoría (Kind), un código estable para la UI y detalles
// estructurados (qué campo, qué entidad, qué par).
type Error struct {
	Kind    error
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// With agrega un detalle y devuelve el mismo error (encadenable).
func (e *Error) With(key string, v any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = v
	return e
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: msg}
}

func Conflict(code, msg string) *Error {
	return &Error{Kind: ErrConflict, Code: code, Message: msg}
}

func Validation(code, msg string) *Error {
	return &Error{Kind: ErrValidation, Code: code, Message: msg}
}

// TransactionFailure envuelve un error de storage. Si err ya es un *Error
// del dominio se devuelve tal cual.
func TransactionFailure(err error, msg string) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	var be *BatchError
	if errors.As(err, &be) {
		return err
	}
	return &Error{Kind: ErrTransaction, Code: "transaction_failed", Message: msg, Err: err}
}

func EntityNotFound(ref EntityRef) *Error {
	return NotFound("entity_not_found", fmt.Sprintf("%s %s not found", ref.Kind, ref.ID)).
		With("entity_type", ref.Kind).
		With("entity_id", ref.ID)
}

// AsError devuelve el *Error contenido en err, si existe.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// CodeOf devuelve el código estable de err ("" si no es un error de dominio).
func CodeOf(err error) string {
	if de, ok := AsError(err); ok {
		return de.Code
	}
	return ""
}

// BatchError reporta un lote con fallas parciales; el detalle por ítem viaja
// en el resultado del lote, no acá.
type BatchError struct {
	Total     int
	Failed    int
	FailedIDs []string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("partial batch failure: %d of %d failed (%s)", e.Failed, e.Total, strings.Join(e.FailedIDs, ","))
}

func (e *BatchError) Is(target error) bool {
	return target == ErrPartialBatch
}
