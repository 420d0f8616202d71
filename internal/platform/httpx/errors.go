// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/arvalox/arvalox/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrorMapping binds a domain error to an HTTP status and problem title.
type ErrorMapping struct {
	Err    error
	Status int
	Title  string
}

var defaultMappings = []ErrorMapping{
	{Err: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: shared.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrConflict, Status: http.StatusConflict, Title: "Conflict"},
	{Err: shared.ErrIdempotencyConflict, Status: http.StatusConflict, Title: "Duplicate Request"},
	{Err: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: shared.ErrOrganizationRequired, Status: http.StatusBadRequest, Title: "Organization Required"},
	{Err: ErrForbidden, Status: http.StatusForbidden, Title: "Forbidden"},
	{Err: ErrUnauthorized, Status: http.StatusUnauthorized, Title: "Unauthorized"},
}

// RespondError maps errors to RFC7807 responses, checking the handler's mappings first.
// It reports the status written.
func RespondError(w http.ResponseWriter, err error, mappings ...ErrorMapping) int {
	for _, table := range [][]ErrorMapping{mappings, defaultMappings} {
		for _, m := range table {
			if errors.Is(err, m.Err) {
				Problem(w, m.Status, m.Title, err.Error())
				return m.Status
			}
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
	return http.StatusInternalServerError
}

// FieldErrors flattens validator errors into field -> tag messages.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// OrganizationID reads the tenant from the request context, writing a 400 when absent.
func OrganizationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orgID, ok := shared.OrganizationFromContext(r.Context())
	if !ok {
		RespondError(w, shared.ErrOrganizationRequired)
		return uuid.Nil, false
	}
	return orgID, true
}
