package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvalox/arvalox/internal/shared"
)

var errDomain = errors.New("domain rule broken")

func TestRespondErrorPrefersHandlerMappings(t *testing.T) {
	rr := httptest.NewRecorder()
	status := RespondError(rr, fmt.Errorf("wrapped: %w", errDomain), ErrorMapping{Err: errDomain, Status: http.StatusUnprocessableEntity, Title: "Rule"})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "Rule", body.Title)
	assert.Contains(t, body.Detail, "domain rule broken")
}

func TestRespondErrorDefaults(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.ErrIdempotencyConflict)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	RespondError(rr, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "boom")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1.00","extra":true}`))
	var target struct {
		Amount string `json:"amount"`
	}
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, ErrValidation)
}

func TestFieldErrors(t *testing.T) {
	type form struct {
		Action string `validate:"required"`
	}
	err := validator.New().Struct(form{})
	fields := FieldErrors(err)
	assert.Equal(t, map[string]string{"Action": "required"}, fields)
}
