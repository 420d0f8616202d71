package usage

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvalox/arvalox/internal/shared"
)

func newTestRouter(t *testing.T, plan PlanType) (http.Handler, uuid.UUID) {
	t.Helper()
	svc, _, orgID := newTestService(t, plan)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Route("/usage", h.MountRoutes)
	return r, orgID
}

func orgRequest(method, target string, orgID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(shared.ContextWithOrganization(req.Context(), orgID))
}

func TestHandlerRecordUntilLimit(t *testing.T) {
	router, orgID := newTestRouter(t, PlanFree)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, orgRequest(http.MethodPost, "/usage/add_team_member", orgID))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, orgRequest(http.MethodPost, "/usage/add_team_member", orgID))
	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Contains(t, rr.Body.String(), "Free plan limit of 1 team members reached")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, orgRequest(http.MethodGet, "/usage/check?action=add_team_member", orgID))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Decision Decision `json:"decision"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.False(t, body.Decision.Allowed)
	assert.Equal(t, 1, body.Decision.Counter)
}

func TestHandlerRejectsUnknownActionAndMissingOrg(t *testing.T) {
	router, orgID := newTestRouter(t, PlanFree)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, orgRequest(http.MethodGet, "/usage/check?action=fly", orgID))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/usage/", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerSnapshot(t *testing.T) {
	router, orgID := newTestRouter(t, PlanStarter)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, orgRequest(http.MethodGet, "/usage/", orgID))
	require.Equal(t, http.StatusOK, rr.Code)

	var snap Snapshot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	assert.Equal(t, "2024-03", snap.Period)
	assert.Equal(t, PlanStarter, snap.Plan)
	require.Len(t, snap.Resources, 3)
}
