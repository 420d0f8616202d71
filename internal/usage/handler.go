package usage

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arvalox/arvalox/internal/platform/httpx"
)

const maxHistoryPeriods = 24

// Handler exposes the meter over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a usage Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers usage routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.snapshot)
	r.Get("/check", h.check)
	r.Get("/history", h.history)
	r.Get("/plans", h.plans)
	r.Post("/{action}", h.record)
}

var errorMappings = []httpx.ErrorMapping{
	{Err: ErrUnknownAction, Status: http.StatusBadRequest, Title: "Unknown Action"},
	{Err: ErrNoSubscription, Status: http.StatusNotFound, Title: "No Subscription"},
	{Err: ErrLimitExceeded, Status: http.StatusPaymentRequired, Title: "Plan Limit Reached"},
	{Err: ErrLockTimeout, Status: http.StatusServiceUnavailable, Title: "Busy"},
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if status := httpx.RespondError(w, err, errorMappings...); status >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	snap, err := h.service.Snapshot(r.Context(), orgID)
	if err != nil {
		h.fail(w, r, "usage snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	action := Action(r.URL.Query().Get("action"))
	decision, err := h.service.CanPerform(r.Context(), orgID, action)
	if err != nil {
		h.fail(w, r, "usage check", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"action":   action,
		"decision": decision,
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	periods := 6
	if raw := r.URL.Query().Get("periods"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryPeriods {
			httpx.ValidationProblem(w, map[string]string{"periods": "must be between 1 and 24"})
			return
		}
		periods = n
	}
	records, err := h.service.History(r.Context(), orgID, periods)
	if err != nil {
		h.fail(w, r, "usage history", err)
		return
	}
	type row struct {
		Period string `json:"period"`
		Record
	}
	out := make([]row, 0, len(records))
	for _, rec := range records {
		out = append(out, row{Period: rec.Period.String(), Record: rec})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) plans(w http.ResponseWriter, _ *http.Request) {
	out := make([]Plan, 0, len(DefaultPlans))
	for _, p := range DefaultPlans {
		p.Name = PlanName(p)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return planRank[out[i].Type] < planRank[out[j].Type] })
	httpx.JSON(w, http.StatusOK, out)
}

var planRank = map[PlanType]int{PlanFree: 0, PlanStarter: 1, PlanProfessional: 2, PlanEnterprise: 3}

// record counts an action performed outside this service, e.g. a customer added elsewhere.
func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	action := Action(chi.URLParam(r, "action"))
	err := h.service.Guard(r.Context(), orgID, action, noop)
	var limitErr *LimitError
	switch {
	case errors.As(err, &limitErr):
		w.Header().Set("Content-Type", "application/problem+json")
		httpx.JSON(w, http.StatusPaymentRequired, map[string]any{
			"title":    "Plan Limit Reached",
			"status":   http.StatusPaymentRequired,
			"detail":   limitErr.Decision.Reason,
			"decision": limitErr.Decision,
		})
		return
	case err != nil:
		h.fail(w, r, "record usage", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func noop(context.Context) error { return nil }
