package aging

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arvalox/arvalox/internal/ar"
	"github.com/arvalox/arvalox/internal/platform/clock"
	"github.com/arvalox/arvalox/internal/platform/httpx"
)

const maxTrendMonths = 24

// Handler serves aging reports.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers aging routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/report", h.report)
	r.Get("/summary", h.summary)
	r.Get("/customers", h.customers)
	r.Get("/overdue", h.overdue)
	r.Get("/trends", h.trends)
}

var errorMappings = []httpx.ErrorMapping{
	// A report over a corrupted ledger is a server fault, not a client one.
	{Err: ar.ErrLedgerInvariantViolation, Status: http.StatusInternalServerError, Title: "Ledger Invariant Violation"},
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if status := httpx.RespondError(w, err, errorMappings...); status >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

type queryErrors map[string]string

func (q queryErrors) parseDate(r *http.Request, name string) time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}
	}
	t, err := clock.ParseDate(raw)
	if err != nil {
		q[name] = "datetime"
	}
	return t
}

func (q queryErrors) parseUUID(r *http.Request, name string) uuid.UUID {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		q[name] = "uuid"
	}
	return id
}

func (q queryErrors) parseInt(r *http.Request, name string, def, lo, hi int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		q[name] = "range"
		return def
	}
	return n
}

func (q queryErrors) parseBool(r *http.Request, name string) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		q[name] = "boolean"
	}
	return b
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	errs := queryErrors{}
	params := ReportParams{
		AsOf:        errs.parseDate(r, "as_of_date"),
		CustomerID:  errs.parseUUID(r, "customer_id"),
		IncludePaid: errs.parseBool(r, "include_paid"),
	}
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	report, err := h.service.Report(r.Context(), orgID, params)
	if err != nil {
		h.fail(w, r, "aging report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	errs := queryErrors{}
	asOf := errs.parseDate(r, "as_of_date")
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	summary, err := h.service.Summary(r.Context(), orgID, asOf)
	if err != nil {
		h.fail(w, r, "aging summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) customers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	errs := queryErrors{}
	asOf := errs.parseDate(r, "as_of_date")
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	customers, err := h.service.CustomerSummaries(r.Context(), orgID, asOf)
	if err != nil {
		h.fail(w, r, "aging customers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, customers)
}

func (h *Handler) overdue(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	errs := queryErrors{}
	minDays := errs.parseInt(r, "days_overdue", 1, 1, 36500)
	customerID := errs.parseUUID(r, "customer_id")
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	invoices, err := h.service.Overdue(r.Context(), orgID, minDays, customerID)
	if err != nil {
		h.fail(w, r, "overdue invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

func (h *Handler) trends(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	errs := queryErrors{}
	months := errs.parseInt(r, "months_back", 6, 1, maxTrendMonths)
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	points, err := h.service.Trends(r.Context(), orgID, months)
	if err != nil {
		h.fail(w, r, "aging trends", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"trends":      points,
		"months_back": months,
	})
}
