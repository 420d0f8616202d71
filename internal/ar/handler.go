package ar

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arvalox/arvalox/internal/money"
	"github.com/arvalox/arvalox/internal/platform/clock"
	"github.com/arvalox/arvalox/internal/platform/httpx"
	"github.com/arvalox/arvalox/internal/shared"
	"github.com/arvalox/arvalox/internal/usage"
)

// Handler manages AR endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers AR routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Post("/", h.createInvoice)
		r.Get("/{id}", h.showInvoice)
		r.Post("/{id}/send", h.sendInvoice)
		r.Post("/{id}/cancel", h.cancelInvoice)
		r.Get("/{id}/payments", h.listPayments)
	})
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.recordPayment)
		r.Post("/pending", h.recordPendingPayment)
		r.Post("/allocate", h.allocatePayment)
		r.Post("/auto-allocate", h.autoAllocatePayment)
		r.Get("/allocation-suggestions", h.allocationSuggestions)
		r.Get("/{id}", h.showPayment)
		r.Patch("/{id}", h.editPayment)
		r.Delete("/{id}", h.deletePayment)
		r.Post("/{id}/status", h.updatePaymentStatus)
	})
}

var errorMappings = []httpx.ErrorMapping{
	{Err: ErrInvoiceNotFound, Status: http.StatusNotFound, Title: "Invoice Not Found"},
	{Err: ErrPaymentNotFound, Status: http.StatusNotFound, Title: "Payment Not Found"},
	{Err: ErrInvalidAmount, Status: http.StatusBadRequest, Title: "Invalid Amount"},
	{Err: ErrInvalidLineItem, Status: http.StatusBadRequest, Title: "Invalid Line Item"},
	{Err: ErrInvalidInvoice, Status: http.StatusBadRequest, Title: "Invalid Invoice"},
	{Err: ErrInvalidPayment, Status: http.StatusBadRequest, Title: "Invalid Payment"},
	{Err: ErrDuplicateInvoiceNumber, Status: http.StatusConflict, Title: "Duplicate Invoice Number"},
	{Err: ErrIllegalStatusTransition, Status: http.StatusConflict, Title: "Illegal Status Transition"},
	{Err: ErrInvoiceNotPayable, Status: http.StatusConflict, Title: "Invoice Not Payable"},
	{Err: ErrPaymentNotEditable, Status: http.StatusConflict, Title: "Payment Not Editable"},
	{Err: ErrOverpaymentRejected, Status: http.StatusUnprocessableEntity, Title: "Overpayment Rejected"},
	{Err: usage.ErrLimitExceeded, Status: http.StatusPaymentRequired, Title: "Plan Limit Reached"},
	{Err: usage.ErrLockTimeout, Status: http.StatusServiceUnavailable, Title: "Busy"},
	{Err: money.ErrUnknownCurrency, Status: http.StatusBadRequest, Title: "Unknown Currency"},
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if status := httpx.RespondError(w, err, errorMappings...); status >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, form any) bool {
	if err := httpx.DecodeJSON(r, form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return false
	}
	return true
}

type invoiceView struct {
	Invoice
	Balance decimal.Decimal `json:"balance"`
}

func newInvoiceView(inv Invoice) invoiceView {
	balance, _ := OutstandingBalance(inv)
	return invoiceView{Invoice: inv, Balance: balance}
}

type lineItemForm struct {
	Description string `json:"description" validate:"required,max=500"`
	Quantity    string `json:"quantity" validate:"required,numeric"`
	UnitPrice   string `json:"unit_price" validate:"required,numeric"`
}

type createInvoiceForm struct {
	CustomerID  string         `json:"customer_id" validate:"required,uuid"`
	Number      string         `json:"invoice_number" validate:"omitempty,max=50"`
	Currency    string         `json:"currency" validate:"omitempty,len=3,alpha"`
	InvoiceDate string         `json:"invoice_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate     string         `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	TaxRate     string         `json:"tax_rate" validate:"omitempty,numeric"`
	Items       []lineItemForm `json:"items" validate:"required,min=1,dive"`
	Notes       string         `json:"notes" validate:"max=2000"`
}

func (f createInvoiceForm) input() (CreateInvoiceInput, map[string]string) {
	errs := map[string]string{}
	in := CreateInvoiceInput{
		CustomerID: uuid.MustParse(f.CustomerID),
		Number:     f.Number,
		Currency:   f.Currency,
		Notes:      f.Notes,
	}
	in.InvoiceDate = parseDate(f.InvoiceDate, "invoice_date", errs)
	in.DueDate = parseDate(f.DueDate, "due_date", errs)
	in.TaxRate = parseAmount(f.TaxRate, "tax_rate", errs)
	for _, item := range f.Items {
		in.Items = append(in.Items, LineItemInput{
			Description: strings.TrimSpace(item.Description),
			Quantity:    parseAmount(item.Quantity, "quantity", errs),
			UnitPrice:   parseAmount(item.UnitPrice, "unit_price", errs),
		})
	}
	return in, errs
}

func parseDate(raw, field string, errs map[string]string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := clock.ParseDate(raw)
	if err != nil {
		errs[field] = "datetime"
	}
	return t
}

func parseAmount(raw, field string, errs map[string]string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := money.Parse(raw)
	if err != nil {
		errs[field] = "numeric"
	}
	return d
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	var form createInvoiceForm
	if !h.decode(w, r, &form) {
		return
	}
	input, errs := form.input()
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), orgID, input)
	if err != nil {
		h.fail(w, r, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newInvoiceView(inv))
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page := shared.PaginationFromQuery(q)
	req := ListInvoicesRequest{
		Status: InvoiceStatus(q.Get("status")),
		Limit:  page.PerPage,
		Offset: page.Offset(),
	}
	if raw := q.Get("customer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.ValidationProblem(w, map[string]string{"customer_id": "uuid"})
			return
		}
		req.CustomerID = id
	}
	invoices, err := h.service.ListInvoices(r.Context(), orgID, req)
	if err != nil {
		h.fail(w, r, "list invoices", err)
		return
	}
	out := make([]invoiceView, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, newInvoiceView(inv))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoices": out,
		"page":     page.Page,
		"per_page": page.PerPage,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"id": "uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.GetInvoiceChecked(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, r, "show invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceView(inv))
}

func (h *Handler) sendInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceAction(w, r, "send invoice", h.service.IssueInvoice)
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceAction(w, r, "cancel invoice", h.service.CancelInvoice)
}

func (h *Handler) invoiceAction(w http.ResponseWriter, r *http.Request, msg string, action func(ctx context.Context, orgID, id uuid.UUID) (Invoice, error)) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := action(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, r, msg, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceView(inv))
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payments, err := h.service.ListPayments(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, r, "list payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

type remittanceForm struct {
	Amount          string `json:"amount" validate:"required,numeric"`
	PaymentDate     string `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Method          string `json:"payment_method" validate:"required,oneof=cash check bank_transfer credit_card online other"`
	ReferenceNumber string `json:"reference_number" validate:"max=100"`
	Notes           string `json:"notes" validate:"max=2000"`
}

func (f remittanceForm) remittance(idempotencyKey string, errs map[string]string) Remittance {
	return Remittance{
		Amount:          parseAmount(f.Amount, "amount", errs),
		PaymentDate:     parseDate(f.PaymentDate, "payment_date", errs),
		Method:          PaymentMethod(f.Method),
		ReferenceNumber: f.ReferenceNumber,
		Notes:           f.Notes,
		IdempotencyKey:  idempotencyKey,
	}
}

type paymentForm struct {
	InvoiceID string `json:"invoice_id" validate:"required,uuid"`
	remittanceForm
}

func (f paymentForm) input(idempotencyKey string) (RecordPaymentInput, map[string]string) {
	errs := map[string]string{}
	rem := f.remittance(idempotencyKey, errs)
	return RecordPaymentInput{
		InvoiceID:       uuid.MustParse(f.InvoiceID),
		Amount:          rem.Amount,
		PaymentDate:     rem.PaymentDate,
		Method:          rem.Method,
		ReferenceNumber: rem.ReferenceNumber,
		Notes:           rem.Notes,
		IdempotencyKey:  rem.IdempotencyKey,
	}, errs
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func (h *Handler) paymentInput(w http.ResponseWriter, r *http.Request) (uuid.UUID, RecordPaymentInput, bool) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return uuid.Nil, RecordPaymentInput{}, false
	}
	var form paymentForm
	if !h.decode(w, r, &form) {
		return uuid.Nil, RecordPaymentInput{}, false
	}
	input, errs := form.input(idempotencyKey(r))
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return uuid.Nil, RecordPaymentInput{}, false
	}
	return orgID, input, true
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	orgID, input, ok := h.paymentInput(w, r)
	if !ok {
		return
	}
	payment, inv, err := h.service.RecordPayment(r.Context(), orgID, input)
	if err != nil {
		h.fail(w, r, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"payment": payment,
		"invoice": newInvoiceView(inv),
	})
}

func (h *Handler) recordPendingPayment(w http.ResponseWriter, r *http.Request) {
	orgID, input, ok := h.paymentInput(w, r)
	if !ok {
		return
	}
	payment, err := h.service.RecordPendingPayment(r.Context(), orgID, input)
	if err != nil {
		h.fail(w, r, "record pending payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

type allocationLineForm struct {
	InvoiceID string `json:"invoice_id" validate:"required,uuid"`
	Amount    string `json:"amount" validate:"required,numeric"`
}

type allocatePaymentForm struct {
	remittanceForm
	Allocations []allocationLineForm `json:"allocations" validate:"required,min=1,dive"`
}

func (h *Handler) allocatePayment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	var form allocatePaymentForm
	if !h.decode(w, r, &form) {
		return
	}
	errs := map[string]string{}
	input := AllocatePaymentInput{Remittance: form.remittance(idempotencyKey(r), errs)}
	for _, line := range form.Allocations {
		input.Allocations = append(input.Allocations, AllocationLine{
			InvoiceID: uuid.MustParse(line.InvoiceID),
			Amount:    parseAmount(line.Amount, "allocations.amount", errs),
		})
	}
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	result, err := h.service.AllocatePayment(r.Context(), orgID, input)
	if err != nil {
		h.fail(w, r, "allocate payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type autoAllocateForm struct {
	remittanceForm
	CustomerID string `json:"customer_id" validate:"omitempty,uuid"`
}

func (h *Handler) autoAllocatePayment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	var form autoAllocateForm
	if !h.decode(w, r, &form) {
		return
	}
	errs := map[string]string{}
	input := AutoAllocateInput{Remittance: form.remittance(idempotencyKey(r), errs)}
	if form.CustomerID != "" {
		input.CustomerID = uuid.MustParse(form.CustomerID)
	}
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	result, err := h.service.AutoAllocate(r.Context(), orgID, input)
	if err != nil {
		h.fail(w, r, "auto-allocate payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) allocationSuggestions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	errs := map[string]string{}
	raw := strings.TrimSpace(q.Get("amount"))
	if raw == "" {
		errs["amount"] = "required"
	}
	amount := parseAmount(raw, "amount", errs)
	customerID := uuid.Nil
	if rawCustomer := q.Get("customer_id"); rawCustomer != "" {
		id, err := uuid.Parse(rawCustomer)
		if err != nil {
			errs["customer_id"] = "uuid"
		}
		customerID = id
	}
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	plan, err := h.service.AllocationSuggestions(r.Context(), orgID, amount, customerID)
	if err != nil {
		h.fail(w, r, "allocation suggestions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) showPayment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payment, err := h.service.GetPayment(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, r, "show payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

type paymentUpdateForm struct {
	Amount          *string `json:"amount" validate:"omitempty,numeric"`
	PaymentDate     *string `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Method          *string `json:"payment_method" validate:"omitempty,oneof=cash check bank_transfer credit_card online other"`
	ReferenceNumber *string `json:"reference_number" validate:"omitempty,max=100"`
	Notes           *string `json:"notes" validate:"omitempty,max=2000"`
}

func (f paymentUpdateForm) update() (PaymentUpdate, map[string]string) {
	errs := map[string]string{}
	upd := PaymentUpdate{ReferenceNumber: f.ReferenceNumber, Notes: f.Notes}
	if f.Amount != nil {
		amount := parseAmount(*f.Amount, "amount", errs)
		upd.Amount = &amount
	}
	if f.PaymentDate != nil {
		date := parseDate(*f.PaymentDate, "payment_date", errs)
		upd.PaymentDate = &date
	}
	if f.Method != nil {
		method := PaymentMethod(*f.Method)
		upd.Method = &method
	}
	return upd, errs
}

func (h *Handler) editPayment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form paymentUpdateForm
	if !h.decode(w, r, &form) {
		return
	}
	upd, errs := form.update()
	if len(errs) > 0 {
		httpx.ValidationProblem(w, errs)
		return
	}
	payment, err := h.service.EditPayment(r.Context(), orgID, id, upd)
	if err != nil {
		h.fail(w, r, "edit payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePayment(r.Context(), orgID, id); err != nil {
		h.fail(w, r, "delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type paymentStatusForm struct {
	Status string `json:"status" validate:"required,oneof=pending completed failed cancelled"`
}

func (h *Handler) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httpx.OrganizationID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form paymentStatusForm
	if !h.decode(w, r, &form) {
		return
	}
	payment, inv, err := h.service.UpdatePaymentStatus(r.Context(), orgID, id, PaymentStatus(form.Status))
	if err != nil {
		h.fail(w, r, "update payment status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"payment": payment,
		"invoice": newInvoiceView(inv),
	})
}
