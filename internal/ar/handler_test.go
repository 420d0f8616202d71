package ar

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/arvalox/arvalox/internal/platform/httpx"
	"github.com/arvalox/arvalox/internal/shared"
)

type HandlerSuite struct {
	suite.Suite
	fx     *fixture
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.fx = newFixture(s.T())
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), s.fx.svc)
	r := chi.NewRouter()
	r.Route("/ar", h.MountRoutes)
	s.router = r
}

func (s *HandlerSuite) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	req = req.WithContext(shared.ContextWithOrganization(req.Context(), s.fx.org))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *HandlerSuite) createInvoice() invoiceView {
	rr := s.do(http.MethodPost, "/ar/invoices", map[string]any{
		"customer_id":  uuid.NewString(),
		"invoice_date": "2024-02-01",
		"due_date":     "2024-03-01",
		"tax_rate":     "10",
		"items": []map[string]string{
			{"description": "Retainer", "quantity": "1", "unit_price": "100.00"},
		},
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	var view invoiceView
	s.Require().NoError(json.NewDecoder(rr.Body).Decode(&view))
	return view
}

func (s *HandlerSuite) problem(rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	var p httpx.ProblemDetail
	s.Require().NoError(json.NewDecoder(rr.Body).Decode(&p))
	return p
}

func (s *HandlerSuite) TestInvoiceLifecycle() {
	view := s.createInvoice()
	s.Equal(StatusDraft, view.Status)
	s.Equal("110.00", view.Balance.StringFixed(2))

	rr := s.do(http.MethodPost, "/ar/invoices/"+view.ID.String()+"/send", nil)
	s.Require().Equal(http.StatusOK, rr.Code)

	rr = s.do(http.MethodPost, "/ar/payments", map[string]string{
		"invoice_id":     view.ID.String(),
		"amount":         "60.00",
		"payment_method": "bank_transfer",
		"payment_date":   "2024-02-10",
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	var paid struct {
		Payment Payment     `json:"payment"`
		Invoice invoiceView `json:"invoice"`
	}
	s.Require().NoError(json.NewDecoder(rr.Body).Decode(&paid))
	s.Equal("50.00", paid.Invoice.Balance.StringFixed(2))
	s.Equal(PaymentCompleted, paid.Payment.Status)

	rr = s.do(http.MethodPost, "/ar/payments", map[string]string{
		"invoice_id":     view.ID.String(),
		"amount":         "60.00",
		"payment_method": "cash",
	})
	s.Equal(http.StatusUnprocessableEntity, rr.Code)
	s.Equal("Overpayment Rejected", s.problem(rr).Title)

	rr = s.do(http.MethodGet, "/ar/invoices/"+view.ID.String()+"/payments", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), paid.Payment.ID.String())
}

func (s *HandlerSuite) TestValidationErrors() {
	rr := s.do(http.MethodPost, "/ar/invoices", map[string]any{
		"customer_id": "not-a-uuid",
		"items":       []map[string]string{},
	})
	s.Require().Equal(http.StatusBadRequest, rr.Code)
	p := s.problem(rr)
	s.Equal("uuid", p.Errors["CustomerID"])
	s.Equal("min", p.Errors["Items"])

	rr = s.do(http.MethodPost, "/ar/payments", map[string]string{
		"invoice_id":     uuid.NewString(),
		"amount":         "ten",
		"payment_method": "barter",
	})
	s.Require().Equal(http.StatusBadRequest, rr.Code)
	p = s.problem(rr)
	s.Contains(p.Errors, "Amount")
	s.Contains(p.Errors, "Method")
}

func (s *HandlerSuite) TestPaymentOnDraftConflicts() {
	view := s.createInvoice()
	rr := s.do(http.MethodPost, "/ar/payments", map[string]string{
		"invoice_id":     view.ID.String(),
		"amount":         "1.00",
		"payment_method": "cash",
	})
	s.Equal(http.StatusConflict, rr.Code)
}

func (s *HandlerSuite) TestIdempotencyHeader() {
	view := s.createInvoice()
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/ar/invoices/"+view.ID.String()+"/send", nil).Code)
	body := map[string]string{"invoice_id": view.ID.String(), "amount": "5.00", "payment_method": "cash"}

	s.Equal(http.StatusCreated, s.do(http.MethodPost, "/ar/payments", body, "Idempotency-Key", "abc").Code)
	s.Equal(http.StatusConflict, s.do(http.MethodPost, "/ar/payments", body, "Idempotency-Key", "abc").Code)
}

func (s *HandlerSuite) TestPendingPaymentEndpoints() {
	view := s.createInvoice()
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/ar/invoices/"+view.ID.String()+"/send", nil).Code)

	rr := s.do(http.MethodPost, "/ar/payments/pending", map[string]string{
		"invoice_id":     view.ID.String(),
		"amount":         "20.00",
		"payment_method": "online",
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	var pending Payment
	s.Require().NoError(json.NewDecoder(rr.Body).Decode(&pending))

	rr = s.do(http.MethodPatch, "/ar/payments/"+pending.ID.String(), map[string]string{"amount": "25.00"})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(http.MethodPost, "/ar/payments/"+pending.ID.String()+"/status", map[string]string{"status": "completed"})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(http.MethodDelete, "/ar/payments/"+pending.ID.String(), nil)
	s.Equal(http.StatusConflict, rr.Code)

	rr = s.do(http.MethodGet, "/ar/invoices/"+view.ID.String(), nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	var got invoiceView
	s.Require().NoError(json.NewDecoder(rr.Body).Decode(&got))
	s.Equal("85.00", got.Balance.StringFixed(2))
}

func (s *HandlerSuite) TestUnknownInvoice() {
	rr := s.do(http.MethodGet, "/ar/invoices/"+uuid.NewString(), nil)
	s.Equal(http.StatusNotFound, rr.Code)
	rr = s.do(http.MethodGet, "/ar/invoices/nope", nil)
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *HandlerSuite) sentInvoice() invoiceView {
	view := s.createInvoice()
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/ar/invoices/"+view.ID.String()+"/send", nil).Code)
	return view
}

func (s *HandlerSuite) TestAllocateEndpoint() {
	first, second := s.sentInvoice(), s.sentInvoice()

	rr := s.do(http.MethodPost, "/ar/payments/allocate", map[string]any{
		"amount":         "150.00",
		"payment_method": "bank_transfer",
		"allocations": []map[string]string{
			{"invoice_id": first.ID.String(), "amount": "110.00"},
			{"invoice_id": second.ID.String(), "amount": "40.00"},
		},
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	var result AllocationResult
	s.Require().NoError(json.NewDecoder(rr.Body).Decode(&result))
	s.Len(result.Payments, 2)
	s.Equal(StatusPaid, result.Allocations[0].InvoiceStatus)

	rr = s.do(http.MethodPost, "/ar/payments/allocate", map[string]any{
		"amount":         "80.00",
		"payment_method": "cash",
		"allocations":    []map[string]string{{"invoice_id": second.ID.String(), "amount": "70.00"}},
	})
	s.Equal(http.StatusUnprocessableEntity, rr.Code)
	s.Equal("Overpayment Rejected", s.problem(rr).Title)

	rr = s.do(http.MethodPost, "/ar/payments/allocate", map[string]any{
		"amount":         "10.00",
		"payment_method": "cash",
		"allocations":    []map[string]string{},
	})
	s.Equal(http.StatusBadRequest, rr.Code)
	s.Equal("min", s.problem(rr).Errors["Allocations"])
}

func (s *HandlerSuite) TestAutoAllocateAndSuggestions() {
	first := s.sentInvoice()
	s.sentInvoice()

	rr := s.do(http.MethodGet, "/ar/payments/allocation-suggestions?amount=250.00", nil)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	var plan AllocationPlan
	s.Require().NoError(json.NewDecoder(rr.Body).Decode(&plan))
	s.Len(plan.Allocations, 2)
	s.Equal("30.00", plan.Unallocated.StringFixed(2))

	rr = s.do(http.MethodGet, "/ar/payments/allocation-suggestions", nil)
	s.Equal(http.StatusBadRequest, rr.Code)
	s.Equal("required", s.problem(rr).Errors["amount"])

	rr = s.do(http.MethodPost, "/ar/payments/auto-allocate", map[string]string{
		"amount":         "250.00",
		"payment_method": "online",
	})
	s.Equal(http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(http.MethodPost, "/ar/payments/auto-allocate", map[string]string{
		"amount":         "220.00",
		"payment_method": "online",
	})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(http.MethodGet, "/ar/invoices/"+first.ID.String(), nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	var got invoiceView
	s.Require().NoError(json.NewDecoder(rr.Body).Decode(&got))
	s.Equal(StatusPaid, got.Status)
}
