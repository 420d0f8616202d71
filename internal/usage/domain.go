// Package usage meters organization activity against subscription plan limits.
package usage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arvalox/arvalox/internal/shared"
)

// Action is a metered operation.
type Action string

const (
	ActionCreateInvoice Action = "create_invoice"
	ActionAddCustomer   Action = "add_customer"
	ActionAddTeamMember Action = "add_team_member"
	// ActionAPICall is counted but never gated.
	ActionAPICall Action = "api_call"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreateInvoice, ActionAddCustomer, ActionAddTeamMember, ActionAPICall:
		return true
	}
	return false
}

// Resource names the counter an action increments.
func (a Action) Resource() string {
	switch a {
	case ActionCreateInvoice:
		return "invoices"
	case ActionAddCustomer:
		return "customers"
	case ActionAddTeamMember:
		return "team_members"
	case ActionAPICall:
		return "api_calls"
	}
	return string(a)
}

// PlanType enumerates subscription tiers.
type PlanType string

const (
	PlanFree         PlanType = "free"
	PlanStarter      PlanType = "starter"
	PlanProfessional PlanType = "professional"
	PlanEnterprise   PlanType = "enterprise"
)

// Limits holds per-resource caps. A nil limit is unlimited; zero is a real cap.
type Limits struct {
	MaxInvoicesPerMonth *int `json:"max_invoices_per_month"`
	MaxCustomers        *int `json:"max_customers"`
	MaxTeamMembers      *int `json:"max_team_members"`
}

// For returns the limit that gates action, and whether the action is gated at all.
func (l Limits) For(action Action) (*int, bool) {
	switch action {
	case ActionCreateInvoice:
		return l.MaxInvoicesPerMonth, true
	case ActionAddCustomer:
		return l.MaxCustomers, true
	case ActionAddTeamMember:
		return l.MaxTeamMembers, true
	}
	return nil, false
}

// Plan is the reference data attached to a subscription.
type Plan struct {
	Type   PlanType `json:"plan_type"`
	Name   string   `json:"name"`
	Limits Limits   `json:"limits"`
}

// Limit returns a pointer to n, for building plan limits.
func Limit(n int) *int {
	return &n
}

// DefaultPlans is the built-in plan catalog; the subscription_plans seed mirrors it.
var DefaultPlans = map[PlanType]Plan{
	PlanFree:         {Type: PlanFree, Limits: Limits{MaxInvoicesPerMonth: Limit(5), MaxCustomers: Limit(10), MaxTeamMembers: Limit(1)}},
	PlanStarter:      {Type: PlanStarter, Limits: Limits{MaxInvoicesPerMonth: Limit(100), MaxCustomers: Limit(50), MaxTeamMembers: Limit(5)}},
	PlanProfessional: {Type: PlanProfessional, Limits: Limits{MaxInvoicesPerMonth: Limit(1000), MaxCustomers: Limit(2000), MaxTeamMembers: Limit(15)}},
	PlanEnterprise:   {Type: PlanEnterprise},
}

// SubscriptionStatus enumerates billing states.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPaused   SubscriptionStatus = "paused"
)

// Subscription is an organization's active plan binding.
type Subscription struct {
	OrganizationID   uuid.UUID          `json:"organization_id"`
	Plan             Plan               `json:"plan"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
	TrialEnd         time.Time          `json:"trial_end"`
}

// Usable reports whether the subscription grants access at now.
// A zero end time is open-ended.
func (s Subscription) Usable(now time.Time) bool {
	switch s.Status {
	case SubscriptionActive:
		return s.CurrentPeriodEnd.IsZero() || !now.After(s.CurrentPeriodEnd)
	case SubscriptionTrialing:
		return s.TrialEnd.IsZero() || !now.After(s.TrialEnd)
	}
	return false
}

// Record holds one organization's counters for one period.
type Record struct {
	OrganizationID   uuid.UUID     `json:"organization_id"`
	Period           shared.Period `json:"-"`
	InvoicesCreated  int           `json:"invoices_created"`
	CustomersCreated int           `json:"customers_created"`
	TeamMembersAdded int           `json:"team_members_added"`
	APICallsMade     int           `json:"api_calls_made"`
}

// Counter returns the counter that action increments.
func (r Record) Counter(action Action) int {
	switch action {
	case ActionCreateInvoice:
		return r.InvoicesCreated
	case ActionAddCustomer:
		return r.CustomersCreated
	case ActionAddTeamMember:
		return r.TeamMembersAdded
	case ActionAPICall:
		return r.APICallsMade
	}
	return 0
}

// Increment bumps the counter for action.
func (r *Record) Increment(action Action) {
	switch action {
	case ActionCreateInvoice:
		r.InvoicesCreated++
	case ActionAddCustomer:
		r.CustomersCreated++
	case ActionAddTeamMember:
		r.TeamMembersAdded++
	case ActionAPICall:
		r.APICallsMade++
	}
}

var (
	// ErrLimitExceeded indicates the plan limit for the action is reached.
	ErrLimitExceeded = errors.New("usage: plan limit exceeded")
	// ErrNoSubscription indicates the organization has no subscription.
	ErrNoSubscription = errors.New("usage: no subscription")
	// ErrUnknownAction indicates an action outside the metered set.
	ErrUnknownAction = errors.New("usage: unknown action")
	// ErrLockTimeout indicates the meter lock could not be acquired in time.
	ErrLockTimeout = errors.New("usage: lock wait timed out")
)

// LimitError carries the decision that denied an action.
type LimitError struct {
	Action   Action
	Decision Decision
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Action, e.Decision.Reason)
}

// Unwrap allows errors.Is(err, ErrLimitExceeded).
func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}
