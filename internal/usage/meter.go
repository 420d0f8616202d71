package usage

import (
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Usage display levels.
const (
	LevelOK          = "ok"
	LevelApproaching = "approaching"
	LevelAtLimit     = "at_limit"
	LevelUnlimited   = "unlimited"

	approachingPercent = 80
	atLimitPercent     = 100
)

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Counter int    `json:"counter"`
	Limit   *int   `json:"limit"`
}

// PlanName returns the display name of the plan.
func PlanName(p Plan) string {
	if p.Name != "" {
		return p.Name
	}
	return cases.Title(language.English).String(string(p.Type))
}

func limitNoun(action Action) string {
	switch action {
	case ActionCreateInvoice:
		return "invoices per month"
	case ActionAddCustomer:
		return "customers"
	case ActionAddTeamMember:
		return "team members"
	}
	return action.Resource()
}

// Evaluate decides whether action may proceed given the subscription and current counters.
// The comparison is strict: reaching the limit blocks the next action.
func Evaluate(sub *Subscription, rec Record, action Action, now time.Time) (Decision, error) {
	if !action.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	counter := rec.Counter(action)
	if sub == nil {
		return Decision{Counter: counter, Reason: "no active subscription"}, nil
	}
	limit, gated := sub.Plan.Limits.For(action)
	if !sub.Usable(now) {
		return Decision{Counter: counter, Limit: limit, Reason: fmt.Sprintf("subscription is %s", sub.Status)}, nil
	}
	if !gated || limit == nil {
		return Decision{Allowed: true, Counter: counter, Limit: limit}, nil
	}
	if counter < *limit {
		return Decision{Allowed: true, Counter: counter, Limit: limit}, nil
	}
	return Decision{
		Counter: counter,
		Limit:   limit,
		Reason:  fmt.Sprintf("%s plan limit of %d %s reached", PlanName(sub.Plan), *limit, limitNoun(action)),
	}, nil
}

// UsagePercentage returns round(counter/limit*100), or nil when unlimited.
// A zero limit reports 100.
func UsagePercentage(counter int, limit *int) *int {
	if limit == nil {
		return nil
	}
	if *limit <= 0 {
		pct := atLimitPercent
		return &pct
	}
	pct := (counter*200 + *limit) / (2 * *limit)
	return &pct
}

// Level classifies a usage percentage for display.
func Level(pct *int) string {
	switch {
	case pct == nil:
		return LevelUnlimited
	case *pct >= atLimitPercent:
		return LevelAtLimit
	case *pct >= approachingPercent:
		return LevelApproaching
	}
	return LevelOK
}

// ResourceUsage is one line of a usage snapshot.
type ResourceUsage struct {
	Resource   string `json:"resource"`
	Action     Action `json:"action"`
	Used       int    `json:"used"`
	Limit      *int   `json:"limit"`
	Percentage *int   `json:"percentage"`
	Level      string `json:"level"`
}

// Snapshot summarises the current period for display.
type Snapshot struct {
	Period    string             `json:"period"`
	Plan      PlanType           `json:"plan"`
	Status    SubscriptionStatus `json:"status"`
	Resources []ResourceUsage    `json:"resources"`
	APICalls  int                `json:"api_calls_made"`
}

var gatedActions = []Action{ActionCreateInvoice, ActionAddCustomer, ActionAddTeamMember}

// BuildSnapshot derives per-resource usage from a record and plan.
func BuildSnapshot(sub Subscription, rec Record) Snapshot {
	snap := Snapshot{
		Period:   rec.Period.String(),
		Plan:     sub.Plan.Type,
		Status:   sub.Status,
		APICalls: rec.APICallsMade,
	}
	for _, action := range gatedActions {
		limit, _ := sub.Plan.Limits.For(action)
		used := rec.Counter(action)
		pct := UsagePercentage(used, limit)
		snap.Resources = append(snap.Resources, ResourceUsage{
			Resource:   action.Resource(),
			Action:     action,
			Used:       used,
			Limit:      limit,
			Percentage: pct,
			Level:      Level(pct),
		})
	}
	return snap
}
