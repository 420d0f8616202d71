package shared

import (
	"context"

	"github.com/google/uuid"
)

type organizationContextKey struct{}

type actorContextKey struct{}

// ContextWithOrganization stores the acting organization in context.
func ContextWithOrganization(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, organizationContextKey{}, orgID)
}

// OrganizationFromContext extracts the organization, reporting whether one was set.
func OrganizationFromContext(ctx context.Context) (uuid.UUID, bool) {
	orgID, ok := ctx.Value(organizationContextKey{}).(uuid.UUID)
	return orgID, ok && orgID != uuid.Nil
}

// ContextWithActor stores the acting user identifier in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the acting user identifier or an empty string.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}
