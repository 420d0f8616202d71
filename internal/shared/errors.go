package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrOrganizationRequired occurs when a request carries no organization scope.
	ErrOrganizationRequired = errors.New("organization required")
)
