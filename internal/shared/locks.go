package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// UsageLockKey builds redis keys for the usage meter's read-check-increment section.
func UsageLockKey(orgID uuid.UUID, period Period, resource string) string {
	return fmt.Sprintf("usage:%s:%s:%s:lock", orgID, period, resource)
}
