package esp

import (
	"fmt"
	"strings"
)

// TenantMatch decides how multiple join records are compared against the
// cloud-assigned tenant.
type TenantMatch string

const (
	// TenantMatchAny proceeds when any join record carries the tenant.
	TenantMatchAny TenantMatch = "any"
	// TenantMatchLast compares only the last enumerated join record.
	TenantMatchLast TenantMatch = "last"
)

// ParseTenantMatch accepts the config spellings of a TenantMatch.
func ParseTenantMatch(s string) (TenantMatch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return TenantMatchAny, nil
	case "last":
		return TenantMatchLast, nil
	default:
		return "", fmt.Errorf("unknown tenant match %q (use any or last)", s)
	}
}

// GuardTenant returns nil when evaluation may proceed. Tenant ids are GUIDs
// and compared case-insensitively.
func GuardTenant(id TenantIdentity, mode TenantMatch) error {
	cloud := strings.TrimSpace(id.CloudAssignedTenantID)
	if cloud == "" {
		return newError(KindMissingInput, "cloud assigned tenant", ErrTenantIDNotFound)
	}

	candidates := make([]string, 0, len(id.JoinedTenantIDs))
	for _, joined := range id.JoinedTenantIDs {
		if joined = strings.TrimSpace(joined); joined != "" {
			candidates = append(candidates, joined)
		}
	}
	if len(candidates) == 0 {
		return newError(KindMissingInput, "joined tenant", ErrTenantIDNotFound)
	}

	if mode == TenantMatchLast {
		candidates = candidates[len(candidates)-1:]
	}
	for _, joined := range candidates {
		if strings.EqualFold(joined, cloud) {
			return nil
		}
	}
	return newError(KindIdentityMismatch, "joined tenant",
		fmt.Errorf("%w: cloud assigned %s, joined %s", ErrTenantIDMismatch, cloud, strings.Join(candidates, ",")))
}
