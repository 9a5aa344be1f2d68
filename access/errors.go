package access

import (
	"errors"
	"fmt"
)

// ErrDenied is the sentinel all permission denials match via errors.Is.
var ErrDenied = errors.New("access: permission denied")

// Denial reason codes, one per rule in the checker.
const (
	ReasonExplicitDeny       = "explicit_deny"
	ReasonSessionMismatch    = "session_mismatch"
	ReasonNamespaceOwnership = "namespace_ownership"
	ReasonOwnerInsufficient  = "owner_insufficient"
	ReasonRoleInsufficient   = "role_insufficient"
)

// DeniedError reports a failed permission check. The fields exist for
// diagnostics and logging; the error text deliberately says nothing
// about whether the entry exists.
type DeniedError struct {
	Actor     Actor
	Required  Permission
	Reason    string
	Namespace string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access: permission denied (%s)", e.Reason)
}

// Is makes errors.Is(err, ErrDenied) succeed for any DeniedError.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}
