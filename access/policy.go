package access

// Policy governs access to one cache entry, or serves as a wrapper
// level default. User and agent permissions are independent so that an
// agent can hold Execute without Read.
type Policy struct {
	// UserPermissions apply to USER actors that are not the owner.
	UserPermissions Permission `json:"user_permissions"`

	// AgentPermissions apply to AGENT actors that are not the owner.
	AgentPermissions Permission `json:"agent_permissions"`

	// Owner is an actor-specifier string ("user:alice"). Empty means
	// no owner.
	Owner string `json:"owner,omitempty"`

	// OwnerPermissions apply only to the owner.
	OwnerPermissions Permission `json:"owner_permissions,omitempty"`

	// AllowedActors are glob patterns granting access outright,
	// bypassing the role-based permission check but not denials,
	// session binding, or namespace ownership.
	AllowedActors []string `json:"allowed_actors,omitempty"`

	// DeniedActors are glob patterns denying access outright,
	// overriding everything including ownership.
	DeniedActors []string `json:"denied_actors,omitempty"`

	// BoundSession pins the entry to one session id. Empty means the
	// entry is not session-bound.
	BoundSession string `json:"bound_session,omitempty"`
}

// DefaultPolicy returns the policy applied when none is given: users
// hold full permissions, agents may read and execute but not mutate.
func DefaultPolicy() Policy {
	return Policy{
		UserPermissions:  Full,
		AgentPermissions: Read | Execute,
	}
}

// ReadOnlyPolicy returns a policy where users and agents may only read.
func ReadOnlyPolicy() Policy {
	return Policy{
		UserPermissions:  Read,
		AgentPermissions: Read,
	}
}

// BlindComputePolicy returns a policy where agents may pass the value
// into computation but never see it, while the owner retains full
// control.
func BlindComputePolicy(owner string) Policy {
	return Policy{
		UserPermissions:  None,
		AgentPermissions: Execute,
		Owner:            owner,
		OwnerPermissions: Full,
	}
}

// OwnedPolicy returns a policy granting the owner full permissions and
// everyone else nothing.
func OwnedPolicy(owner string) Policy {
	return Policy{
		Owner:            owner,
		OwnerPermissions: Full,
	}
}

// WithOwner returns a copy of the policy with the owner set. The owner
// receives Full permissions unless the policy already grants some.
func (p Policy) WithOwner(owner string) Policy {
	p.Owner = owner
	if p.OwnerPermissions == None {
		p.OwnerPermissions = Full
	}
	return p
}

// WithBoundSession returns a copy pinned to the given session id.
func (p Policy) WithBoundSession(sessionID string) Policy {
	p.BoundSession = sessionID
	return p
}
