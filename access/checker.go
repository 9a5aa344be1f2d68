package access

// Checker resolves access decisions against a policy.
//
// Contract:
// - Concurrency: Checker is stateless and safe for concurrent use.
// - Ordering: the rule order in Check is fixed and load-bearing; a
//   matching earlier rule decides before later rules are consulted.
type Checker struct{}

// NewChecker creates a permission checker.
func NewChecker() Checker {
	return Checker{}
}

// Check resolves whether actor holds required against policy in
// namespace. It returns nil on success and a *DeniedError otherwise.
//
// Rules, first match decides:
//  1. SYSTEM actors always pass.
//  2. A denied-actors match denies (explicit_deny), beating ownership.
//  3. A bound session requires a matching actor session.
//  4. The actor must be permitted to operate in the namespace.
//  5. An allowed-actors match grants, bypassing role permissions.
//  6. The owner is checked against owner permissions.
//  7. Otherwise the actor-type role permissions decide.
func (c Checker) Check(policy Policy, required Permission, actor Actor, namespace string) error {
	if actor.IsSystem() {
		return nil
	}

	if actor.MatchesAny(policy.DeniedActors) {
		return &DeniedError{Actor: actor, Required: required, Reason: ReasonExplicitDeny, Namespace: namespace}
	}

	if policy.BoundSession != "" && actor.SessionID != policy.BoundSession {
		return &DeniedError{Actor: actor, Required: required, Reason: ReasonSessionMismatch, Namespace: namespace}
	}

	if !ValidateNamespaceAccess(namespace, actor) {
		return &DeniedError{Actor: actor, Required: required, Reason: ReasonNamespaceOwnership, Namespace: namespace}
	}

	if actor.MatchesAny(policy.AllowedActors) {
		return nil
	}

	if policy.Owner != "" && actor.Matches(policy.Owner) {
		if !policy.OwnerPermissions.Has(required) {
			return &DeniedError{Actor: actor, Required: required, Reason: ReasonOwnerInsufficient, Namespace: namespace}
		}
		return nil
	}

	if !c.rolePermissions(policy, actor).Has(required) {
		return &DeniedError{Actor: actor, Required: required, Reason: ReasonRoleInsufficient, Namespace: namespace}
	}
	return nil
}

// HasPermission is Check without the error. It never returns a reason.
func (c Checker) HasPermission(policy Policy, required Permission, actor Actor, namespace string) bool {
	return c.Check(policy, required, actor, namespace) == nil
}

// EffectivePermissions returns the permission set the actor holds
// under the policy in the namespace. Denied, session-mismatched, and
// namespace-rejected actors hold None; explicitly allowed actors and
// SYSTEM hold Full.
func (c Checker) EffectivePermissions(policy Policy, actor Actor, namespace string) Permission {
	if actor.IsSystem() {
		return Full
	}
	if actor.MatchesAny(policy.DeniedActors) {
		return None
	}
	if policy.BoundSession != "" && actor.SessionID != policy.BoundSession {
		return None
	}
	if !ValidateNamespaceAccess(namespace, actor) {
		return None
	}
	if actor.MatchesAny(policy.AllowedActors) {
		return Full
	}
	if policy.Owner != "" && actor.Matches(policy.Owner) {
		return policy.OwnerPermissions
	}
	return c.rolePermissions(policy, actor)
}

func (c Checker) rolePermissions(policy Policy, actor Actor) Permission {
	switch actor.Type {
	case ActorUser:
		return policy.UserPermissions
	case ActorAgent:
		return policy.AgentPermissions
	default:
		return None
	}
}
