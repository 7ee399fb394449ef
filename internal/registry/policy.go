package registry

import "strings"

// Role is one of the registry contract's two fixed roles (spec.md §4.6).
// Unlike the teacher's policy engine, which reads an operator-editable
// JSON rule file, this registry's authorization rules are fixed at compile
// time — there is no free-form Condition/resolveValue/compare machinery
// here, only a per-Action required-role check.
type Role string

const (
	RoleGovernance Role = "GOVERNANCE"
	RoleGateway    Role = "GATEWAY"
)

// Action names every state-changing (and the one pure-read) registry
// operation, narrowed from the teacher's free-form Action string to this
// contract's fixed set.
type Action string

const (
	ActionRegisterModel      Action = "register_model"
	ActionRevokeModel        Action = "revoke_model"
	ActionReinstateModel     Action = "reinstate_model"
	ActionAnchorCheckpoint   Action = "anchor_checkpoint"
	ActionRevokeEnclave      Action = "emergency_revoke_enclave"
	ActionReinstateEnclave   Action = "reinstate_enclave"
	ActionVerifyCheckpoint   Action = "verify_checkpoint"
	ActionManageGateways     Action = "manage_gateways"
)

// Subject is the caller attempting an Action — kept from the teacher's
// shape (ID + Roles) since that part of the ABAC model still fits, just
// without the Attributes bag this contract has no use for.
type Subject struct {
	ID    string
	Roles []Role
}

func (s Subject) hasRole(r Role) bool {
	for _, role := range s.Roles {
		if role == r {
			return true
		}
	}
	return false
}

// rule is one fixed authorization rule: requiredRoles empty means any
// caller is allowed (spec.md: "register_model — any caller",
// "verify_checkpoint — any caller (pure read)").
type rule struct {
	action        Action
	requiredRoles []Role
}

// policy is the fixed rule table for this contract (spec.md §4.6's
// operations-and-authorization list, verbatim).
var policy = []rule{
	{action: ActionRegisterModel},
	{action: ActionRevokeModel, requiredRoles: []Role{RoleGovernance}},
	{action: ActionReinstateModel, requiredRoles: []Role{RoleGovernance}},
	{action: ActionAnchorCheckpoint, requiredRoles: []Role{RoleGateway}},
	{action: ActionRevokeEnclave, requiredRoles: []Role{RoleGovernance}},
	{action: ActionReinstateEnclave, requiredRoles: []Role{RoleGovernance}},
	{action: ActionManageGateways, requiredRoles: []Role{RoleGovernance}},
	{action: ActionVerifyCheckpoint},
}

// Decision is the authorization verdict, kept close to the teacher's shape
// (Allow + Reason + MatchedRules), minus the DefaultDeny/EvaluatedRule
// bookkeeping that only made sense against an arbitrarily large
// operator-supplied rule set. A denied call returns a KindUnauthorized
// *sentinelerr.Error whose Msg is the Reason; MatchedRules is not attached.
type Decision struct {
	Allow        bool
	Reason       string
	MatchedRules []string
}

// authorize checks subject against the fixed rule table for action.
func authorize(subject Subject, action Action) Decision {
	for _, r := range policy {
		if r.action != action {
			continue
		}
		if len(r.requiredRoles) == 0 {
			return Decision{Allow: true, Reason: "no role required", MatchedRules: []string{string(action)}}
		}
		for _, required := range r.requiredRoles {
			if subject.hasRole(required) {
				return Decision{Allow: true, Reason: "role " + string(required) + " granted", MatchedRules: []string{string(action)}}
			}
		}
		return Decision{
			Allow:  false,
			Reason: "caller " + subject.ID + " lacks required role(s) " + rolesString(r.requiredRoles) + " for " + string(action),
		}
	}
	return Decision{Allow: false, Reason: "no rule defined for action " + string(action)}
}

func rolesString(roles []Role) string {
	strs := make([]string, len(roles))
	for i, r := range roles {
		strs[i] = string(r)
	}
	return strings.Join(strs, ",")
}
