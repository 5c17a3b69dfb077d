// Package access evaluates whether an actor may perform an action on a
// target entity. The predicate is pure: no DB reads, no caching, the
// caller resolves the actor and the target's ancestry first.
package access

import (
	"fmt"

	"deliverline/internal/config"
	"deliverline/internal/domain"
)

// Action tags understood by the scope. Capability strings from the
// role-permission table (e.g. push:code) are also valid actions.
const (
	ActionRead          = "read"
	ActionDeliver       = "deliver"
	ActionApprove       = "approve"
	ActionReject        = "reject"
	ActionClose         = "close"
	ActionUpload        = "upload"
	ActionViewDashboard = "view-dashboard"
)

// Actor is the resolved caller. Credential checks happen upstream.
type Actor struct {
	ID        string
	Role      string
	PartnerID string
	Scope     domain.DataScope
}

// Target describes the entity under authorization with its ancestry
// resolved: delivery partner, owning project and that project's manager.
type Target struct {
	Kind             string
	ID               string
	PartnerID        string
	ProjectID        string
	ProjectManagerID string
	ModuleID         string
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// ForbiddenError carries the denial reason to the caller.
type ForbiddenError struct {
	Action string
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("action %s forbidden: %s", e.Action, e.Reason)
}

// Scope holds the static rule tables. Build one per request from config;
// nothing is cached between calls.
type Scope struct {
	rolePermissions map[string][]string
	partnerActions  map[string]struct{}
}

// NewScope builds a Scope from config, falling back to defaults when nil.
func NewScope(cfg *config.Config) Scope {
	if cfg == nil {
		cfg = config.Default("default-org")
	}
	partnerActions := make(map[string]struct{}, len(cfg.Access.PartnerActions))
	for _, a := range cfg.Access.PartnerActions {
		partnerActions[a] = struct{}{}
	}
	return Scope{
		rolePermissions: cfg.Access.RolePermissions,
		partnerActions:  partnerActions,
	}
}

// Authorize evaluates the rule set in order; first match wins.
func (s Scope) Authorize(actor Actor, action string, target Target) Decision {
	switch actor.Role {
	case "admin":
		return allow()
	case "partner":
		return s.authorizePartner(actor, action, target)
	}
	if action == ActionApprove || action == ActionReject || action == ActionClose {
		if actor.Role != "pm" {
			return deny("approval requires project manager")
		}
		if target.ProjectManagerID == "" || target.ProjectManagerID != actor.ID {
			return deny("not the project's team manager")
		}
		return s.checkDataScope(actor, target)
	}
	perms, ok := s.rolePermissions[actor.Role]
	if !ok {
		return deny("forbidden")
	}
	for _, p := range perms {
		if p == action {
			return s.checkDataScope(actor, target)
		}
	}
	return deny("forbidden")
}

// Err converts a denial into a ForbiddenError; nil when allowed.
func (s Scope) Err(actor Actor, action string, target Target) error {
	d := s.Authorize(actor, action, target)
	if d.Allowed {
		return nil
	}
	return ForbiddenError{Action: action, Reason: d.Reason}
}

func (s Scope) authorizePartner(actor Actor, action string, target Target) Decision {
	// Partners may never decide on their own deliveries.
	if action == ActionApprove || action == ActionReject || action == ActionClose {
		return deny("partner actors cannot approve or reject")
	}
	if _, ok := s.partnerActions[action]; !ok {
		return deny("action not available to partner actors")
	}
	if actor.PartnerID == "" {
		return deny("partner actor has no partner link")
	}
	if target.PartnerID == "" || target.PartnerID != actor.PartnerID {
		return deny("target belongs to a different partner")
	}
	return allow()
}

// checkDataScope enforces the explicit allow-lists when present. Empty
// sets mean the actor is not scope-restricted for that kind.
func (s Scope) checkDataScope(actor Actor, target Target) Decision {
	if len(actor.Scope.ProjectIDs) > 0 && target.ProjectID != "" {
		if !contains(actor.Scope.ProjectIDs, target.ProjectID) {
			return deny("project outside actor data scope")
		}
	}
	if len(actor.Scope.ModuleIDs) > 0 && target.ModuleID != "" {
		if !contains(actor.Scope.ModuleIDs, target.ModuleID) {
			return deny("module outside actor data scope")
		}
	}
	if len(actor.Scope.PartnerIDs) > 0 && target.PartnerID != "" {
		if !contains(actor.Scope.PartnerIDs, target.PartnerID) {
			return deny("partner outside actor data scope")
		}
	}
	return allow()
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
