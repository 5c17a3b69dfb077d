package access_test

import (
	"errors"
	"testing"

	"deliverline/internal/access"
	"deliverline/internal/config"
	"deliverline/internal/domain"
)

func newScope(t *testing.T) access.Scope {
	t.Helper()
	return access.NewScope(config.Default("org-1"))
}

func TestAdminAlwaysAllowed(t *testing.T) {
	s := newScope(t)
	d := s.Authorize(access.Actor{ID: "a", Role: "admin"}, "anything-at-all", access.Target{Kind: "module"})
	if !d.Allowed {
		t.Fatalf("admin denied: %s", d.Reason)
	}
}

func TestPartnerNeverApproves(t *testing.T) {
	s := newScope(t)
	actor := access.Actor{ID: "u", Role: "partner", PartnerID: "p1"}
	// Even on the partner's own entity.
	target := access.Target{Kind: "module", ID: "m1", PartnerID: "p1"}
	for _, action := range []string{access.ActionApprove, access.ActionReject, access.ActionClose} {
		if d := s.Authorize(actor, action, target); d.Allowed {
			t.Fatalf("partner allowed to %s", action)
		}
	}
}

func TestPartnerScopedToOwnPartner(t *testing.T) {
	s := newScope(t)
	actor := access.Actor{ID: "u", Role: "partner", PartnerID: "p1"}
	if d := s.Authorize(actor, access.ActionDeliver, access.Target{Kind: "module", PartnerID: "p1"}); !d.Allowed {
		t.Fatalf("own entity denied: %s", d.Reason)
	}
	if d := s.Authorize(actor, access.ActionDeliver, access.Target{Kind: "module", PartnerID: "p2"}); d.Allowed {
		t.Fatal("foreign entity allowed")
	}
	if d := s.Authorize(actor, access.ActionDeliver, access.Target{Kind: "module"}); d.Allowed {
		t.Fatal("entity without partner allowed")
	}
}

func TestPartnerActionSetIsClosed(t *testing.T) {
	s := newScope(t)
	actor := access.Actor{ID: "u", Role: "partner", PartnerID: "p1"}
	target := access.Target{Kind: "module", PartnerID: "p1"}
	if d := s.Authorize(actor, "resolve:task", target); d.Allowed {
		t.Fatal("partner allowed an action outside the partner set")
	}
}

func TestApprovalRequiresOwningManager(t *testing.T) {
	s := newScope(t)
	target := access.Target{Kind: "module", ProjectID: "pr1", ProjectManagerID: "pm-1"}
	if d := s.Authorize(access.Actor{ID: "pm-1", Role: "pm"}, access.ActionApprove, target); !d.Allowed {
		t.Fatalf("owning manager denied: %s", d.Reason)
	}
	if d := s.Authorize(access.Actor{ID: "pm-2", Role: "pm"}, access.ActionApprove, target); d.Allowed {
		t.Fatal("non-owning manager allowed")
	}
	if d := s.Authorize(access.Actor{ID: "dev-1", Role: "dev"}, access.ActionApprove, target); d.Allowed {
		t.Fatal("dev allowed to approve")
	}
	// No manager on record means nobody but admin decides.
	orphan := access.Target{Kind: "module", ProjectID: "pr1"}
	if d := s.Authorize(access.Actor{ID: "pm-1", Role: "pm"}, access.ActionApprove, orphan); d.Allowed {
		t.Fatal("approve allowed without project manager")
	}
}

func TestRolePermissionTable(t *testing.T) {
	s := newScope(t)
	target := access.Target{Kind: "task", ProjectID: "pr1"}
	if d := s.Authorize(access.Actor{ID: "d", Role: "dev"}, "resolve:task", target); !d.Allowed {
		t.Fatalf("dev resolve:task denied: %s", d.Reason)
	}
	if d := s.Authorize(access.Actor{ID: "d", Role: "dev"}, "reopen:bug", target); d.Allowed {
		t.Fatal("dev reopen:bug allowed")
	}
	if d := s.Authorize(access.Actor{ID: "q", Role: "qa"}, "reopen:bug", target); !d.Allowed {
		t.Fatalf("qa reopen:bug denied: %s", d.Reason)
	}
	if d := s.Authorize(access.Actor{ID: "x", Role: "ghost"}, access.ActionRead, target); d.Allowed {
		t.Fatal("unknown role allowed")
	}
}

func TestDataScopeRestriction(t *testing.T) {
	s := newScope(t)
	actor := access.Actor{
		ID: "d", Role: "dev",
		Scope: domain.DataScope{ProjectIDs: []string{"pr1"}},
	}
	if d := s.Authorize(actor, access.ActionRead, access.Target{Kind: "module", ProjectID: "pr1"}); !d.Allowed {
		t.Fatalf("in-scope project denied: %s", d.Reason)
	}
	if d := s.Authorize(actor, access.ActionRead, access.Target{Kind: "module", ProjectID: "pr2"}); d.Allowed {
		t.Fatal("out-of-scope project allowed")
	}
	// Empty scope sets mean unrestricted.
	open := access.Actor{ID: "d2", Role: "dev"}
	if d := s.Authorize(open, access.ActionRead, access.Target{Kind: "module", ProjectID: "pr2"}); !d.Allowed {
		t.Fatalf("unscoped actor denied: %s", d.Reason)
	}
}

func TestErrCarriesReason(t *testing.T) {
	s := newScope(t)
	err := s.Err(access.Actor{ID: "u", Role: "partner", PartnerID: "p1"}, access.ActionApprove, access.Target{Kind: "module", PartnerID: "p1"})
	var fe access.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("want ForbiddenError, got %v", err)
	}
	if fe.Action != access.ActionApprove || fe.Reason == "" {
		t.Fatalf("error missing detail: %+v", fe)
	}
	if err := s.Err(access.Actor{ID: "a", Role: "admin"}, access.ActionApprove, access.Target{}); err != nil {
		t.Fatalf("admin got error: %v", err)
	}
}
