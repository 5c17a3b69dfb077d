package workflow_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"deliverline/internal/access"
	"deliverline/internal/config"
	"deliverline/internal/db"
	"deliverline/internal/domain"
	"deliverline/internal/history"
	"deliverline/internal/migrate"
	"deliverline/internal/notify"
	"deliverline/internal/repo"
	"deliverline/internal/workflow"
)

type testEnv struct {
	Engine  workflow.Engine
	Ctx     context.Context
	Partner domain.Partner
	Project domain.Project
	Module  domain.Module
	Liaison domain.User

	Admin  access.Actor
	PM     access.Actor
	Dev    access.Actor
	QA     access.Actor
	Tenant access.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("org-1")
	eng := workflow.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	quiet := log.New(io.Discard, "", 0)
	eng.Logger = quiet
	eng.Notifier = notify.LogDispatcher{Logger: quiet}
	ctx := context.Background()

	partner, err := eng.CreatePartner(ctx, "admin-1", workflow.PartnerInput{Code: "acme", Name: "Acme"})
	if err != nil {
		t.Fatalf("create partner: %v", err)
	}
	project, err := eng.CreateProject(ctx, "admin-1", workflow.ProjectInput{
		Name: "Portal", PartnerID: partner.ID, ManagerID: "pm-1",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	module, err := eng.CreateModule(ctx, "admin-1", workflow.ModuleInput{
		ProjectID: project.ID, Code: "auth", Name: "Authentication",
	})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}
	liaison, err := eng.CreateUser(ctx, "admin-1", workflow.UserInput{
		Name: "Acme Liaison", Role: "partner", PartnerID: partner.ID,
	})
	if err != nil {
		t.Fatalf("create partner user: %v", err)
	}

	return testEnv{
		Engine:  eng,
		Ctx:     ctx,
		Partner: partner,
		Project: project,
		Module:  module,
		Liaison: liaison,
		Admin:   access.Actor{ID: "admin-1", Role: "admin"},
		PM:      access.Actor{ID: "pm-1", Role: "pm"},
		Dev:     access.Actor{ID: "dev-1", Role: "dev"},
		QA:      access.Actor{ID: "qa-1", Role: "qa"},
		Tenant:  access.Actor{ID: "liaison-1", Role: "partner", PartnerID: partner.ID},
	}
}

func TestDeliverThenApprove(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{
		Note: "ready", CommitRef: "abc123",
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.Status != "delivered" || res.DeliveryStatus != "pending" {
		t.Fatalf("after deliver: %s/%s", res.Status, res.DeliveryStatus)
	}
	if res.HistoryID == 0 {
		t.Fatalf("deliver returned no history id")
	}

	dec, err := env.Engine.Approve(env.Ctx, env.PM, workflow.KindModule, env.Module.ID, "looks good")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if dec.Status != "accepted" || dec.DeliveryStatus != "accepted" {
		t.Fatalf("after approve: %s/%s", dec.Status, dec.DeliveryStatus)
	}
	if dec.HistoryID <= res.HistoryID {
		t.Fatalf("history ids out of order: deliver=%d approve=%d", res.HistoryID, dec.HistoryID)
	}

	m, err := env.Engine.Repo.GetModule(env.Ctx, env.Module.ID)
	if err != nil {
		t.Fatalf("reload module: %v", err)
	}
	if m.Approval.ApprovedBy == nil || *m.Approval.ApprovedBy != "pm-1" {
		t.Fatalf("approval actor not recorded: %+v", m.Approval)
	}
	if m.Delivery.CommitRef != "abc123" {
		t.Fatalf("delivery metadata lost: %+v", m.Delivery)
	}

	entries, err := env.Engine.Log.List(env.Ctx, history.Filters{EntityKind: workflow.KindModule, EntityID: env.Module.ID})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	want := []string{"created", "delivered", "accepted"}
	if len(entries) != len(want) {
		t.Fatalf("history length %d, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Action != want[i] {
			t.Fatalf("history[%d]=%s, want %s", i, e.Action, want[i])
		}
	}
}

func TestApproveWhenNotPending(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Approve(env.Ctx, env.PM, workflow.KindModule, env.Module.ID, "")
	var ite workflow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	m, _ := env.Engine.Repo.GetModule(env.Ctx, env.Module.ID)
	if m.Status != "planning" || m.DeliveryStatus != "none" {
		t.Fatalf("module changed by failed approve: %s/%s", m.Status, m.DeliveryStatus)
	}
	if n, _ := env.Engine.Log.Count(env.Ctx, workflow.KindModule, env.Module.ID); n != 1 {
		t.Fatalf("failed approve wrote history, count=%d", n)
	}
}

func TestRejectRequiresNote(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	_, err := env.Engine.Reject(env.Ctx, env.PM, workflow.KindModule, env.Module.ID, "   ")
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestRejectThenRedeliver(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	res, err := env.Engine.Reject(env.Ctx, env.PM, workflow.KindModule, env.Module.ID, "missing tests")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Status != "rejected" || res.DeliveryStatus != "rejected" {
		t.Fatalf("after reject: %s/%s", res.Status, res.DeliveryStatus)
	}
	res, err = env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{Note: "second try"})
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if res.Status != "delivered" || res.DeliveryStatus != "pending" {
		t.Fatalf("after redeliver: %s/%s", res.Status, res.DeliveryStatus)
	}
	m, _ := env.Engine.Repo.GetModule(env.Ctx, env.Module.ID)
	if m.Approval.ApprovedBy != nil {
		t.Fatalf("redelivery kept stale approval: %+v", m.Approval)
	}
}

func TestPartnerCannotApprove(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	_, err := env.Engine.Approve(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, "")
	var fe access.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("want ForbiddenError, got %v", err)
	}
}

func TestApproveNeedsOwningManager(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	other := access.Actor{ID: "pm-2", Role: "pm"}
	_, err := env.Engine.Approve(env.Ctx, other, workflow.KindModule, env.Module.ID, "")
	var fe access.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("want ForbiddenError, got %v", err)
	}
	m, _ := env.Engine.Repo.GetModule(env.Ctx, env.Module.ID)
	if m.DeliveryStatus != "pending" {
		t.Fatalf("module changed by forbidden approve: %s", m.DeliveryStatus)
	}
}

func TestPartnerScopedToOwnEntities(t *testing.T) {
	env := newTestEnv(t)
	other, err := env.Engine.CreatePartner(env.Ctx, "admin-1", workflow.PartnerInput{Code: "globex", Name: "Globex"})
	if err != nil {
		t.Fatalf("create partner: %v", err)
	}
	stranger := access.Actor{ID: "liaison-2", Role: "partner", PartnerID: other.ID}
	_, err = env.Engine.Deliver(env.Ctx, stranger, workflow.KindModule, env.Module.ID, workflow.DeliverInput{})
	var fe access.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("want ForbiddenError, got %v", err)
	}
}

func TestSecondApproveLosesRace(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, env.PM, workflow.KindModule, env.Module.ID, ""); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := env.Engine.Approve(env.Ctx, env.PM, workflow.KindModule, env.Module.ID, "")
	var ite workflow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
}

func TestStaleGuardRejectsLostWriter(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	m, err := env.Engine.Repo.GetModule(env.Ctx, env.Module.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	// Writer that read the pre-delivery state must not land.
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	m.Status = "accepted"
	m.DeliveryStatus = "accepted"
	err = env.Engine.Repo.ApplyModuleTransition(env.Ctx, tx, m, "planning", "none")
	if !errors.Is(err, repo.ErrStale) {
		t.Fatalf("want ErrStale, got %v", err)
	}
}

func TestStartRaceLoserGetsStale(t *testing.T) {
	env := newTestEnv(t)
	// Two writers read the module while it was still in planning.
	m, err := env.Engine.Repo.GetModule(env.Ctx, env.Module.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := env.Engine.Start(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	// The second writer's guard must fail even though delivery_status is
	// still none on both sides of the move.
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	m.Status = "in_development"
	err = env.Engine.Repo.ApplyModuleTransition(env.Ctx, tx, m, "planning", "none")
	if !errors.Is(err, repo.ErrStale) {
		t.Fatalf("want ErrStale, got %v", err)
	}
	if n, _ := env.Engine.Log.Count(env.Ctx, workflow.KindModule, env.Module.ID); n != 2 {
		t.Fatalf("history count %d, want created+started", n)
	}
}

func TestApproveRecomputesPartnerStats(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, env.PM, workflow.KindModule, env.Module.ID, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	st, err := env.Engine.Repo.GetPartnerStats(env.Ctx, env.Partner.ID)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if st.TotalModules != 1 || st.AcceptedModules != 1 {
		t.Fatalf("stats %+v, want 1/1 modules", st)
	}
	if st.TotalProjects != 1 {
		t.Fatalf("stats %+v, want 1 project", st)
	}
}

func TestNotifierFailureDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Notifier = failingDispatcher{}
	if _, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	res, err := env.Engine.Approve(env.Ctx, env.PM, workflow.KindModule, env.Module.ID, "")
	if err != nil {
		t.Fatalf("approve with failing notifier: %v", err)
	}
	if res.Status != "accepted" {
		t.Fatalf("transition lost: %s", res.Status)
	}
}

type failingDispatcher struct{}

func (failingDispatcher) Notify(ctx context.Context, userID, title, message string, meta map[string]any) error {
	return errors.New("smtp down")
}

type recordingDispatcher struct {
	recipients []string
}

func (d *recordingDispatcher) Notify(ctx context.Context, userID, title, message string, meta map[string]any) error {
	d.recipients = append(d.recipients, userID)
	return nil
}

func TestDeliverNotifiesPartnerUser(t *testing.T) {
	env := newTestEnv(t)
	rec := &recordingDispatcher{}
	env.Engine.Notifier = rec
	if _, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindModule, env.Module.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	var partnerNotified, managerNotified bool
	for _, id := range rec.recipients {
		switch id {
		case env.Liaison.ID:
			partnerNotified = true
		case "pm-1":
			managerNotified = true
		}
	}
	if !partnerNotified {
		t.Fatalf("partner user %s not notified, recipients %v", env.Liaison.ID, rec.recipients)
	}
	if !managerNotified {
		t.Fatalf("project manager not notified, recipients %v", rec.recipients)
	}
}

func TestDuplicateModuleCode(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateModule(env.Ctx, "admin-1", workflow.ModuleInput{
		ProjectID: env.Project.ID, Code: "auth", Name: "Authentication again",
	})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestStoryLifecycle(t *testing.T) {
	env := newTestEnv(t)
	story, err := env.Engine.CreateStory(env.Ctx, "admin-1", workflow.StoryInput{
		ModuleID: env.Module.ID, Title: "Login with SSO",
	})
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	if _, err := env.Engine.Start(env.Ctx, env.Tenant, workflow.KindStory, story.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.Deliver(env.Ctx, env.Tenant, workflow.KindStory, story.ID, workflow.DeliverInput{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	res, err := env.Engine.Approve(env.Ctx, env.PM, workflow.KindStory, story.ID, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Status != "accepted" {
		t.Fatalf("story status %s", res.Status)
	}
	if _, err := env.Engine.Close(env.Ctx, env.PM, workflow.KindStory, story.ID, "shipped"); err != nil {
		t.Fatalf("close: %v", err)
	}
	s, _ := env.Engine.Repo.GetStory(env.Ctx, story.ID)
	if s.Status != "closed" {
		t.Fatalf("story not closed: %s", s.Status)
	}
}

func TestTaskTransitionsAndStoryStats(t *testing.T) {
	env := newTestEnv(t)
	story, err := env.Engine.CreateStory(env.Ctx, "admin-1", workflow.StoryInput{
		ModuleID: env.Module.ID, Title: "Checkout",
	})
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, "admin-1", workflow.TaskInput{StoryID: story.ID, Title: "Wire payment API"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, env.Dev, task.ID, "in_progress", ""); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, env.Dev, task.ID, "done", ""); err != nil {
		t.Fatalf("to done: %v", err)
	}
	// done is terminal
	_, err = env.Engine.SetTaskStatus(env.Ctx, env.Dev, task.ID, "open", "")
	var ite workflow.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	st, err := env.Engine.Repo.GetStoryStats(env.Ctx, story.ID)
	if err != nil {
		t.Fatalf("story stats: %v", err)
	}
	if st.TotalTasks != 1 || st.DoneTasks != 1 {
		t.Fatalf("story stats %+v, want 1/1 tasks", st)
	}
}

func TestBugReopenNeedsCapability(t *testing.T) {
	env := newTestEnv(t)
	story, err := env.Engine.CreateStory(env.Ctx, "admin-1", workflow.StoryInput{
		ModuleID: env.Module.ID, Title: "Search",
	})
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	bug, err := env.Engine.CreateBug(env.Ctx, "qa-1", workflow.BugInput{StoryID: story.ID, Title: "Crash on empty query", Severity: "high"})
	if err != nil {
		t.Fatalf("create bug: %v", err)
	}
	if _, err := env.Engine.SetBugStatus(env.Ctx, env.QA, bug.ID, "resolved", "fixed"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, err = env.Engine.SetBugStatus(env.Ctx, env.Dev, bug.ID, "reopened", "")
	var fe access.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("dev reopen: want ForbiddenError, got %v", err)
	}
	if _, err := env.Engine.SetBugStatus(env.Ctx, env.QA, bug.ID, "reopened", "still broken"); err != nil {
		t.Fatalf("qa reopen: %v", err)
	}
}

func TestResolveActor(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, "admin-1", workflow.UserInput{
		Name: "Dana", Role: "pm",
		Scope: domain.DataScope{ProjectIDs: []string{env.Project.ID}},
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	actor, err := env.Engine.ResolveActor(env.Ctx, u.ID)
	if err != nil {
		t.Fatalf("resolve actor: %v", err)
	}
	if actor.Role != "pm" || len(actor.Scope.ProjectIDs) != 1 {
		t.Fatalf("actor %+v", actor)
	}
}
