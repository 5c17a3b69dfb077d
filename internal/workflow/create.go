package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"deliverline/internal/domain"
	"deliverline/internal/history"
)

// Creation goes through the engine so every new entity gets its history
// entry. Permission checks for creation live at the transport layer;
// the engine records who did it.

var validRoles = map[string]struct{}{
	"partner": {}, "ba": {}, "po": {}, "pm": {}, "dev": {}, "qa": {}, "devops": {}, "admin": {},
}

var validSeverities = map[string]struct{}{
	"low": {}, "medium": {}, "high": {}, "critical": {},
}

type PartnerInput struct {
	Code    string
	Name    string
	Contact string
}

func (e Engine) CreatePartner(ctx context.Context, actorID string, in PartnerInput) (domain.Partner, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if in.Code == "" || in.Name == "" {
		return domain.Partner{}, ValidationError{Message: "partner code and name are required"}
	}
	p := domain.Partner{
		ID:        uuid.New().String(),
		Code:      in.Code,
		Name:      in.Name,
		Contact:   in.Contact,
		Status:    "active",
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertPartner(ctx, p); err != nil {
		return domain.Partner{}, err
	}
	e.record(ctx, "partner", p.ID, actorID, "created", "", history.Payload{"code": p.Code})
	return p, nil
}

type ProjectInput struct {
	Name        string
	PartnerID   string
	ManagerID   string
	Description string
}

func (e Engine) CreateProject(ctx context.Context, actorID string, in ProjectInput) (domain.Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Project{}, ValidationError{Message: "project name is required"}
	}
	p := domain.Project{
		ID:          uuid.New().String(),
		Name:        in.Name,
		ManagerID:   in.ManagerID,
		Status:      "active",
		Description: in.Description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if in.PartnerID != "" {
		partner, err := e.Repo.GetPartner(ctx, in.PartnerID)
		if err != nil {
			return domain.Project{}, err
		}
		p.PartnerID = &partner.ID
		// Snapshot survives later partner renames.
		p.PartnerName = partner.Name
	}
	if err := e.Repo.InsertProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	e.record(ctx, "project", p.ID, actorID, "created", "", history.Payload{"name": p.Name})
	return p, nil
}

type ModuleInput struct {
	ProjectID   string
	Code        string
	Name        string
	Description string
}

func (e Engine) CreateModule(ctx context.Context, actorID string, in ModuleInput) (domain.Module, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if in.ProjectID == "" || in.Code == "" || in.Name == "" {
		return domain.Module{}, ValidationError{Message: "module project, code and name are required"}
	}
	project, err := e.Repo.GetProject(ctx, in.ProjectID)
	if err != nil {
		return domain.Module{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	m := domain.Module{
		ID:             uuid.New().String(),
		ProjectID:      project.ID,
		Code:           in.Code,
		Name:           in.Name,
		Description:    in.Description,
		Status:         StatusPlanning,
		DeliveryStatus: DeliveryNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if project.PartnerID != nil {
		m.Delivery.PartnerID = project.PartnerID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Module{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertModule(ctx, tx, m); err != nil {
		return domain.Module{}, err
	}
	if _, err := e.History.Append(ctx, tx, KindModule, m.ID, actorID, "created", "", history.Payload{"code": m.Code}); err != nil {
		return domain.Module{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Module{}, err
	}
	return m, nil
}

type StoryInput struct {
	ModuleID    string
	Title       string
	Description string
}

func (e Engine) CreateStory(ctx context.Context, actorID string, in StoryInput) (domain.UserStory, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.ModuleID == "" || in.Title == "" {
		return domain.UserStory{}, ValidationError{Message: "story module and title are required"}
	}
	module, err := e.Repo.GetModule(ctx, in.ModuleID)
	if err != nil {
		return domain.UserStory{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.UserStory{
		ID:             uuid.New().String(),
		ModuleID:       module.ID,
		ProjectID:      module.ProjectID,
		Title:          in.Title,
		Description:    in.Description,
		Status:         StatusPlanning,
		DeliveryStatus: DeliveryNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if module.Delivery.PartnerID != nil {
		s.Delivery.PartnerID = module.Delivery.PartnerID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.UserStory{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStory(ctx, tx, s); err != nil {
		return domain.UserStory{}, err
	}
	if _, err := e.History.Append(ctx, tx, KindStory, s.ID, actorID, "created", "", nil); err != nil {
		return domain.UserStory{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.UserStory{}, err
	}
	return s, nil
}

type TaskInput struct {
	StoryID    string
	Title      string
	AssigneeID string
}

func (e Engine) CreateTask(ctx context.Context, actorID string, in TaskInput) (domain.Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.StoryID == "" || in.Title == "" {
		return domain.Task{}, ValidationError{Message: "task story and title are required"}
	}
	story, err := e.Repo.GetStory(ctx, in.StoryID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:        uuid.New().String(),
		StoryID:   story.ID,
		ProjectID: story.ProjectID,
		Title:     in.Title,
		Status:    TaskOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.AssigneeID != "" {
		t.AssigneeID = &in.AssigneeID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.History.Append(ctx, tx, "task", t.ID, actorID, "created", "", nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.runHooks(ctx, []hook{e.recomputeStoryHook(t.StoryID)})
	return t, nil
}

type BugInput struct {
	StoryID    string
	Title      string
	Severity   string
	AssigneeID string
}

func (e Engine) CreateBug(ctx context.Context, actorID string, in BugInput) (domain.Bug, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.StoryID == "" || in.Title == "" {
		return domain.Bug{}, ValidationError{Message: "bug story and title are required"}
	}
	if in.Severity != "" {
		if _, ok := validSeverities[in.Severity]; !ok {
			return domain.Bug{}, ValidationError{Message: "unknown severity " + in.Severity}
		}
	}
	story, err := e.Repo.GetStory(ctx, in.StoryID)
	if err != nil {
		return domain.Bug{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	b := domain.Bug{
		ID:        uuid.New().String(),
		StoryID:   story.ID,
		ProjectID: story.ProjectID,
		Title:     in.Title,
		Severity:  in.Severity,
		Status:    BugOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.AssigneeID != "" {
		b.AssigneeID = &in.AssigneeID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bug{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBug(ctx, tx, b); err != nil {
		return domain.Bug{}, err
	}
	if _, err := e.History.Append(ctx, tx, "bug", b.ID, actorID, "created", "", history.Payload{"severity": b.Severity}); err != nil {
		return domain.Bug{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bug{}, err
	}
	e.runHooks(ctx, []hook{e.recomputeStoryHook(b.StoryID)})
	return b, nil
}

type UserInput struct {
	Name      string
	Role      string
	PartnerID string
	Scope     domain.DataScope
}

func (e Engine) CreateUser(ctx context.Context, actorID string, in UserInput) (domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.User{}, ValidationError{Message: "user name is required"}
	}
	if _, ok := validRoles[in.Role]; !ok {
		return domain.User{}, ValidationError{Message: "unknown role " + in.Role}
	}
	if in.Role == "partner" && in.PartnerID == "" {
		return domain.User{}, ValidationError{Message: "partner users need a partner link"}
	}
	u := domain.User{
		ID:        uuid.New().String(),
		Name:      in.Name,
		Role:      in.Role,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if in.PartnerID != "" {
		if _, err := e.Repo.GetPartner(ctx, in.PartnerID); err != nil {
			return domain.User{}, err
		}
		u.PartnerID = &in.PartnerID
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.Repo.ReplaceUserScopes(ctx, u.ID, in.Scope); err != nil {
		return domain.User{}, err
	}
	e.record(ctx, "user", u.ID, actorID, "created", "", history.Payload{"role": u.Role})
	return u, nil
}

// record appends a history entry in its own transaction for mutations
// written outside one. Failures are logged; the mutation stands.
func (e Engine) record(ctx context.Context, kind, id, actorID, action, note string, payload history.Payload) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.logger().Printf("history %s %s: %v", action, id, err)
		return
	}
	defer tx.Rollback()
	if _, err := e.History.Append(ctx, tx, kind, id, actorID, action, note, payload); err != nil {
		e.logger().Printf("history %s %s: %v", action, id, err)
		return
	}
	if err := tx.Commit(); err != nil {
		e.logger().Printf("history %s %s: %v", action, id, err)
	}
}
