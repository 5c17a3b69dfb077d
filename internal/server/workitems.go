package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deliverline/internal/access"
	"deliverline/internal/domain"
	"deliverline/internal/workflow"
)

func registerWorkItems(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/stories/{id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		IDPath
		Body struct {
			Title      string `json:"title" minLength:"1"`
			AssigneeID string `json:"assignee_id,omitempty"`
		}
	}) (*struct{ Body domain.Task }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Repo.GetStory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		target := access.Target{Kind: "story", ID: s.ID, ProjectID: s.ProjectID}
		if err := requireCapability(e, actor, "edit:requirements", target); err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTask(ctx, actor.ID, workflow.TaskInput{
			StoryID:    input.ID,
			Title:      input.Body.Title,
			AssigneeID: input.Body.AssigneeID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Task }{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/stories/{id}/tasks",
		Summary:     "List tasks for a story",
	}, func(ctx context.Context, input *struct {
		IDPath
		Status string `query:"status"`
	}) (*struct{ Body []domain.Task }, error) {
		if _, authErr := resolveActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		ts, err := e.Repo.ListTasks(ctx, input.ID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.Task }{Body: ts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/status",
		Summary:     "Move a task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		IDPath
		Body struct {
			Status string `json:"status" enum:"open,in_progress,done,canceled"`
			Note   string `json:"note,omitempty"`
		}
	}) (*transitionResponse, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SetTaskStatus(ctx, actor, input.ID, input.Body.Status, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &transitionResponse{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-bug",
		Method:        http.MethodPost,
		Path:          "/stories/{id}/bugs",
		Summary:       "Report bug",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		IDPath
		Body struct {
			Title      string `json:"title" minLength:"1"`
			Severity   string `json:"severity,omitempty"`
			AssigneeID string `json:"assignee_id,omitempty"`
		}
	}) (*struct{ Body domain.Bug }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBug(ctx, actor.ID, workflow.BugInput{
			StoryID:    input.ID,
			Title:      input.Body.Title,
			Severity:   input.Body.Severity,
			AssigneeID: input.Body.AssigneeID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Bug }{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bugs",
		Method:      http.MethodGet,
		Path:        "/stories/{id}/bugs",
		Summary:     "List bugs for a story",
	}, func(ctx context.Context, input *struct {
		IDPath
		Status string `query:"status"`
	}) (*struct{ Body []domain.Bug }, error) {
		if _, authErr := resolveActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		bs, err := e.Repo.ListBugs(ctx, input.ID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.Bug }{Body: bs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-bug-status",
		Method:      http.MethodPost,
		Path:        "/bugs/{id}/status",
		Summary:     "Move a bug",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		IDPath
		Body struct {
			Status string `json:"status" enum:"open,in_progress,resolved,closed,reopened"`
			Note   string `json:"note,omitempty"`
		}
	}) (*transitionResponse, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SetBugStatus(ctx, actor, input.ID, input.Body.Status, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &transitionResponse{Body: res}, nil
	})
}
