package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deliverline/internal/access"
	"deliverline/internal/domain"
	"deliverline/internal/workflow"
)

func registerProjects(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name        string `json:"name" minLength:"1"`
			PartnerID   string `json:"partner_id,omitempty"`
			ManagerID   string `json:"manager_id,omitempty"`
			Description string `json:"description,omitempty"`
		}
	}) (*struct{ Body domain.Project }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, "manage:projects", access.Target{Kind: "project"}); err != nil {
			return nil, handleError(err)
		}
		p, err := e.CreateProject(ctx, actor.ID, workflow.ProjectInput{
			Name:        input.Body.Name,
			PartnerID:   input.Body.PartnerID,
			ManagerID:   input.Body.ManagerID,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Project }{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
	}, func(ctx context.Context, input *IDPath) (*struct{ Body domain.Project }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		target := access.Target{Kind: "project", ID: p.ID, ProjectID: p.ID}
		if p.PartnerID != nil {
			target.PartnerID = *p.PartnerID
		}
		if err := requireCapability(e, actor, access.ActionRead, target); err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Project }{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		PartnerID string `query:"partner_id"`
	}) (*struct{ Body []domain.Project }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		partnerID := input.PartnerID
		if actor.Role == "partner" {
			partnerID = actor.PartnerID
		}
		ps, err := e.Repo.ListProjects(ctx, partnerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.Project }{Body: ps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project",
	}, func(ctx context.Context, input *struct {
		IDPath
		Body struct {
			Status      string  `json:"status,omitempty"`
			ManagerID   string  `json:"manager_id,omitempty"`
			Description *string `json:"description,omitempty"`
		}
	}) (*struct{ Body domain.Project }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, "manage:projects", access.Target{Kind: "project", ID: input.ID, ProjectID: input.ID}); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.UpdateProject(ctx, input.ID, input.Body.Status, input.Body.ManagerID, input.Body.Description); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Project }{Body: p}, nil
	})
}
