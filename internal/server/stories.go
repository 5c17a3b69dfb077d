package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deliverline/internal/access"
	"deliverline/internal/domain"
	"deliverline/internal/repo"
	"deliverline/internal/workflow"
)

func registerStories(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-story",
		Method:        http.MethodPost,
		Path:          "/modules/{id}/stories",
		Summary:       "Create user story",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		IDPath
		Body struct {
			Title       string `json:"title" minLength:"1"`
			Description string `json:"description,omitempty"`
		}
	}) (*struct{ Body domain.UserStory }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Repo.GetModule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		target := access.Target{Kind: "module", ID: m.ID, ModuleID: m.ID, ProjectID: m.ProjectID}
		if err := requireCapability(e, actor, "edit:requirements", target); err != nil {
			return nil, handleError(err)
		}
		s, err := e.CreateStory(ctx, actor.ID, workflow.StoryInput{
			ModuleID:    input.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.UserStory }{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-story",
		Method:      http.MethodGet,
		Path:        "/stories/{id}",
		Summary:     "Get user story",
	}, func(ctx context.Context, input *IDPath) (*struct{ Body domain.UserStory }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Repo.GetStory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireRead(ctx, e, actor, "story", s.ID, s.ProjectID, s.Delivery.PartnerID); err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.UserStory }{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stories",
		Method:      http.MethodGet,
		Path:        "/stories",
		Summary:     "List user stories",
	}, func(ctx context.Context, input *struct {
		ModuleID       string `query:"module_id"`
		ProjectID      string `query:"project_id"`
		Status         string `query:"status"`
		DeliveryStatus string `query:"delivery_status"`
		Limit          int    `query:"limit"`
	}) (*struct{ Body []domain.UserStory }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.StoryFilters{
			ModuleID:       input.ModuleID,
			ProjectID:      input.ProjectID,
			Status:         input.Status,
			DeliveryStatus: input.DeliveryStatus,
			Limit:          input.Limit,
		}
		if actor.Role == "partner" {
			f.PartnerID = actor.PartnerID
		}
		ss, err := e.Repo.ListStories(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.UserStory }{Body: ss}, nil
	})

	registerTransitions(api, e, workflow.KindStory, "/stories")
}
