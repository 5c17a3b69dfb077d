package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deliverline/internal/access"
	"deliverline/internal/domain"
	"deliverline/internal/repo"
	"deliverline/internal/workflow"
)

type IDPath struct {
	ID string `path:"id"`
}

type transitionBody struct {
	Note      string `json:"note,omitempty"`
	CommitRef string `json:"commit_ref,omitempty"`
}

type transitionResponse struct {
	Body workflow.TransitionResult
}

func registerModules(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-module",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/modules",
		Summary:       "Create module",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		IDPath
		Body struct {
			Code        string `json:"code" minLength:"1"`
			Name        string `json:"name" minLength:"1"`
			Description string `json:"description,omitempty"`
		}
	}) (*struct{ Body domain.Module }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		target := access.Target{Kind: "project", ID: input.ID, ProjectID: input.ID}
		if err := requireCapability(e, actor, "edit:requirements", target); err != nil {
			return nil, handleError(err)
		}
		m, err := e.CreateModule(ctx, actor.ID, workflow.ModuleInput{
			ProjectID:   input.ID,
			Code:        input.Body.Code,
			Name:        input.Body.Name,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Module }{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-module",
		Method:      http.MethodGet,
		Path:        "/modules/{id}",
		Summary:     "Get module",
	}, func(ctx context.Context, input *IDPath) (*struct{ Body domain.Module }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Repo.GetModule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireRead(ctx, e, actor, "module", m.ID, m.ProjectID, m.Delivery.PartnerID); err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Module }{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-modules",
		Method:      http.MethodGet,
		Path:        "/modules",
		Summary:     "List modules",
	}, func(ctx context.Context, input *struct {
		ProjectID      string `query:"project_id"`
		Status         string `query:"status"`
		DeliveryStatus string `query:"delivery_status"`
		Limit          int    `query:"limit"`
	}) (*struct{ Body []domain.Module }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.ModuleFilters{
			ProjectID:      input.ProjectID,
			Status:         input.Status,
			DeliveryStatus: input.DeliveryStatus,
			Limit:          input.Limit,
		}
		// Partner actors only ever see their own deliveries.
		if actor.Role == "partner" {
			f.PartnerID = actor.PartnerID
		}
		ms, err := e.Repo.ListModules(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.Module }{Body: ms}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-module",
		Method:      http.MethodPatch,
		Path:        "/modules/{id}",
		Summary:     "Update module name or description",
	}, func(ctx context.Context, input *struct {
		IDPath
		Body struct {
			Name        string `json:"name,omitempty"`
			Description string `json:"description,omitempty"`
		}
	}) (*struct{ Body domain.Module }, error) {
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
		if err := e.Repo.UpdateModuleMeta(ctx, input.ID, input.Body.Name, input.Body.Description); err != nil {
			return nil, handleError(err)
		}
		m, err = e.Repo.GetModule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Module }{Body: m}, nil
	})

	registerTransitions(api, e, workflow.KindModule, "/modules")
}

// requireRead gates a read through the predicate with the target's
// ancestry resolved.
func requireRead(ctx context.Context, e workflow.Engine, actor access.Actor, kind, id, projectID string, partnerID *string) error {
	target := access.Target{Kind: kind, ID: id, ProjectID: projectID}
	if kind == "module" {
		target.ModuleID = id
	}
	if partnerID != nil {
		target.PartnerID = *partnerID
	}
	if target.PartnerID == "" && projectID != "" {
		if p, err := e.Repo.GetProject(ctx, projectID); err == nil && p.PartnerID != nil {
			target.PartnerID = *p.PartnerID
		}
	}
	return requireCapability(e, actor, access.ActionRead, target)
}

// registerTransitions wires the delivery machine verbs for one kind.
func registerTransitions(api huma.API, e workflow.Engine, kind, base string) {
	type verb struct {
		name    string
		summary string
		call    func(ctx context.Context, actor access.Actor, id string, body transitionBody) (workflow.TransitionResult, error)
	}
	verbs := []verb{
		{"start", "Move into development", func(ctx context.Context, actor access.Actor, id string, _ transitionBody) (workflow.TransitionResult, error) {
			return e.Start(ctx, actor, kind, id)
		}},
		{"deliver", "Deliver for review", func(ctx context.Context, actor access.Actor, id string, body transitionBody) (workflow.TransitionResult, error) {
			return e.Deliver(ctx, actor, kind, id, workflow.DeliverInput{Note: body.Note, CommitRef: body.CommitRef})
		}},
		{"approve", "Accept a pending delivery", func(ctx context.Context, actor access.Actor, id string, body transitionBody) (workflow.TransitionResult, error) {
			return e.Approve(ctx, actor, kind, id, body.Note)
		}},
		{"reject", "Send a pending delivery back", func(ctx context.Context, actor access.Actor, id string, body transitionBody) (workflow.TransitionResult, error) {
			return e.Reject(ctx, actor, kind, id, body.Note)
		}},
		{"close", "Archive an accepted delivery", func(ctx context.Context, actor access.Actor, id string, body transitionBody) (workflow.TransitionResult, error) {
			return e.Close(ctx, actor, kind, id, body.Note)
		}},
	}
	for _, v := range verbs {
		v := v
		huma.Register(api, huma.Operation{
			OperationID: fmt.Sprintf("%s-%s", v.name, kind),
			Method:      http.MethodPost,
			Path:        fmt.Sprintf("%s/{id}/%s", base, v.name),
			Summary:     v.summary,
			Errors: []int{
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
				http.StatusUnprocessableEntity,
			},
		}, func(ctx context.Context, input *struct {
			IDPath
			Body transitionBody
		}) (*transitionResponse, error) {
			actor, authErr := resolveActor(ctx, e)
			if authErr != nil {
				return nil, authErr
			}
			res, err := v.call(ctx, actor, input.ID, input.Body)
			if err != nil {
				return nil, handleError(err)
			}
			return &transitionResponse{Body: res}, nil
		})
	}
}
