package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deliverline/internal/access"
	"deliverline/internal/domain"
	"deliverline/internal/workflow"
)

func registerPartners(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-partner",
		Method:        http.MethodPost,
		Path:          "/partners",
		Summary:       "Register partner",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Code    string `json:"code" minLength:"1"`
			Name    string `json:"name" minLength:"1"`
			Contact string `json:"contact,omitempty"`
		}
	}) (*struct{ Body domain.Partner }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		// Tenant management is not a role capability; admin only.
		if err := requireCapability(e, actor, "manage:partners", access.Target{Kind: "partner"}); err != nil {
			return nil, handleError(err)
		}
		p, err := e.CreatePartner(ctx, actor.ID, workflow.PartnerInput{
			Code:    input.Body.Code,
			Name:    input.Body.Name,
			Contact: input.Body.Contact,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Partner }{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-partners",
		Method:      http.MethodGet,
		Path:        "/partners",
		Summary:     "List partners",
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body []domain.Partner }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role == "partner" {
			p, err := e.Repo.GetPartner(ctx, actor.PartnerID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct{ Body []domain.Partner }{Body: []domain.Partner{p}}, nil
		}
		ps, err := e.Repo.ListPartners(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.Partner }{Body: ps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-partner",
		Method:      http.MethodGet,
		Path:        "/partners/{id}",
		Summary:     "Get partner",
	}, func(ctx context.Context, input *IDPath) (*struct{ Body domain.Partner }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		target := access.Target{Kind: "partner", ID: input.ID, PartnerID: input.ID}
		if err := requireCapability(e, actor, access.ActionRead, target); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetPartner(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Partner }{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-partner-status",
		Method:      http.MethodPatch,
		Path:        "/partners/{id}",
		Summary:     "Activate or deactivate partner",
	}, func(ctx context.Context, input *struct {
		IDPath
		Body struct {
			Status string `json:"status" enum:"active,inactive"`
		}
	}) (*struct{ Body domain.Partner }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, "manage:partners", access.Target{Kind: "partner", ID: input.ID}); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.UpdatePartnerStatus(ctx, input.ID, input.Body.Status); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetPartner(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.Partner }{Body: p}, nil
	})
}
