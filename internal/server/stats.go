package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deliverline/internal/access"
	"deliverline/internal/domain"
	"deliverline/internal/workflow"
)

func registerStats(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-partner-stats",
		Method:      http.MethodGet,
		Path:        "/partners/{id}/stats",
		Summary:     "Partner delivery rollup",
	}, func(ctx context.Context, input *IDPath) (*struct{ Body domain.PartnerStats }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		target := access.Target{Kind: "partner", ID: input.ID, PartnerID: input.ID}
		if err := requireCapability(e, actor, access.ActionViewDashboard, target); err != nil {
			return nil, handleError(err)
		}
		st, err := e.Repo.GetPartnerStats(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.PartnerStats }{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-partner-stats",
		Method:      http.MethodPost,
		Path:        "/partners/{id}/stats/recompute",
		Summary:     "Recompute partner rollup from source rows",
	}, func(ctx context.Context, input *IDPath) (*struct{ Body domain.PartnerStats }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		target := access.Target{Kind: "partner", ID: input.ID, PartnerID: input.ID}
		if err := requireCapability(e, actor, access.ActionViewDashboard, target); err != nil {
			return nil, handleError(err)
		}
		st, err := e.Stats.RecomputePartner(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.PartnerStats }{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-project-stats",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/stats/recompute",
		Summary:     "Recompute the rollup of the project's partner",
	}, func(ctx context.Context, input *IDPath) (*struct{ Body domain.PartnerStats }, error) {
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
		if err := requireCapability(e, actor, access.ActionViewDashboard, target); err != nil {
			return nil, handleError(err)
		}
		st, err := e.Stats.RecomputeProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.PartnerStats }{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-story-stats",
		Method:      http.MethodGet,
		Path:        "/stories/{id}/stats",
		Summary:     "Story work-item rollup",
	}, func(ctx context.Context, input *IDPath) (*struct{ Body domain.StoryStats }, error) {
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
		st, err := e.Repo.GetStoryStats(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.StoryStats }{Body: st}, nil
	})
}
