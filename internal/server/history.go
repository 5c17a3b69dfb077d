package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deliverline/internal/access"
	"deliverline/internal/domain"
	"deliverline/internal/history"
	"deliverline/internal/workflow"
)

func registerHistory(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "Query the audit trail",
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		ActorID    string `query:"actor_id"`
		Action     string `query:"action"`
		Cursor     int64  `query:"cursor"`
		Limit      int    `query:"limit"`
	}) (*struct{ Body []domain.HistoryEntry }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, access.ActionRead, access.Target{Kind: "history"}); err != nil {
			return nil, handleError(err)
		}
		entries, err := e.Log.List(ctx, history.Filters{
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			ActorID:    input.ActorID,
			Action:     input.Action,
			Cursor:     input.Cursor,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.HistoryEntry }{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "entity-history",
		Method:      http.MethodGet,
		Path:        "/history/{kind}/{id}",
		Summary:     "History for one entity",
	}, func(ctx context.Context, input *struct {
		Kind string `path:"kind"`
		ID   string `path:"id"`
	}) (*struct{ Body []domain.HistoryEntry }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, access.ActionRead, access.Target{Kind: "history"}); err != nil {
			return nil, handleError(err)
		}
		entries, err := e.Log.List(ctx, history.Filters{EntityKind: input.Kind, EntityID: input.ID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.HistoryEntry }{Body: entries}, nil
	})
}
