package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"deliverline/internal/access"
	"deliverline/internal/domain"
	"deliverline/internal/repo"
	"deliverline/internal/workflow"
)

func registerUsers(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name      string           `json:"name" minLength:"1"`
			Role      string           `json:"role" enum:"partner,ba,po,pm,dev,qa,devops,admin"`
			PartnerID string           `json:"partner_id,omitempty"`
			Scope     domain.DataScope `json:"scope,omitempty"`
		}
	}) (*struct{ Body domain.User }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, "manage:users", access.Target{Kind: "user"}); err != nil {
			return nil, handleError(err)
		}
		u, err := e.CreateUser(ctx, actor.ID, workflow.UserInput{
			Name:      input.Body.Name,
			Role:      input.Body.Role,
			PartnerID: input.Body.PartnerID,
			Scope:     input.Body.Scope,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.User }{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct{ Body []domain.User }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, "manage:users", access.Target{Kind: "user"}); err != nil {
			return nil, handleError(err)
		}
		us, err := e.Repo.ListUsers(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.User }{Body: us}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-scope",
		Method:      http.MethodPut,
		Path:        "/users/{id}/scope",
		Summary:     "Replace a user's data scope",
	}, func(ctx context.Context, input *struct {
		IDPath
		Body domain.DataScope
	}) (*struct{ Body domain.DataScope }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, "manage:users", access.Target{Kind: "user", ID: input.ID}); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetUser(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.ReplaceUserScopes(ctx, input.ID, input.Body); err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Repo.GetUserScopes(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body domain.DataScope }{Body: scope}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current actor",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			ID        string           `json:"id"`
			Role      string           `json:"role"`
			PartnerID string           `json:"partner_id,omitempty"`
			Scope     domain.DataScope `json:"scope"`
		}
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		out := &struct {
			Body struct {
				ID        string           `json:"id"`
				Role      string           `json:"role"`
				PartnerID string           `json:"partner_id,omitempty"`
				Scope     domain.DataScope `json:"scope"`
			}
		}{}
		out.Body.ID = actor.ID
		out.Body.Role = actor.Role
		out.Body.PartnerID = actor.PartnerID
		out.Body.Scope = actor.Scope
		return out, nil
	})

	registerAPIKeys(api, e)
}

func registerAPIKeys(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/users/{id}/api-keys",
		Summary:       "Issue API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		IDPath
		Body struct {
			Name string `json:"name,omitempty"`
		}
	}) (*struct {
		Body struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		}
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, "manage:users", access.Target{Kind: "user", ID: input.ID}); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetUser(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			return nil, handleError(err)
		}
		// The raw key is returned once and only its hash is stored.
		key := "dlv_" + hex.EncodeToString(raw)
		rec := domain.APIKey{
			ID:        uuid.New().String(),
			ActorID:   input.ID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(key),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, rec); err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				ID  string `json:"id"`
				Key string `json:"key"`
			}
		}{}
		out.Body.ID = rec.ID
		out.Body.Key = key
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/users/{id}/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *IDPath) (*struct{ Body []domain.APIKey }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, "manage:users", access.Target{Kind: "user", ID: input.ID}); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.APIKey }{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke API key",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *IDPath) (*struct{}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireCapability(e, actor, "manage:users", access.Target{Kind: "user"}); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
