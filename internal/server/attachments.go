package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"deliverline/internal/access"
	"deliverline/internal/attach"
	"deliverline/internal/domain"
	"deliverline/internal/history"
	"deliverline/internal/workflow"
)

func registerAttachments(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-attachments",
		Method:        http.MethodPost,
		Path:          "/attachments/{kind}/{id}",
		Summary:       "Attach files to a deliverable",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Kind    string `path:"kind" enum:"module,story"`
		ID      string `path:"id"`
		RawBody huma.MultipartFormFiles[struct {
			Files []huma.FormFile `form:"files" required:"true"`
		}]
	}) (*struct{ Body []domain.Attachment }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		target, err := attachmentTarget(ctx, e, input.Kind, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireCapability(e, actor, access.ActionUpload, target); err != nil {
			return nil, handleError(err)
		}
		if e.Attach == nil {
			return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed", "attachment storage is not configured", nil)
		}
		data := input.RawBody.Data()
		var uploads []attach.Upload
		for _, f := range data.Files {
			uploads = append(uploads, attach.Upload{
				Name:     f.Filename,
				Mimetype: f.ContentType,
				Reader:   f.File,
			})
		}
		atts, err := e.Attach.Save(input.Kind, input.ID, actor.ID, uploads)
		if err != nil {
			return nil, handleError(err)
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		for _, a := range atts {
			if err := e.Repo.InsertAttachmentTx(ctx, tx, a); err != nil {
				return nil, handleError(err)
			}
		}
		if _, err := e.History.Append(ctx, tx, input.Kind, input.ID, actor.ID, "attached", "", history.Payload{"count": len(atts)}); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.Attachment }{Body: atts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-attachments",
		Method:      http.MethodGet,
		Path:        "/attachments/{kind}/{id}",
		Summary:     "List attachments for an entity",
	}, func(ctx context.Context, input *struct {
		Kind string `path:"kind" enum:"module,story"`
		ID   string `path:"id"`
	}) (*struct{ Body []domain.Attachment }, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		target, err := attachmentTarget(ctx, e, input.Kind, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireCapability(e, actor, access.ActionRead, target); err != nil {
			return nil, handleError(err)
		}
		atts, err := e.Repo.ListAttachments(ctx, input.Kind, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{ Body []domain.Attachment }{Body: atts}, nil
	})
}

func attachmentTarget(ctx context.Context, e workflow.Engine, kind, id string) (access.Target, error) {
	switch kind {
	case workflow.KindModule:
		m, err := e.Repo.GetModule(ctx, id)
		if err != nil {
			return access.Target{}, err
		}
		t := access.Target{Kind: kind, ID: m.ID, ModuleID: m.ID, ProjectID: m.ProjectID}
		if m.Delivery.PartnerID != nil {
			t.PartnerID = *m.Delivery.PartnerID
		}
		return t, nil
	default:
		s, err := e.Repo.GetStory(ctx, id)
		if err != nil {
			return access.Target{}, err
		}
		t := access.Target{Kind: kind, ID: s.ID, ModuleID: s.ModuleID, ProjectID: s.ProjectID}
		if s.Delivery.PartnerID != nil {
			t.PartnerID = *s.Delivery.PartnerID
		}
		return t, nil
	}
}
