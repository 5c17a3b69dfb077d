package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"deliverline/internal/access"
	"deliverline/internal/attach"
	"deliverline/internal/domain"
	"deliverline/internal/history"
	"deliverline/internal/repo"
)

// Entity kinds carrying the delivery lifecycle.
const (
	KindModule = "module"
	KindStory  = "story"
)

// Lifecycle statuses. Status is the canonical field; delivery status is
// derived from it through deliveryStatusFor and persisted only so the
// conditional update has a single column to guard.
const (
	StatusPlanning      = "planning"
	StatusInDevelopment = "in_development"
	StatusDelivered     = "delivered"
	StatusAccepted      = "accepted"
	StatusRejected      = "rejected"
	StatusClosed        = "closed"
)

const (
	DeliveryNone     = "none"
	DeliveryPending  = "pending"
	DeliveryAccepted = "accepted"
	DeliveryRejected = "rejected"
)

func deliveryStatusFor(status string) string {
	switch status {
	case StatusDelivered:
		return DeliveryPending
	case StatusAccepted:
		return DeliveryAccepted
	case StatusRejected:
		return DeliveryRejected
	default:
		return DeliveryNone
	}
}

// TransitionResult reports the committed state after a transition,
// including the id of the history entry written with it.
type TransitionResult struct {
	Kind           string `json:"kind"`
	ID             string `json:"id"`
	Status         string `json:"status"`
	DeliveryStatus string `json:"delivery_status"`
	HistoryID      int64  `json:"history_id"`
}

// DeliverInput carries the optional handoff metadata.
type DeliverInput struct {
	Note      string
	CommitRef string
	Uploads   []attach.Upload
}

// deliverable is the kind-independent view of a module or story that the
// delivery machine operates on.
type deliverable struct {
	Kind           string
	ID             string
	ProjectID      string
	ModuleID       string
	Status         string
	DeliveryStatus string
	Delivery       domain.Delivery
	Approval       domain.Approval
	UpdatedAt      string
}

func (e Engine) loadDeliverable(ctx context.Context, kind, id string) (deliverable, error) {
	switch kind {
	case KindModule:
		m, err := e.Repo.GetModule(ctx, id)
		if err != nil {
			return deliverable{}, err
		}
		return deliverable{
			Kind: kind, ID: m.ID, ProjectID: m.ProjectID, ModuleID: m.ID,
			Status: m.Status, DeliveryStatus: m.DeliveryStatus,
			Delivery: m.Delivery, Approval: m.Approval, UpdatedAt: m.UpdatedAt,
		}, nil
	case KindStory:
		s, err := e.Repo.GetStory(ctx, id)
		if err != nil {
			return deliverable{}, err
		}
		return deliverable{
			Kind: kind, ID: s.ID, ProjectID: s.ProjectID, ModuleID: s.ModuleID,
			Status: s.Status, DeliveryStatus: s.DeliveryStatus,
			Delivery: s.Delivery, Approval: s.Approval, UpdatedAt: s.UpdatedAt,
		}, nil
	default:
		return deliverable{}, ValidationError{Message: fmt.Sprintf("unknown entity kind %q", kind)}
	}
}

// applyDeliverable writes the lifecycle fields guarded by the status and
// delivery status the caller read. repo.ErrStale means a concurrent
// transition won.
func (e Engine) applyDeliverable(ctx context.Context, tx *sql.Tx, d deliverable, expectedStatus, expectedDelivery string) error {
	switch d.Kind {
	case KindModule:
		return e.Repo.ApplyModuleTransition(ctx, tx, domain.Module{
			ID: d.ID, Status: d.Status, DeliveryStatus: d.DeliveryStatus,
			Delivery: d.Delivery, Approval: d.Approval, UpdatedAt: d.UpdatedAt,
		}, expectedStatus, expectedDelivery)
	case KindStory:
		return e.Repo.ApplyStoryTransition(ctx, tx, domain.UserStory{
			ID: d.ID, Status: d.Status, DeliveryStatus: d.DeliveryStatus,
			Delivery: d.Delivery, Approval: d.Approval, UpdatedAt: d.UpdatedAt,
		}, expectedStatus, expectedDelivery)
	default:
		return ValidationError{Message: fmt.Sprintf("unknown entity kind %q", d.Kind)}
	}
}

// deliverableTarget resolves the ancestry the access predicate needs:
// delivery partner, owning project and its manager.
func (e Engine) deliverableTarget(ctx context.Context, d deliverable) (access.Target, error) {
	t := access.Target{Kind: d.Kind, ID: d.ID, ProjectID: d.ProjectID, ModuleID: d.ModuleID}
	if d.Delivery.PartnerID != nil {
		t.PartnerID = *d.Delivery.PartnerID
	}
	p, err := e.Repo.GetProject(ctx, d.ProjectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return t, nil
		}
		return t, err
	}
	t.ProjectManagerID = p.ManagerID
	if t.PartnerID == "" && p.PartnerID != nil {
		t.PartnerID = *p.PartnerID
	}
	return t, nil
}

// Start moves a planned deliverable into development.
func (e Engine) Start(ctx context.Context, actor access.Actor, kind, id string) (TransitionResult, error) {
	d, err := e.loadDeliverable(ctx, kind, id)
	if err != nil {
		return TransitionResult{}, err
	}
	target, err := e.deliverableTarget(ctx, d)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := e.Scope().Err(actor, access.ActionDeliver, target); err != nil {
		return TransitionResult{}, err
	}
	if d.Status != StatusPlanning {
		return TransitionResult{}, InvalidTransitionError{Kind: kind, ID: id, From: d.Status, To: StatusInDevelopment}
	}
	from := d.Status
	expected := d.DeliveryStatus
	now := e.now().UTC().Format(time.RFC3339)
	d.Status = StatusInDevelopment
	d.DeliveryStatus = deliveryStatusFor(d.Status)
	d.UpdatedAt = now

	hid, err := e.commitTransition(ctx, d, from, expected, actor.ID, "started", "", history.Payload{"from": from, "to": d.Status}, nil)
	if err != nil {
		return TransitionResult{}, e.mapStale(err, kind, id, from, StatusInDevelopment)
	}
	return TransitionResult{Kind: kind, ID: id, Status: d.Status, DeliveryStatus: d.DeliveryStatus, HistoryID: hid}, nil
}

// Deliver hands the entity over for review. Allowed from any state except
// an open or accepted delivery; rejected entities may be redelivered.
func (e Engine) Deliver(ctx context.Context, actor access.Actor, kind, id string, in DeliverInput) (TransitionResult, error) {
	d, err := e.loadDeliverable(ctx, kind, id)
	if err != nil {
		return TransitionResult{}, err
	}
	target, err := e.deliverableTarget(ctx, d)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := e.Scope().Err(actor, access.ActionDeliver, target); err != nil {
		return TransitionResult{}, err
	}
	switch d.Status {
	case StatusDelivered, StatusAccepted, StatusClosed:
		return TransitionResult{}, InvalidTransitionError{Kind: kind, ID: id, From: d.Status, To: StatusDelivered}
	}

	from := d.Status
	expected := d.DeliveryStatus
	now := e.now().UTC().Format(time.RFC3339)
	d.Status = StatusDelivered
	d.DeliveryStatus = deliveryStatusFor(d.Status)
	d.Delivery.DeliveredBy = &actor.ID
	d.Delivery.DeliveredAt = &now
	d.Delivery.Note = in.Note
	d.Delivery.CommitRef = in.CommitRef
	if actor.PartnerID != "" {
		pid := actor.PartnerID
		d.Delivery.PartnerID = &pid
	} else if d.Delivery.PartnerID == nil && target.PartnerID != "" {
		pid := target.PartnerID
		d.Delivery.PartnerID = &pid
	}
	// A redelivery opens a fresh review round.
	d.Approval = domain.Approval{}
	d.UpdatedAt = now

	// Payloads are written before the transaction; descriptors commit with
	// it. A rollback can leave orphan files, never dangling descriptors.
	var atts []domain.Attachment
	if len(in.Uploads) > 0 {
		if e.Attach == nil {
			return TransitionResult{}, ValidationError{Message: "attachment storage is not configured"}
		}
		atts, err = e.Attach.Save(kind, id, actor.ID, in.Uploads)
		if err != nil {
			return TransitionResult{}, err
		}
	}

	payload := history.Payload{"from": from, "to": d.Status}
	if in.CommitRef != "" {
		payload["commit_ref"] = in.CommitRef
	}
	if len(atts) > 0 {
		payload["attachments"] = len(atts)
	}
	hid, err := e.commitTransition(ctx, d, from, expected, actor.ID, "delivered", in.Note, payload, atts)
	if err != nil {
		return TransitionResult{}, e.mapStale(err, kind, id, from, StatusDelivered)
	}

	e.runHooks(ctx, []hook{
		e.notifyPartnerHook(d.Delivery.PartnerID, "Delivery submitted",
			fmt.Sprintf("%s %s was delivered and awaits review", kind, id),
			map[string]any{"kind": kind, "id": id, "history_id": hid}),
		e.notifyHook(target.ProjectManagerID, "Delivery pending review",
			fmt.Sprintf("%s %s was delivered and awaits review", kind, id),
			map[string]any{"kind": kind, "id": id, "history_id": hid}),
	})
	return TransitionResult{Kind: kind, ID: id, Status: d.Status, DeliveryStatus: d.DeliveryStatus, HistoryID: hid}, nil
}

// Approve accepts a pending delivery.
func (e Engine) Approve(ctx context.Context, actor access.Actor, kind, id, note string) (TransitionResult, error) {
	return e.decide(ctx, actor, kind, id, note, true)
}

// Reject sends a pending delivery back. The note is mandatory: the
// partner must learn why.
func (e Engine) Reject(ctx context.Context, actor access.Actor, kind, id, note string) (TransitionResult, error) {
	if strings.TrimSpace(note) == "" {
		return TransitionResult{}, ValidationError{Message: "a rejection note is required"}
	}
	return e.decide(ctx, actor, kind, id, note, false)
}

func (e Engine) decide(ctx context.Context, actor access.Actor, kind, id, note string, accept bool) (TransitionResult, error) {
	action, to, histAction := access.ActionApprove, StatusAccepted, "accepted"
	if !accept {
		action, to, histAction = access.ActionReject, StatusRejected, "rejected"
	}
	d, err := e.loadDeliverable(ctx, kind, id)
	if err != nil {
		return TransitionResult{}, err
	}
	target, err := e.deliverableTarget(ctx, d)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := e.Scope().Err(actor, action, target); err != nil {
		return TransitionResult{}, err
	}
	if d.DeliveryStatus != DeliveryPending {
		return TransitionResult{}, InvalidTransitionError{Kind: kind, ID: id, From: d.Status, To: to}
	}

	from := d.Status
	expected := d.DeliveryStatus
	now := e.now().UTC().Format(time.RFC3339)
	d.Status = to
	d.DeliveryStatus = deliveryStatusFor(to)
	d.Approval = domain.Approval{ApprovedBy: &actor.ID, ApprovedAt: &now, Note: note}
	d.UpdatedAt = now

	hid, err := e.commitTransition(ctx, d, from, expected, actor.ID, histAction, note, history.Payload{"from": from, "to": to}, nil)
	if err != nil {
		return TransitionResult{}, e.mapStale(err, kind, id, from, to)
	}

	hooks := []hook{
		e.notifyPartnerHook(d.Delivery.PartnerID,
			fmt.Sprintf("Delivery %s", histAction),
			fmt.Sprintf("%s %s was %s", kind, id, histAction),
			map[string]any{"kind": kind, "id": id, "history_id": hid}),
	}
	if accept {
		if pid := d.Delivery.PartnerID; pid != nil {
			hooks = append(hooks, e.recomputePartnerHook(*pid))
		} else {
			hooks = append(hooks, e.recomputeProjectHook(d.ProjectID))
		}
	}
	e.runHooks(ctx, hooks)
	return TransitionResult{Kind: kind, ID: id, Status: d.Status, DeliveryStatus: d.DeliveryStatus, HistoryID: hid}, nil
}

// Close archives an accepted deliverable. Manager-only, like approval.
func (e Engine) Close(ctx context.Context, actor access.Actor, kind, id, note string) (TransitionResult, error) {
	d, err := e.loadDeliverable(ctx, kind, id)
	if err != nil {
		return TransitionResult{}, err
	}
	target, err := e.deliverableTarget(ctx, d)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := e.Scope().Err(actor, access.ActionClose, target); err != nil {
		return TransitionResult{}, err
	}
	if d.Status != StatusAccepted {
		return TransitionResult{}, InvalidTransitionError{Kind: kind, ID: id, From: d.Status, To: StatusClosed}
	}
	from := d.Status
	expected := d.DeliveryStatus
	now := e.now().UTC().Format(time.RFC3339)
	d.Status = StatusClosed
	d.UpdatedAt = now

	hid, err := e.commitTransition(ctx, d, from, expected, actor.ID, "closed", note, history.Payload{"from": from, "to": d.Status}, nil)
	if err != nil {
		return TransitionResult{}, e.mapStale(err, kind, id, from, StatusClosed)
	}
	return TransitionResult{Kind: kind, ID: id, Status: d.Status, DeliveryStatus: d.DeliveryStatus, HistoryID: hid}, nil
}

// commitTransition applies the guarded update, the attachment descriptors
// and the history entry in one transaction and returns the history id.
func (e Engine) commitTransition(ctx context.Context, d deliverable, expectedStatus, expectedDelivery, actorID, action, note string, payload history.Payload, atts []domain.Attachment) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := e.applyDeliverable(ctx, tx, d, expectedStatus, expectedDelivery); err != nil {
		return 0, err
	}
	for _, a := range atts {
		if err := e.Repo.InsertAttachmentTx(ctx, tx, a); err != nil {
			return 0, err
		}
	}
	hid, err := e.History.Append(ctx, tx, d.Kind, d.ID, actorID, action, note, payload)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return hid, nil
}

// mapStale turns a lost write race into the same error an out-of-order
// call would get; callers cannot tell the two apart and should not.
func (e Engine) mapStale(err error, kind, id, from, to string) error {
	if errors.Is(err, repo.ErrStale) {
		return InvalidTransitionError{Kind: kind, ID: id, From: from, To: to}
	}
	return err
}

func (e Engine) notifyPartnerHook(partnerID *string, title, message string, meta map[string]any) hook {
	return func(ctx context.Context) {
		if e.Notifier == nil || partnerID == nil || *partnerID == "" {
			return
		}
		u, err := e.Repo.FindPartnerUser(ctx, *partnerID)
		if err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				e.logger().Printf("notify partner %s: lookup failed: %v", *partnerID, err)
			}
			return
		}
		e.notifyHook(u.ID, title, message, meta)(ctx)
	}
}

func (e Engine) recomputeProjectHook(projectID string) hook {
	return func(ctx context.Context) {
		if e.Stats == nil || projectID == "" {
			return
		}
		if _, err := e.Stats.RecomputeProject(ctx, projectID); err != nil {
			e.logger().Printf("recompute project %s failed: %v", projectID, err)
		}
	}
}
