package workflow

import (
	"context"
	"errors"
	"time"

	"deliverline/internal/access"
	"deliverline/internal/history"
)

// Task statuses.
const (
	TaskOpen       = "open"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskCanceled   = "canceled"
)

// Bug statuses.
const (
	BugOpen       = "open"
	BugInProgress = "in_progress"
	BugResolved   = "resolved"
	BugClosed     = "closed"
	BugReopened   = "reopened"
)

func ensureTaskTransition(from, to string) error {
	switch from {
	case TaskOpen:
		if to == TaskInProgress || to == TaskDone || to == TaskCanceled {
			return nil
		}
	case TaskInProgress:
		if to == TaskDone || to == TaskCanceled || to == TaskOpen {
			return nil
		}
	case TaskCanceled:
		if to == TaskOpen {
			return nil
		}
	}
	return InvalidTransitionError{Kind: "task", From: from, To: to}
}

func ensureBugTransition(from, to string) error {
	switch from {
	case BugOpen:
		if to == BugInProgress || to == BugResolved || to == BugClosed {
			return nil
		}
	case BugInProgress:
		if to == BugResolved || to == BugOpen || to == BugClosed {
			return nil
		}
	case BugResolved:
		if to == BugClosed || to == BugReopened {
			return nil
		}
	case BugClosed:
		if to == BugReopened {
			return nil
		}
	case BugReopened:
		if to == BugInProgress || to == BugResolved || to == BugClosed {
			return nil
		}
	}
	return InvalidTransitionError{Kind: "bug", From: from, To: to}
}

// SetTaskStatus moves a task along its own small machine. Task moves are
// gated by the resolve:task capability.
func (e Engine) SetTaskStatus(ctx context.Context, actor access.Actor, id, status, note string) (TransitionResult, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	target := access.Target{Kind: "task", ID: t.ID, ProjectID: t.ProjectID}
	if err := e.Scope().Err(actor, "resolve:task", target); err != nil {
		return TransitionResult{}, err
	}
	if err := ensureTaskTransition(t.Status, status); err != nil {
		var ite InvalidTransitionError
		if errors.As(err, &ite) {
			ite.ID = id
			return TransitionResult{}, ite
		}
		return TransitionResult{}, err
	}

	from := t.Status
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.ApplyTaskStatus(ctx, tx, id, status, from, now); err != nil {
		return TransitionResult{}, e.mapStale(err, "task", id, from, status)
	}
	hid, err := e.History.Append(ctx, tx, "task", id, actor.ID, "status_changed", note, history.Payload{"from": from, "to": status})
	if err != nil {
		return TransitionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, err
	}

	e.runHooks(ctx, []hook{e.recomputeStoryHook(t.StoryID)})
	return TransitionResult{Kind: "task", ID: id, Status: status, HistoryID: hid}, nil
}

// SetBugStatus moves a bug along its machine. Reopening needs the
// reopen:bug capability, every other move resolve:bug.
func (e Engine) SetBugStatus(ctx context.Context, actor access.Actor, id, status, note string) (TransitionResult, error) {
	b, err := e.Repo.GetBug(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	action := "resolve:bug"
	if status == BugReopened {
		action = "reopen:bug"
	}
	target := access.Target{Kind: "bug", ID: b.ID, ProjectID: b.ProjectID}
	if err := e.Scope().Err(actor, action, target); err != nil {
		return TransitionResult{}, err
	}
	if err := ensureBugTransition(b.Status, status); err != nil {
		var ite InvalidTransitionError
		if errors.As(err, &ite) {
			ite.ID = id
			return TransitionResult{}, ite
		}
		return TransitionResult{}, err
	}

	from := b.Status
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.ApplyBugStatus(ctx, tx, id, status, from, now); err != nil {
		return TransitionResult{}, e.mapStale(err, "bug", id, from, status)
	}
	hid, err := e.History.Append(ctx, tx, "bug", id, actor.ID, "status_changed", note, history.Payload{"from": from, "to": status})
	if err != nil {
		return TransitionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, err
	}

	e.runHooks(ctx, []hook{e.recomputeStoryHook(b.StoryID)})
	return TransitionResult{Kind: "bug", ID: id, Status: status, HistoryID: hid}, nil
}
