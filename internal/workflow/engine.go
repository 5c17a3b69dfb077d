package workflow

import (
	"context"
	"database/sql"
	"log"
	"time"

	"deliverline/internal/access"
	"deliverline/internal/attach"
	"deliverline/internal/config"
	"deliverline/internal/history"
	"deliverline/internal/notify"
	"deliverline/internal/repo"
	"deliverline/internal/stats"
)

// Engine validates and applies delivery/approval transitions. Every
// transition commits the field change and its history entry in one
// transaction; notifications and stats recompute run post-commit and
// never unwind the transition.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	History  history.Writer
	Log      history.Reader
	Config   *config.Config
	Now      func() time.Time
	Notifier notify.Dispatcher
	Stats    *stats.Aggregator
	Attach   attach.Store
	Logger   *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		History:  history.Writer{DB: db},
		Log:      history.Reader{DB: db},
		Config:   cfg,
		Now:      time.Now,
		Notifier: notify.LogDispatcher{},
		Stats:    stats.New(db),
		Attach:   attach.NewFSStore(attachDir(cfg)),
	}
}

func attachDir(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.Attachments.Dir
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// Scope builds the access predicate from current config. Rebuilt per
// call; authorization results are never cached across requests.
func (e Engine) Scope() access.Scope {
	return access.NewScope(e.Config)
}

// ResolveActor loads a user and its explicit data-scope sets into the
// actor shape the access predicate consumes.
func (e Engine) ResolveActor(ctx context.Context, userID string) (access.Actor, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return access.Actor{}, err
	}
	scope, err := e.Repo.GetUserScopes(ctx, u.ID)
	if err != nil {
		return access.Actor{}, err
	}
	partnerID := ""
	if u.PartnerID != nil {
		partnerID = *u.PartnerID
	}
	return access.Actor{ID: u.ID, Role: u.Role, PartnerID: partnerID, Scope: scope}, nil
}

// hook is a post-commit side effect. Hooks run after the transaction has
// committed; their failures are logged and swallowed.
type hook func(ctx context.Context)

func (e Engine) runHooks(ctx context.Context, hooks []hook) {
	for _, h := range hooks {
		h(ctx)
	}
}

func (e Engine) notifyHook(userID, title, message string, meta map[string]any) hook {
	return func(ctx context.Context) {
		if e.Notifier == nil || userID == "" {
			return
		}
		if err := e.Notifier.Notify(ctx, userID, title, message, meta); err != nil {
			e.logger().Printf("notify %s failed: %v", userID, err)
		}
	}
}

func (e Engine) recomputePartnerHook(partnerID string) hook {
	return func(ctx context.Context) {
		if e.Stats == nil || partnerID == "" {
			return
		}
		if _, err := e.Stats.RecomputePartner(ctx, partnerID); err != nil {
			e.logger().Printf("recompute partner %s failed: %v", partnerID, err)
		}
	}
}

func (e Engine) recomputeStoryHook(storyID string) hook {
	return func(ctx context.Context) {
		if e.Stats == nil || storyID == "" {
			return
		}
		if _, err := e.Stats.RecomputeStory(ctx, storyID); err != nil {
			e.logger().Printf("recompute story %s failed: %v", storyID, err)
		}
	}
}
