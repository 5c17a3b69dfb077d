// Package stats recomputes rollup counters from child entities. Recompute
// is pull-based and idempotent: counters are always rewritten wholesale
// from a fresh enumeration, never incremented in place.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"deliverline/internal/domain"
	"deliverline/internal/repo"
)

type Aggregator struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(db *sql.DB) *Aggregator {
	return &Aggregator{Repo: repo.Repo{DB: db}, Now: time.Now}
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// RecomputePartner re-derives a partner's counters from its projects,
// modules and stories.
func (a *Aggregator) RecomputePartner(ctx context.Context, partnerID string) (domain.PartnerStats, error) {
	if _, err := a.Repo.GetPartner(ctx, partnerID); err != nil {
		return domain.PartnerStats{}, err
	}
	s, err := a.Repo.CountPartnerRollup(ctx, partnerID)
	if err != nil {
		return domain.PartnerStats{}, err
	}
	s.RecomputedAt = a.now().UTC().Format(time.RFC3339)
	if err := a.Repo.UpsertPartnerStats(ctx, s); err != nil {
		return domain.PartnerStats{}, err
	}
	return s, nil
}

// RecomputeProject recomputes the counters of the project's partner. A
// project without a partner has nothing to roll up.
func (a *Aggregator) RecomputeProject(ctx context.Context, projectID string) (domain.PartnerStats, error) {
	p, err := a.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.PartnerStats{}, err
	}
	if p.PartnerID == nil {
		return domain.PartnerStats{}, nil
	}
	return a.RecomputePartner(ctx, *p.PartnerID)
}

// RecomputeStory re-derives a story's task/bug counters.
func (a *Aggregator) RecomputeStory(ctx context.Context, storyID string) (domain.StoryStats, error) {
	if _, err := a.Repo.GetStory(ctx, storyID); err != nil {
		return domain.StoryStats{}, err
	}
	s, err := a.Repo.CountStoryRollup(ctx, storyID)
	if err != nil {
		return domain.StoryStats{}, err
	}
	s.RecomputedAt = a.now().UTC().Format(time.RFC3339)
	if err := a.Repo.UpsertStoryStats(ctx, s); err != nil {
		return domain.StoryStats{}, err
	}
	return s, nil
}

// IsNotFound reports whether the recompute target did not resolve.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
