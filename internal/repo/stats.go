package repo

import (
	"context"
	"database/sql"

	"deliverline/internal/domain"
)

// CountPartnerRollup enumerates a partner's children and returns fresh
// counters. Pure read; the aggregator decides when to persist them.
func (r Repo) CountPartnerRollup(ctx context.Context, partnerID string) (domain.PartnerStats, error) {
	s := domain.PartnerStats{PartnerID: partnerID}
	row := r.DB.QueryRowContext(ctx, `
SELECT
  (SELECT count(*) FROM projects WHERE partner_id=?),
  (SELECT count(*) FROM modules WHERE partner_id=?),
  (SELECT count(*) FROM modules WHERE partner_id=? AND delivery_status='accepted'),
  (SELECT count(*) FROM stories WHERE partner_id=?),
  (SELECT count(*) FROM stories WHERE partner_id=? AND delivery_status='accepted')`,
		partnerID, partnerID, partnerID, partnerID, partnerID)
	err := row.Scan(&s.TotalProjects, &s.TotalModules, &s.AcceptedModules, &s.TotalStories, &s.AcceptedStories)
	return s, err
}

// UpsertPartnerStats rewrites the stats row wholesale.
func (r Repo) UpsertPartnerStats(ctx context.Context, s domain.PartnerStats) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO partner_stats(partner_id,total_projects,total_modules,accepted_modules,total_stories,accepted_stories,recomputed_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(partner_id) DO UPDATE SET
  total_projects=excluded.total_projects,
  total_modules=excluded.total_modules,
  accepted_modules=excluded.accepted_modules,
  total_stories=excluded.total_stories,
  accepted_stories=excluded.accepted_stories,
  recomputed_at=excluded.recomputed_at`,
		s.PartnerID, s.TotalProjects, s.TotalModules, s.AcceptedModules, s.TotalStories, s.AcceptedStories, s.RecomputedAt)
	return err
}

func (r Repo) GetPartnerStats(ctx context.Context, partnerID string) (domain.PartnerStats, error) {
	var s domain.PartnerStats
	err := r.DB.QueryRowContext(ctx, `SELECT partner_id,total_projects,total_modules,accepted_modules,total_stories,accepted_stories,recomputed_at FROM partner_stats WHERE partner_id=?`, partnerID).
		Scan(&s.PartnerID, &s.TotalProjects, &s.TotalModules, &s.AcceptedModules, &s.TotalStories, &s.AcceptedStories, &s.RecomputedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// CountStoryRollup enumerates a story's tasks and bugs.
func (r Repo) CountStoryRollup(ctx context.Context, storyID string) (domain.StoryStats, error) {
	s := domain.StoryStats{StoryID: storyID}
	row := r.DB.QueryRowContext(ctx, `
SELECT
  (SELECT count(*) FROM tasks WHERE story_id=?),
  (SELECT count(*) FROM tasks WHERE story_id=? AND status='done'),
  (SELECT count(*) FROM bugs WHERE story_id=?),
  (SELECT count(*) FROM bugs WHERE story_id=? AND status IN ('resolved','closed'))`,
		storyID, storyID, storyID, storyID)
	err := row.Scan(&s.TotalTasks, &s.DoneTasks, &s.TotalBugs, &s.ResolvedBugs)
	return s, err
}

func (r Repo) UpsertStoryStats(ctx context.Context, s domain.StoryStats) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO story_stats(story_id,total_tasks,done_tasks,total_bugs,resolved_bugs,recomputed_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(story_id) DO UPDATE SET
  total_tasks=excluded.total_tasks,
  done_tasks=excluded.done_tasks,
  total_bugs=excluded.total_bugs,
  resolved_bugs=excluded.resolved_bugs,
  recomputed_at=excluded.recomputed_at`,
		s.StoryID, s.TotalTasks, s.DoneTasks, s.TotalBugs, s.ResolvedBugs, s.RecomputedAt)
	return err
}

func (r Repo) GetStoryStats(ctx context.Context, storyID string) (domain.StoryStats, error) {
	var s domain.StoryStats
	err := r.DB.QueryRowContext(ctx, `SELECT story_id,total_tasks,done_tasks,total_bugs,resolved_bugs,recomputed_at FROM story_stats WHERE story_id=?`, storyID).
		Scan(&s.StoryID, &s.TotalTasks, &s.DoneTasks, &s.TotalBugs, &s.ResolvedBugs, &s.RecomputedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}
