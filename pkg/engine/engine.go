// Package engine drives a run: it walks the plan's repositories one at
// a time, applies each requested action strictly sequentially, and owns
// the generation store for the lifetime of the run. Repositories with
// unreachable paths are skipped and reported; any other failure aborts
// the run.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/borgtend/borgtend/pkg/borg"
	"github.com/borgtend/borgtend/pkg/config"
	"github.com/borgtend/borgtend/pkg/genstore"
	"github.com/borgtend/borgtend/pkg/planner"
	"github.com/borgtend/borgtend/pkg/preflight"
	"github.com/borgtend/borgtend/pkg/rclone"
	"github.com/borgtend/borgtend/pkg/schedule"
	"github.com/borgtend/borgtend/pkg/statusfile"
)

// BackupTool is the slice of borg the engine depends on.
type BackupTool interface {
	Init(ctx context.Context, repository string) error
	Create(ctx context.Context, opts borg.CreateOptions) error
	List(ctx context.Context, repository string) ([]string, error)
	Check(ctx context.Context, opts borg.CheckOptions) error
	Prune(ctx context.Context, opts borg.PruneOptions) error
	Delete(ctx context.Context, repository, archive string) error
}

// SyncTool is the slice of rclone the engine depends on.
type SyncTool interface {
	Sync(ctx context.Context, opts rclone.SyncOptions) error
}

// Runner executes run plans. The clock is injected so scheduling
// decisions are deterministic under test.
type Runner struct {
	backup BackupTool
	syncer SyncTool
	store  *genstore.Store
	status *statusfile.Writer
	now    func() time.Time
	log    zerolog.Logger
}

// NewRunner assembles a Runner from its collaborators.
func NewRunner(backup BackupTool, syncer SyncTool, store *genstore.Store, status *statusfile.Writer, now func() time.Time, logger zerolog.Logger) *Runner {
	return &Runner{
		backup: backup,
		syncer: syncer,
		store:  store,
		status: status,
		now:    now,
		log:    logger.With().Str("component", "engine").Logger(),
	}
}

// Execute runs the plan. The returned report always covers every
// repository reached before the run ended; a non-nil error means the
// run aborted at the repository recorded as failed.
func (r *Runner) Execute(ctx context.Context, plan *planner.Plan) (*Report, error) {
	report := &Report{}

	for _, repo := range plan.Repositories {
		result, err := r.processRepository(ctx, plan, repo)
		report.Results = append(report.Results, result)
		r.writeRepoStatus(result)
		if err != nil {
			return report, err
		}
	}

	for _, skipped := range report.Skipped() {
		r.log.Warn().
			Str("repository", skipped.Repository).
			Str("reason", skipped.Reason).
			Msg("repository was skipped this run")
	}
	return report, nil
}

func (r *Runner) writeRepoStatus(result RepoResult) {
	status := statusfile.Status{
		State:   result.Outcome.String(),
		Time:    r.now().Unix(),
		Message: result.Reason,
	}
	if err := r.status.Write("repo-"+result.Repository, status); err != nil {
		r.log.Warn().Err(err).Str("repository", result.Repository).Msg("failed to write repository status")
	}
}

// processRepository applies every planned action to one repository.
// The returned error is the run-aborting failure, if any.
func (r *Runner) processRepository(ctx context.Context, plan *planner.Plan, repo config.RepositoryConfig) (RepoResult, error) {
	log := r.log.With().Str("repository", repo.Name).Logger()

	if err := preflight.CheckRepoPath(repo.Path); err != nil {
		log.Warn().Err(err).Msg("repository unreachable, skipping")
		return RepoResult{Repository: repo.Name, Outcome: OutcomeSkipped, Reason: err.Error()}, nil
	}

	for _, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return RepoResult{Repository: repo.Name, Outcome: OutcomeFailed, Reason: err.Error()}, err
		}

		var err error
		switch action {
		case planner.ActionInit:
			err = r.initRepository(ctx, plan, repo, log)
		case planner.ActionBackup:
			err = r.backupRepository(ctx, plan, repo, log)
		case planner.ActionCheck:
			err = r.checkRepository(ctx, plan, repo, log)
		case planner.ActionSync:
			err = r.syncRepository(ctx, plan, repo, log)
		default:
			err = fmt.Errorf("internal error: unknown action %q", action)
		}
		if err != nil {
			wrapped := fmt.Errorf("repository %s: %s: %w", repo.Name, action, err)
			return RepoResult{Repository: repo.Name, Outcome: OutcomeFailed, Reason: wrapped.Error()}, wrapped
		}
	}

	return RepoResult{Repository: repo.Name, Outcome: OutcomeProcessed}, nil
}

// initRepository initializes the repository best-effort. Borg refuses
// to re-initialize an existing repository, so failure is treated as
// "likely already initialized" and swallowed.
func (r *Runner) initRepository(ctx context.Context, plan *planner.Plan, repo config.RepositoryConfig, log zerolog.Logger) error {
	if plan.DryRun {
		log.Info().Msg("dry-run: would initialize repository")
		return nil
	}
	if err := r.backup.Init(ctx, repo.Path); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Info().Err(err).Msg("init failed, repository likely already initialized")
	}
	return nil
}

// backupRepository is the core of a run: evaluate every archive, order
// the due ones most-overdue first, back each up under a freshly
// allocated generation name, persist the advanced generation, prune,
// and finally reconcile orphaned archives.
func (r *Runner) backupRepository(ctx context.Context, plan *planner.Plan, repo config.RepositoryConfig, log zerolog.Logger) error {
	now := r.now().Unix()

	archivesByName := make(map[string]config.ArchiveConfig, len(repo.Archives))
	var due []schedule.Candidate

	// Pure compute phase: no I/O happens until ordering is settled.
	for _, archive := range repo.Archives {
		archivesByName[archive.Name] = archive

		intervalSeconds, err := archive.IntervalSeconds()
		if err != nil {
			return fmt.Errorf("archive %s: %w", archive.Name, err)
		}

		gen := r.store.Archive(archive.Name)
		status, err := schedule.Evaluate(gen.Time, intervalSeconds, now, plan.ForceAll)
		if err != nil {
			return fmt.Errorf("archive %s: %w", archive.Name, err)
		}

		log.Debug().
			Str("archive", archive.Name).
			Int64("age_seconds", status.AgeSeconds).
			Float64("overdue_ratio", status.Ratio).
			Bool("due", status.Due).
			Msg("archive evaluated")

		if status.Due {
			due = append(due, schedule.Candidate{Name: archive.Name, Status: status})
		} else {
			log.Info().
				Str("archive", archive.Name).
				Float64("overdue_ratio", status.Ratio).
				Msg("archive not due, skipping")
		}
	}

	schedule.OrderByMostOverdue(due)

	live, err := r.liveNames(ctx, repo)
	if err != nil {
		return err
	}

	for _, candidate := range due {
		archive := archivesByName[candidate.Name]
		if err := r.backupArchive(ctx, plan, repo, archive, live, log); err != nil {
			return err
		}
	}

	return r.reconcileOrphans(ctx, plan, repo, live, log)
}

// liveNames fetches the repository's current archive listing as a set.
func (r *Runner) liveNames(ctx context.Context, repo config.RepositoryConfig) (map[string]struct{}, error) {
	names, err := r.backup.List(ctx, repo.Path)
	if err != nil {
		return nil, err
	}
	live := make(map[string]struct{}, len(names))
	for _, name := range names {
		live[name] = struct{}{}
	}
	return live, nil
}

// backupArchive backs up one due archive. The generation number is
// re-derived against the live listing, committed to the store only
// after borg create succeeds, and the new name is added to live so
// later steps of this run see it.
func (r *Runner) backupArchive(ctx context.Context, plan *planner.Plan, repo config.RepositoryConfig, archive config.ArchiveConfig, live map[string]struct{}, log zerolog.Logger) error {
	gen := r.store.Archive(archive.Name)
	next := schedule.NextGeneration(archive.Name, gen.Generation, live)
	materialized := schedule.MaterializedName(archive.Name, next)

	if next != gen.Generation+1 {
		log.Warn().
			Str("archive", archive.Name).
			Int("persisted_generation", gen.Generation).
			Int("allocated_generation", next).
			Msg("persisted counter lags repository contents, skipping taken generations")
	}

	opts := borg.CreateOptions{
		Repository:        repo.Path,
		Archive:           materialized,
		SourcePaths:       archive.Paths,
		Compression:       repo.Compression,
		ExcludeFile:       archive.ExcludeFile,
		ExcludeIfPresent:  archive.ExcludeIfPresent,
		OneFileSystem:     archive.OneFileSystem,
		RemoteRateLimitKB: repo.RemoteRateLimitKB,
	}

	if plan.DryRun {
		log.Info().Str("archive", materialized).Msg("dry-run: would create archive")
		return nil
	}

	if err := r.backup.Create(ctx, opts); err != nil {
		return err
	}
	live[materialized] = struct{}{}

	r.store.SetArchive(archive.Name, genstore.ArchiveGeneration{
		Generation: next,
		Time:       r.now().Unix(),
	})
	if err := r.store.Flush(); err != nil {
		return fmt.Errorf("persist generation for %s: %w", archive.Name, err)
	}

	// Retention is independent of backup success: the generation above
	// stays committed even if pruning fails.
	if !plan.NoPrune && !repo.Keep.Empty() {
		pruneOpts := borg.PruneOptions{
			Repository:   repo.Path,
			GlobArchives: schedule.Prefix(archive.Name) + "*",
			Hourly:       repo.Keep.Hourly,
			Daily:        repo.Keep.Daily,
			Weekly:       repo.Keep.Weekly,
			Monthly:      repo.Keep.Monthly,
			Yearly:       repo.Keep.Yearly,
		}
		if err := r.backup.Prune(ctx, pruneOpts); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("archive", archive.Name).Msg("prune failed, backup itself is unaffected")
		}
	}
	return nil
}

// reconcileOrphans deletes live archives whose names match no configured
// archive prefix. Only exact prefix matches protect an archive, so
// renaming or removing an archive in the configuration eventually
// cleans up its generations. A repository with no configured archives
// is never reconciled: with an empty prefix list every live archive
// would count as an orphan, and deleting a repository's entire
// contents over a config gap is not a cleanup.
func (r *Runner) reconcileOrphans(ctx context.Context, plan *planner.Plan, repo config.RepositoryConfig, live map[string]struct{}, log zerolog.Logger) error {
	if len(repo.Archives) == 0 {
		if len(live) > 0 {
			log.Warn().
				Int("live_archives", len(live)).
				Msg("no archives configured, leaving existing archives untouched")
		}
		return nil
	}

	prefixes := make([]string, 0, len(repo.Archives))
	for _, archive := range repo.Archives {
		prefixes = append(prefixes, schedule.Prefix(archive.Name))
	}

	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if matchesAny(name, prefixes) {
			continue
		}

		log.Warn().Str("archive", name).Msg("orphaned archive, no configured prefix matches")
		if plan.DryRun {
			log.Info().Str("archive", name).Msg("dry-run: would delete orphaned archive")
			continue
		}
		if err := r.backup.Delete(ctx, repo.Path, name); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("archive", name).Msg("failed to delete orphaned archive")
		}
	}
	return nil
}

func matchesAny(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// checkRepository verifies the most recent generations of every
// configured archive.
func (r *Runner) checkRepository(ctx context.Context, plan *planner.Plan, repo config.RepositoryConfig, log zerolog.Logger) error {
	for _, archive := range repo.Archives {
		opts := borg.CheckOptions{
			Repository:   repo.Path,
			GlobArchives: schedule.Prefix(archive.Name) + "*",
			Last:         plan.CheckLast,
		}
		if plan.DryRun {
			log.Info().Str("archive", archive.Name).Msg("dry-run: would check archive")
			continue
		}
		if err := r.backup.Check(ctx, opts); err != nil {
			return err
		}
	}
	return nil
}

// syncRepository mirrors the repository if its sync job is due.
func (r *Runner) syncRepository(ctx context.Context, plan *planner.Plan, repo config.RepositoryConfig, log zerolog.Logger) error {
	if repo.Sync == nil {
		log.Debug().Msg("no sync target configured")
		return nil
	}

	intervalSeconds, err := repo.Sync.IntervalSeconds()
	if err != nil {
		return err
	}

	now := r.now().Unix()
	status, err := schedule.Evaluate(r.store.SyncTime(repo.Name), intervalSeconds, now, plan.ForceAll)
	if err != nil {
		return err
	}
	if !status.Due {
		log.Info().Float64("overdue_ratio", status.Ratio).Msg("sync not due, skipping")
		return nil
	}

	opts := rclone.SyncOptions{
		ConfigFile:     repo.Sync.ConfigFile,
		Source:         repo.Path,
		Destination:    repo.Sync.Destination,
		BandwidthLimit: repo.Sync.BandwidthLimit,
	}

	if plan.DryRun {
		log.Info().Str("destination", opts.Destination).Msg("dry-run: would sync repository")
		return nil
	}

	if err := r.syncer.Sync(ctx, opts); err != nil {
		return err
	}

	r.store.SetSyncTime(repo.Name, r.now().Unix())
	if err := r.store.Flush(); err != nil {
		return fmt.Errorf("persist sync time for %s: %w", repo.Name, err)
	}
	return nil
}
