// Package planner turns configuration plus per-run flags into an
// executable run plan: which actions, over which repositories, under
// which overrides. Selection and ordering decisions live here so the
// engine only ever executes a fully resolved plan.
package planner

import (
	"fmt"

	"github.com/borgtend/borgtend/pkg/config"
)

// Action is one of the run's top-level operations.
type Action string

const (
	ActionInit   Action = "init"
	ActionBackup Action = "backup"
	ActionCheck  Action = "check"
	ActionSync   Action = "sync"
)

// actionOrder fixes execution order regardless of how actions were
// given on the command line: a repository is initialized before it is
// backed up, checked after, and mirrored last.
var actionOrder = []Action{ActionInit, ActionBackup, ActionCheck, ActionSync}

// ParseActions validates and canonicalizes a set of action names.
// Duplicates collapse; an empty set defaults to backup.
func ParseActions(names []string) ([]Action, error) {
	if len(names) == 0 {
		return []Action{ActionBackup}, nil
	}

	requested := make(map[Action]struct{}, len(names))
	for _, name := range names {
		switch a := Action(name); a {
		case ActionInit, ActionBackup, ActionCheck, ActionSync:
			requested[a] = struct{}{}
		default:
			return nil, fmt.Errorf("unknown action %q, must be one of init, backup, check, sync", name)
		}
	}

	actions := make([]Action, 0, len(requested))
	for _, a := range actionOrder {
		if _, ok := requested[a]; ok {
			actions = append(actions, a)
		}
	}
	return actions, nil
}

// Flags are the per-run overrides taken from the command line.
type Flags struct {
	Actions []string
	// Only restricts the run to the named repositories; it takes
	// precedence over Exclude when both are given.
	Only    []string
	Exclude []string
	// ForceAll bypasses due/overdue gating for backups and syncs. It
	// never bypasses generation collision checks.
	ForceAll bool
	// NoPrune skips retention pruning after successful backups.
	NoPrune bool
	// DryRun logs every tool invocation without executing it and never
	// mutates the generation store.
	DryRun bool
}

// Plan is a fully resolved run.
type Plan struct {
	Actions      []Action
	Repositories []config.RepositoryConfig
	ForceAll     bool
	NoPrune      bool
	DryRun       bool
	CheckLast    int
}

// Build resolves the flags against the configuration. Unknown
// repository names in the filters are configuration errors; a typo that
// silently selected nothing would defeat the point of running at all.
func Build(cfg *config.Config, flags Flags) (*Plan, error) {
	actions, err := ParseActions(flags.Actions)
	if err != nil {
		return nil, err
	}

	repos, err := selectRepositories(cfg, flags.Only, flags.Exclude)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Actions:      actions,
		Repositories: repos,
		ForceAll:     flags.ForceAll,
		NoPrune:      flags.NoPrune,
		DryRun:       flags.DryRun,
		CheckLast:    cfg.CheckLast,
	}, nil
}

func selectRepositories(cfg *config.Config, only, exclude []string) ([]config.RepositoryConfig, error) {
	if len(only) > 0 {
		selected := make([]config.RepositoryConfig, 0, len(only))
		for _, name := range only {
			repo, ok := cfg.Repository(name)
			if !ok {
				return nil, fmt.Errorf("unknown repository %q in --only", name)
			}
			selected = append(selected, repo)
		}
		return selected, nil
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		if _, ok := cfg.Repository(name); !ok {
			return nil, fmt.Errorf("unknown repository %q in --exclude", name)
		}
		excluded[name] = struct{}{}
	}

	var selected []config.RepositoryConfig
	for _, repo := range cfg.Repositories {
		if _, skip := excluded[repo.Name]; skip {
			continue
		}
		selected = append(selected, repo)
	}
	return selected, nil
}
