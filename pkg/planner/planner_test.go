package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borgtend/borgtend/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		CheckLast: 2,
		Repositories: []config.RepositoryConfig{
			{Name: "alpha", Path: "/srv/alpha"},
			{Name: "beta", Path: "/srv/beta"},
			{Name: "gamma", Path: "/srv/gamma"},
		},
	}
}

func TestParseActions(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []Action
	}{
		{"empty defaults to backup", nil, []Action{ActionBackup}},
		{"single", []string{"check"}, []Action{ActionCheck}},
		{"canonical order restored", []string{"sync", "init", "backup"}, []Action{ActionInit, ActionBackup, ActionSync}},
		{"duplicates collapse", []string{"backup", "backup"}, []Action{ActionBackup}},
		{"all", []string{"check", "sync", "backup", "init"}, []Action{ActionInit, ActionBackup, ActionCheck, ActionSync}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseActions(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseActionsRejectsUnknown(t *testing.T) {
	_, err := ParseActions([]string{"backup", "defrag"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defrag")
}

func TestBuildSelectsAllByDefault(t *testing.T) {
	plan, err := Build(testConfig(), Flags{})
	require.NoError(t, err)

	var names []string
	for _, repo := range plan.Repositories {
		names = append(names, repo.Name)
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names)
	assert.Equal(t, 2, plan.CheckLast)
}

func TestBuildOnly(t *testing.T) {
	plan, err := Build(testConfig(), Flags{Only: []string{"beta"}})
	require.NoError(t, err)

	require.Len(t, plan.Repositories, 1)
	assert.Equal(t, "beta", plan.Repositories[0].Name)
}

func TestBuildExclude(t *testing.T) {
	plan, err := Build(testConfig(), Flags{Exclude: []string{"beta"}})
	require.NoError(t, err)

	var names []string
	for _, repo := range plan.Repositories {
		names = append(names, repo.Name)
	}
	assert.Equal(t, []string{"alpha", "gamma"}, names)
}

func TestBuildOnlyTakesPrecedenceOverExclude(t *testing.T) {
	plan, err := Build(testConfig(), Flags{Only: []string{"beta"}, Exclude: []string{"beta"}})
	require.NoError(t, err)

	require.Len(t, plan.Repositories, 1)
	assert.Equal(t, "beta", plan.Repositories[0].Name)
}

func TestBuildRejectsUnknownRepositoryNames(t *testing.T) {
	_, err := Build(testConfig(), Flags{Only: []string{"delta"}})
	assert.Error(t, err)

	_, err = Build(testConfig(), Flags{Exclude: []string{"delta"}})
	assert.Error(t, err)
}

func TestBuildCarriesOverrides(t *testing.T) {
	plan, err := Build(testConfig(), Flags{ForceAll: true, NoPrune: true, DryRun: true})
	require.NoError(t, err)

	assert.True(t, plan.ForceAll)
	assert.True(t, plan.NoPrune)
	assert.True(t, plan.DryRun)
}
