package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name        string
		lastSuccess int64
		interval    int64
		now         int64
		force       bool
		wantAge     int64
		wantRatio   float64
		wantDue     bool
	}{
		{
			name:        "overdue",
			lastSuccess: 1000,
			interval:    100,
			now:         1300,
			wantAge:     300,
			wantRatio:   3.0,
			wantDue:     true,
		},
		{
			name:        "not yet due",
			lastSuccess: 1000,
			interval:    600,
			now:         1300,
			wantAge:     300,
			wantRatio:   0.5,
			wantDue:     false,
		},
		{
			name:        "age equal to interval is not due",
			lastSuccess: 1000,
			interval:    300,
			now:         1300,
			wantAge:     300,
			wantRatio:   1.0,
			wantDue:     false,
		},
		{
			name:        "never succeeded",
			lastSuccess: 0,
			interval:    86400,
			now:         1700000000,
			wantAge:     1700000000,
			wantRatio:   float64(1700000000) / 86400,
			wantDue:     true,
		},
		{
			name:        "force marks fresh unit due",
			lastSuccess: 1290,
			interval:    600,
			now:         1300,
			force:       true,
			wantAge:     10,
			wantRatio:   10.0 / 600,
			wantDue:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := Evaluate(tt.lastSuccess, tt.interval, tt.now, tt.force)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAge, status.AgeSeconds)
			assert.InDelta(t, tt.wantRatio, status.Ratio, 1e-9)
			assert.Equal(t, tt.wantDue, status.Due)
		})
	}
}

func TestEvaluateRejectsFutureLastSuccess(t *testing.T) {
	_, err := Evaluate(2000, 100, 1000, false)
	require.Error(t, err)

	var skew *ClockSkewError
	require.ErrorAs(t, err, &skew)
	assert.Equal(t, int64(2000), skew.LastSuccess)
	assert.Equal(t, int64(1000), skew.Now)
}

func TestEvaluateGuardsZeroDivisor(t *testing.T) {
	status, err := Evaluate(0, 0, 500, false)
	require.NoError(t, err)
	assert.Equal(t, 500.0, status.Ratio)
	assert.True(t, status.Due)
}

func TestOrderByMostOverdue(t *testing.T) {
	candidates := []Candidate{
		{Name: "a", Status: Status{Ratio: 0.5}},
		{Name: "b", Status: Status{Ratio: 3.0}},
		{Name: "c", Status: Status{Ratio: 1.1}},
	}

	OrderByMostOverdue(candidates)

	var order []string
	for _, c := range candidates {
		order = append(order, c.Name)
	}
	assert.Equal(t, []string{"b", "c", "a"}, order)
}

func TestOrderByMostOverdueIsStable(t *testing.T) {
	candidates := []Candidate{
		{Name: "first", Status: Status{Ratio: 2.0}},
		{Name: "second", Status: Status{Ratio: 2.0}},
	}

	OrderByMostOverdue(candidates)

	assert.Equal(t, "first", candidates[0].Name)
	assert.Equal(t, "second", candidates[1].Name)
}

func TestMaterializedName(t *testing.T) {
	assert.Equal(t, "etc.7", MaterializedName("etc", 7))
	assert.Equal(t, "home.1", MaterializedName("home", 1))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "etc.", Prefix("etc"))
}

func TestNextGeneration(t *testing.T) {
	live := map[string]struct{}{
		"foo.1": {},
		"foo.2": {},
		"foo.4": {},
	}

	// Counter says 1, but foo.2 already exists: the first free slot
	// above the counter is 3. foo.4 stays untouched.
	assert.Equal(t, 3, NextGeneration("foo", 1, live))
}

func TestNextGenerationEmptyRepository(t *testing.T) {
	assert.Equal(t, 1, NextGeneration("foo", 0, map[string]struct{}{}))
	assert.Equal(t, 8, NextGeneration("foo", 7, map[string]struct{}{}))
}

func TestNextGenerationIgnoresOtherArchives(t *testing.T) {
	live := map[string]struct{}{
		"bar.1": {},
		"bar.2": {},
	}
	assert.Equal(t, 1, NextGeneration("foo", 0, live))
}
