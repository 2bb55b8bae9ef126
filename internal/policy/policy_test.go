package policy

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/category"
	"github.com/roach88/shiftsync/internal/clock"
	"github.com/roach88/shiftsync/internal/conflict"
	"github.com/roach88/shiftsync/internal/ids"
	"github.com/roach88/shiftsync/internal/remote"
	"github.com/roach88/shiftsync/internal/syncer"
	"github.com/roach88/shiftsync/internal/testutil"
	"github.com/roach88/shiftsync/internal/tracker"
)

func TestLoadFile(t *testing.T) {
	p, err := LoadFile(filepath.Join("testdata", "site.cue"))
	require.NoError(t, err)

	require.Len(t, p.Categories, 3)
	assert.Equal(t, "standard", p.Categories[0].ID)
	assert.Equal(t, "Standard", p.Categories[0].Name)
	require.NotNil(t, p.Categories[0].MaxHours)
	assert.Equal(t, 8.0, *p.Categories[0].MaxHours)
	assert.Nil(t, p.Categories[2].MaxHours)
	assert.Equal(t, 2.0, p.Categories[2].PayMultiplier)
	for _, c := range p.Categories {
		assert.True(t, c.IsActive)
	}

	require.Len(t, p.Rules, 2)
	assert.Equal(t, conflict.Rule{
		ID: "notes", EntityType: "attendance_record", ConflictType: "data",
		Strategy: conflict.StrategyUseLocal, Priority: 10, Enabled: true,
	}, p.Rules[0])
	assert.Equal(t, conflict.Rule{
		ID: "fallback", EntityType: conflict.Wildcard, ConflictType: conflict.Wildcard,
		Strategy: conflict.StrategyUseLatest, Priority: 100, Enabled: true,
	}, p.Rules[1])
}

func TestCompile_Rejections(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "zero multiplier",
			src:  `categories: a: {name: "A", minHours: 0, payMultiplier: 0}`,
			want: "payMultiplier",
		},
		{
			name: "max below min",
			src:  `categories: a: {name: "A", minHours: 4, maxHours: 2, payMultiplier: 1}`,
			want: "maxHours",
		},
		{
			name: "unknown strategy",
			src:  `rules: r: {strategy: "flip_a_coin"}`,
			want: "strategy",
		},
		{
			name: "unknown field",
			src:  `categories: a: {name: "A", minHours: 0, payMultiplier: 1, colour: "red"}`,
			want: "colour",
		},
		{
			name: "overlapping bands",
			src: `categories: {
	half: {name: "Half", minHours: 4, maxHours: 8, payMultiplier: 1}
	late: {name: "Late", minHours: 6, maxHours: 10, payMultiplier: 1.2}
}`,
			want: "categories.late",
		},
		{
			name: "syntax error",
			src:  `categories: {`,
			want: "policy.cue",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile("policy.cue", []byte(tt.src))
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompile_TouchingBandsAreFine(t *testing.T) {
	p, err := Compile("policy.cue", []byte(`categories: {
	a: {name: "A", minHours: 0, maxHours: 4, payMultiplier: 1}
	b: {name: "B", minHours: 4, payMultiplier: 1.5}
}`))
	require.NoError(t, err)
	assert.Empty(t, category.DetectConflicts(p.Categories))
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(testutil.T0)
	local := testutil.NewStore(t)
	backend := remote.NewBackend(testutil.NewStore(t), clk, testutil.Logger())
	coord := syncer.New(local, backend, syncer.NewToggle(true),
		syncer.WithClock(clk), syncer.WithIDs(ids.NewFixed("q")), syncer.WithLogger(testutil.Logger()))
	svc := tracker.New(local, coord, tracker.WithClock(clk), tracker.WithLogger(testutil.Logger()))

	_, err := svc.SaveCategory(ctx, category.TimeCategory{ID: "legacy", Name: "Legacy", MinHours: 0, MaxHours: testutil.Ptr(10.0), PayMultiplier: 1}, auth.System)
	require.NoError(t, err)

	p, err := LoadFile(filepath.Join("testdata", "site.cue"))
	require.NoError(t, err)

	_, err = Apply(ctx, p, svc, coord, auth.Actor{EmployeeID: "mgr", Role: auth.RoleManager}, testutil.Logger())
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))

	sum, err := Apply(ctx, p, svc, coord, auth.System, testutil.Logger())
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, sum.Deactivated)
	assert.Equal(t, []string{"standard", "overtime", "double"}, sum.Saved)
	assert.Equal(t, 2, sum.Rules)

	active, err := svc.Categories(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	remoteCats, err := backend.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, category.Active(remoteCats), 3)

	rules, err := coord.Rules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	again, err := Apply(ctx, p, svc, coord, auth.System, testutil.Logger())
	require.NoError(t, err)
	assert.Empty(t, again.Saved)
	assert.Empty(t, again.Deactivated)
	assert.Len(t, again.Unchanged, 3)
}
