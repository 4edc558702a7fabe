package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/timetable"
)

func newBoltStore(t *testing.T) *BoltTimetableStore {
	t.Helper()
	store, err := OpenBoltTimetableStore(filepath.Join(t.TempDir(), "nested", "timetable.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBoltTimetableStoreSettingsLifecycle(t *testing.T) {
	store := newBoltStore(t)
	ctx := context.Background()

	settings, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, settings)

	saved := &models.TimetableSettings{
		Payload: models.SettingsPayload{
			TimeGrid: timetable.TimeGrid{
				ActiveDays:            []timetable.Day{timetable.Monday, timetable.Friday},
				PeriodsPerDay:         6,
				PeriodDurationMinutes: 40,
				BreakDurationMinutes:  20,
				BreakPeriods:          []int{3},
				StartTime:             timetable.TimeOfDay(420),
			},
			Requirements: []timetable.Requirement{
				{ClassID: "class-a", SubjectID: "math", WeeklyPeriods: 4, PreferredPeriods: []int{1, 2}, EligibleTeachers: []string{"t-1"}},
			},
			SelectedClasses: []string{"class-a"},
		},
		UpdatedBy: strPtr("admin-1"),
	}
	require.NoError(t, store.SaveSettings(ctx, saved))

	loaded, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved.Payload, loaded.Payload)
	assert.Equal(t, "admin-1", *loaded.UpdatedBy)

	require.NoError(t, store.DeleteSettings(ctx))
	loaded, err = store.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBoltTimetableStoreGridRoundTrip(t *testing.T) {
	store := newBoltStore(t)
	ctx := context.Background()

	original := sampleGrid(t)
	require.NoError(t, store.SaveClassGrids(ctx, []*models.ClassGrid{
		{ClassID: "class-a", Grid: original},
		{ClassID: "class-b", Grid: timetable.NewGrid(timetable.TimeGrid{ActiveDays: []timetable.Day{timetable.Monday}, PeriodsPerDay: 2})},
	}))

	loaded, err := store.LoadGrid(ctx, "class-a")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, original.Equal(loaded.Grid))
	assert.NotEmpty(t, loaded.ID)

	all, err := store.LoadAllGrids(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	edited := original.Clone()
	require.NoError(t, edited.SetCell(0, 1, nil))
	require.NoError(t, store.SaveClassGrid(ctx, &models.ClassGrid{ID: loaded.ID, ClassID: "class-a", Grid: edited, GeneratedAt: loaded.GeneratedAt}))
	reloaded, err := store.LoadGrid(ctx, "class-a")
	require.NoError(t, err)
	assert.True(t, edited.Equal(reloaded.Grid))
	assert.Equal(t, loaded.ID, reloaded.ID)

	require.NoError(t, store.DeleteAllGrids(ctx))
	all, err = store.LoadAllGrids(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	missing, err := store.LoadGrid(ctx, "class-a")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBoltTimetableStoreRejectsInvalidGrid(t *testing.T) {
	store := newBoltStore(t)

	assert.Error(t, store.SaveClassGrid(context.Background(), &models.ClassGrid{ClassID: "class-a"}))
	assert.Error(t, store.SaveClassGrid(context.Background(), nil))
}
