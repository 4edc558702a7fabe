package timetable

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatWeek() TimeGrid {
	return TimeGrid{
		ActiveDays:            []Day{Monday, Tuesday, Wednesday, Thursday, Friday},
		PeriodsPerDay:         6,
		PeriodDurationMinutes: 40,
		BreakDurationMinutes:  20,
		StartTime:             TimeOfDay(7 * 60),
	}
}

type planSpec struct {
	class     string
	subject   string
	weekly    int
	preferred []int
	teachers  []string
}

func buildPlans(t *testing.T, tg TimeGrid, specs ...planSpec) *PlanStore {
	t.Helper()
	store := NewPlanStore(tg)
	for _, spec := range specs {
		weekly := spec.weekly
		_, err := store.Apply(spec.class, spec.subject, RequirementPatch{
			WeeklyPeriods:    &weekly,
			PreferredPeriods: spec.preferred,
			EligibleTeachers: spec.teachers,
		})
		require.NoError(t, err)
	}
	return store
}

func sessionAt(t *testing.T, grid *Grid, day, period int) (Session, bool) {
	t.Helper()
	cell, err := grid.Cell(day, period)
	require.NoError(t, err)
	return cell.Session()
}

func TestGenerateSingleSubjectUsesPreferredPeriod(t *testing.T) {
	tg := flatWeek()
	plans := buildPlans(t, tg, planSpec{class: "class-a", subject: "math", weekly: 2, preferred: []int{3}, teachers: []string{"t-1"}})

	result, err := Generate(tg, plans, []string{"class-a"})
	require.NoError(t, err)

	grid := result.Grids["class-a"]
	require.NotNil(t, grid)
	for day := 0; day < 5; day++ {
		for period := 1; period <= 6; period++ {
			session, ok := sessionAt(t, grid, day, period)
			if (day == 0 || day == 1) && period == 3 {
				require.True(t, ok, "day %d period %d", day, period)
				assert.Equal(t, Session{SubjectID: "math", TeacherID: "t-1"}, session)
				continue
			}
			cell, _ := grid.Cell(day, period)
			assert.True(t, cell.IsEmpty(), "day %d period %d", day, period)
		}
	}
	assert.Equal(t, []Placement{{ClassID: "class-a", SubjectID: "math", Requested: 2, Placed: 2}}, result.Placements)
	assert.Empty(t, result.Shortfalls())
}

func TestGenerateAvoidsCrossClassDoubleBooking(t *testing.T) {
	tg := flatWeek()
	plans := buildPlans(t, tg,
		planSpec{class: "class-a", subject: "math", weekly: 1, preferred: []int{3}, teachers: []string{"t-1"}},
		planSpec{class: "class-b", subject: "physics", weekly: 1, preferred: []int{3}, teachers: []string{"t-1"}},
	)

	result, err := Generate(tg, plans, []string{"class-b", "class-a"})
	require.NoError(t, err)

	first, ok := sessionAt(t, result.Grids["class-a"], 0, 3)
	require.True(t, ok)
	assert.Equal(t, "t-1", first.TeacherID)

	_, ok = sessionAt(t, result.Grids["class-b"], 0, 3)
	assert.False(t, ok)
	second, ok := sessionAt(t, result.Grids["class-b"], 0, 1)
	require.True(t, ok)
	assert.Equal(t, Session{SubjectID: "physics", TeacherID: "t-1"}, second)
}

func TestGenerateFallsBackToNextEligibleTeacher(t *testing.T) {
	tg := flatWeek()
	plans := buildPlans(t, tg,
		planSpec{class: "class-a", subject: "math", weekly: 1, preferred: []int{2}, teachers: []string{"t-1"}},
		planSpec{class: "class-b", subject: "math", weekly: 1, preferred: []int{2}, teachers: []string{"t-1", "t-2"}},
	)

	result, err := Generate(tg, plans, []string{"class-a", "class-b"})
	require.NoError(t, err)

	session, ok := sessionAt(t, result.Grids["class-b"], 0, 2)
	require.True(t, ok)
	assert.Equal(t, "t-2", session.TeacherID)
}

func TestGenerateCapsAtCapacity(t *testing.T) {
	tg := flatWeek()
	tg.BreakPeriods = []int{4}
	plans := buildPlans(t, tg, planSpec{class: "class-a", subject: "math", weekly: 100, teachers: []string{"t-1"}})

	result, err := Generate(tg, plans, []string{"class-a"})
	require.NoError(t, err)

	grid := result.Grids["class-a"]
	assert.Equal(t, tg.Capacity(), grid.Count("math"))
	require.Len(t, result.Shortfalls(), 1)
	shortfall := result.Shortfalls()[0]
	assert.Equal(t, 25, shortfall.Placed)
	assert.Equal(t, 75, shortfall.Shortfall())
}

func TestGenerateKeepsBreaksIntact(t *testing.T) {
	tg := flatWeek()
	tg.BreakPeriods = []int{3, 6}
	plans := buildPlans(t, tg,
		planSpec{class: "class-a", subject: "math", weekly: 30, preferred: []int{1, 2}, teachers: []string{"t-1", "t-2"}},
		planSpec{class: "class-b", subject: "math", weekly: 30, teachers: []string{"t-3"}},
	)

	result, err := Generate(tg, plans, []string{"class-a", "class-b"})
	require.NoError(t, err)

	for classID, grid := range result.Grids {
		for day := 0; day < grid.Days(); day++ {
			for _, period := range tg.BreakPeriods {
				cell, err := grid.Cell(day, period)
				require.NoError(t, err)
				assert.True(t, cell.IsBreak(), "%s day %d period %d", classID, day, period)
			}
		}
	}
}

func TestGenerateNeverDoubleBooksTeachers(t *testing.T) {
	tg := flatWeek()
	tg.BreakPeriods = []int{4}
	var specs []planSpec
	for i := 0; i < 4; i++ {
		class := fmt.Sprintf("class-%d", i)
		specs = append(specs,
			planSpec{class: class, subject: "math", weekly: 6, preferred: []int{1, 2}, teachers: []string{"t-1", "t-2"}},
			planSpec{class: class, subject: "science", weekly: 5, preferred: []int{2}, teachers: []string{"t-2", "t-3"}},
			planSpec{class: class, subject: "history", weekly: 4, teachers: []string{"t-1"}},
		)
	}
	plans := buildPlans(t, tg, specs...)

	result, err := Generate(tg, plans, []string{"class-0", "class-1", "class-2", "class-3"})
	require.NoError(t, err)

	type slot struct {
		teacher string
		day     int
		period  int
	}
	booked := make(map[slot]string)
	for _, classID := range result.ClassIDs() {
		grid := result.Grids[classID]
		for day := 0; day < grid.Days(); day++ {
			for period := 1; period <= grid.PeriodsPerDay(); period++ {
				session, ok := sessionAt(t, grid, day, period)
				if !ok {
					continue
				}
				key := slot{teacher: session.TeacherID, day: day, period: period}
				if other, exists := booked[key]; exists {
					t.Fatalf("teacher %s double booked on day %d period %d by %s and %s", key.teacher, day, period, other, classID)
				}
				booked[key] = classID
			}
		}
	}

	for _, p := range result.Placements {
		assert.LessOrEqual(t, p.Placed, p.Requested)
		assert.LessOrEqual(t, p.Placed, tg.Capacity())
		assert.Equal(t, p.Placed, result.Grids[p.ClassID].Count(p.SubjectID))
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	tg := flatWeek()
	tg.BreakPeriods = []int{4}
	specs := []planSpec{
		{class: "class-b", subject: "math", weekly: 5, preferred: []int{5, 1}, teachers: []string{"t-1", "t-2"}},
		{class: "class-a", subject: "math", weekly: 5, preferred: []int{1}, teachers: []string{"t-2", "t-1"}},
		{class: "class-a", subject: "art", weekly: 3, teachers: []string{"t-3"}},
	}

	first, err := Generate(tg, buildPlans(t, tg, specs...), []string{"class-a", "class-b"})
	require.NoError(t, err)
	second, err := Generate(tg, buildPlans(t, tg, specs...), []string{"class-b", "class-a"})
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestGeneratePrefersPreferredPeriodsAcrossDays(t *testing.T) {
	tg := flatWeek()
	plans := buildPlans(t, tg, planSpec{class: "class-a", subject: "math", weekly: 6, preferred: []int{5, 2}, teachers: []string{"t-1"}})

	result, err := Generate(tg, plans, []string{"class-a"})
	require.NoError(t, err)

	grid := result.Grids["class-a"]
	for day := 0; day < 5; day++ {
		_, ok := sessionAt(t, grid, day, 5)
		assert.True(t, ok)
	}
	_, ok := sessionAt(t, grid, 0, 2)
	assert.True(t, ok)
	for day := 1; day < 5; day++ {
		_, ok := sessionAt(t, grid, day, 2)
		assert.False(t, ok)
	}
	for period := 1; period <= 6; period++ {
		if period == 2 || period == 5 {
			continue
		}
		for day := 0; day < 5; day++ {
			_, ok := sessionAt(t, grid, day, period)
			assert.False(t, ok, "non-preferred period %d used on day %d", period, day)
		}
	}
}

func TestGenerateClassWithoutPlansGetsBreakOnlyGrid(t *testing.T) {
	tg := flatWeek()
	tg.BreakPeriods = []int{2}

	result, err := Generate(tg, NewPlanStore(tg), []string{"class-z", "class-z"})
	require.NoError(t, err)
	require.Len(t, result.Grids, 1)
	assert.True(t, result.Grids["class-z"].Equal(NewGrid(tg)))
	assert.Empty(t, result.Placements)
}

func TestGenerateRequirementWithoutTeachersIsShortfall(t *testing.T) {
	tg := flatWeek()
	plans := NewPlanStore(tg)
	require.NoError(t, plans.SetWeeklyPeriods("class-a", "math", 2))

	result, err := Generate(tg, plans, []string{"class-a"})
	require.NoError(t, err)
	require.Len(t, result.Shortfalls(), 1)
	assert.Equal(t, 0, result.Shortfalls()[0].Placed)
}

func TestGenerateRejectsMalformedInput(t *testing.T) {
	tg := flatWeek()
	plans := NewPlanStore(tg)

	_, err := Generate(tg, plans, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Generate(tg, plans, []string{" "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Generate(tg, nil, []string{"class-a"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	broken := tg
	broken.PeriodsPerDay = 0
	_, err = Generate(broken, plans, []string{"class-a"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSearchOrder(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2, 4}, searchOrder([]int{3, 9, 3, 0}, 4))
	assert.Equal(t, []int{1, 2, 3}, searchOrder(nil, 3))
}
