package timetable

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schoolWeek() TimeGrid {
	return TimeGrid{
		ActiveDays:            []Day{Monday, Tuesday, Wednesday, Thursday, Friday},
		PeriodsPerDay:         8,
		PeriodDurationMinutes: 45,
		BreakDurationMinutes:  15,
		BreakPeriods:          []int{4},
		StartTime:             TimeOfDay(7 * 60),
	}
}

func TestTimeGridStartLabel(t *testing.T) {
	grid := schoolWeek()

	cases := map[int]string{
		1: "07:00",
		2: "07:45",
		4: "09:15",
		5: "09:30",
		8: "11:45",
	}
	for period, want := range cases {
		label, err := grid.StartLabel(period)
		require.NoError(t, err)
		assert.Equal(t, want, label.String(), "period %d", period)
	}
}

func TestTimeGridStartLabelRejectsOutOfRange(t *testing.T) {
	grid := schoolWeek()

	_, err := grid.StartLabel(0)
	assert.ErrorIs(t, err, ErrInvalidPeriodIndex)
	_, err = grid.StartLabel(9)
	assert.ErrorIs(t, err, ErrInvalidPeriodIndex)
}

func TestTimeGridStartLabelWrapsMidnight(t *testing.T) {
	grid := TimeGrid{
		ActiveDays:            []Day{Monday},
		PeriodsPerDay:         3,
		PeriodDurationMinutes: 60,
		BreakDurationMinutes:  30,
		StartTime:             TimeOfDay(23 * 60),
	}
	label, err := grid.StartLabel(3)
	require.NoError(t, err)
	assert.Equal(t, "01:00", label.String())
}

func TestTimeGridIsBreakAndCapacity(t *testing.T) {
	grid := schoolWeek()

	assert.True(t, grid.IsBreak(4))
	assert.False(t, grid.IsBreak(3))
	assert.Equal(t, 35, grid.Capacity())
}

func TestTimeGridPeriods(t *testing.T) {
	grid := schoolWeek()

	periods := grid.Periods()
	require.Len(t, periods, 8)
	assert.Equal(t, PeriodSlot{Index: 4, Start: TimeOfDay(9*60 + 15), End: TimeOfDay(9*60 + 30), Break: true}, periods[3])
	assert.Equal(t, "12:30", periods[7].End.String())
}

func TestTimeGridValidate(t *testing.T) {
	valid := schoolWeek()
	require.NoError(t, valid.Validate())

	cases := map[string]func(g *TimeGrid){
		"no days":          func(g *TimeGrid) { g.ActiveDays = nil },
		"unknown day":      func(g *TimeGrid) { g.ActiveDays = []Day{"SUNDAY"} },
		"out of order":     func(g *TimeGrid) { g.ActiveDays = []Day{Tuesday, Monday} },
		"duplicate day":    func(g *TimeGrid) { g.ActiveDays = []Day{Monday, Monday} },
		"zero periods":     func(g *TimeGrid) { g.PeriodsPerDay = 0 },
		"zero duration":    func(g *TimeGrid) { g.PeriodDurationMinutes = 0 },
		"zero break":       func(g *TimeGrid) { g.BreakDurationMinutes = 0 },
		"break too high":   func(g *TimeGrid) { g.BreakPeriods = []int{9} },
		"start past 24:00": func(g *TimeGrid) { g.StartTime = TimeOfDay(24 * 60) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			grid := schoolWeek()
			mutate(&grid)
			assert.ErrorIs(t, grid.Validate(), ErrInvalidInput)
		})
	}
}

func TestTimeGridNormalized(t *testing.T) {
	grid := TimeGrid{
		ActiveDays:   []Day{"friday", Monday, Friday},
		BreakPeriods: []int{5, 2, 5},
	}

	normalized := grid.Normalized()
	assert.Equal(t, []Day{Monday, Friday}, normalized.ActiveDays)
	assert.Equal(t, []int{2, 5}, normalized.BreakPeriods)
}

func TestTimeGridDayIndex(t *testing.T) {
	grid := schoolWeek()

	idx, ok := grid.DayIndex(Wednesday)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
	_, ok = grid.DayIndex(Saturday)
	assert.False(t, ok)
}

func TestTimeOfDayJSON(t *testing.T) {
	payload, err := json.Marshal(schoolWeek())
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"startTime":"07:00"`)

	var decoded TimeGrid
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, schoolWeek(), decoded)

	var bad TimeOfDay
	assert.ErrorIs(t, bad.UnmarshalText([]byte("25:00")), ErrInvalidInput)
}

func TestParseDay(t *testing.T) {
	day, ok := ParseDay(" monday ")
	assert.True(t, ok)
	assert.Equal(t, Monday, day)

	_, ok = ParseDay("sunday")
	assert.False(t, ok)
}
