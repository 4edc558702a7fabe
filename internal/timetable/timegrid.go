package timetable

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Day labels one weekday of the six-day school week.
type Day string

const (
	Monday    Day = "MONDAY"
	Tuesday   Day = "TUESDAY"
	Wednesday Day = "WEDNESDAY"
	Thursday  Day = "THURSDAY"
	Friday    Day = "FRIDAY"
	Saturday  Day = "SATURDAY"
)

// Week lists every schedulable day in calendar order.
var Week = []Day{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

const minutesPerDay = 24 * 60

// ParseDay resolves a case-insensitive day label.
func ParseDay(raw string) (Day, bool) {
	day := Day(strings.ToUpper(strings.TrimSpace(raw)))
	if weekPosition(day) < 0 {
		return "", false
	}
	return day, true
}

func weekPosition(day Day) int {
	for i, d := range Week {
		if d == day {
			return i
		}
	}
	return -1
}

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

// String renders the time as HH:MM.
func (t TimeOfDay) String() string {
	m := int(t) % minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimeOfDay parses an HH:MM label.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidInput, raw)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("%w: time %q has invalid hour", ErrInvalidInput, raw)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%w: time %q has invalid minute", ErrInvalidInput, raw)
	}
	return TimeOfDay(hours*60 + minutes), nil
}

// TimeGrid describes the temporal structure of the school week.
type TimeGrid struct {
	ActiveDays            []Day     `json:"activeDays"`
	PeriodsPerDay         int       `json:"periodsPerDay"`
	PeriodDurationMinutes int       `json:"periodDurationMinutes"`
	BreakDurationMinutes  int       `json:"breakDurationMinutes"`
	BreakPeriods          []int     `json:"breakPeriods"`
	StartTime             TimeOfDay `json:"startTime"`
}

// PeriodSlot is the rendered view of one period index.
type PeriodSlot struct {
	Index int       `json:"index"`
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
	Break bool      `json:"break"`
}

// Normalized returns a copy with active days in week order and break periods sorted,
// both without duplicates. Unknown labels are kept so Validate can report them.
func (g TimeGrid) Normalized() TimeGrid {
	out := g
	seenDays := make(map[Day]bool, len(g.ActiveDays))
	days := make([]Day, 0, len(g.ActiveDays))
	for _, raw := range g.ActiveDays {
		day := raw
		if parsed, ok := ParseDay(string(raw)); ok {
			day = parsed
		}
		if seenDays[day] {
			continue
		}
		seenDays[day] = true
		days = append(days, day)
	}
	sort.SliceStable(days, func(i, j int) bool {
		return weekPosition(days[i]) < weekPosition(days[j])
	})
	out.ActiveDays = days

	seenBreaks := make(map[int]bool, len(g.BreakPeriods))
	breaks := make([]int, 0, len(g.BreakPeriods))
	for _, p := range g.BreakPeriods {
		if seenBreaks[p] {
			continue
		}
		seenBreaks[p] = true
		breaks = append(breaks, p)
	}
	sort.Ints(breaks)
	out.BreakPeriods = breaks
	return out
}

// Validate checks the grid dimensions, day labels and break indices.
func (g TimeGrid) Validate() error {
	if len(g.ActiveDays) == 0 {
		return fmt.Errorf("%w: at least one active day is required", ErrInvalidInput)
	}
	last := -1
	for _, day := range g.ActiveDays {
		pos := weekPosition(day)
		if pos < 0 {
			return fmt.Errorf("%w: unknown day %q", ErrInvalidInput, day)
		}
		if pos <= last {
			return fmt.Errorf("%w: active days must be unique and in week order", ErrInvalidInput)
		}
		last = pos
	}
	if g.PeriodsPerDay <= 0 {
		return fmt.Errorf("%w: periods per day must be positive", ErrInvalidInput)
	}
	if g.PeriodDurationMinutes <= 0 {
		return fmt.Errorf("%w: period duration must be positive", ErrInvalidInput)
	}
	if g.BreakDurationMinutes <= 0 {
		return fmt.Errorf("%w: break duration must be positive", ErrInvalidInput)
	}
	for _, p := range g.BreakPeriods {
		if p < 1 || p > g.PeriodsPerDay {
			return fmt.Errorf("%w: break period %d outside 1..%d", ErrInvalidInput, p, g.PeriodsPerDay)
		}
	}
	if g.StartTime < 0 || int(g.StartTime) >= minutesPerDay {
		return fmt.Errorf("%w: start time out of range", ErrInvalidInput)
	}
	return nil
}

// IsBreak reports whether the period index is a fixed break.
func (g TimeGrid) IsBreak(period int) bool {
	for _, p := range g.BreakPeriods {
		if p == period {
			return true
		}
	}
	return false
}

// StartLabel returns the wall-clock start of a 1-based period index.
func (g TimeGrid) StartLabel(period int) (TimeOfDay, error) {
	if period < 1 || period > g.PeriodsPerDay {
		return 0, fmt.Errorf("%w: %d outside 1..%d", ErrInvalidPeriodIndex, period, g.PeriodsPerDay)
	}
	minutes := int(g.StartTime)
	for q := 1; q < period; q++ {
		minutes += g.duration(q)
	}
	return TimeOfDay(minutes % minutesPerDay), nil
}

func (g TimeGrid) duration(period int) int {
	if g.IsBreak(period) {
		return g.BreakDurationMinutes
	}
	return g.PeriodDurationMinutes
}

// Periods lists every period index with its start and end labels.
func (g TimeGrid) Periods() []PeriodSlot {
	if g.PeriodsPerDay <= 0 {
		return nil
	}
	slots := make([]PeriodSlot, 0, g.PeriodsPerDay)
	minutes := int(g.StartTime)
	for p := 1; p <= g.PeriodsPerDay; p++ {
		length := g.duration(p)
		slots = append(slots, PeriodSlot{
			Index: p,
			Start: TimeOfDay(minutes % minutesPerDay),
			End:   TimeOfDay((minutes + length) % minutesPerDay),
			Break: g.IsBreak(p),
		})
		minutes += length
	}
	return slots
}

// DayIndex returns the 0-based position of day among the active days.
func (g TimeGrid) DayIndex(day Day) (int, bool) {
	for i, d := range g.ActiveDays {
		if d == day {
			return i, true
		}
	}
	return 0, false
}

// Capacity is the number of non-break cells in one class week.
func (g TimeGrid) Capacity() int {
	teaching := 0
	for p := 1; p <= g.PeriodsPerDay; p++ {
		if !g.IsBreak(p) {
			teaching++
		}
	}
	return teaching * len(g.ActiveDays)
}
