package timetable

// occupancy tracks which teacher is busy at which (day, period) during a single
// Generate call. It is never shared between calls.
type occupancy struct {
	periods int
	cells   int
	busy    map[string][]bool
}

func newOccupancy(days, periods int) *occupancy {
	return &occupancy{
		periods: periods,
		cells:   days * periods,
		busy:    make(map[string][]bool),
	}
}

func (o *occupancy) index(day, period int) int {
	return day*o.periods + period - 1
}

func (o *occupancy) isFree(teacherID string, day, period int) bool {
	slots, ok := o.busy[teacherID]
	if !ok {
		return true
	}
	return !slots[o.index(day, period)]
}

// firstFree returns the first teacher in order who is free at (day, period).
func (o *occupancy) firstFree(teachers []string, day, period int) (string, bool) {
	for _, t := range teachers {
		if o.isFree(t, day, period) {
			return t, true
		}
	}
	return "", false
}

func (o *occupancy) reserve(teacherID string, day, period int) {
	slots, ok := o.busy[teacherID]
	if !ok {
		slots = make([]bool, o.cells)
		o.busy[teacherID] = slots
	}
	slots[o.index(day, period)] = true
}
