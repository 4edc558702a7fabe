package timetable

import (
	"fmt"
	"sort"
	"strings"
)

// Placement reports how many sessions of a subject were requested and placed for a class.
type Placement struct {
	ClassID   string `json:"classId"`
	SubjectID string `json:"subjectId"`
	Requested int    `json:"requested"`
	Placed    int    `json:"placed"`
}

// Shortfall is the number of sessions left unplaced.
func (p Placement) Shortfall() int {
	if p.Placed >= p.Requested {
		return 0
	}
	return p.Requested - p.Placed
}

// Result is the output of one generation run.
type Result struct {
	Grids      map[string]*Grid `json:"grids"`
	Placements []Placement      `json:"placements"`
}

// ClassIDs lists the generated classes in ascending order.
func (r *Result) ClassIDs() []string {
	ids := make([]string, 0, len(r.Grids))
	for id := range r.Grids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shortfalls returns the placements that did not reach their weekly target.
func (r *Result) Shortfalls() []Placement {
	var out []Placement
	for _, p := range r.Placements {
		if p.Shortfall() > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Generate builds one grid per selected class greedily, without backtracking. Classes
// and subjects are visited in ascending id order, days in active-day order, and periods
// in each subject's search order. A teacher booked by one class is unavailable to the
// others at the same (day, period) for the rest of the run. Unplaced sessions are
// reported in Result.Placements rather than as an error.
func Generate(tg TimeGrid, plans *PlanStore, selected []string) (*Result, error) {
	classes, err := normalizeSelection(selected)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		return nil, fmt.Errorf("%w: plan store is required", ErrInvalidInput)
	}
	if err := tg.Validate(); err != nil {
		return nil, err
	}

	occ := newOccupancy(len(tg.ActiveDays), tg.PeriodsPerDay)
	result := &Result{Grids: make(map[string]*Grid, len(classes))}
	for _, classID := range classes {
		grid := NewGrid(tg)
		for _, subjectID := range plans.Subjects(classID) {
			req, _ := plans.Requirement(classID, subjectID)
			placed := placeSubject(grid, occ, req, searchOrder(req.PreferredPeriods, tg.PeriodsPerDay))
			result.Placements = append(result.Placements, Placement{
				ClassID:   classID,
				SubjectID: subjectID,
				Requested: req.WeeklyPeriods,
				Placed:    placed,
			})
		}
		result.Grids[classID] = grid
	}
	return result, nil
}

func normalizeSelection(selected []string) ([]string, error) {
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no classes selected", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(selected))
	out := make([]string, 0, len(selected))
	for _, raw := range selected {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("%w: class id must not be blank", ErrInvalidInput)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// searchOrder is the preferred periods in given order, filtered to range, followed by
// the remaining periods ascending.
func searchOrder(preferred []int, periods int) []int {
	order := make([]int, 0, periods)
	seen := make(map[int]bool, periods)
	for _, p := range preferred {
		if p < 1 || p > periods || seen[p] {
			continue
		}
		seen[p] = true
		order = append(order, p)
	}
	for p := 1; p <= periods; p++ {
		if !seen[p] {
			order = append(order, p)
		}
	}
	return order
}

// placeSubject sweeps the days in order, taking at most one cell per day per sweep:
// the first empty cell in search order with a free eligible teacher. Sweeps repeat
// until the weekly target is met or a sweep places nothing. Occupancy only grows, so
// a cell rejected in one sweep stays rejected in later ones.
func placeSubject(grid *Grid, occ *occupancy, req Requirement, order []int) int {
	if req.WeeklyPeriods <= 0 || len(req.EligibleTeachers) == 0 {
		return 0
	}
	placed := 0
	for {
		progress := false
		for day := range grid.cells {
			if placeOnDay(grid, occ, req, order, day) {
				placed++
				progress = true
				if placed == req.WeeklyPeriods {
					return placed
				}
			}
		}
		if !progress {
			return placed
		}
	}
}

func placeOnDay(grid *Grid, occ *occupancy, req Requirement, order []int, day int) bool {
	for _, period := range order {
		if !grid.cells[day][period-1].IsEmpty() {
			continue
		}
		teacher, ok := occ.firstFree(req.EligibleTeachers, day, period)
		if !ok {
			continue
		}
		grid.cells[day][period-1] = SessionCell(Session{SubjectID: req.SubjectID, TeacherID: teacher})
		occ.reserve(teacher, day, period)
		return true
	}
	return false
}
