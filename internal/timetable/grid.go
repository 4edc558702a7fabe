package timetable

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Grid is one class's weekly schedule indexed by [day][period]. Days are 0-based
// positions among the active days; periods are 1-based indices.
type Grid struct {
	cells [][]Cell
}

// NewGrid allocates an empty grid for tg with every break period marked.
func NewGrid(tg TimeGrid) *Grid {
	cells := make([][]Cell, len(tg.ActiveDays))
	for d := range cells {
		row := make([]Cell, tg.PeriodsPerDay)
		for _, p := range tg.BreakPeriods {
			if p >= 1 && p <= tg.PeriodsPerDay {
				row[p-1] = BreakCell()
			}
		}
		cells[d] = row
	}
	return &Grid{cells: cells}
}

// Days is the number of day rows.
func (g *Grid) Days() int { return len(g.cells) }

// PeriodsPerDay is the number of periods in each row.
func (g *Grid) PeriodsPerDay() int {
	if len(g.cells) == 0 {
		return 0
	}
	return len(g.cells[0])
}

func (g *Grid) check(day, period int) error {
	if day < 0 || day >= len(g.cells) {
		return fmt.Errorf("%w: day %d outside grid", ErrInvalidInput, day)
	}
	if period < 1 || period > len(g.cells[day]) {
		return fmt.Errorf("%w: %d outside 1..%d", ErrInvalidPeriodIndex, period, len(g.cells[day]))
	}
	return nil
}

// Cell returns the cell at (day, period).
func (g *Grid) Cell(day, period int) (Cell, error) {
	if err := g.check(day, period); err != nil {
		return Cell{}, err
	}
	return g.cells[day][period-1], nil
}

// SetCell writes a session, or clears the cell when s is nil. Break cells are locked.
// Teacher conflicts with other grids are not checked.
func (g *Grid) SetCell(day, period int, s *Session) error {
	if err := g.check(day, period); err != nil {
		return err
	}
	if g.cells[day][period-1].IsBreak() {
		return fmt.Errorf("%w: period %d is a break", ErrCellLocked, period)
	}
	if s == nil {
		g.cells[day][period-1] = EmptyCell()
		return nil
	}
	subject := strings.TrimSpace(s.SubjectID)
	if subject == "" {
		return fmt.Errorf("%w: session requires a subject", ErrInvalidInput)
	}
	g.cells[day][period-1] = SessionCell(Session{SubjectID: subject, TeacherID: strings.TrimSpace(s.TeacherID)})
	return nil
}

// Count returns how many cells hold a session of subjectID.
func (g *Grid) Count(subjectID string) int {
	n := 0
	for _, row := range g.cells {
		for _, c := range row {
			if s, ok := c.Session(); ok && s.SubjectID == subjectID {
				n++
			}
		}
	}
	return n
}

// Rows returns a copy of the cell matrix.
func (g *Grid) Rows() [][]Cell {
	out := make([][]Cell, len(g.cells))
	for d, row := range g.cells {
		out[d] = append([]Cell(nil), row...)
	}
	return out
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	return &Grid{cells: g.Rows()}
}

// Equal reports whether both grids hold the same cells.
func (g *Grid) Equal(other *Grid) bool {
	if g == nil || other == nil {
		return g == other
	}
	if len(g.cells) != len(other.cells) {
		return false
	}
	for d := range g.cells {
		if len(g.cells[d]) != len(other.cells[d]) {
			return false
		}
		for p := range g.cells[d] {
			if g.cells[d][p] != other.cells[d][p] {
				return false
			}
		}
	}
	return true
}

// MarshalJSON encodes the grid as a nested [day][period] array of tagged cells.
func (g *Grid) MarshalJSON() ([]byte, error) {
	if g.cells == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(g.cells)
}

// UnmarshalJSON decodes the nested array form and rejects ragged rows.
func (g *Grid) UnmarshalJSON(data []byte) error {
	var cells [][]Cell
	if err := json.Unmarshal(data, &cells); err != nil {
		return err
	}
	for d := 1; d < len(cells); d++ {
		if len(cells[d]) != len(cells[0]) {
			return fmt.Errorf("%w: grid rows have different lengths", ErrInvalidInput)
		}
	}
	g.cells = cells
	return nil
}
