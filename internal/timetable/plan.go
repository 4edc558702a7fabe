package timetable

import (
	"fmt"
	"sort"
	"strings"
)

// Requirement captures how one subject must be scheduled for one class.
type Requirement struct {
	ClassID          string   `json:"classId"`
	SubjectID        string   `json:"subjectId"`
	WeeklyPeriods    int      `json:"weeklyPeriods"`
	PreferredPeriods []int    `json:"preferredPeriods"`
	EligibleTeachers []string `json:"eligibleTeachers"`
}

func (r Requirement) clone() Requirement {
	out := r
	out.PreferredPeriods = append([]int(nil), r.PreferredPeriods...)
	out.EligibleTeachers = append([]string(nil), r.EligibleTeachers...)
	return out
}

// RequirementPatch is a partial update. Nil fields are left untouched.
type RequirementPatch struct {
	WeeklyPeriods    *int
	PreferredPeriods []int
	EligibleTeachers []string
}

type planKey struct {
	class   string
	subject string
}

// PlanStore holds assignment requirements keyed by class and subject, plus the
// classes selected for the next generation run. It is not safe for concurrent use.
type PlanStore struct {
	grid     TimeGrid
	items    map[planKey]*Requirement
	selected map[string]struct{}
}

// NewPlanStore returns an empty store bound to grid for index validation.
func NewPlanStore(grid TimeGrid) *PlanStore {
	return &PlanStore{
		grid:     grid,
		items:    make(map[planKey]*Requirement),
		selected: make(map[string]struct{}),
	}
}

// RestorePlanStore rebuilds a store from persisted records. Every record is revalidated.
func RestorePlanStore(grid TimeGrid, reqs []Requirement, selected []string) (*PlanStore, error) {
	store := NewPlanStore(grid)
	for _, req := range reqs {
		weekly := req.WeeklyPeriods
		patch := RequirementPatch{WeeklyPeriods: &weekly, PreferredPeriods: req.PreferredPeriods}
		if len(req.EligibleTeachers) > 0 {
			patch.EligibleTeachers = req.EligibleTeachers
		}
		if _, err := store.Apply(req.ClassID, req.SubjectID, patch); err != nil {
			return nil, err
		}
	}
	if err := store.Select(selected...); err != nil {
		return nil, err
	}
	return store, nil
}

// TimeGrid returns the grid used for bounds checks.
func (s *PlanStore) TimeGrid() TimeGrid {
	return s.grid
}

// SetWeeklyPeriods merges the weekly session count.
func (s *PlanStore) SetWeeklyPeriods(classID, subjectID string, weekly int) error {
	_, err := s.Apply(classID, subjectID, RequirementPatch{WeeklyPeriods: &weekly})
	return err
}

// SetPreferredPeriods merges the ordered preferred period list. An empty list clears it.
func (s *PlanStore) SetPreferredPeriods(classID, subjectID string, periods []int) error {
	if periods == nil {
		periods = []int{}
	}
	_, err := s.Apply(classID, subjectID, RequirementPatch{PreferredPeriods: periods})
	return err
}

// SetEligibleTeachers merges the ordered teacher list.
func (s *PlanStore) SetEligibleTeachers(classID, subjectID string, teachers []string) error {
	if teachers == nil {
		teachers = []string{}
	}
	_, err := s.Apply(classID, subjectID, RequirementPatch{EligibleTeachers: teachers})
	return err
}

// Apply validates every field of patch and merges it into the stored requirement,
// creating it when absent. The store is unchanged when validation fails.
func (s *PlanStore) Apply(classID, subjectID string, patch RequirementPatch) (Requirement, error) {
	classID = strings.TrimSpace(classID)
	subjectID = strings.TrimSpace(subjectID)
	if classID == "" || subjectID == "" {
		return Requirement{}, fmt.Errorf("%w: class and subject ids are required", ErrInvalidRequirement)
	}

	var (
		preferred []int
		teachers  []string
		err       error
	)
	if patch.WeeklyPeriods != nil && *patch.WeeklyPeriods < 0 {
		return Requirement{}, fmt.Errorf("%w: weekly periods must not be negative", ErrInvalidRequirement)
	}
	if patch.PreferredPeriods != nil {
		if preferred, err = s.checkPreferred(patch.PreferredPeriods); err != nil {
			return Requirement{}, err
		}
	}
	if patch.EligibleTeachers != nil {
		if teachers, err = checkTeachers(patch.EligibleTeachers); err != nil {
			return Requirement{}, err
		}
	}

	key := planKey{class: classID, subject: subjectID}
	req, ok := s.items[key]
	if !ok {
		req = &Requirement{ClassID: classID, SubjectID: subjectID}
		s.items[key] = req
	}
	if patch.WeeklyPeriods != nil {
		req.WeeklyPeriods = *patch.WeeklyPeriods
	}
	if patch.PreferredPeriods != nil {
		req.PreferredPeriods = preferred
	}
	if patch.EligibleTeachers != nil {
		req.EligibleTeachers = teachers
	}
	return req.clone(), nil
}

func (s *PlanStore) checkPreferred(periods []int) ([]int, error) {
	seen := make(map[int]bool, len(periods))
	out := make([]int, 0, len(periods))
	for _, p := range periods {
		if p < 1 || p > s.grid.PeriodsPerDay {
			return nil, fmt.Errorf("%w: preferred period %d outside 1..%d", ErrInvalidRequirement, p, s.grid.PeriodsPerDay)
		}
		if s.grid.IsBreak(p) {
			return nil, fmt.Errorf("%w: preferred period %d is a break", ErrInvalidRequirement, p)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

func checkTeachers(teachers []string) ([]string, error) {
	if len(teachers) == 0 {
		return nil, fmt.Errorf("%w: at least one eligible teacher is required", ErrInvalidRequirement)
	}
	seen := make(map[string]bool, len(teachers))
	out := make([]string, 0, len(teachers))
	for _, raw := range teachers {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("%w: teacher id must not be blank", ErrInvalidRequirement)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// Requirement returns a copy of the stored requirement.
func (s *PlanStore) Requirement(classID, subjectID string) (Requirement, bool) {
	req, ok := s.items[planKey{class: classID, subject: subjectID}]
	if !ok {
		return Requirement{}, false
	}
	return req.clone(), true
}

// Remove deletes a requirement and reports whether it existed.
func (s *PlanStore) Remove(classID, subjectID string) bool {
	key := planKey{class: classID, subject: subjectID}
	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	return true
}

// Subjects lists the subject ids planned for a class in ascending order.
func (s *PlanStore) Subjects(classID string) []string {
	var out []string
	for key := range s.items {
		if key.class == classID {
			out = append(out, key.subject)
		}
	}
	sort.Strings(out)
	return out
}

// Classes lists every class id with at least one requirement, ascending.
func (s *PlanStore) Classes() []string {
	seen := make(map[string]bool)
	var out []string
	for key := range s.items {
		if !seen[key.class] {
			seen[key.class] = true
			out = append(out, key.class)
		}
	}
	sort.Strings(out)
	return out
}

// Requirements returns copies of all requirements ordered by class then subject.
func (s *PlanStore) Requirements() []Requirement {
	out := make([]Requirement, 0, len(s.items))
	for _, req := range s.items {
		out = append(out, req.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClassID == out[j].ClassID {
			return out[i].SubjectID < out[j].SubjectID
		}
		return out[i].ClassID < out[j].ClassID
	})
	return out
}

// Select adds classes to the generation selection.
func (s *PlanStore) Select(classIDs ...string) error {
	cleaned := make([]string, 0, len(classIDs))
	for _, raw := range classIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return fmt.Errorf("%w: class id must not be blank", ErrInvalidInput)
		}
		cleaned = append(cleaned, id)
	}
	for _, id := range cleaned {
		s.selected[id] = struct{}{}
	}
	return nil
}

// Deselect removes classes from the generation selection.
func (s *PlanStore) Deselect(classIDs ...string) {
	for _, id := range classIDs {
		delete(s.selected, strings.TrimSpace(id))
	}
}

// ReplaceSelection swaps the whole selection for classIDs.
func (s *PlanStore) ReplaceSelection(classIDs []string) error {
	previous := s.selected
	s.selected = make(map[string]struct{}, len(classIDs))
	if err := s.Select(classIDs...); err != nil {
		s.selected = previous
		return err
	}
	return nil
}

// Selected returns the selected class ids in ascending order.
func (s *PlanStore) Selected() []string {
	out := make([]string, 0, len(s.selected))
	for id := range s.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Rebind switches the store to a new time grid and drops preferred periods that
// are no longer valid teaching periods.
func (s *PlanStore) Rebind(grid TimeGrid) error {
	if err := grid.Validate(); err != nil {
		return err
	}
	s.grid = grid
	for _, req := range s.items {
		kept := req.PreferredPeriods[:0]
		for _, p := range req.PreferredPeriods {
			if p >= 1 && p <= grid.PeriodsPerDay && !grid.IsBreak(p) {
				kept = append(kept, p)
			}
		}
		req.PreferredPeriods = kept
	}
	return nil
}
