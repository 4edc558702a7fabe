package service

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/timetable"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

// TimetableStore persists settings and class grids.
type TimetableStore interface {
	SaveSettings(ctx context.Context, settings *models.TimetableSettings) error
	LoadSettings(ctx context.Context) (*models.TimetableSettings, error)
	DeleteSettings(ctx context.Context) error
	SaveClassGrid(ctx context.Context, grid *models.ClassGrid) error
	SaveClassGrids(ctx context.Context, grids []*models.ClassGrid) error
	LoadGrid(ctx context.Context, classID string) (*models.ClassGrid, error)
	LoadAllGrids(ctx context.Context) (map[string]*models.ClassGrid, error)
	DeleteAllGrids(ctx context.Context) error
}

// DefaultTimeGrid is used until an administrator saves a time grid.
func DefaultTimeGrid() timetable.TimeGrid {
	return timetable.TimeGrid{
		ActiveDays:            []timetable.Day{timetable.Monday, timetable.Tuesday, timetable.Wednesday, timetable.Thursday, timetable.Friday},
		PeriodsPerDay:         8,
		PeriodDurationMinutes: 45,
		BreakDurationMinutes:  15,
		BreakPeriods:          []int{4},
		StartTime:             timetable.TimeOfDay(7 * 60),
	}
}

const (
	defaultGridPageSize = 50
	maxGridPageSize     = 200
)

// TimetableService coordinates timetable settings, generation, manual edits and persistence.
// Mutations and generation runs are serialised because teacher conflicts are only
// detected inside a single run.
type TimetableService struct {
	store     TimetableStore
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time

	mu sync.Mutex
	// version counts stored-state writes. Readers only fill the cache when it is unchanged
	// since their load.
	version atomic.Uint64
}

// NewTimetableService wires timetable dependencies.
func NewTimetableService(store TimetableStore, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{
		store:     store,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetSettings returns the current time grid, requirements and selection.
func (s *TimetableService) GetSettings(ctx context.Context) (*dto.TimetableSettingsResponse, bool, error) {
	var cached dto.TimetableSettingsResponse
	if s.cache.Get(ctx, cacheKeySettings, &cached) {
		return &cached, true, nil
	}
	version := s.version.Load()
	settings, _, err := s.loadState(ctx)
	if err != nil {
		return nil, false, err
	}
	resp := settingsResponse(settings)
	s.fillCache(ctx, version, cacheKeySettings, resp)
	return resp, false, nil
}

// Periods lists the period labels of the current time grid.
func (s *TimetableService) Periods(ctx context.Context) ([]timetable.PeriodSlot, error) {
	settings, _, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	return settings.Periods, nil
}

// UpdateTimeGrid replaces the time grid. Preferred periods that no longer fit are
// dropped. Stored grids are cleared before the new shape is saved, so a failed delete
// leaves the previous settings in place.
func (s *TimetableService) UpdateTimeGrid(ctx context.Context, req dto.TimeGridRequest, actor string) (*dto.TimetableSettingsResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid time grid payload")
	}
	grid, err := timeGridFromRequest(req)
	if err != nil {
		return nil, mapTimetableError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, plans, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	previous := plans.TimeGrid()
	if err := plans.Rebind(grid); err != nil {
		return nil, mapTimetableError(err)
	}
	if !sameShape(previous, grid) {
		s.version.Add(1)
		err := s.call("delete_grids", func() error { return s.store.DeleteAllGrids(ctx) })
		s.cache.InvalidatePattern(ctx, cacheGridPattern)
		if err != nil {
			return nil, err
		}
		s.logger.Warn("time grid shape changed, stored grids cleared", zap.String("actor", actor))
	}
	if err := s.saveState(ctx, settings, plans, actor); err != nil {
		return nil, err
	}
	s.logger.Info("timetable time grid updated",
		zap.String("actor", actor),
		zap.Int("days", len(grid.ActiveDays)),
		zap.Int("periods_per_day", grid.PeriodsPerDay),
	)
	return settingsResponse(settings), nil
}

// UpsertRequirement merges a partial requirement for a class and subject.
func (s *TimetableService) UpsertRequirement(ctx context.Context, classID, subjectID string, req dto.UpsertRequirementRequest, actor string) (*timetable.Requirement, error) {
	patch := timetable.RequirementPatch{WeeklyPeriods: req.WeeklyPeriods}
	if req.PreferredPeriods != nil {
		patch.PreferredPeriods = *req.PreferredPeriods
		if patch.PreferredPeriods == nil {
			patch.PreferredPeriods = []int{}
		}
	}
	if req.EligibleTeachers != nil {
		patch.EligibleTeachers = *req.EligibleTeachers
		if patch.EligibleTeachers == nil {
			patch.EligibleTeachers = []string{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, plans, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	merged, err := plans.Apply(classID, subjectID, patch)
	if err != nil {
		return nil, mapTimetableError(err)
	}
	if err := s.saveState(ctx, settings, plans, actor); err != nil {
		return nil, err
	}
	s.logger.Info("timetable requirement upserted",
		zap.String("actor", actor),
		zap.String("class_id", merged.ClassID),
		zap.String("subject_id", merged.SubjectID),
	)
	return &merged, nil
}

// DeleteRequirement removes a requirement.
func (s *TimetableService) DeleteRequirement(ctx context.Context, classID, subjectID, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, plans, err := s.loadState(ctx)
	if err != nil {
		return err
	}
	if !plans.Remove(classID, subjectID) {
		return appErrors.Clone(appErrors.ErrNotFound, "requirement not found")
	}
	if err := s.saveState(ctx, settings, plans, actor); err != nil {
		return err
	}
	s.logger.Info("timetable requirement deleted", zap.String("actor", actor), zap.String("class_id", classID), zap.String("subject_id", subjectID))
	return nil
}

// SelectClasses replaces the stored class selection.
func (s *TimetableService) SelectClasses(ctx context.Context, req dto.SelectClassesRequest, actor string) ([]string, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class selection")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, plans, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	if err := plans.ReplaceSelection(req.ClassIDs); err != nil {
		return nil, mapTimetableError(err)
	}
	if err := s.saveState(ctx, settings, plans, actor); err != nil {
		return nil, err
	}
	return plans.Selected(), nil
}

// Generate rebuilds the grids of the selected classes and persists them. Requirements
// that could not be fully placed are reported in the response, not as an error.
func (s *TimetableService) Generate(ctx context.Context, req dto.GenerateTimetableRequest, actor string) (*dto.GenerateTimetableResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generate payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, plans, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	selection := req.ClassIDs
	if len(selection) == 0 {
		selection = plans.Selected()
	}

	tg := plans.TimeGrid()
	start := time.Now()
	result, err := timetable.Generate(tg, plans, selection)
	elapsed := time.Since(start)
	if err != nil {
		return nil, mapTimetableError(err)
	}

	generatedAt := s.now()
	records := make([]*models.ClassGrid, 0, len(result.Grids))
	for _, classID := range result.ClassIDs() {
		records = append(records, &models.ClassGrid{ClassID: classID, Grid: result.Grids[classID], GeneratedAt: generatedAt})
	}
	s.version.Add(1)
	if err := s.call("save_grids", func() error { return s.store.SaveClassGrids(ctx, records) }); err != nil {
		return nil, err
	}
	s.cache.InvalidatePattern(ctx, cacheGridPattern)

	placed, unplaced := 0, 0
	shortfalls := result.Shortfalls()
	for _, p := range result.Placements {
		placed += p.Placed
		unplaced += p.Shortfall()
	}
	for _, p := range shortfalls {
		s.logger.Warn("timetable requirement not fully placed",
			zap.String("class_id", p.ClassID),
			zap.String("subject_id", p.SubjectID),
			zap.Int("requested", p.Requested),
			zap.Int("placed", p.Placed),
		)
	}
	s.metrics.ObserveGeneration(elapsed, placed, unplaced, len(shortfalls))
	s.logger.Info("timetable generated",
		zap.String("actor", actor),
		zap.Int("classes", len(records)),
		zap.Int("sessions_placed", placed),
		zap.Int("sessions_unplaced", unplaced),
		zap.Duration("elapsed", elapsed),
	)

	resp := &dto.GenerateTimetableResponse{
		Grids:       make([]dto.ClassGridResponse, 0, len(records)),
		Placements:  result.Placements,
		Shortfalls:  shortfalls,
		GeneratedAt: generatedAt,
	}
	if resp.Placements == nil {
		resp.Placements = []timetable.Placement{}
	}
	if resp.Shortfalls == nil {
		resp.Shortfalls = []timetable.Placement{}
	}
	for _, record := range records {
		resp.Grids = append(resp.Grids, gridResponse(record, tg.ActiveDays))
	}
	return resp, nil
}

// ListGrids returns stored grids ordered by class id.
func (s *TimetableService) ListGrids(ctx context.Context, query dto.GridListQuery) ([]dto.ClassGridResponse, *models.Pagination, bool, error) {
	var all []dto.ClassGridResponse
	hit := s.cache.Get(ctx, cacheKeyGridsAll, &all)
	if !hit {
		version := s.version.Load()
		settings, _, err := s.GetSettings(ctx)
		if err != nil {
			return nil, nil, false, err
		}
		var grids map[string]*models.ClassGrid
		if err := s.call("load_grids", func() error {
			var err error
			grids, err = s.store.LoadAllGrids(ctx)
			return err
		}); err != nil {
			return nil, nil, false, err
		}
		all = make([]dto.ClassGridResponse, 0, len(grids))
		for _, grid := range grids {
			all = append(all, gridResponse(grid, settings.TimeGrid.ActiveDays))
		}
		sort.Slice(all, func(i, j int) bool { return all[i].ClassID < all[j].ClassID })
		s.fillCache(ctx, version, cacheKeyGridsAll, all)
	}

	page, size := query.Page, query.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultGridPageSize
	}
	if size > maxGridPageSize {
		size = maxGridPageSize
	}
	from := (page - 1) * size
	if from > len(all) {
		from = len(all)
	}
	to := from + size
	if to > len(all) {
		to = len(all)
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: len(all)}
	return all[from:to], pagination, hit, nil
}

// GetGrid returns the stored grid of one class.
func (s *TimetableService) GetGrid(ctx context.Context, classID string) (*dto.ClassGridResponse, bool, error) {
	var cached dto.ClassGridResponse
	if s.cache.Get(ctx, gridCacheKey(classID), &cached) {
		return &cached, true, nil
	}
	version := s.version.Load()
	settings, _, err := s.GetSettings(ctx)
	if err != nil {
		return nil, false, err
	}
	grid, err := s.loadGrid(ctx, classID)
	if err != nil {
		return nil, false, err
	}
	resp := gridResponse(grid, settings.TimeGrid.ActiveDays)
	s.fillCache(ctx, version, gridCacheKey(classID), resp)
	return &resp, false, nil
}

// SetCell applies a manual edit to one cell of a stored grid. Teacher conflicts with
// other classes are not re-validated.
func (s *TimetableService) SetCell(ctx context.Context, classID string, req dto.SetCellRequest, actor string) (*dto.ClassGridResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cell payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, _, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	tg := settings.Payload.TimeGrid
	day, ok := timetable.ParseDay(req.Day)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown day "+req.Day)
	}
	dayIndex, ok := tg.DayIndex(day)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, string(day)+" is not an active day")
	}

	record, err := s.loadGrid(ctx, classID)
	if err != nil {
		return nil, err
	}
	var session *timetable.Session
	if req.SubjectID != nil && strings.TrimSpace(*req.SubjectID) != "" {
		session = &timetable.Session{SubjectID: *req.SubjectID}
		if req.TeacherID != nil {
			session.TeacherID = *req.TeacherID
		}
	}
	if err := record.Grid.SetCell(dayIndex, req.Period, session); err != nil {
		return nil, mapTimetableError(err)
	}
	s.version.Add(1)
	if err := s.call("save_grid", func() error { return s.store.SaveClassGrid(ctx, record) }); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, gridCacheKey(classID), cacheKeyGridsAll)

	fields := []zap.Field{
		zap.String("actor", actor),
		zap.String("class_id", classID),
		zap.String("day", string(day)),
		zap.Int("period", req.Period),
	}
	if session != nil {
		fields = append(fields, zap.String("subject_id", session.SubjectID), zap.String("teacher_id", session.TeacherID))
	}
	s.logger.Info("timetable cell edited", fields...)

	resp := gridResponse(record, tg.ActiveDays)
	return &resp, nil
}

// Reset deletes all stored grids and settings.
func (s *TimetableService) Reset(ctx context.Context, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version.Add(1)
	if err := s.call("delete_grids", func() error { return s.store.DeleteAllGrids(ctx) }); err != nil {
		return err
	}
	if err := s.call("delete_settings", func() error { return s.store.DeleteSettings(ctx) }); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, cacheKeySettings)
	s.cache.InvalidatePattern(ctx, cacheGridPattern)
	s.logger.Warn("timetable reset", zap.String("actor", actor))
	return nil
}

func (s *TimetableService) loadGrid(ctx context.Context, classID string) (*models.ClassGrid, error) {
	var grid *models.ClassGrid
	if err := s.call("load_grid", func() error {
		var err error
		grid, err = s.store.LoadGrid(ctx, classID)
		return err
	}); err != nil {
		return nil, err
	}
	if grid == nil || grid.Grid == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable grid not found")
	}
	return grid, nil
}

func (s *TimetableService) loadState(ctx context.Context) (*models.TimetableSettings, *timetable.PlanStore, error) {
	var settings *models.TimetableSettings
	if err := s.call("load_settings", func() error {
		var err error
		settings, err = s.store.LoadSettings(ctx)
		return err
	}); err != nil {
		return nil, nil, err
	}
	if settings == nil {
		settings = &models.TimetableSettings{
			ID:      models.DefaultSettingsID,
			Payload: models.SettingsPayload{TimeGrid: DefaultTimeGrid()},
		}
	}
	p := settings.Payload
	plans, err := timetable.RestorePlanStore(p.TimeGrid, p.Requirements, p.SelectedClasses)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored timetable settings are inconsistent")
	}
	return settings, plans, nil
}

func (s *TimetableService) saveState(ctx context.Context, settings *models.TimetableSettings, plans *timetable.PlanStore, actor string) error {
	settings.Payload = models.SettingsPayload{
		TimeGrid:        plans.TimeGrid(),
		Requirements:    plans.Requirements(),
		SelectedClasses: plans.Selected(),
	}
	if actor != "" {
		settings.UpdatedBy = &actor
	}
	s.version.Add(1)
	if err := s.call("save_settings", func() error { return s.store.SaveSettings(ctx, settings) }); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, cacheKeySettings)
	return nil
}

// fillCache stores a read result unless a write has happened since version was taken.
// Writers bump the version under s.mu, so holding it here orders the check against them.
func (s *TimetableService) fillCache(ctx context.Context, version uint64, key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version.Load() != version {
		return
	}
	s.cache.Set(ctx, key, value, 0)
}

// call runs one store operation with timing and maps failures to PERSISTENCE_FAILURE.
func (s *TimetableService) call(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.ObserveStoreCall(operation, err, time.Since(start))
	if err != nil {
		s.logger.Error("timetable store call failed", zap.String("operation", operation), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	return nil
}

func timeGridFromRequest(req dto.TimeGridRequest) (timetable.TimeGrid, error) {
	days := make([]timetable.Day, 0, len(req.ActiveDays))
	for _, raw := range req.ActiveDays {
		days = append(days, timetable.Day(raw))
	}
	start, err := timetable.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return timetable.TimeGrid{}, err
	}
	grid := timetable.TimeGrid{
		ActiveDays:            days,
		PeriodsPerDay:         req.PeriodsPerDay,
		PeriodDurationMinutes: req.PeriodDurationMinutes,
		BreakDurationMinutes:  req.BreakDurationMinutes,
		BreakPeriods:          req.BreakPeriods,
		StartTime:             start,
	}.Normalized()
	if err := grid.Validate(); err != nil {
		return timetable.TimeGrid{}, err
	}
	return grid, nil
}

func sameShape(a, b timetable.TimeGrid) bool {
	return a.PeriodsPerDay == b.PeriodsPerDay &&
		slices.Equal(a.ActiveDays, b.ActiveDays) &&
		slices.Equal(a.BreakPeriods, b.BreakPeriods)
}

func settingsResponse(settings *models.TimetableSettings) *dto.TimetableSettingsResponse {
	p := settings.Payload
	resp := &dto.TimetableSettingsResponse{
		TimeGrid:        p.TimeGrid,
		Periods:         p.TimeGrid.Periods(),
		Requirements:    p.Requirements,
		SelectedClasses: p.SelectedClasses,
		UpdatedBy:       settings.UpdatedBy,
	}
	if resp.Requirements == nil {
		resp.Requirements = []timetable.Requirement{}
	}
	if resp.SelectedClasses == nil {
		resp.SelectedClasses = []string{}
	}
	if !settings.UpdatedAt.IsZero() {
		updatedAt := settings.UpdatedAt
		resp.UpdatedAt = &updatedAt
	}
	return resp
}

func gridResponse(grid *models.ClassGrid, days []timetable.Day) dto.ClassGridResponse {
	return dto.ClassGridResponse{
		ClassID:     grid.ClassID,
		Days:        days,
		Grid:        grid.Grid,
		GeneratedAt: grid.GeneratedAt,
		UpdatedAt:   grid.UpdatedAt,
	}
}

func mapTimetableError(err error) error {
	switch {
	case errors.Is(err, timetable.ErrInvalidRequirement):
		return appErrors.Wrap(err, appErrors.ErrInvalidRequirement.Code, appErrors.ErrInvalidRequirement.Status, appErrors.ErrInvalidRequirement.Message)
	case errors.Is(err, timetable.ErrCellLocked):
		return appErrors.Wrap(err, appErrors.ErrCellLocked.Code, appErrors.ErrCellLocked.Status, appErrors.ErrCellLocked.Message)
	case errors.Is(err, timetable.ErrInvalidInput), errors.Is(err, timetable.ErrInvalidPeriodIndex):
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
}
