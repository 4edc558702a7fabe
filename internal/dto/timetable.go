package dto

import (
	"time"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/timetable"
)

// TimeGridRequest replaces the weekly time structure.
type TimeGridRequest struct {
	ActiveDays            []string `json:"activeDays" validate:"required,min=1,max=6,dive,required"`
	PeriodsPerDay         int      `json:"periodsPerDay" validate:"required,min=1,max=16"`
	PeriodDurationMinutes int      `json:"periodDurationMinutes" validate:"required,min=1,max=240"`
	BreakDurationMinutes  int      `json:"breakDurationMinutes" validate:"required,min=1,max=240"`
	BreakPeriods          []int    `json:"breakPeriods" validate:"omitempty,dive,min=1"`
	StartTime             string   `json:"startTime" validate:"required"`
}

// UpsertRequirementRequest merges the provided fields into a requirement.
// Omitted or null fields are left unchanged.
type UpsertRequirementRequest struct {
	WeeklyPeriods    *int      `json:"weeklyPeriods"`
	PreferredPeriods *[]int    `json:"preferredPeriods"`
	EligibleTeachers *[]string `json:"eligibleTeachers"`
}

// SelectClassesRequest replaces the set of classes selected for generation.
type SelectClassesRequest struct {
	ClassIDs []string `json:"classIds" validate:"dive,required"`
}

// GenerateTimetableRequest optionally overrides the stored class selection.
type GenerateTimetableRequest struct {
	ClassIDs []string `json:"classIds" validate:"omitempty,dive,required"`
}

// SetCellRequest edits one cell of a class grid. A missing subject clears the cell.
type SetCellRequest struct {
	Day       string  `json:"day" validate:"required"`
	Period    int     `json:"period" validate:"required,min=1"`
	SubjectID *string `json:"subjectId"`
	TeacherID *string `json:"teacherId"`
}

// GridListQuery paginates the grid listing.
type GridListQuery struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

// TimetableSettingsResponse describes the current generation configuration.
type TimetableSettingsResponse struct {
	TimeGrid        timetable.TimeGrid      `json:"timeGrid"`
	Periods         []timetable.PeriodSlot  `json:"periods"`
	Requirements    []timetable.Requirement `json:"requirements"`
	SelectedClasses []string                `json:"selectedClasses"`
	UpdatedBy       *string                 `json:"updatedBy,omitempty"`
	UpdatedAt       *time.Time              `json:"updatedAt,omitempty"`
}

// ClassGridResponse is one class grid with its day labels.
type ClassGridResponse struct {
	ClassID     string          `json:"classId"`
	Days        []timetable.Day `json:"days"`
	Grid        *timetable.Grid `json:"grid"`
	GeneratedAt time.Time       `json:"generatedAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// GenerateTimetableResponse reports the grids and placement outcome of a run.
type GenerateTimetableResponse struct {
	Grids       []ClassGridResponse   `json:"grids"`
	Placements  []timetable.Placement `json:"placements"`
	Shortfalls  []timetable.Placement `json:"shortfalls"`
	GeneratedAt time.Time             `json:"generatedAt"`
}

// ExportTimetableRequest queues a grid export.
type ExportTimetableRequest struct {
	ClassID string `json:"classId" validate:"required"`
	Format  string `json:"format" validate:"required,oneof=csv pdf xlsx"`
}

// ExportJobResponse is returned after queueing an export.
type ExportJobResponse struct {
	ID       string              `json:"id"`
	ClassID  string              `json:"classId"`
	Format   models.ExportFormat `json:"format"`
	Status   models.ExportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ExportStatusResponse exposes export job progress.
type ExportStatusResponse struct {
	ID         string              `json:"id"`
	ClassID    string              `json:"classId"`
	Format     models.ExportFormat `json:"format"`
	Status     models.ExportStatus `json:"status"`
	Progress   int                 `json:"progress"`
	ResultURL  *string             `json:"resultUrl,omitempty"`
	Error      *string             `json:"error,omitempty"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
}
