package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	"github.com/noah-isme/sma-timetable-api/internal/timetable"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

const maxSelectedClasses = 256

type timetableManager interface {
	GetSettings(ctx context.Context) (*dto.TimetableSettingsResponse, bool, error)
	UpdateTimeGrid(ctx context.Context, req dto.TimeGridRequest, actor string) (*dto.TimetableSettingsResponse, error)
	UpsertRequirement(ctx context.Context, classID, subjectID string, req dto.UpsertRequirementRequest, actor string) (*timetable.Requirement, error)
	DeleteRequirement(ctx context.Context, classID, subjectID, actor string) error
	SelectClasses(ctx context.Context, req dto.SelectClassesRequest, actor string) ([]string, error)
	Generate(ctx context.Context, req dto.GenerateTimetableRequest, actor string) (*dto.GenerateTimetableResponse, error)
	ListGrids(ctx context.Context, query dto.GridListQuery) ([]dto.ClassGridResponse, *models.Pagination, bool, error)
	GetGrid(ctx context.Context, classID string) (*dto.ClassGridResponse, bool, error)
	SetCell(ctx context.Context, classID string, req dto.SetCellRequest, actor string) (*dto.ClassGridResponse, error)
	Periods(ctx context.Context) ([]timetable.PeriodSlot, error)
	Reset(ctx context.Context, actor string) error
}

// TimetableHandler exposes timetable configuration, generation and grid endpoints.
type TimetableHandler struct {
	service timetableManager
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(svc *service.TimetableService) *TimetableHandler {
	return &TimetableHandler{service: svc}
}

// GetSettings godoc
// @Summary Get timetable settings
// @Description Returns the time grid, period labels, requirements and class selection.
// @Tags Timetable
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /timetables/settings [get]
func (h *TimetableHandler) GetSettings(c *gin.Context) {
	start := time.Now()
	settings, hit, err := h.service.GetSettings(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithCacheMeta(c, start, settings, nil, hit)
}

// UpdateTimeGrid godoc
// @Summary Replace the weekly time grid
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body dto.TimeGridRequest true "Time grid"
// @Success 200 {object} response.Envelope
// @Router /timetables/settings [put]
func (h *TimetableHandler) UpdateTimeGrid(c *gin.Context) {
	var req dto.TimeGridRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid time grid payload"))
		return
	}
	settings, err := h.service.UpdateTimeGrid(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, settings, nil)
}

// UpsertRequirement godoc
// @Summary Create or merge a class subject requirement
// @Description Omitted fields keep their stored value.
// @Tags Timetable
// @Accept json
// @Produce json
// @Param classId path string true "Class ID"
// @Param subjectId path string true "Subject ID"
// @Param payload body dto.UpsertRequirementRequest true "Requirement fields"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /timetables/plans/{classId}/{subjectId} [put]
func (h *TimetableHandler) UpsertRequirement(c *gin.Context) {
	var req dto.UpsertRequirementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid requirement payload"))
		return
	}
	requirement, err := h.service.UpsertRequirement(c.Request.Context(), c.Param("classId"), c.Param("subjectId"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requirement, nil)
}

// DeleteRequirement godoc
// @Summary Delete a class subject requirement
// @Tags Timetable
// @Param classId path string true "Class ID"
// @Param subjectId path string true "Subject ID"
// @Success 204
// @Router /timetables/plans/{classId}/{subjectId} [delete]
func (h *TimetableHandler) DeleteRequirement(c *gin.Context) {
	if err := h.service.DeleteRequirement(c.Request.Context(), c.Param("classId"), c.Param("subjectId"), actorID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SelectClasses godoc
// @Summary Replace the classes selected for generation
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body dto.SelectClassesRequest true "Class ids"
// @Success 200 {object} response.Envelope
// @Router /timetables/selection [put]
func (h *TimetableHandler) SelectClasses(c *gin.Context) {
	var req dto.SelectClassesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid selection payload"))
		return
	}
	if len(req.ClassIDs) > maxSelectedClasses {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "classIds exceeds supported limit"))
		return
	}
	selected, err := h.service.SelectClasses(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"selectedClasses": selected}, nil)
}

// Generate godoc
// @Summary Generate timetables
// @Description Rebuilds the grids of the given classes, or of the stored selection when classIds is empty. Unplaced sessions are reported as shortfalls.
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest false "Optional class override"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /timetables/generate [post]
func (h *TimetableHandler) Generate(c *gin.Context) {
	var req dto.GenerateTimetableRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
			return
		}
	}
	if len(req.ClassIDs) > maxSelectedClasses {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "classIds exceeds supported limit"))
		return
	}
	result, err := h.service.Generate(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListGrids godoc
// @Summary List generated class grids
// @Tags Timetable
// @Produce json
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /timetables/grids [get]
func (h *TimetableHandler) ListGrids(c *gin.Context) {
	start := time.Now()
	var query dto.GridListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	grids, pagination, hit, err := h.service.ListGrids(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithCacheMeta(c, start, grids, pagination, hit)
}

// GetGrid godoc
// @Summary Get the grid of one class
// @Tags Timetable
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/grids/{classId} [get]
func (h *TimetableHandler) GetGrid(c *gin.Context) {
	start := time.Now()
	grid, hit, err := h.service.GetGrid(c.Request.Context(), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithCacheMeta(c, start, grid, nil, hit)
}

// SetCell godoc
// @Summary Edit one cell of a class grid
// @Description Omit subjectId to clear the cell. Break cells cannot be edited.
// @Tags Timetable
// @Accept json
// @Produce json
// @Param classId path string true "Class ID"
// @Param payload body dto.SetCellRequest true "Cell edit"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/grids/{classId}/cells [put]
func (h *TimetableHandler) SetCell(c *gin.Context) {
	var req dto.SetCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid cell payload"))
		return
	}
	grid, err := h.service.SetCell(c.Request.Context(), c.Param("classId"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grid, nil)
}

// Periods godoc
// @Summary List period labels of the current time grid
// @Tags Timetable
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /timetables/periods [get]
func (h *TimetableHandler) Periods(c *gin.Context) {
	periods, err := h.service.Periods(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, periods, nil)
}

// Reset godoc
// @Summary Delete all timetable settings and grids
// @Tags Timetable
// @Success 204
// @Router /timetables [delete]
func (h *TimetableHandler) Reset(c *gin.Context) {
	if err := h.service.Reset(c.Request.Context(), actorID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func respondWithCacheMeta(c *gin.Context, start time.Time, data interface{}, pagination *models.Pagination, hit bool) {
	middleware.SetCacheHit(c, hit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, data, pagination, meta)
}
