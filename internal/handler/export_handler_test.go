package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	internalmiddleware "github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type exportJobManagerMock struct {
	created  dto.ExportTimetableRequest
	actor    string
	role     models.UserRole
	download *service.ExportDownload
	err      error
}

func (m *exportJobManagerMock) CreateJob(ctx context.Context, req dto.ExportTimetableRequest, actorID string) (*dto.ExportJobResponse, error) {
	m.created, m.actor = req, actorID
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ExportJobResponse{ID: "job-1", ClassID: req.ClassID, Format: models.ExportFormat(req.Format), Status: models.ExportStatusQueued}, nil
}

func (m *exportJobManagerMock) GetStatus(ctx context.Context, id, actorID string, role models.UserRole) (*dto.ExportStatusResponse, error) {
	m.actor, m.role = actorID, role
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ExportStatusResponse{ID: id, Status: models.ExportStatusProcessing, Progress: 50}, nil
}

func (m *exportJobManagerMock) ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.download, nil
}

func newExportRouter(mock *exportJobManagerMock, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := &ExportHandler{service: mock}
	router := gin.New()
	authed := router.Group("/timetables/exports")
	authed.GET("/download/:token", h.Download)
	authed.Use(func(c *gin.Context) {
		if claims != nil {
			c.Set(internalmiddleware.ContextUserKey, claims)
		}
		c.Next()
	})
	authed.POST("", h.Create)
	authed.GET("/:id", h.Status)
	return router
}

func TestExportHandlerCreateAccepted(t *testing.T) {
	mock := &exportJobManagerMock{}
	router := newExportRouter(mock, &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher})

	w := performJSON(router, http.MethodPost, "/timetables/exports", dto.ExportTimetableRequest{ClassID: "class-a", Format: "xlsx"})

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "teacher-1", mock.actor)
	assert.Equal(t, "class-a", mock.created.ClassID)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "QUEUED", body["data"].(map[string]interface{})["status"])
}

func TestExportHandlerCreateRequiresClaims(t *testing.T) {
	mock := &exportJobManagerMock{}
	router := newExportRouter(mock, nil)

	w := performJSON(router, http.MethodPost, "/timetables/exports", dto.ExportTimetableRequest{ClassID: "class-a", Format: "csv"})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, mock.actor)
}

func TestExportHandlerStatusPassesRole(t *testing.T) {
	mock := &exportJobManagerMock{}
	router := newExportRouter(mock, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	w := performJSON(router, http.MethodGet, "/timetables/exports/job-9", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RoleAdmin, mock.role)
	assert.Equal(t, "admin-1", mock.actor)
}

func TestExportHandlerStatusNotFound(t *testing.T) {
	mock := &exportJobManagerMock{err: appErrors.Clone(appErrors.ErrNotFound, "export job not found")}
	router := newExportRouter(mock, &models.JWTClaims{UserID: "user-2", Role: models.RoleTeacher})

	w := performJSON(router, http.MethodGet, "/timetables/exports/job-1", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportHandlerDownloadStreamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "class-a.csv")
	require.NoError(t, os.WriteFile(path, []byte("Period,Time\n1,07:00-07:45\n"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	mock := &exportJobManagerMock{download: &service.ExportDownload{
		File:      file,
		Filename:  "class-a.csv",
		Format:    models.ExportFormatCSV,
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	router := newExportRouter(mock, nil)

	w := performJSON(router, http.MethodGet, "/timetables/exports/download/token-1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "class-a.csv")
	assert.Equal(t, "Period,Time\n1,07:00-07:45\n", w.Body.String())
}

func TestExportHandlerDownloadForbidden(t *testing.T) {
	mock := &exportJobManagerMock{err: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")}
	router := newExportRouter(mock, nil)

	w := performJSON(router, http.MethodGet, "/timetables/exports/download/bad", nil)

	require.Equal(t, http.StatusForbidden, w.Code)
}
