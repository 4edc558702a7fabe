package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	"github.com/noah-isme/sma-timetable-api/internal/timetable"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/storage"
)

func exportTimeGrid() timetable.TimeGrid {
	return timetable.TimeGrid{
		ActiveDays:            []timetable.Day{timetable.Monday, timetable.Tuesday},
		PeriodsPerDay:         3,
		PeriodDurationMinutes: 45,
		BreakDurationMinutes:  15,
		BreakPeriods:          []int{2},
		StartTime:             timetable.TimeOfDay(7 * 60),
	}
}

func exportGrid(t *testing.T) *timetable.Grid {
	t.Helper()
	grid := timetable.NewGrid(exportTimeGrid())
	require.NoError(t, grid.SetCell(0, 1, &timetable.Session{SubjectID: "math", TeacherID: "t-1"}))
	require.NoError(t, grid.SetCell(1, 3, &timetable.Session{SubjectID: "art"}))
	return grid
}

type stubGridSource struct {
	tg      timetable.TimeGrid
	grids   map[string]*timetable.Grid
	loadErr error
}

func (s *stubGridSource) GetSettings(context.Context) (*dto.TimetableSettingsResponse, bool, error) {
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	return &dto.TimetableSettingsResponse{TimeGrid: s.tg}, false, nil
}

func (s *stubGridSource) GetGrid(_ context.Context, classID string) (*dto.ClassGridResponse, bool, error) {
	grid, ok := s.grids[classID]
	if !ok {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "timetable grid not found")
	}
	return &dto.ClassGridResponse{ClassID: classID, Days: s.tg.ActiveDays, Grid: grid}, false, nil
}

type stubRoster struct {
	names *models.RosterNames
	err   error
}

func (s *stubRoster) Names(context.Context, []string, []string, []string) (*models.RosterNames, error) {
	return s.names, s.err
}

func TestBuildDatasetLaysOutPeriodsByDay(t *testing.T) {
	names := &models.RosterNames{
		Classes:  map[string]string{"class-a": "X IPA 1"},
		Subjects: map[string]string{"math": "Matematika"},
		Teachers: map[string]string{"t-1": "Bu Sari"},
	}
	dataset := BuildDataset("class-a", exportGrid(t), exportTimeGrid(), names)

	assert.Equal(t, "Timetable X IPA 1", dataset.Title)
	assert.Equal(t, []string{"Period", "Time", "Monday", "Tuesday"}, dataset.Headers)
	assert.Equal(t, [][]string{
		{"1", "07:00-07:45", "Matematika (Bu Sari)", ""},
		{"2", "07:45-08:00", "BREAK", "BREAK"},
		{"3", "08:00-08:45", "", "art"},
	}, dataset.Records())
}

func TestBuildDatasetFallsBackToIDs(t *testing.T) {
	dataset := BuildDataset("class-a", exportGrid(t), exportTimeGrid(), nil)
	assert.Equal(t, "Timetable class-a", dataset.Title)
	assert.Equal(t, "math (t-1)", dataset.Rows[0]["Monday"])
}

func newExportServiceFixture(t *testing.T, roster RosterLookup) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	source := &stubGridSource{tg: exportTimeGrid(), grids: map[string]*timetable.Grid{"class-a": exportGrid(t)}}
	svc := NewExportService(source, roster, files, storage.NewSignedURLSigner("secret", time.Hour), ExportConfig{APIPrefix: "/api/v1/"}, nil)
	return svc, files
}

func TestExportServiceGenerateWritesFile(t *testing.T) {
	svc, _ := newExportServiceFixture(t, &stubRoster{err: errors.New("roster offline")})

	for _, format := range []models.ExportFormat{models.ExportFormatCSV, models.ExportFormatPDF, models.ExportFormatXLSX} {
		job := &models.ExportJob{ID: "job-" + string(format), ClassID: "class-a", Format: format}
		result, err := svc.Generate(context.Background(), job)
		require.NoError(t, err, format)
		assert.True(t, strings.HasPrefix(result.URL, "/api/v1/timetables/exports/download/"))
		assert.True(t, strings.HasSuffix(result.RelativePath, "."+string(format)))

		exportID, relPath, _, err := svc.ParseToken(result.Token, false)
		require.NoError(t, err)
		assert.Equal(t, job.ID, exportID)

		file, err := svc.Open(relPath)
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, file.Close())
		require.NoError(t, err)
		assert.NotEmpty(t, data)
		if format == models.ExportFormatCSV {
			assert.Contains(t, string(data), "math (t-1)")
		}
	}
}

func TestExportServiceGenerateErrors(t *testing.T) {
	svc, _ := newExportServiceFixture(t, nil)

	_, err := svc.Generate(context.Background(), &models.ExportJob{ID: "job-1", ClassID: "class-a", Format: "docx"})
	assert.Error(t, err)

	_, err = svc.Generate(context.Background(), &models.ExportJob{ID: "job-1", ClassID: "class-z", Format: models.ExportFormatCSV})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrorCode(t, err))

	_, err = svc.Generate(context.Background(), nil)
	assert.Error(t, err)
}

type memoryExportJobStore struct {
	jobs map[string]*models.ExportJob
	seq  int
}

func newMemoryExportJobStore() *memoryExportJobStore {
	return &memoryExportJobStore{jobs: map[string]*models.ExportJob{}}
}

func (m *memoryExportJobStore) Create(_ context.Context, job *models.ExportJob) error {
	m.seq++
	job.ID = fmt.Sprintf("job-%d", m.seq)
	job.CreatedAt = time.Now().UTC()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memoryExportJobStore) GetByID(_ context.Context, id string) (*models.ExportJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("get export job: %w", sql.ErrNoRows)
	}
	copied := *job
	return &copied, nil
}

func (m *memoryExportJobStore) Update(_ context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		url := *params.ResultURL
		job.ResultURL = &url
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		job.ErrorMessage = &msg
	}
	if params.FinishedAt != nil {
		at := *params.FinishedAt
		job.FinishedAt = &at
	}
	return nil
}

func (m *memoryExportJobStore) ListQueued(context.Context, int) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range m.jobs {
		if job.Status == models.ExportStatusQueued {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memoryExportJobStore) ListFinishedBefore(_ context.Context, cutoff time.Time, _ int) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range m.jobs {
		if job.Status == models.ExportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

type recordingDispatcher struct {
	jobs []jobs.Job
	err  error
}

func (d *recordingDispatcher) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type exportJobFixture struct {
	service    *ExportJobService
	worker     *ExportWorker
	repo       *memoryExportJobStore
	dispatcher *recordingDispatcher
	exporter   *ExportService
}

func newExportJobFixture(t *testing.T) exportJobFixture {
	t.Helper()
	exporter, _ := newExportServiceFixture(t, nil)
	repo := newMemoryExportJobStore()
	dispatcher := &recordingDispatcher{}
	metrics := NewMetricsService()
	source := &stubGridSource{tg: exportTimeGrid(), grids: map[string]*timetable.Grid{"class-a": exportGrid(t)}}
	svc := NewExportJobService(repo, source, dispatcher, exporter, metrics, nil, nil, ExportJobConfig{ResultTTL: time.Hour})
	worker := NewExportWorker(repo, exporter, metrics, 2, nil)
	return exportJobFixture{service: svc, worker: worker, repo: repo, dispatcher: dispatcher, exporter: exporter}
}

func TestExportJobLifecycle(t *testing.T) {
	f := newExportJobFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateJob(ctx, dto.ExportTimetableRequest{ClassID: "class-a", Format: "csv"}, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, created.Status)
	require.Len(t, f.dispatcher.jobs, 1)

	require.NoError(t, f.worker.Handle(ctx, f.dispatcher.jobs[0]))

	status, err := f.service.GetStatus(ctx, created.ID, "teacher-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, status.Status)
	assert.Equal(t, 100, status.Progress)
	require.NotNil(t, status.ResultURL)
	assert.Nil(t, status.Error)

	_, err = f.service.GetStatus(ctx, created.ID, "teacher-2", models.RoleTeacher)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrorCode(t, err))
	_, err = f.service.GetStatus(ctx, created.ID, "admin", models.RoleAdmin)
	require.NoError(t, err)

	download, err := f.service.ResolveDownload(ctx, extractToken(*status.ResultURL))
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ExportFormatCSV, download.Format)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))
}

func TestExportJobCreateValidation(t *testing.T) {
	f := newExportJobFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateJob(ctx, dto.ExportTimetableRequest{ClassID: "class-a", Format: "docx"}, "admin")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrorCode(t, err))

	_, err = f.service.CreateJob(ctx, dto.ExportTimetableRequest{ClassID: "class-z", Format: "pdf"}, "admin")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrorCode(t, err))

	f.dispatcher.err = errors.New("queue stopped")
	_, err = f.service.CreateJob(ctx, dto.ExportTimetableRequest{ClassID: "class-a", Format: "pdf"}, "admin")
	assert.Equal(t, appErrors.ErrInternal.Code, appErrorCode(t, err))
	assert.Equal(t, models.ExportStatusFailed, f.repo.jobs["job-1"].Status)

	_, err = f.service.GetStatus(ctx, "job-404", "admin", models.RoleAdmin)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrorCode(t, err))
}

func TestExportWorkerRetriesThenFails(t *testing.T) {
	f := newExportJobFixture(t)
	ctx := context.Background()

	job := &models.ExportJob{ClassID: "class-gone", Format: models.ExportFormatCSV, Status: models.ExportStatusQueued}
	require.NoError(t, f.repo.Create(ctx, job))

	err := f.worker.Handle(ctx, jobs.Job{ID: job.ID, Attempt: 0})
	assert.Error(t, err)
	assert.Equal(t, models.ExportStatusQueued, f.repo.jobs[job.ID].Status)
	require.NotNil(t, f.repo.jobs[job.ID].ErrorMessage)

	err = f.worker.Handle(ctx, jobs.Job{ID: job.ID, Attempt: 2})
	assert.Error(t, err)
	assert.Equal(t, models.ExportStatusFailed, f.repo.jobs[job.ID].Status)
	assert.NotNil(t, f.repo.jobs[job.ID].FinishedAt)
}

func TestExportJobResolveDownloadRejectsBadTokens(t *testing.T) {
	f := newExportJobFixture(t)
	ctx := context.Background()

	_, err := f.service.ResolveDownload(ctx, "garbage")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrorCode(t, err))

	job := &models.ExportJob{ClassID: "class-a", Format: models.ExportFormatCSV, Status: models.ExportStatusQueued}
	require.NoError(t, f.repo.Create(ctx, job))
	result, err := f.exporter.Generate(ctx, job)
	require.NoError(t, err)

	_, err = f.service.ResolveDownload(ctx, result.Token)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrorCode(t, err), "token not yet attached to the job")
}

func TestExportJobCleanupRemovesExpiredFiles(t *testing.T) {
	f := newExportJobFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateJob(ctx, dto.ExportTimetableRequest{ClassID: "class-a", Format: "xlsx"}, "admin")
	require.NoError(t, err)
	require.NoError(t, f.worker.Handle(ctx, f.dispatcher.jobs[0]))

	record := f.repo.jobs[created.ID]
	old := time.Now().Add(-2 * time.Hour)
	record.FinishedAt = &old
	_, relPath, _, err := f.exporter.ParseToken(extractToken(*record.ResultURL), true)
	require.NoError(t, err)

	f.service.cleanupExpired(ctx)
	_, err = f.exporter.Open(relPath)
	assert.Error(t, err)
}

func TestExportJobRecoverPendingJobs(t *testing.T) {
	f := newExportJobFixture(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Create(ctx, &models.ExportJob{ClassID: "class-a", Format: models.ExportFormatPDF, Status: models.ExportStatusQueued}))
	require.NoError(t, f.repo.Create(ctx, &models.ExportJob{ClassID: "class-a", Format: models.ExportFormatPDF, Status: models.ExportStatusFinished}))

	f.service.RecoverPendingJobs(ctx)
	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, exportJobType, f.dispatcher.jobs[0].Type)
}
