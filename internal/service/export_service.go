package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/timetable"
	"github.com/noah-isme/sma-timetable-api/pkg/export"
	"github.com/noah-isme/sma-timetable-api/pkg/storage"
)

type gridSource interface {
	GetSettings(ctx context.Context) (*dto.TimetableSettingsResponse, bool, error)
	GetGrid(ctx context.Context, classID string) (*dto.ClassGridResponse, bool, error)
}

// RosterLookup resolves display names for exported grids.
type RosterLookup interface {
	Names(ctx context.Context, classIDs, subjectIDs, teacherIDs []string) (*models.RosterNames, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportService renders stored class grids and persists the files.
type ExportService struct {
	grids     gridSource
	roster    RosterLookup
	storage   fileStorage
	renderers map[models.ExportFormat]datasetRenderer
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService. roster may be nil, in which case ids are
// used as display names.
func NewExportService(grids gridSource, roster RosterLookup, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		grids:   grids,
		roster:  roster,
		storage: files,
		renderers: map[models.ExportFormat]datasetRenderer{
			models.ExportFormatCSV:  export.NewCSVExporter(),
			models.ExportFormatPDF:  export.NewPDFExporter(),
			models.ExportFormatXLSX: export.NewXLSXExporter(),
		},
		signer: signer,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Generate renders the grid referenced by the job and stores the file.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	renderer, ok := s.renderers[job.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported format %s", job.Format)
	}
	settings, _, err := s.grids.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	grid, _, err := s.grids.GetGrid(ctx, job.ClassID)
	if err != nil {
		return nil, err
	}

	names := s.lookupNames(ctx, job.ClassID, grid.Grid)
	dataset := BuildDataset(job.ClassID, grid.Grid, settings.TimeGrid, names)
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/timetables/exports/download/%s", prefix, token),
		Format:       job.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (exportID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) lookupNames(ctx context.Context, classID string, grid *timetable.Grid) *models.RosterNames {
	if s.roster == nil || grid == nil {
		return nil
	}
	subjects, teachers := referencedIDs(grid)
	names, err := s.roster.Names(ctx, []string{classID}, subjects, teachers)
	if err != nil {
		s.logger.Warn("roster lookup failed, exporting ids", zap.String("class_id", classID), zap.Error(err))
		return nil
	}
	return names
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := s.now().Format("20060102_150405")
	return fmt.Sprintf("timetables/%s_%s_%s.%s", sanitizeFilename(job.ClassID), timestamp, shortID(job.ID), job.Format)
}

// BuildDataset lays a class grid out as one row per period with one column per active day.
// Break cells render as BREAK, empty cells as blank and sessions as "Subject (Teacher)".
func BuildDataset(classID string, grid *timetable.Grid, tg timetable.TimeGrid, names *models.RosterNames) export.Dataset {
	headers := []string{"Period", "Time"}
	for _, day := range tg.ActiveDays {
		headers = append(headers, dayTitle(day))
	}
	dataset := export.Dataset{
		Title:   "Timetable " + names.ClassName(classID),
		Headers: headers,
	}
	if grid == nil {
		return dataset
	}

	days := len(tg.ActiveDays)
	if grid.Days() < days {
		days = grid.Days()
	}
	for _, slot := range tg.Periods() {
		row := map[string]string{
			"Period": strconv.Itoa(slot.Index),
			"Time":   slot.Start.String() + "-" + slot.End.String(),
		}
		for d := 0; d < days; d++ {
			cell, err := grid.Cell(d, slot.Index)
			if err != nil {
				continue
			}
			row[headers[d+2]] = renderCell(cell, names)
		}
		dataset.Rows = append(dataset.Rows, row)
	}
	return dataset
}

func renderCell(cell timetable.Cell, names *models.RosterNames) string {
	if cell.IsBreak() {
		return "BREAK"
	}
	session, ok := cell.Session()
	if !ok {
		return ""
	}
	subject := names.SubjectName(session.SubjectID)
	if session.TeacherID == "" {
		return subject
	}
	return fmt.Sprintf("%s (%s)", subject, names.TeacherName(session.TeacherID))
}

func referencedIDs(grid *timetable.Grid) (subjects, teachers []string) {
	seenSubjects := map[string]bool{}
	seenTeachers := map[string]bool{}
	for _, row := range grid.Rows() {
		for _, cell := range row {
			session, ok := cell.Session()
			if !ok {
				continue
			}
			if !seenSubjects[session.SubjectID] {
				seenSubjects[session.SubjectID] = true
				subjects = append(subjects, session.SubjectID)
			}
			if session.TeacherID != "" && !seenTeachers[session.TeacherID] {
				seenTeachers[session.TeacherID] = true
				teachers = append(teachers, session.TeacherID)
			}
		}
	}
	return subjects, teachers
}

func dayTitle(day timetable.Day) string {
	raw := strings.ToLower(string(day))
	if raw == "" {
		return raw
	}
	return strings.ToUpper(raw[:1]) + raw[1:]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
