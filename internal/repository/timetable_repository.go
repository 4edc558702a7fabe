package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/timetable"
)

// TimetableRepository persists timetable settings and class grids in PostgreSQL.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository constructs the repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

type classGridRow struct {
	ID          string         `db:"id"`
	ClassID     string         `db:"class_id"`
	Cells       types.JSONText `db:"cells"`
	GeneratedAt time.Time      `db:"generated_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func newClassGridRow(grid *models.ClassGrid) (*classGridRow, error) {
	if grid == nil || grid.Grid == nil {
		return nil, fmt.Errorf("class grid payload is nil")
	}
	if grid.ClassID == "" {
		return nil, fmt.Errorf("class_id is required")
	}
	cells, err := json.Marshal(grid.Grid)
	if err != nil {
		return nil, fmt.Errorf("encode grid for class %s: %w", grid.ClassID, err)
	}
	if grid.ID == "" {
		grid.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if grid.GeneratedAt.IsZero() {
		grid.GeneratedAt = now
	}
	grid.UpdatedAt = now
	return &classGridRow{
		ID:          grid.ID,
		ClassID:     grid.ClassID,
		Cells:       types.JSONText(cells),
		GeneratedAt: grid.GeneratedAt,
		UpdatedAt:   grid.UpdatedAt,
	}, nil
}

func (row classGridRow) model() (*models.ClassGrid, error) {
	var grid timetable.Grid
	if err := json.Unmarshal(row.Cells, &grid); err != nil {
		return nil, fmt.Errorf("decode grid for class %s: %w", row.ClassID, err)
	}
	return &models.ClassGrid{
		ID:          row.ID,
		ClassID:     row.ClassID,
		Grid:        &grid,
		GeneratedAt: row.GeneratedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

const upsertSettingsQuery = `INSERT INTO timetable_settings (id, payload, updated_by, updated_at)
VALUES (:id, :payload, :updated_by, :updated_at)
ON CONFLICT (id)
DO UPDATE SET payload = EXCLUDED.payload, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`

// SaveSettings upserts the singleton settings row.
func (r *TimetableRepository) SaveSettings(ctx context.Context, settings *models.TimetableSettings) error {
	if settings == nil {
		return fmt.Errorf("settings payload is nil")
	}
	if settings.ID == "" {
		settings.ID = models.DefaultSettingsID
	}
	settings.UpdatedAt = time.Now().UTC()
	if _, err := r.db.NamedExecContext(ctx, upsertSettingsQuery, settings); err != nil {
		return fmt.Errorf("upsert timetable settings: %w", err)
	}
	return nil
}

// LoadSettings returns the stored settings, or nil when none were saved.
func (r *TimetableRepository) LoadSettings(ctx context.Context) (*models.TimetableSettings, error) {
	const query = `SELECT id, payload, updated_by, updated_at FROM timetable_settings WHERE id = $1`
	var settings models.TimetableSettings
	if err := r.db.GetContext(ctx, &settings, query, models.DefaultSettingsID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load timetable settings: %w", err)
	}
	return &settings, nil
}

// DeleteSettings removes the settings row.
func (r *TimetableRepository) DeleteSettings(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM timetable_settings WHERE id = $1`, models.DefaultSettingsID); err != nil {
		return fmt.Errorf("delete timetable settings: %w", err)
	}
	return nil
}

const upsertGridQuery = `INSERT INTO timetable_grids (id, class_id, cells, generated_at, updated_at)
VALUES (:id, :class_id, :cells, :generated_at, :updated_at)
ON CONFLICT (class_id)
DO UPDATE SET cells = EXCLUDED.cells, generated_at = EXCLUDED.generated_at, updated_at = EXCLUDED.updated_at`

// SaveClassGrid upserts the grid of one class.
func (r *TimetableRepository) SaveClassGrid(ctx context.Context, grid *models.ClassGrid) error {
	row, err := newClassGridRow(grid)
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExecContext(ctx, upsertGridQuery, row); err != nil {
		return fmt.Errorf("upsert grid for class %s: %w", grid.ClassID, err)
	}
	return nil
}

// SaveClassGrids upserts several grids in one transaction.
func (r *TimetableRepository) SaveClassGrids(ctx context.Context, grids []*models.ClassGrid) error {
	if len(grids) == 0 {
		return nil
	}
	rows := make([]*classGridRow, 0, len(grids))
	for _, grid := range grids {
		row, err := newClassGridRow(grid)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grid tx: %w", err)
	}
	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, upsertGridQuery, row); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert grid for class %s: %w", row.ClassID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grid tx: %w", err)
	}
	return nil
}

// LoadGrid returns the stored grid of a class, or nil when none exists.
func (r *TimetableRepository) LoadGrid(ctx context.Context, classID string) (*models.ClassGrid, error) {
	const query = `SELECT id, class_id, cells, generated_at, updated_at FROM timetable_grids WHERE class_id = $1`
	var row classGridRow
	if err := r.db.GetContext(ctx, &row, query, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load grid for class %s: %w", classID, err)
	}
	return row.model()
}

// LoadAllGrids returns every stored grid keyed by class id.
func (r *TimetableRepository) LoadAllGrids(ctx context.Context) (map[string]*models.ClassGrid, error) {
	const query = `SELECT id, class_id, cells, generated_at, updated_at FROM timetable_grids ORDER BY class_id ASC`
	var rows []classGridRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list timetable grids: %w", err)
	}
	grids := make(map[string]*models.ClassGrid, len(rows))
	for _, row := range rows {
		grid, err := row.model()
		if err != nil {
			return nil, err
		}
		grids[row.ClassID] = grid
	}
	return grids, nil
}

// DeleteAllGrids removes every stored grid.
func (r *TimetableRepository) DeleteAllGrids(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM timetable_grids`); err != nil {
		return fmt.Errorf("delete timetable grids: %w", err)
	}
	return nil
}
