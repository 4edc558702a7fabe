package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

var (
	settingsBucket = []byte("Settings")
	gridsBucket    = []byte("Grids")
)

// BoltTimetableStore keeps timetable settings and grids in an embedded bbolt file.
type BoltTimetableStore struct {
	db *bbolt.DB
}

// OpenBoltTimetableStore opens (or creates) the store file and its buckets.
func OpenBoltTimetableStore(path string) (*BoltTimetableStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{settingsBucket, gridsBucket, exportJobsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &BoltTimetableStore{db: db}, nil
}

// Close releases the file lock.
func (s *BoltTimetableStore) Close() error {
	return s.db.Close()
}

func putJSON[T any](tx *bbolt.Tx, bucket []byte, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func getJSON[T any](tx *bbolt.Tx, bucket []byte, key string) (*T, error) {
	raw := tx.Bucket(bucket).Get([]byte(key))
	if raw == nil {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveSettings stores the singleton settings record.
func (s *BoltTimetableStore) SaveSettings(_ context.Context, settings *models.TimetableSettings) error {
	if settings == nil {
		return fmt.Errorf("settings payload is nil")
	}
	if settings.ID == "" {
		settings.ID = models.DefaultSettingsID
	}
	settings.UpdatedAt = time.Now().UTC()
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx, settingsBucket, models.DefaultSettingsID, settings)
	}); err != nil {
		return fmt.Errorf("save timetable settings: %w", err)
	}
	return nil
}

// LoadSettings returns the stored settings, or nil when none were saved.
func (s *BoltTimetableStore) LoadSettings(_ context.Context) (*models.TimetableSettings, error) {
	var settings *models.TimetableSettings
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		settings, err = getJSON[models.TimetableSettings](tx, settingsBucket, models.DefaultSettingsID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load timetable settings: %w", err)
	}
	return settings, nil
}

// DeleteSettings removes the settings record.
func (s *BoltTimetableStore) DeleteSettings(_ context.Context) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(settingsBucket).Delete([]byte(models.DefaultSettingsID))
	}); err != nil {
		return fmt.Errorf("delete timetable settings: %w", err)
	}
	return nil
}

func stampGrid(grid *models.ClassGrid) error {
	if grid == nil || grid.Grid == nil {
		return fmt.Errorf("class grid payload is nil")
	}
	if grid.ClassID == "" {
		return fmt.Errorf("class_id is required")
	}
	if grid.ID == "" {
		grid.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if grid.GeneratedAt.IsZero() {
		grid.GeneratedAt = now
	}
	grid.UpdatedAt = now
	return nil
}

// SaveClassGrid stores the grid of one class, replacing any previous one.
func (s *BoltTimetableStore) SaveClassGrid(ctx context.Context, grid *models.ClassGrid) error {
	return s.SaveClassGrids(ctx, []*models.ClassGrid{grid})
}

// SaveClassGrids stores several grids in one write transaction.
func (s *BoltTimetableStore) SaveClassGrids(_ context.Context, grids []*models.ClassGrid) error {
	for _, grid := range grids {
		if err := stampGrid(grid); err != nil {
			return err
		}
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, grid := range grids {
			if err := putJSON(tx, gridsBucket, grid.ClassID, grid); err != nil {
				return fmt.Errorf("class %s: %w", grid.ClassID, err)
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("save timetable grids: %w", err)
	}
	return nil
}

// LoadGrid returns the grid of a class, or nil when none exists.
func (s *BoltTimetableStore) LoadGrid(_ context.Context, classID string) (*models.ClassGrid, error) {
	var grid *models.ClassGrid
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		grid, err = getJSON[models.ClassGrid](tx, gridsBucket, classID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load grid for class %s: %w", classID, err)
	}
	return grid, nil
}

// LoadAllGrids returns every stored grid keyed by class id.
func (s *BoltTimetableStore) LoadAllGrids(_ context.Context) (map[string]*models.ClassGrid, error) {
	grids := make(map[string]*models.ClassGrid)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(gridsBucket).ForEach(func(k, v []byte) error {
			var grid models.ClassGrid
			if err := json.Unmarshal(v, &grid); err != nil {
				return fmt.Errorf("class %s: %w", k, err)
			}
			grids[string(k)] = &grid
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list timetable grids: %w", err)
	}
	return grids, nil
}

// DeleteAllGrids drops and recreates the grid bucket.
func (s *BoltTimetableStore) DeleteAllGrids(_ context.Context) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(gridsBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(gridsBucket)
		return err
	}); err != nil {
		return fmt.Errorf("delete timetable grids: %w", err)
	}
	return nil
}
