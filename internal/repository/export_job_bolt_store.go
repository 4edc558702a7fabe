package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

var exportJobsBucket = []byte("ExportJobs")

// BoltExportJobStore keeps export job metadata next to the timetable data in bbolt.
type BoltExportJobStore struct {
	db *bbolt.DB
}

// ExportJobs returns the export job store sharing this file.
func (s *BoltTimetableStore) ExportJobs() *BoltExportJobStore {
	return &BoltExportJobStore{db: s.db}
}

// Create stores a new job with generated defaults.
func (s *BoltExportJobStore) Create(_ context.Context, job *models.ExportJob) error {
	prepareExportJob(job)
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx, exportJobsBucket, job.ID, job)
	}); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// GetByID returns a job, wrapping sql.ErrNoRows when it does not exist.
func (s *BoltExportJobStore) GetByID(_ context.Context, id string) (*models.ExportJob, error) {
	var job *models.ExportJob
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		job, err = getJSON[models.ExportJob](tx, exportJobsBucket, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get export job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("get export job: %w", sql.ErrNoRows)
	}
	return job, nil
}

// Update applies the provided changes inside one write transaction.
func (s *BoltExportJobStore) Update(_ context.Context, id string, params UpdateExportJobParams) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		job, err := getJSON[models.ExportJob](tx, exportJobsBucket, id)
		if err != nil {
			return err
		}
		if job == nil {
			return sql.ErrNoRows
		}
		params.apply(job)
		return putJSON(tx, exportJobsBucket, id, job)
	})
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	return nil
}

// ListQueued returns queued jobs, oldest first.
func (s *BoltExportJobStore) ListQueued(_ context.Context, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	jobs, err := s.scan(func(job models.ExportJob) bool {
		return job.Status == models.ExportStatusQueued
	})
	if err != nil {
		return nil, fmt.Errorf("list queued export jobs: %w", err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return truncateJobs(jobs, limit), nil
}

// ListFinishedBefore returns finished jobs older than cutoff, oldest first.
func (s *BoltExportJobStore) ListFinishedBefore(_ context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	jobs, err := s.scan(func(job models.ExportJob) bool {
		return job.Status == models.ExportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff)
	})
	if err != nil {
		return nil, fmt.Errorf("list finished export jobs: %w", err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].FinishedAt.Before(*jobs[j].FinishedAt) })
	return truncateJobs(jobs, limit), nil
}

func (s *BoltExportJobStore) scan(keep func(models.ExportJob) bool) ([]models.ExportJob, error) {
	var jobs []models.ExportJob
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(exportJobsBucket).ForEach(func(k, v []byte) error {
			var job models.ExportJob
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("job %s: %w", k, err)
			}
			if keep(job) {
				jobs = append(jobs, job)
			}
			return nil
		})
	})
	return jobs, err
}

func truncateJobs(jobs []models.ExportJob, limit int) []models.ExportJob {
	if len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}
