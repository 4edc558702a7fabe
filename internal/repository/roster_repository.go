package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// RosterRepository reads display names for classes, subjects and teachers.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs the repository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// Names resolves the display names of the given ids. Unknown ids are omitted.
func (r *RosterRepository) Names(ctx context.Context, classIDs, subjectIDs, teacherIDs []string) (*models.RosterNames, error) {
	names := &models.RosterNames{}
	var err error
	if names.Classes, err = r.lookup(ctx, `SELECT id, name FROM classes WHERE id = ANY($1)`, classIDs); err != nil {
		return nil, fmt.Errorf("lookup class names: %w", err)
	}
	if names.Subjects, err = r.lookup(ctx, `SELECT id, name FROM subjects WHERE id = ANY($1)`, subjectIDs); err != nil {
		return nil, fmt.Errorf("lookup subject names: %w", err)
	}
	if names.Teachers, err = r.lookup(ctx, `SELECT id, full_name AS name FROM teachers WHERE id = ANY($1)`, teacherIDs); err != nil {
		return nil, fmt.Errorf("lookup teacher names: %w", err)
	}
	return names, nil
}

func (r *RosterRepository) lookup(ctx context.Context, query string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var entries []models.RosterEntry
	if err := r.db.SelectContext(ctx, &entries, query, pq.Array(ids)); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		out[entry.ID] = entry.Name
	}
	return out, nil
}
