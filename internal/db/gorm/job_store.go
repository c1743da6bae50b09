package gorm

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/cohort/pkg/models"
)

// JobStore persists clustering job records.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore creates a job store over the shared connection.
func NewJobStore(store *Store) *JobStore {
	return &JobStore{db: store.DB}
}

// Save writes or replaces a job record. Jobs transition forward only; the
// orchestrator owns the state machine, the store just records it.
func (s *JobStore) Save(ctx context.Context, j *models.ClusterJob) error {
	row := jobToRow(j)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"state", "clustered", "new_clusters", "singletons",
				"error", "started_at", "finished_at",
			}),
		}).
		Create(&row).Error
}

// Get returns one job by project and id.
func (s *JobStore) Get(ctx context.Context, project, id string) (*models.ClusterJob, error) {
	var row jobRow
	err := s.db.WithContext(ctx).
		Where("project = ? AND id = ?", project, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rowToJob(row), nil
}
