package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/cohort/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ClusterStore persists cluster records.
type ClusterStore struct {
	db *gorm.DB
}

// NewClusterStore creates a cluster store over the shared connection.
func NewClusterStore(store *Store) *ClusterStore {
	return &ClusterStore{db: store.DB}
}

// Save writes or replaces a cluster record.
func (s *ClusterStore) Save(ctx context.Context, c *models.Cluster) error {
	c.UpdatedAt = time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	row := clusterToRow(c)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "summary", "status", "member_ids", "sources", "updated_at",
			}),
		}).
		Create(&row).Error
}

// Get returns one cluster by project and id.
func (s *ClusterStore) Get(ctx context.Context, project, id string) (*models.Cluster, error) {
	var row clusterRow
	err := s.db.WithContext(ctx).
		Where("project = ? AND id = ?", project, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("cluster %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get cluster: %w", err)
	}
	return rowToCluster(row), nil
}

// ListByProject returns all of a project's clusters, newest first.
func (s *ClusterStore) ListByProject(ctx context.Context, project string) ([]*models.Cluster, error) {
	var rows []clusterRow
	err := s.db.WithContext(ctx).
		Where("project = ?", project).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}

	clusters := make([]*models.Cluster, len(rows))
	for i, row := range rows {
		clusters[i] = rowToCluster(row)
	}
	return clusters, nil
}

// Projects returns the distinct project names that have clusters.
func (s *ClusterStore) Projects(ctx context.Context) ([]string, error) {
	var projects []string
	err := s.db.WithContext(ctx).
		Model(&clusterRow{}).
		Distinct("project").
		Order("project").
		Pluck("project", &projects).Error
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// ListArchivedBefore returns archived clusters last touched before the
// cutoff, oldest first.
func (s *ClusterStore) ListArchivedBefore(ctx context.Context, cutoff time.Time) ([]*models.Cluster, error) {
	var rows []clusterRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(models.ClusterStatusArchived), cutoff).
		Order("updated_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list archived clusters: %w", err)
	}

	clusters := make([]*models.Cluster, len(rows))
	for i, row := range rows {
		clusters[i] = rowToCluster(row)
	}
	return clusters, nil
}

// Delete removes one cluster record. Deleting a missing cluster is a no-op.
func (s *ClusterStore) Delete(ctx context.Context, project, id string) error {
	err := s.db.WithContext(ctx).
		Where("project = ? AND id = ?", project, id).
		Delete(&clusterRow{}).Error
	if err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}
	return nil
}
