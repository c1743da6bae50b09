package gorm

import (
	"time"

	"github.com/thebtf/cohort/pkg/models"
)

// clusterRow is the GORM model for the clusters table.
type clusterRow struct {
	ID        string                 `gorm:"primaryKey"`
	Project   string                 `gorm:"index:idx_clusters_project;not null"`
	Title     string                 `gorm:"type:text"`
	Summary   string                 `gorm:"type:text"`
	Status    string                 `gorm:"type:text;default:'active';index"`
	MemberIDs models.JSONStringArray `gorm:"type:jsonb"`
	Sources   models.JSONStringArray `gorm:"type:jsonb"`
	CreatedAt time.Time              `gorm:"not null"`
	UpdatedAt time.Time              `gorm:"not null"`
}

func (clusterRow) TableName() string { return "clusters" }

func clusterToRow(c *models.Cluster) clusterRow {
	return clusterRow{
		ID:        c.ID,
		Project:   c.Project,
		Title:     c.Title,
		Summary:   c.Summary,
		Status:    string(c.Status),
		MemberIDs: c.MemberIDs,
		Sources:   c.Sources,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func rowToCluster(r clusterRow) *models.Cluster {
	return &models.Cluster{
		ID:        r.ID,
		Project:   r.Project,
		Title:     r.Title,
		Summary:   r.Summary,
		Status:    models.ClusterStatus(r.Status),
		MemberIDs: r.MemberIDs,
		Sources:   r.Sources,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// jobRow is the GORM model for the cluster_jobs table.
type jobRow struct {
	ID          string `gorm:"primaryKey"`
	Project     string `gorm:"index:idx_cluster_jobs_project;not null"`
	State       string `gorm:"type:text;check:state IN ('pending','running','succeeded','failed');index;not null"`
	Clustered   int    `gorm:"default:0"`
	NewClusters int    `gorm:"default:0"`
	Singletons  int    `gorm:"default:0"`
	Error       string `gorm:"type:text"`
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

func (jobRow) TableName() string { return "cluster_jobs" }

func jobToRow(j *models.ClusterJob) jobRow {
	return jobRow{
		ID:          j.ID,
		Project:     j.Project,
		State:       string(j.State),
		Clustered:   j.Stats.Clustered,
		NewClusters: j.Stats.NewClusters,
		Singletons:  j.Stats.Singletons,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
	}
}

func rowToJob(r jobRow) *models.ClusterJob {
	return &models.ClusterJob{
		ID:      r.ID,
		Project: r.Project,
		State:   models.JobState(r.State),
		Stats: models.JobStats{
			Clustered:   r.Clustered,
			NewClusters: r.NewClusters,
			Singletons:  r.Singletons,
		},
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
