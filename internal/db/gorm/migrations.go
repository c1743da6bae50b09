package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all schema migrations using gormigrate.
func runMigrations(db *gorm.DB, embeddingDims int) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: pgvector extension and feedback vector table.
		{
			ID: "001_feedback_vectors",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					`CREATE EXTENSION IF NOT EXISTS vector`,
					fmt.Sprintf(`CREATE TABLE IF NOT EXISTS feedback_vectors (
						feedback_id TEXT NOT NULL,
						project TEXT NOT NULL,
						embedding vector(%d) NOT NULL,
						title TEXT NOT NULL DEFAULT '',
						source TEXT NOT NULL DEFAULT '',
						cluster_id TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
						PRIMARY KEY (feedback_id, project)
					)`, embeddingDims),
					`CREATE INDEX IF NOT EXISTS idx_feedback_vectors_project
						ON feedback_vectors (project)`,
					`CREATE INDEX IF NOT EXISTS idx_feedback_vectors_cluster
						ON feedback_vectors (project, cluster_id)`,
					`CREATE INDEX IF NOT EXISTS idx_feedback_vectors_embedding
						ON feedback_vectors USING ivfflat (embedding vector_cosine_ops)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("feedback_vectors")
			},
		},

		// Migration 002: clusters table.
		{
			ID: "002_clusters",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&clusterRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("clusters")
			},
		},

		// Migration 003: clustering jobs table.
		{
			ID: "003_cluster_jobs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&jobRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("cluster_jobs")
			},
		},
	})

	return m.Migrate()
}
