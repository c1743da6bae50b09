// Package pgvector provides the PostgreSQL+pgvector implementation of the
// vector index adapter.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	pgvec "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/cohort/internal/vector"
)

// feedbackVector is the GORM model for the feedback_vectors table
// (created by migrations in internal/db/gorm).
type feedbackVector struct {
	FeedbackID string       `gorm:"primaryKey;column:feedback_id"`
	Project    string       `gorm:"primaryKey;column:project"`
	Embedding  pgvec.Vector `gorm:"column:embedding"`
	Title      string       `gorm:"column:title"`
	Source     string       `gorm:"column:source"`
	ClusterID  string       `gorm:"column:cluster_id;index"`
	CreatedAt  time.Time    `gorm:"column:created_at"`
}

func (feedbackVector) TableName() string { return "feedback_vectors" }

// Client provides vector index operations via PostgreSQL+pgvector, scoped to
// one project. Handles are cheap; they share the underlying connection pool.
type Client struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	project string
}

var _ vector.Index = (*Client)(nil)

// Provider hands out per-project pgvector index handles over a shared
// connection.
type Provider struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewProvider creates a pgvector index provider.
func NewProvider(db *gorm.DB) (*Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("DB is required")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	return &Provider{db: db, sqlDB: sqlDB}, nil
}

// IndexFor returns an index handle scoped to the given project.
func (p *Provider) IndexFor(project string) vector.Index {
	return &Client{db: p.db, sqlDB: p.sqlDB, project: project}
}

// Upsert writes or replaces a record.
func (c *Client) Upsert(ctx context.Context, rec vector.Record) error {
	return c.UpsertBatch(ctx, []vector.Record{rec})
}

// UpsertBatch writes or replaces many records in one statement.
func (c *Client) UpsertBatch(ctx context.Context, recs []vector.Record) error {
	if len(recs) == 0 {
		return nil
	}

	rows := make([]feedbackVector, 0, len(recs))
	for _, rec := range recs {
		if len(rec.Embedding) == 0 {
			continue
		}
		createdAt := rec.Meta.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rows = append(rows, feedbackVector{
			FeedbackID: rec.ID,
			Project:    c.project,
			Embedding:  pgvec.NewVector(rec.Embedding),
			Title:      rec.Meta.Title,
			Source:     rec.Meta.Source,
			ClusterID:  rec.Meta.ClusterID,
			CreatedAt:  createdAt,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "feedback_id"}, {Name: "project"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"embedding", "title", "source", "cluster_id",
			}),
		}).
		Create(&rows).Error
}

// Fetch returns records for the given ids. Missing ids are omitted.
func (c *Client) Fetch(ctx context.Context, ids []string) ([]vector.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []feedbackVector
	err := c.db.WithContext(ctx).
		Where("project = ? AND feedback_id IN ?", c.project, ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch vectors: %w", err)
	}

	recs := make([]vector.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, rowToRecord(row))
	}
	return recs, nil
}

// QuerySimilar performs a cosine similarity search, filtered to
// score >= minScore and id not in exclude, most similar first.
func (c *Client) QuerySimilar(ctx context.Context, embedding []float32, topK int, minScore float64, exclude []string) ([]vector.QueryResult, error) {
	if topK <= 0 || len(embedding) == 0 {
		return nil, nil
	}

	queryVec := pgvec.NewVector(embedding)

	// $1 query vector, $2 project; exclusion args follow, limit last.
	args := []any{queryVec, c.project}
	argIdx := 3

	var excludeClause string
	if len(exclude) > 0 {
		placeholders := make([]string, len(exclude))
		for i, id := range exclude {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, id)
			argIdx++
		}
		excludeClause = fmt.Sprintf("AND feedback_id NOT IN (%s)", strings.Join(placeholders, ", "))
	}
	args = append(args, topK)

	sqlStr := fmt.Sprintf(`
		SELECT feedback_id, title, source, cluster_id, created_at,
		       embedding <=> $1 AS distance
		FROM feedback_vectors
		WHERE project = $2 %s
		ORDER BY distance
		LIMIT $%d`,
		excludeClause,
		argIdx,
	)

	rows, err := c.sqlDB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var (
			feedbackID string
			title      string
			source     string
			clusterID  string
			createdAt  time.Time
			distance   float64
		)
		if err := rows.Scan(&feedbackID, &title, &source, &clusterID, &createdAt, &distance); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		score := vector.DistanceToSimilarity(distance)
		if score < minScore {
			// Results are distance-ordered, so everything after is worse.
			break
		}
		results = append(results, vector.QueryResult{
			ID:    feedbackID,
			Score: score,
			Meta: vector.Metadata{
				Title:     title,
				Source:    source,
				ClusterID: clusterID,
				CreatedAt: createdAt,
			},
		})
	}
	return results, rows.Err()
}

// QuerySimilarWithinCluster over-fetches from the general index and filters
// client-side to the given cluster.
func (c *Client) QuerySimilarWithinCluster(ctx context.Context, embedding []float32, clusterID string, topK int) ([]vector.QueryResult, error) {
	return vector.QueryWithinCluster(ctx, c, embedding, clusterID, topK)
}

// Reassign overwrites one record's cluster id.
func (c *Client) Reassign(ctx context.Context, id, clusterID string) error {
	return c.ReassignBatch(ctx, []vector.Reassignment{{ID: id, ClusterID: clusterID}})
}

// ReassignBatch overwrites cluster ids for the records that still exist,
// preserving stored vectors and remaining metadata. Missing ids are stale
// references and are skipped without error.
func (c *Client) ReassignBatch(ctx context.Context, moves []vector.Reassignment) error {
	if len(moves) == 0 {
		return nil
	}

	ids := make([]string, len(moves))
	byID := make(map[string]string, len(moves))
	for i, move := range moves {
		ids[i] = move.ID
		byID[move.ID] = move.ClusterID
	}

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		err := tx.Model(&feedbackVector{}).
			Where("project = ? AND feedback_id IN ?", c.project, ids).
			Pluck("feedback_id", &existing).Error
		if err != nil {
			return fmt.Errorf("fetch reassign targets: %w", err)
		}

		if len(existing) < len(moves) {
			log.Debug().
				Str("project", c.project).
				Int("requested", len(moves)).
				Int("found", len(existing)).
				Msg("Skipping stale ids in batch reassignment")
		}

		byCluster := make(map[string][]string)
		for _, id := range existing {
			target := byID[id]
			byCluster[target] = append(byCluster[target], id)
		}
		for clusterID, members := range byCluster {
			err := tx.Model(&feedbackVector{}).
				Where("project = ? AND feedback_id IN ?", c.project, members).
				Update("cluster_id", clusterID).Error
			if err != nil {
				return fmt.Errorf("reassign to %s: %w", clusterID, err)
			}
		}
		return nil
	})
}

// Delete removes one record.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.DeleteBatch(ctx, []string{id})
}

// DeleteBatch removes many records.
func (c *Client) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.db.WithContext(ctx).
		Where("project = ? AND feedback_id IN ?", c.project, ids).
		Delete(&feedbackVector{}).Error
}

// Reset drops all of the project's records. Destructive, administrative only.
func (c *Client) Reset(ctx context.Context) error {
	return c.db.WithContext(ctx).
		Where("project = ?", c.project).
		Delete(&feedbackVector{}).Error
}

// Count returns the number of vectors stored for the project.
func (c *Client) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.WithContext(ctx).Model(&feedbackVector{}).
		Where("project = ?", c.project).
		Count(&count).Error
	return count, err
}

func rowToRecord(row feedbackVector) vector.Record {
	return vector.Record{
		ID:        row.FeedbackID,
		Embedding: row.Embedding.Slice(),
		Meta: vector.Metadata{
			Title:     row.Title,
			Source:    row.Source,
			ClusterID: row.ClusterID,
			CreatedAt: row.CreatedAt,
		},
	}
}
