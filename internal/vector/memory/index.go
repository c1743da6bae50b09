// Package memory provides an in-process vector index backed by exhaustive
// scan. It serves tests and single-node development deployments; production
// uses the pgvector adapter.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/thebtf/cohort/internal/vector"
	"github.com/thebtf/cohort/pkg/similarity"
)

// Index is an exhaustive-scan vector index. Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	records map[string]vector.Record
	order   map[string]int // insertion order, used as the tie breaker
	seq     int
}

var _ vector.Index = (*Index)(nil)

// NewIndex creates an empty in-memory index.
func NewIndex() *Index {
	return &Index{
		records: make(map[string]vector.Record),
		order:   make(map[string]int),
	}
}

// Provider returns a vector.Provider that scopes one in-memory index per
// tenant.
type Provider struct {
	mu      sync.Mutex
	indexes map[string]*Index
}

// NewProvider creates an empty in-memory index provider.
func NewProvider() *Provider {
	return &Provider{indexes: make(map[string]*Index)}
}

// IndexFor returns the tenant's index, creating it on first use.
func (p *Provider) IndexFor(tenant string) vector.Index {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.indexes[tenant]
	if !ok {
		idx = NewIndex()
		p.indexes[tenant] = idx
	}
	return idx
}

// Upsert writes or replaces a record.
func (m *Index) Upsert(_ context.Context, rec vector.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(rec)
	return nil
}

// UpsertBatch writes or replaces many records.
func (m *Index) UpsertBatch(_ context.Context, recs []vector.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.store(rec)
	}
	return nil
}

func (m *Index) store(rec vector.Record) {
	emb := make([]float32, len(rec.Embedding))
	copy(emb, rec.Embedding)
	rec.Embedding = emb
	if _, exists := m.records[rec.ID]; !exists {
		m.order[rec.ID] = m.seq
		m.seq++
	}
	m.records[rec.ID] = rec
}

// Fetch returns records for the given ids, omitting missing ones.
func (m *Index) Fetch(_ context.Context, ids []string) ([]vector.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]vector.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := m.records[id]; ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// QuerySimilar scans all records and returns the topK most similar above
// minScore, excluding the given ids.
func (m *Index) QuerySimilar(_ context.Context, embedding []float32, topK int, minScore float64, exclude []string) ([]vector.QueryResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	m.mu.RLock()
	hits := make([]vector.QueryResult, 0, len(m.records))
	for id, rec := range m.records {
		if excluded[id] {
			continue
		}
		score := similarity.Cosine(embedding, rec.Embedding)
		if score < minScore {
			continue
		}
		hits = append(hits, vector.QueryResult{ID: id, Score: score, Meta: rec.Meta})
	}
	order := make(map[string]int, len(hits))
	for _, h := range hits {
		order[h.ID] = m.order[h.ID]
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return order[hits[i].ID] < order[hits[j].ID]
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// QuerySimilarWithinCluster over-fetches from the general index and filters
// to the given cluster.
func (m *Index) QuerySimilarWithinCluster(ctx context.Context, embedding []float32, clusterID string, topK int) ([]vector.QueryResult, error) {
	return vector.QueryWithinCluster(ctx, m, embedding, clusterID, topK)
}

// Reassign overwrites one record's cluster id.
func (m *Index) Reassign(ctx context.Context, id, clusterID string) error {
	return m.ReassignBatch(ctx, []vector.Reassignment{{ID: id, ClusterID: clusterID}})
}

// ReassignBatch applies reassignments, silently skipping missing ids.
func (m *Index) ReassignBatch(_ context.Context, moves []vector.Reassignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, move := range moves {
		rec, ok := m.records[move.ID]
		if !ok {
			continue // stale reference, not an error
		}
		rec.Meta.ClusterID = move.ClusterID
		m.records[move.ID] = rec
	}
	return nil
}

// Delete removes one record.
func (m *Index) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	delete(m.order, id)
	return nil
}

// DeleteBatch removes many records.
func (m *Index) DeleteBatch(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
		delete(m.order, id)
	}
	return nil
}

// Reset drops all records.
func (m *Index) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]vector.Record)
	m.order = make(map[string]int)
	m.seq = 0
	return nil
}

// Count returns the number of stored records.
func (m *Index) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
