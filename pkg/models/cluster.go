// Package models defines the domain types shared across cohort.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ClusterStatus is the lifecycle status of a cluster. Status transitions
// after creation are owned by downstream tooling, not by the engine.
type ClusterStatus string

const (
	ClusterStatusActive   ClusterStatus = "active"
	ClusterStatusResolved ClusterStatus = "resolved"
	ClusterStatusArchived ClusterStatus = "archived"
)

// Cluster is a durable group of semantically related feedback items.
// MemberIDs only grows via assignment or shrinks via an explicit split.
type Cluster struct {
	ID        string          `json:"id"`
	Project   string          `json:"project"`
	Title     string          `json:"title"`
	Summary   string          `json:"summary,omitempty"`
	Status    ClusterStatus   `json:"status"`
	MemberIDs JSONStringArray `json:"member_ids"`
	Sources   JSONStringArray `json:"sources,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Size returns the number of members.
func (c *Cluster) Size() int { return len(c.MemberIDs) }

// AddMember appends an id to the member list if not already present.
func (c *Cluster) AddMember(id string) {
	for _, m := range c.MemberIDs {
		if m == id {
			return
		}
	}
	c.MemberIDs = append(c.MemberIDs, id)
}

// AddSource records a distinct feedback source on the cluster.
func (c *Cluster) AddSource(source string) {
	if source == "" {
		return
	}
	for _, s := range c.Sources {
		if s == source {
			return
		}
	}
	c.Sources = append(c.Sources, source)
}

// FeedbackRef identifies one feedback item awaiting clustering, together
// with the text payload used for embedding.
type FeedbackRef struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

// JSONStringArray stores a string slice as a JSON column.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONStringArray: unsupported type %T", src)
	}

	if len(data) == 0 {
		*j = nil
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}
