package rag

import (
	"context"
	"sort"
	"sync"
)

// InMemoryVectors is a linear-scan VectorBackend for local/dev use
type InMemoryVectors struct {
	mu     sync.RWMutex
	points map[string]*Point
}

func NewInMemoryVectors() *InMemoryVectors {
	return &InMemoryVectors{points: make(map[string]*Point)}
}

func (m *InMemoryVectors) Upsert(_ context.Context, points []*Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, point := range points {
		if point.ID != "" {
			m.points[point.ID] = point
		}
	}
	return nil
}

func (m *InMemoryVectors) Search(_ context.Context, vector []float32, opts *SearchOptions) ([]*SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if opts == nil {
		opts = &SearchOptions{Limit: 10, WithPayload: true}
	}

	results := make([]*SearchResult, 0)
	for _, point := range m.points {
		if !matchesFilter(point.Payload, opts.Filter) {
			continue
		}
		score, err := CosineSimilarity(vector, point.Vector)
		if err != nil {
			continue // Skip points from another embedding model
		}
		if score < opts.ScoreThreshold {
			continue
		}
		result := &SearchResult{ID: point.ID, Score: score}
		if opts.WithPayload {
			result.Payload = point.Payload
		}
		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func matchesFilter(payload map[string]interface{}, filter *Filter) bool {
	if filter == nil {
		return true
	}
	for _, c := range filter.Must {
		value, _ := payload[c.Key].(string)
		if value != c.Match {
			return false
		}
	}
	return true
}
