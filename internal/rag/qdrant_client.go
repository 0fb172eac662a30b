package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

const (
	defaultCollectionName = "companion_memories"
	defaultVectorSize     = 1536
	namespaceField        = "namespace"
)

// VectorBackend stores and searches vector points
type VectorBackend interface {
	Upsert(ctx context.Context, points []*Point) error
	Search(ctx context.Context, vector []float32, opts *SearchOptions) ([]*SearchResult, error)
}

// Point represents a vector point with payload
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// SearchOptions holds search options
type SearchOptions struct {
	Limit          int
	ScoreThreshold float32
	Filter         *Filter
	WithPayload    bool
}

// Filter represents a payload filter; all Must conditions have to match
type Filter struct {
	Must []Condition
}

// Condition is an exact keyword match on a payload field
type Condition struct {
	Key   string
	Match string
}

// SearchResult represents a search result
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// QdrantClient wraps the Qdrant gRPC client for a single collection
type QdrantClient struct {
	client     *qdrant.Client
	collection string
	vectorSize int
}

// NewQdrantClient connects to Qdrant's gRPC endpoint
func NewQdrantClient(host string, port int, apiKey string, useTLS bool, collection string, vectorSize int) (*QdrantClient, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	if collection == "" {
		collection = defaultCollectionName
	}
	if vectorSize <= 0 {
		vectorSize = defaultVectorSize
	}

	return &QdrantClient{
		client:     client,
		collection: collection,
		vectorSize: vectorSize,
	}, nil
}

// InitializeCollections creates the collection and its namespace index if missing
func (q *QdrantClient) InitializeCollections(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.collection, err)
	}

	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      namespaceField,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", namespaceField, err)
	}
	return nil
}

// Upsert inserts or replaces points in the collection
func (q *QdrantClient) Upsert(ctx context.Context, points []*Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search returns the nearest points above opts.ScoreThreshold, best first
func (q *QdrantClient) Search(ctx context.Context, vector []float32, opts *SearchOptions) ([]*SearchResult, error) {
	if opts == nil {
		opts = &SearchOptions{Limit: 10, WithPayload: true}
	}

	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(opts.Limit)),
		WithPayload:    qdrant.NewWithPayload(opts.WithPayload),
	}
	if opts.ScoreThreshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(opts.ScoreThreshold)
	}
	if opts.Filter != nil && len(opts.Filter.Must) > 0 {
		must := make([]*qdrant.Condition, 0, len(opts.Filter.Must))
		for _, c := range opts.Filter.Must {
			must = append(must, qdrant.NewMatch(c.Key, c.Match))
		}
		req.Filter = &qdrant.Filter{Must: must}
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", q.collection, err)
	}

	results := make([]*SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, &SearchResult{
			ID:      pointIDString(p.GetId()),
			Score:   p.GetScore(),
			Payload: payloadToMap(p.GetPayload()),
		})
	}
	return results, nil
}

// HealthCheck checks if Qdrant is healthy
func (q *QdrantClient) HealthCheck(ctx context.Context) error {
	_, err := q.client.HealthCheck(ctx)
	return err
}

// Close closes client connection
func (q *QdrantClient) Close() error {
	return q.client.Close()
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = valueToInterface(v)
	}
	return out
}

func valueToInterface(v *qdrant.Value) interface{} {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]interface{}, len(items))
		for i, item := range items {
			list[i] = valueToInterface(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}
