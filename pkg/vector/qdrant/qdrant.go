// Package qdrant provides a Qdrant-backed vector driver over the gRPC
// go-client. It is the remote alternative to the embedded sqlite-vec
// index for deployments that already run a vector database.
package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for memory embeddings.
	DefaultCollectionName = "engram"
)

// Driver implements vector.Driver against a Qdrant collection with a
// cosine distance metric.
type Driver struct {
	client     *qdrant.Client
	collection string
	dimensions uint64
	logger     *zap.Logger
}

// Config holds configuration for the Qdrant driver.
type Config struct {
	// Host and Port locate the Qdrant gRPC endpoint (default port 6334).
	Host string
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// UseTLS enables transport security. Required with APIKey.
	UseTLS bool

	// CollectionName defaults to DefaultCollectionName.
	CollectionName string

	// Dimensions is the embedding dimensionality. Required.
	Dimensions uint
}

// NewDriver connects to Qdrant and ensures the collection exists.
func NewDriver(ctx context.Context, c Config, logger *zap.Logger) (*Driver, error) {
	if c.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("qdrant embedding dimensions cannot be 0, must be configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	collection := c.CollectionName
	if collection == "" {
		collection = DefaultCollectionName
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", vector.ErrUnavailable, err)
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: checking collection: %v", vector.ErrUnavailable, err)
	}

	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(c.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("creating collection %s: %w", collection, err)
		}
	}

	logger.Info("qdrant vector driver initialized",
		zap.String("host", c.Host),
		zap.String("collection", collection),
		zap.Uint("dimensions", c.Dimensions),
	)

	return &Driver{
		client:     client,
		collection: collection,
		dimensions: uint64(c.Dimensions),
		logger:     logger,
	}, nil
}

// Add upserts documents into the collection.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		if uint64(len(doc.Embedding)) != d.dimensions {
			return fmt.Errorf("%w: doc %s has %d dims, collection has %d",
				vector.ErrDimensionMismatch, doc.ID, len(doc.Embedding), d.dimensions)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"fingerprint": doc.Fingerprint,
				"namespace":   doc.Namespace,
				"tier":        doc.Tier,
			}),
		})
	}

	_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: upserting points: %v", vector.ErrUnavailable, err)
	}

	d.logger.Debug("added documents to qdrant",
		zap.Int("count", len(docs)),
	)

	return nil
}

// Query runs a cosine similarity search with structural filters pushed
// down into Qdrant's payload filter.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	var qf *qdrant.Filter
	var must []*qdrant.Condition
	if filter.Namespace != "" {
		must = append(must, qdrant.NewMatch("namespace", filter.Namespace))
	}
	if len(filter.Tiers) > 0 {
		must = append(must, qdrant.NewMatchKeywords("tier", filter.Tiers...))
	}
	if len(must) > 0 {
		qf = &qdrant.Filter{Must: must}
	}

	scored, err := d.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         qf,
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: querying qdrant: %v", vector.ErrUnavailable, err)
	}

	results := make([]vector.QueryResult, 0, len(scored))
	for _, point := range scored {
		results = append(results, vector.QueryResult{
			Document: vector.Document{
				ID:          point.GetId().GetUuid(),
				Fingerprint: point.GetPayload()["fingerprint"].GetStringValue(),
				Namespace:   point.GetPayload()["namespace"].GetStringValue(),
				Tier:        point.GetPayload()["tier"].GetStringValue(),
			},
			Score: point.GetScore(),
		})
	}

	d.logger.Debug("queried qdrant",
		zap.Int("results", len(results)),
	)

	return results, nil
}

// Get retrieves documents with their embeddings by id.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	points, err := d.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: d.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: getting points: %v", vector.ErrUnavailable, err)
	}

	docs := make([]vector.Document, 0, len(points))
	for _, point := range points {
		doc := vector.Document{
			ID:          point.GetId().GetUuid(),
			Fingerprint: point.GetPayload()["fingerprint"].GetStringValue(),
			Namespace:   point.GetPayload()["namespace"].GetStringValue(),
			Tier:        point.GetPayload()["tier"].GetStringValue(),
		}
		if v := point.GetVectors().GetVector(); v != nil {
			doc.Embedding = v.GetData()
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete removes documents by id.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: d.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting points: %v", vector.ErrUnavailable, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}
