/**
 * Qdrant Vector Database Client for Document Ingestion
 *
 * Stores child-tier chunk embeddings and serves similarity search scoped to
 * a set of documents. Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantClient handles vector database operations
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
	dimension        int
}

// ChildPoint is one child chunk ready for vector indexing
type ChildPoint struct {
	DocumentID  string
	ParentID    string
	PageNumber  int
	GlobalIndex int
	Text        string
	Vector      []float32
}

// ChildMatch is one similarity search hit. Similarity is in [0, 1] where
// 1 means identical direction under cosine distance.
type ChildMatch struct {
	DocumentID  string
	ParentID    string
	PageNumber  int
	GlobalIndex int
	Text        string
	Similarity  float64
}

// NewQdrantClient creates a new Qdrant client
func NewQdrantClient(address, collectionName string, dimension int) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if dimension < 1 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}

	// Connect to Qdrant using gRPC
	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
		dimension:        dimension,
	}

	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(q.dimension),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// pointID derives a deterministic UUID for a child chunk so re-ingesting a
// document overwrites its points instead of duplicating them.
func pointID(documentID string, globalIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", documentID, globalIndex))).String()
}

// UpsertChildren stores child chunk vectors with their retrieval payload
func (q *QdrantClient) UpsertChildren(ctx context.Context, children []ChildPoint) error {
	if len(children) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(children))
	for _, child := range children {
		if child.DocumentID == "" || child.ParentID == "" {
			return fmt.Errorf("child point document ID and parent ID are required")
		}
		if len(child.Vector) != q.dimension {
			return fmt.Errorf("invalid vector dimensions for chunk %d: expected %d, got %d",
				child.GlobalIndex, q.dimension, len(child.Vector))
		}

		payload := map[string]*qdrant.Value{
			"document_id":        {Kind: &qdrant.Value_StringValue{StringValue: child.DocumentID}},
			"parent_id":          {Kind: &qdrant.Value_StringValue{StringValue: child.ParentID}},
			"kind":               {Kind: &qdrant.Value_StringValue{StringValue: "child"}},
			"page_number":        {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(child.PageNumber)}},
			"global_chunk_index": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(child.GlobalIndex)}},
			"text":               {Kind: &qdrant.Value_StringValue{StringValue: child.Text}},
		}

		points = append(points, &qdrant.PointStruct{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Uuid{
					Uuid: pointID(child.DocumentID, child.GlobalIndex),
				},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{
						Data: child.Vector,
					},
				},
			},
			Payload: payload,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         points,
	})

	if err != nil {
		return fmt.Errorf("failed to upsert child chunks: %w", err)
	}

	return nil
}

// SearchChildren performs similarity search over child chunks. When
// documentIDs is non-empty the search is restricted to those documents.
func (q *QdrantClient) SearchChildren(ctx context.Context, queryVector []float32, documentIDs []string, limit int) ([]ChildMatch, error) {
	if len(queryVector) != q.dimension {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", q.dimension, len(queryVector))
	}
	if limit <= 0 {
		limit = 10
	}

	conditions := []*qdrant.Condition{
		{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "kind",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: "child"},
					},
				},
			},
		},
	}
	if len(documentIDs) > 0 {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "document_id",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: documentIDs},
						},
					},
				},
			},
		})
	}

	results, err := q.client.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         queryVector,
		Limit:          uint64(limit),
		Filter:         &qdrant.Filter{Must: conditions},
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{
				Enable: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search child chunks: %w", err)
	}

	matches := make([]ChildMatch, 0, len(results.Result))
	for _, result := range results.Result {
		match := ChildMatch{
			// Cosine score can dip below zero for opposing vectors. Clamp so
			// callers always see a non-negative similarity.
			Similarity: clampSimilarity(float64(result.Score)),
		}

		for k, v := range result.Payload {
			switch k {
			case "document_id":
				match.DocumentID = v.GetStringValue()
			case "parent_id":
				match.ParentID = v.GetStringValue()
			case "text":
				match.Text = v.GetStringValue()
			case "page_number":
				match.PageNumber = int(v.GetIntegerValue())
			case "global_chunk_index":
				match.GlobalIndex = int(v.GetIntegerValue())
			}
		}

		matches = append(matches, match)
	}

	return matches, nil
}

func clampSimilarity(score float64) float64 {
	if score < 0 {
		return 0
	}
	return score
}

// DeleteDocument removes all vector points belonging to a document
func (q *QdrantClient) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: "document_id",
									Match: &qdrant.Match{
										MatchValue: &qdrant.Match_Keyword{Keyword: documentID},
									},
								},
							},
						},
					},
				},
			},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to delete vectors for document %s: %w", documentID, err)
	}

	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	stats := map[string]interface{}{
		"collection_name": q.collectionName,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"indexed_vectors": info.Result.GetIndexedVectorsCount(),
		"status":          info.Result.GetStatus().String(),
	}

	return stats, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
