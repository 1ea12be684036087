// Package qdrant adapts Qdrant's gRPC client to the search.VectorDB
// contract. Unlike a single-collection store, this adapter takes the
// collection name per call, since an orchestrator shares one VectorDB
// instance across every index.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hazyhaar/semindex/search"
)

// Store is the sole owner of all Qdrant operations for a given connection.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// New dials Qdrant at the given gRPC address (e.g. "localhost:6334").
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// NewWithClients builds a Store around already-constructed gRPC clients,
// letting tests substitute fakes without a live Qdrant server.
func NewWithClients(points pb.PointsClient, collections pb.CollectionsClient) *Store {
	return &Store{points: points, collections: collections}
}

// Close closes the underlying gRPC connection, if any.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Name implements search.VectorDB.
func (s *Store) Name() string { return "qdrant" }

// EnsureCollection implements search.VectorDB.
func (s *Store) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", collection, err)
	}
	return nil
}

// Upsert implements search.VectorDB.
func (s *Store) Upsert(ctx context.Context, collection, id string, vec search.Vector, text string, metadata map[string]string) error {
	payload := make(map[string]*pb.Value, len(metadata)+1)
	payload["content"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: text}}
	for k, v := range metadata {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}

	point := &pb.PointStruct{
		Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}},
		},
		Payload: payload,
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         []*pb.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete implements search.VectorDB.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Query implements search.VectorDB.
func (s *Store) Query(ctx context.Context, collection string, vec search.Vector, topK int) ([]search.Match, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %s: %w", collection, err)
	}

	matches := make([]search.Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		m := search.Match{ID: r.GetId().GetUuid(), Score: r.GetScore(), Metadata: make(map[string]string)}
		for k, v := range r.GetPayload() {
			if k == "content" {
				m.Text = v.GetStringValue()
				continue
			}
			m.Metadata[k] = v.GetStringValue()
		}
		matches[i] = m
	}
	return matches, nil
}
