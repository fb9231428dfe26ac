// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package qdrant stores memory vectors in a Qdrant server over gRPC.
package qdrant

import (
	"context"
	"fmt"

	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/memory"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type Store struct {
	conn        *grpc.ClientConn
	client      pb.PointsClient
	collections pb.CollectionsClient
}

// New connects lazily to the Qdrant gRPC endpoint at addr.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.New(errors.CodeUnreachable, "qdrant client", err).WithContext("addr", addr)
	}
	return &Store{
		conn:        conn,
		client:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// CreateCollection creates name unless it already exists.
func (s *Store) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return errors.New(errors.CodeMemoryError, "check collection", err).WithContext("collection", name)
	}
	if exists.GetResult().GetExists() {
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return errors.New(errors.CodeMemoryError, "create collection", err).WithContext("collection", name)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, points []memory.Point) error {
	qPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		qPoints[i] = &pb.PointStruct{
			Id: pointID(p.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: toPayload(p.Payload, p.Timestamp),
		}
	}
	wait := true
	_, err := s.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         qPoints,
	})
	if err != nil {
		return errors.New(errors.CodeMemoryError, "upsert points", err).WithContext("collection", collection)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]memory.SearchResult, error) {
	resp, err := s.client.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "search points", err).WithContext("collection", collection)
	}

	results := make([]memory.SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload, ts := fromPayload(r.GetPayload())
		id := r.GetId().GetUuid()
		if id == "" {
			id = fmt.Sprintf("%d", r.GetId().GetNum())
		}
		results[i] = memory.SearchResult{
			ID:    id,
			Score: r.GetScore(),
			Point: memory.Point{ID: id, Payload: payload, Timestamp: ts},
		}
	}
	return results, nil
}

// Delete removes points by id.
func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	list := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		list[i] = pointID(id)
	}
	wait := true
	_, err := s.client.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: list}},
		},
	})
	if err != nil {
		return errors.New(errors.CodeMemoryError, "delete points", err).WithContext("collection", collection)
	}
	return nil
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

const timestampKey = "_ts"

func toPayload(in map[string]interface{}, ts int64) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(in)+1)
	for k, v := range in {
		switch val := v.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(val)}}
		}
	}
	payload[timestampKey] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: ts}}
	return payload
}

func fromPayload(in map[string]*pb.Value) (map[string]interface{}, int64) {
	payload := make(map[string]interface{}, len(in))
	var ts int64
	for k, v := range in {
		if k == timestampKey {
			ts = v.GetIntegerValue()
			continue
		}
		switch knd := v.GetKind().(type) {
		case *pb.Value_StringValue:
			payload[k] = knd.StringValue
		case *pb.Value_BoolValue:
			payload[k] = knd.BoolValue
		case *pb.Value_IntegerValue:
			payload[k] = knd.IntegerValue
		case *pb.Value_DoubleValue:
			payload[k] = knd.DoubleValue
		}
	}
	return payload, ts
}

var _ memory.VectorStore = (*Store)(nil)
