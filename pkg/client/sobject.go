package client

import (
	"context"

	"github.com/Sternrassler/force-client/pkg/record"
)

// SObject is a handle bound to one object type.
type SObject struct {
	client *Client
	Type   string
}

// SObject returns the handle for objectType. Handles are memoized per client.
func (c *Client) SObject(objectType string) *SObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sobjects[objectType]; ok {
		return s
	}
	s := &SObject{client: c, Type: objectType}
	c.sobjects[objectType] = s
	return s
}

// Retrieve fetches one record of the handle's type by id.
func (s *SObject) Retrieve(ctx context.Context, id string) (record.Record, error) {
	return s.client.Retrieve(ctx, s.Type, id)
}

// RetrieveMany fetches records by id, in input order.
func (s *SObject) RetrieveMany(ctx context.Context, ids []string) ([]record.Record, error) {
	return s.client.RetrieveMany(ctx, s.Type, ids)
}

// Create inserts rec as a new record of the handle's type.
func (s *SObject) Create(ctx context.Context, rec record.Record) (record.SaveResult, error) {
	return s.client.Create(ctx, s.Type, rec)
}

// CreateMany inserts recs, one result per input in input order.
func (s *SObject) CreateMany(ctx context.Context, recs []record.Record) ([]record.SaveResult, error) {
	return s.client.CreateMany(ctx, s.Type, recs)
}

// Update saves the fields of rec to the record named by its Id.
func (s *SObject) Update(ctx context.Context, rec record.Record) (record.SaveResult, error) {
	return s.client.Update(ctx, s.Type, rec)
}

// UpdateMany updates recs, one result per input in input order.
func (s *SObject) UpdateMany(ctx context.Context, recs []record.Record) ([]record.SaveResult, error) {
	return s.client.UpdateMany(ctx, s.Type, recs)
}

// Upsert inserts or updates rec keyed by the external id field extIDField.
func (s *SObject) Upsert(ctx context.Context, rec record.Record, extIDField string) (record.SaveResult, error) {
	return s.client.Upsert(ctx, s.Type, rec, extIDField)
}

// UpsertMany upserts recs by extIDField, one result per input in input order.
func (s *SObject) UpsertMany(ctx context.Context, recs []record.Record, extIDField string) ([]record.SaveResult, error) {
	return s.client.UpsertMany(ctx, s.Type, recs, extIDField)
}

// Destroy deletes the record with the given id.
func (s *SObject) Destroy(ctx context.Context, id string) (record.SaveResult, error) {
	return s.client.Destroy(ctx, s.Type, id)
}

// DestroyMany deletes records by id, one result per input in input order.
func (s *SObject) DestroyMany(ctx context.Context, ids []string) ([]record.SaveResult, error) {
	return s.client.DestroyMany(ctx, s.Type, ids)
}

// Describe returns the type's metadata.
func (s *SObject) Describe(ctx context.Context) (map[string]any, error) {
	return s.client.Describe(ctx, s.Type)
}
