package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Sternrassler/force-client/pkg/batch"
	"github.com/Sternrassler/force-client/pkg/record"
)

// Validation messages for records rejected before sending.
const (
	msgMissingID    = "Record id is not found in record."
	msgMissingType  = "No SObject Type defined in record"
	msgMissingExtID = "External ID is not defined in the record"
	msgMissingField = "External ID field is not specified"
)

// Retrieve fetches one record by id.
func (c *Client) Retrieve(ctx context.Context, objectType, id string) (record.Record, error) {
	return batch.One(ctx, id, c.retrieveOp(objectType))
}

// RetrieveMany fetches records by id. Results keep the order of ids.
func (c *Client) RetrieveMany(ctx context.Context, objectType string, ids []string) ([]record.Record, error) {
	return batch.Dispatch(ctx, c.limits(), ids, c.retrieveOp(objectType))
}

func (c *Client) retrieveOp(objectType string) batch.Op[string, record.Record] {
	return func(ctx context.Context, index int, id string) (record.Record, error) {
		if objectType == "" {
			return nil, &ValidationError{Index: index, Message: msgMissingType}
		}
		if id == "" {
			return nil, &ValidationError{Index: index, Message: msgMissingID}
		}
		u, err := c.sobjectURL(objectType, id)
		if err != nil {
			return nil, err
		}
		return Execute(ctx, c.exec, Descriptor[record.Record]{Method: http.MethodGet, URL: u})
	}
}

// Create inserts one record. objectType may be empty when the record carries
// its type in attributes.type or type.
func (c *Client) Create(ctx context.Context, objectType string, rec record.Record) (record.SaveResult, error) {
	return batch.One(ctx, rec, c.createOp(objectType))
}

// CreateMany inserts records concurrently.
func (c *Client) CreateMany(ctx context.Context, objectType string, recs []record.Record) ([]record.SaveResult, error) {
	return batch.Dispatch(ctx, c.limits(), recs, c.createOp(objectType))
}

func (c *Client) createOp(objectType string) batch.Op[record.Record, record.SaveResult] {
	return func(ctx context.Context, index int, rec record.Record) (record.SaveResult, error) {
		t := rec.Type(objectType)
		if t == "" {
			return record.SaveResult{}, &ValidationError{Index: index, Message: msgMissingType}
		}
		u, err := c.sobjectURL(t)
		if err != nil {
			return record.SaveResult{}, err
		}
		return Execute(ctx, c.exec, Descriptor[record.SaveResult]{
			Method: http.MethodPost,
			URL:    u,
			Body:   rec.Payload(record.FieldID),
		})
	}
}

// Update modifies one record identified by its Id field.
func (c *Client) Update(ctx context.Context, objectType string, rec record.Record) (record.SaveResult, error) {
	return batch.One(ctx, rec, c.updateOp(objectType))
}

// UpdateMany modifies records concurrently.
func (c *Client) UpdateMany(ctx context.Context, objectType string, recs []record.Record) ([]record.SaveResult, error) {
	return batch.Dispatch(ctx, c.limits(), recs, c.updateOp(objectType))
}

func (c *Client) updateOp(objectType string) batch.Op[record.Record, record.SaveResult] {
	return func(ctx context.Context, index int, rec record.Record) (record.SaveResult, error) {
		id := rec.ID()
		if id == "" {
			return record.SaveResult{}, &ValidationError{Index: index, Message: msgMissingID}
		}
		t := rec.Type(objectType)
		if t == "" {
			return record.SaveResult{}, &ValidationError{Index: index, Message: msgMissingType}
		}
		u, err := c.sobjectURL(t, id)
		if err != nil {
			return record.SaveResult{}, err
		}
		return Execute(ctx, c.exec, Descriptor[record.SaveResult]{
			Method:    http.MethodPatch,
			URL:       u,
			Body:      rec.Payload(record.FieldID),
			NoContent: record.Succeeded(id),
		})
	}
}

// Upsert inserts or updates one record matched on extIDField.
func (c *Client) Upsert(ctx context.Context, objectType string, rec record.Record, extIDField string) (record.SaveResult, error) {
	return batch.One(ctx, rec, c.upsertOp(objectType, extIDField))
}

// UpsertMany upserts records concurrently. A match on several records fails
// with *AmbiguousMatchError.
func (c *Client) UpsertMany(ctx context.Context, objectType string, recs []record.Record, extIDField string) ([]record.SaveResult, error) {
	return batch.Dispatch(ctx, c.limits(), recs, c.upsertOp(objectType, extIDField))
}

func (c *Client) upsertOp(objectType, extIDField string) batch.Op[record.Record, record.SaveResult] {
	return func(ctx context.Context, index int, rec record.Record) (record.SaveResult, error) {
		if extIDField == "" {
			return record.SaveResult{}, &ValidationError{Index: index, Message: msgMissingField}
		}
		extID := fieldString(rec, extIDField)
		if extID == "" {
			return record.SaveResult{}, &ValidationError{Index: index, Message: msgMissingExtID}
		}
		t := rec.Type(objectType)
		if t == "" {
			return record.SaveResult{}, &ValidationError{Index: index, Message: msgMissingType}
		}
		u, err := c.sobjectURL(t, extIDField, extID)
		if err != nil {
			return record.SaveResult{}, err
		}
		return Execute(ctx, c.exec, Descriptor[record.SaveResult]{
			Method:    http.MethodPatch,
			URL:       u,
			Body:      rec.Payload(extIDField),
			NoContent: record.Succeeded(""),
		})
	}
}

// Destroy deletes one record by id.
func (c *Client) Destroy(ctx context.Context, objectType, id string) (record.SaveResult, error) {
	return batch.One(ctx, id, c.destroyOp(objectType))
}

// DestroyMany deletes records by id.
func (c *Client) DestroyMany(ctx context.Context, objectType string, ids []string) ([]record.SaveResult, error) {
	return batch.Dispatch(ctx, c.limits(), ids, c.destroyOp(objectType))
}

func (c *Client) destroyOp(objectType string) batch.Op[string, record.SaveResult] {
	return func(ctx context.Context, index int, id string) (record.SaveResult, error) {
		if objectType == "" {
			return record.SaveResult{}, &ValidationError{Index: index, Message: msgMissingType}
		}
		if id == "" {
			return record.SaveResult{}, &ValidationError{Index: index, Message: msgMissingID}
		}
		u, err := c.sobjectURL(objectType, id)
		if err != nil {
			return record.SaveResult{}, err
		}
		return Execute(ctx, c.exec, Descriptor[record.SaveResult]{
			Method:    http.MethodDelete,
			URL:       u,
			NoContent: record.Succeeded(id),
		})
	}
}

// fieldString renders a scalar field for use in a URL path. Numbers decoded
// from JSON arrive as float64 and are printed without exponent.
func fieldString(rec record.Record, field string) string {
	switch v := rec[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
