package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Sternrassler/force-client/pkg/cache"
	"golang.org/x/sync/singleflight"
)

// Describe returns the metadata of one object type. Results are cached per
// instance and version; concurrent calls for the same type share one request.
func (c *Client) Describe(ctx context.Context, objectType string) (map[string]any, error) {
	if objectType == "" {
		return nil, &ValidationError{Message: msgMissingType}
	}
	u, err := c.sobjectURL(objectType, "describe")
	if err != nil {
		return nil, err
	}
	return c.describe(ctx, objectType, u)
}

// DescribeGlobal returns the list of object types available to the session.
func (c *Client) DescribeGlobal(ctx context.Context) (map[string]any, error) {
	base, err := c.BaseURL()
	if err != nil {
		return nil, err
	}
	return c.describe(ctx, "", base+"/sobjects")
}

func (c *Client) describe(ctx context.Context, objectType, url string) (map[string]any, error) {
	key := cache.Key{
		Instance: c.gate.State().InstanceURL,
		Version:  c.config.Version,
		Object:   objectType,
	}

	entry, err := c.describeCache.Get(ctx, key)
	switch {
	case err == nil:
		c.logger.Debug().Str("key", key.String()).Msg("Describe cache hit")
		return decodeDescribe(entry)
	case !errors.Is(err, cache.ErrCacheMiss):
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Describe cache read failed")
	}

	ch := c.describeGroup.DoChan(key.String(), func() (any, error) {
		// Callers sharing the request may outlive the one that started it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.DescribeTimeout)
		defer cancel()

		resp, err := c.exec.Do(fetchCtx, http.MethodGet, url, nil, nil)
		if err != nil {
			return nil, err
		}
		entry := cache.NewEntry(resp.Body, resp.Header, c.config.DescribeTTL)
		if err := c.describeCache.Set(fetchCtx, key, entry); err != nil {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Describe cache write failed")
		}
		return entry, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		c.logger.Debug().Str("key", key.String()).Msg("Describe request shared")
	}
	return decodeDescribe(res.Val.(*cache.Entry))
}

func decodeDescribe(entry *cache.Entry) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(entry.Data, &out); err != nil {
		return nil, &ParseError{StatusCode: http.StatusOK, Body: entry.Data, Err: err}
	}
	return out, nil
}
