package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Sternrassler/force-client/pkg/query"
)

// FetchPage implements query.Fetcher: soql for the first page, locator for
// the ones after it.
func (c *Client) FetchPage(ctx context.Context, soql, locator string) (*query.Page, error) {
	base, err := c.BaseURL()
	if err != nil {
		return nil, err
	}
	u := base + "/query?q=" + url.QueryEscape(soql)
	if locator != "" {
		u = base + "/query/" + url.PathEscape(query.NormalizeLocator(locator))
	}
	return Execute(ctx, c.exec, Descriptor[*query.Page]{Method: http.MethodGet, URL: u})
}

// Query fetches the first page of soql.
func (c *Client) Query(ctx context.Context, soql string) (*query.Page, error) {
	return c.FetchPage(ctx, soql, "")
}

// QueryPage fetches the page behind locator.
func (c *Client) QueryPage(ctx context.Context, locator string) (*query.Page, error) {
	return c.FetchPage(ctx, "", locator)
}

// NewQuery returns a cursor over soql. Nothing is fetched until Run or
// Records is called.
func (c *Client) NewQuery(soql string, opts query.Options) *query.Cursor {
	return query.New(c, soql, opts)
}

// QueryMore returns a cursor resuming at locator.
func (c *Client) QueryMore(locator string, opts query.Options) *query.Cursor {
	return query.Resume(c, locator, opts)
}
