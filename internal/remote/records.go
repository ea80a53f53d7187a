package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// Create submits a new record. The server assigns ID and Version and returns
// the authoritative copy.
func (c *Client) Create(ctx context.Context, name string, done bool) (*Record, error) {
	body, err := json.Marshal(recordPayload{Name: name, Done: done})
	if err != nil {
		return nil, fmt.Errorf("remote: encoding create payload: %w", err)
	}

	c.logger.Debug("creating record", slog.String("name", name))

	resp, err := c.do(ctx, http.MethodPost, "/records", body, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeRecord(resp)
}

// Update replaces a record's fields, conditional on the submitted version
// matching the server's. A version mismatch yields an *Error wrapping
// ErrConflict whose Snapshot holds the server's current record.
func (c *Client) Update(ctx context.Context, id, version, name string, done bool) (*Record, error) {
	body, err := json.Marshal(recordPayload{Name: name, Done: done})
	if err != nil {
		return nil, fmt.Errorf("remote: encoding update payload: %w", err)
	}

	c.logger.Debug("updating record", slog.String("id", id), slog.String("version", version))

	headers := http.Header{"If-Match": {version}}

	resp, err := c.do(ctx, http.MethodPatch, "/records/"+url.PathEscape(id), body, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeRecord(resp)
}

// Delete removes a record, conditional on the submitted version. The same
// conflict contract as Update applies.
func (c *Client) Delete(ctx context.Context, id, version string) error {
	c.logger.Debug("deleting record", slog.String("id", id), slog.String("version", version))

	headers := http.Header{"If-Match": {version}}

	resp, err := c.do(ctx, http.MethodDelete, "/records/"+url.PathEscape(id), nil, headers)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

// Changes fetches one page of the change feed for a named query. An empty
// token requests the full snapshot. HTTP 410 (Gone) means the token has
// expired server-side — callers should reset to an empty token and refetch.
func (c *Client) Changes(ctx context.Context, query, token string) (*ChangePage, error) {
	path := "/changes/" + url.PathEscape(query)
	if token != "" {
		path += "?since=" + url.QueryEscape(token)
	}

	c.logger.Debug("fetching change page",
		slog.String("query", query),
		slog.Bool("initial", token == ""),
	)

	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr changesResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("remote: decoding change page: %w", err)
	}

	c.logger.Debug("fetched change page",
		slog.String("query", query),
		slog.Int("count", len(cr.Records)),
		slog.Bool("has_more", cr.HasMore),
	)

	return &ChangePage{
		Records:   cr.Records,
		NextToken: cr.NextToken,
		HasMore:   cr.HasMore,
	}, nil
}

// decodeRecord reads a single record from a successful response body.
func decodeRecord(resp *http.Response) (*Record, error) {
	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("remote: decoding record: %w", err)
	}

	if rec.ID == "" {
		return nil, fmt.Errorf("remote: server returned record without id")
	}

	return &rec, nil
}
