package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrNotFound is returned for unknown item ids.
var ErrNotFound = errors.New("item not found")

// Client talks to a catalogue Server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the catalogue at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{baseURL: baseURL, http: httpClient}
}

// ListItems fetches the item summaries.
func (c *Client) ListItems(ctx context.Context) ([]Summary, error) {
	var out []Summary
	if err := c.do(ctx, http.MethodGet, "/items", nil, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// GetItem fetches the details of one item.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var out Item
	if err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(id), nil, &out); err != nil {
		return Item{}, err
	}

	return out, nil
}

// UpdateItem changes the name and description of an item.
func (c *Client) UpdateItem(ctx context.Context, id, name, description string) (Item, error) {
	body, err := json.Marshal(updateRequest{Name: name, Description: description})
	if err != nil {
		return Item{}, fmt.Errorf("encode update: %w", err)
	}

	var out Item
	if err := c.do(ctx, http.MethodPut, "/items/"+url.PathEscape(id), body, &out); err != nil {
		return Item{}, err
	}

	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}

	return nil
}
