package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

// apiClient talks to the setupwatch HTTP API.
type apiClient struct {
	http *resty.Client
}

func newAPIClient(p profile) *apiClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(p.BaseURL, "/")).
		SetTimeout(p.Timeout).
		SetHeader("Accept", "application/json")
	if p.APIKey != "" {
		c.SetAuthToken(p.APIKey)
	}
	return &apiClient{http: c}
}

// do sends one request and returns the raw response body. Empty query values
// are dropped. Non-2xx responses become errors carrying the server message.
func (c *apiClient) do(ctx context.Context, method, path string, query map[string]string, body any) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	for k, v := range query {
		if v != "" {
			req.SetQueryParam(k, v)
		}
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode(), e.Error)
		}
		return nil, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), http.StatusText(resp.StatusCode()))
	}
	return resp.Body(), nil
}

func (c *apiClient) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}
