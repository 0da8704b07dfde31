package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultSendTimeout = 10 * time.Second

// SenderOption customises a chat sender.
type SenderOption func(*resty.Client)

// WithBaseURL points the sender at a different API host.
func WithBaseURL(u string) SenderOption {
	return func(c *resty.Client) { c.SetBaseURL(u) }
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) SenderOption {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

func newRestClient(baseURL string, opts []SenderOption) *resty.Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultSendTimeout).
		SetHeader("Content-Type", "application/json")
	for _, o := range opts {
		o(c)
	}
	return c
}

func checkResponse(name string, resp *resty.Response) error {
	if resp.IsError() {
		body := resp.String()
		if len(body) > 1024 {
			body = body[:1024]
		}
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode(), body)
	}
	return nil
}

// restPoster sends JSON bodies. A non-empty url overrides the request path.
type restPoster struct {
	name string
	c    *resty.Client
	url  string
}

func (p restPoster) post(ctx context.Context, path string, body any) error {
	target := path
	if p.url != "" {
		target = p.url
	}
	resp, err := p.c.R().SetContext(ctx).SetBody(body).Post(target)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", p.name, err)
	}
	return checkResponse(p.name, resp)
}
