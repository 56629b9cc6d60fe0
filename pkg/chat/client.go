package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client posts messages to a Google Chat incoming webhook.
type Client interface {
	Post(ctx context.Context, text string) error
}

// Option configures the client.
type Option func(*webhookClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *webhookClient) {
		c.http = hc
	}
}

type webhookClient struct {
	webhookURL string
	http       *http.Client
}

// NewClient creates a Google Chat webhook client.
func NewClient(webhookURL string, opts ...Option) Client {
	c := &webhookClient{
		webhookURL: webhookURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type message struct {
	Text string `json:"text"`
}

func (c *webhookClient) Post(ctx context.Context, text string) error {
	body, err := json.Marshal(message{Text: text})
	if err != nil {
		return eris.Wrap(err, "chat: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "chat: create request")
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "chat: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return eris.Errorf("chat: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
