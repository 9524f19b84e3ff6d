package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Body posted to the relay webhook for each accepted message.
type RelayWebhookBody struct {
	Sender  string       `json:"sender"`
	Channel string       `json:"channel"`
	Group   string       `json:"group"`
	Text    string       `json:"text"`
	Prices  []float64    `json:"prices,omitempty"`
	PostID  string       `json:"post_id,omitempty"`
	Mention *MentionData `json:"mentions,omitempty"`
	Help    *relayHelp   `json:"help,omitempty"`
	Event   *EventData   `json:"event,omitempty"`
	Sent    time.Time    `json:"sent"`
}

type relayHelp struct {
	IsHelpRequest bool   `json:"is_help_request"`
	FAQ           string `json:"faq,omitempty"`
}

// Forwards accepted messages to a chat-bridge service via an HTTP webhook, with retries.
type WebhookRelay struct {
	URL    string
	Client *retryablehttp.Client
}

var _ Relay = (*WebhookRelay)(nil)

func NewWebhookRelay(url string, logger *slog.Logger) *WebhookRelay {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 5 * time.Second
	client.HTTPClient.Transport = otelhttp.NewTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	// retryablehttp logs to stderr unless given a logger
	client.Logger = nil
	if logger != nil {
		client.Logger = logger.With("component", "relay")
	}
	return &WebhookRelay{
		URL:    url,
		Client: client,
	}
}

func (w *WebhookRelay) Relay(ctx context.Context, res *ProcessedMessageResult) error {
	body := RelayWebhookBody{
		Sender:  res.SenderID,
		Channel: res.ChannelID,
		Group:   res.Group,
		Text:    res.Text,
		Mention: res.Mentions,
		Event:   res.Event,
		Sent:    time.Now().UTC(),
	}
	if res.Trade != nil {
		for _, p := range res.Trade.Prices {
			body.Prices = append(body.Prices, p.Value)
		}
		body.PostID = res.Trade.PostID
	}
	if res.Help != nil {
		body.Help = &relayHelp{IsHelpRequest: res.Help.IsHelpRequest}
		if res.Help.FAQ != nil {
			body.Help.FAQ = res.Help.FAQ.ID
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", w.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("relay webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
