package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrSlackDisabled = errors.New("slack disabled")

// Slack posts alerts to an incoming webhook. Rate limiting and 5xx replies
// are retried up to Attempts times.
type Slack struct {
	Webhook  string
	Client   *http.Client
	Attempts int
	Backoff  time.Duration
}

// NewSlack returns nil when webhook is empty.
func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook:  webhook,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Attempts: 3,
		Backoff:  500 * time.Millisecond,
	}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
}

type slackPayload struct {
	Text   string       `json:"text"` // notification fallback
	Blocks []slackBlock `json:"blocks"`
}

func buildSlackPayload(title, text string) slackPayload {
	return slackPayload{
		Text: "*" + title + "*\n" + text,
		Blocks: []slackBlock{
			{Type: "header", Text: slackText{Type: "plain_text", Text: title}},
			{Type: "section", Text: slackText{Type: "mrkdwn", Text: text}},
		},
	}
}

func (s *Slack) Send(ctx context.Context, title, text string) error {
	if s == nil || s.Webhook == "" {
		return ErrSlackDisabled
	}
	body, err := json.Marshal(buildSlackPayload(title, text))
	if err != nil {
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.Backoff
	attempts := max(s.Attempts, 1)
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error { return s.post(ctx, body) }, policy)
}

func (s *Slack) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("slack request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("slack non-2xx: %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("slack non-2xx: %d", resp.StatusCode))
	}
}
