// Package slack posts pending approval requests to a Slack incoming webhook
// so a reviewer away from the desktop can decide them from the panel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/deskgate/internal/adapter/ws"
	"github.com/Strob0t/deskgate/internal/domain/risk"
	"github.com/Strob0t/deskgate/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Notifier)(nil)

// ErrNotConfigured is returned by Send when no webhook URL is set.
var ErrNotConfigured = errors.New("slack: webhook url not configured")

const sendTimeout = 10 * time.Second

// Notifier sends approval notifications to Slack via incoming webhook.
type Notifier struct {
	webhookURL string
	panelURL   string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier. panelURL, when set, is linked from
// every message.
func NewNotifier(webhookURL, panelURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		panelURL:   panelURL,
		httpClient: &http.Client{Timeout: sendTimeout},
	}
}

// slackMessage is the Slack Block Kit message payload.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BroadcastEvent forwards permission requests to Slack in the background.
// Every other event is ignored.
func (n *Notifier) BroadcastEvent(ctx context.Context, _ string, payload any) {
	ev, ok := payload.(ws.PermissionRequestEvent)
	if !ok || n.webhookURL == "" {
		return
	}
	go func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if err := n.Send(sctx, ev); err != nil {
			slog.Warn("slack approval notification failed", "request_id", ev.RequestID, "error", err)
		}
	}()
}

// Send posts one permission request.
func (n *Notifier) Send(ctx context.Context, ev ws.PermissionRequestEvent) error {
	if n.webhookURL == "" {
		return ErrNotConfigured
	}

	header := fmt.Sprintf("%s Approval needed: %s", riskTag(ev.Risk), ev.Tool)
	msg := slackMessage{
		Text: header,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: header}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: ev.Description}},
		},
	}
	ref := fmt.Sprintf("_Request %s, session %s, policy %s_", ev.RequestID, ev.SessionID, ev.Policy)
	if n.panelURL != "" {
		ref += fmt.Sprintf(" | <%s|Open approvals panel>", n.panelURL)
	}
	msg.Blocks = append(msg.Blocks, slackBlock{Type: "context", Text: &slackText{Type: "mrkdwn", Text: ref}})

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func riskTag(level risk.Level) string {
	switch level {
	case risk.High:
		return "[HIGH]"
	case risk.Medium:
		return "[MEDIUM]"
	default:
		return "[LOW]"
	}
}
