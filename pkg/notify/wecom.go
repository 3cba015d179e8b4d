package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/config"
)

// WeCom posts markdown messages to a WeCom (WeChat Work) group robot
// webhook.
type WeCom struct {
	cfg    config.WeComConfig
	client *http.Client
	logger zerolog.Logger
}

// NewWeCom creates a WeCom notifier.
func NewWeCom(cfg config.WeComConfig, logger zerolog.Logger) *WeCom {
	return &WeCom{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (w *WeCom) Name() string { return "wecom" }

// Send posts the message as markdown, with mentions appended as a follow-up
// text message when configured.
func (w *WeCom) Send(ctx context.Context, msg Message) error {
	content := fmt.Sprintf("**%s**\n%s", msg.Title, msg.Body)
	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": content,
		},
	}
	if err := w.post(ctx, payload); err != nil {
		return err
	}

	if len(w.cfg.MentionedList) > 0 {
		mention := map[string]any{
			"msgtype": "text",
			"text": map[string]any{
				"content":        msg.Title,
				"mentioned_list": w.cfg.MentionedList,
			},
		}
		if err := w.post(ctx, mention); err != nil {
			w.logger.Warn().Err(err).Msg("wecom mention message failed")
		}
	}
	return nil
}

func (w *WeCom) post(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal wecom payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build wecom request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post wecom webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wecom webhook returned status %d", resp.StatusCode)
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &result); err == nil && result.ErrCode != 0 {
		return fmt.Errorf("wecom webhook error %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}
