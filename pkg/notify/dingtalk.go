package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/config"
)

// DingTalk posts markdown messages to a DingTalk group robot webhook.
// When a signing secret is configured the webhook URL is extended with the
// timestamp+sign pair the robot API requires; otherwise the configured
// keyword must appear in the message for the robot to accept it.
type DingTalk struct {
	cfg    config.DingTalkConfig
	client *http.Client
	now    func() time.Time
	logger zerolog.Logger
}

// NewDingTalk creates a DingTalk notifier.
func NewDingTalk(cfg config.DingTalkConfig, logger zerolog.Logger) *DingTalk {
	return &DingTalk{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
		logger: logger,
	}
}

func (d *DingTalk) Name() string { return "dingtalk" }

// Send posts the message as markdown.
func (d *DingTalk) Send(ctx context.Context, msg Message) error {
	title := msg.Title
	if d.cfg.Keyword != "" {
		title = fmt.Sprintf("[%s] %s", d.cfg.Keyword, title)
	}

	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  fmt.Sprintf("### %s\n\n%s", title, msg.Body),
		},
		"at": map[string]any{
			"atMobiles": d.cfg.AtMobiles,
			"isAtAll":   d.cfg.AtAll,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal dingtalk payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.signedURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dingtalk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post dingtalk webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dingtalk webhook returned status %d", resp.StatusCode)
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &result); err == nil && result.ErrCode != 0 {
		return fmt.Errorf("dingtalk webhook error %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// signedURL appends timestamp and HMAC-SHA256 signature query parameters
// when a secret is configured.
func (d *DingTalk) signedURL() string {
	if d.cfg.Secret == "" {
		return d.cfg.WebhookURL
	}

	timestamp := strconv.FormatInt(d.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(d.cfg.Secret))
	mac.Write([]byte(timestamp + "\n" + d.cfg.Secret))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	sep := "?"
	if u, err := url.Parse(d.cfg.WebhookURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return d.cfg.WebhookURL + sep + "timestamp=" + timestamp + "&sign=" + url.QueryEscape(sign)
}
