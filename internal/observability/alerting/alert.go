// Package alerting 把任务处理器里需要人工介入的失败事件推到值班渠道。
// 执行类失败是最要紧的场景：交易可能已经走到链上，自动化不敢重试，
// 只能尽快让人看到。
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	xerrors "AgentStake-Chain/internal/errors"
	"AgentStake-Chain/pkg/logger"
)

// Event 描述一次需要告警的任务事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	TaskID     string            `json:"task_id"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 把事件送到一个具体渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给所有注册的通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 逐个调用通知器，单个渠道失败不影响其余渠道，
// 所有失败聚合后一并返回。
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout 创建广播派发器，nil 通知器会被忽略。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	kept := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return &FanoutDispatcher{notifiers: kept}
}

// Notify 实现 Dispatcher。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("渠道 %s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把告警落进审计日志。没有外部值班渠道的部署也至少
// 保证终态失败在对账时可见。
type LogNotifier struct{}

// NewLogNotifier 创建审计日志通知器。
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// Name 实现 Notifier。
func (n *LogNotifier) Name() string { return "log" }

// Notify 实现 Notifier。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	logger.Audit().Warn("任务告警",
		"code", string(event.Code),
		"severity", string(event.Severity),
		"task_id", event.TaskID,
		"attempts", event.Attempts,
		"max_retries", event.MaxRetries,
		"message", event.Message,
		"stage", event.Metadata["stage"],
	)
	return nil
}

// WebhookNotifier 把事件以 JSON POST 到值班 webhook（钉钉、Slack 的
// incoming webhook 或自建网关都适用）。
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier 创建 webhook 通知器。
func NewWebhookNotifier(url string, timeout time.Duration) (*WebhookNotifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook 通知器需要配置 URL")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name 实现 Notifier。
func (n *WebhookNotifier) Name() string { return "webhook" }

// Notify 实现 Notifier。非 2xx 响应视为发送失败。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码告警事件失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("告警网关返回 %d", resp.StatusCode)
	}
	return nil
}

var _ Dispatcher = (*FanoutDispatcher)(nil)
var _ Notifier = (*LogNotifier)(nil)
var _ Notifier = (*WebhookNotifier)(nil)
