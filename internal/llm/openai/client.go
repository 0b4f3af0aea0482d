package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"AgentStake-Chain/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ResolveStake 调用 OpenAI 把自然语言质押请求解析为结构化意图。
func (c *Client) ResolveStake(ctx context.Context, req llm.Request) (*llm.StakeIntent, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}

	// 意图会被换算成不可撤回的链上交易，这里必须是严格的结构化输出，
	// 不能像闲聊场景那样把原文兜底成回复。
	var structured struct {
		Token   string `json:"token"`
		Amount  string `json:"amount"`
		Chain   string `json:"chain"`
		Thought string `json:"thought"`
		Reply   string `json:"reply"`
	}
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		return nil, fmt.Errorf("OpenAI 输出不是合法的意图 JSON: %w", err)
	}
	if strings.TrimSpace(structured.Token) == "" || strings.TrimSpace(structured.Amount) == "" {
		return nil, fmt.Errorf("OpenAI 输出缺少 token 或 amount 字段: %s", content)
	}

	return &llm.StakeIntent{
		Token:   strings.ToUpper(strings.TrimSpace(structured.Token)),
		Amount:  strings.TrimSpace(structured.Amount),
		Chain:   strings.TrimSpace(structured.Chain),
		Thought: structured.Thought,
		Reply:   structured.Reply,
	}, nil
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := []message{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: buildUserPrompt(req),
		},
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0,
		"response_format": map[string]any{
			"type": "json_object",
		},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are the intent resolver of an on-chain staking agent. " +
	"Extract exactly one staking intent from the user's message and respond with a compact JSON object: " +
	"{\"token\": string, \"amount\": string, \"chain\": string, \"thought\": string, \"reply\": string}. " +
	"\"token\" is the asset symbol, \"amount\" is the human-readable decimal amount, " +
	"\"chain\" is one of the supported chain names or empty for the default. " +
	"Never invent tokens or amounts that the user did not state. " +
	"Use Chinese for the reply and summarise the reasoning in \"thought\"."

func buildUserPrompt(req llm.Request) string {
	var builder strings.Builder
	builder.WriteString("## 用户请求\n")
	builder.WriteString(strings.TrimSpace(req.Utterance))
	builder.WriteString("\n")

	if len(req.Chains) > 0 {
		builder.WriteString("\n## 可用链\n")
		builder.WriteString(strings.Join(req.Chains, ", "))
		builder.WriteString("\n")
	}
	if len(req.Tokens) > 0 {
		builder.WriteString("\n## 可质押代币\n")
		builder.WriteString(strings.Join(req.Tokens, ", "))
		builder.WriteString("\n")
	}

	if len(req.History) > 0 {
		builder.WriteString("\n## 历史上下文\n")
		for idx, entry := range req.History {
			builder.WriteString(fmt.Sprintf("[%d] 请求:%s | 反馈:%s\n",
				idx+1,
				truncate(entry.Utterance),
				truncate(entry.Reply),
			))
			if idx >= 4 {
				break
			}
		}
	}

	builder.WriteString("\n请解析出唯一的质押意图并输出 JSON。")
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 80 {
		return string([]rune(text)[:80]) + "..."
	}
	return text
}
