package llm

import "context"

// Request 描述发送给大模型的质押意图上下文。
type Request struct {
	Utterance string
	Chains    []string
	Tokens    []string
	History   []HistoryEntry
}

// StakeIntent 是大模型从自然语言中解析出的结构化质押意图。
// Amount 是人类可读的十进制数量字符串，换算成链上最小单位由上层完成。
type StakeIntent struct {
	Token   string
	Amount  string
	Chain   string
	Thought string
	Reply   string
}

// Client 定义了解析质押意图的统一接口。
type Client interface {
	ResolveStake(ctx context.Context, req Request) (*StakeIntent, error)
}

// HistoryEntry 描述了一次历史质押请求，用于为大模型提供上下文记忆。
type HistoryEntry struct {
	Utterance string
	Reply     string
	CreatedAt int64
}
