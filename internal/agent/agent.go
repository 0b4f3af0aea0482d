package agent

import (
	"context"
	stdErrors "errors"
	"strings"
	"sync"
	"time"

	xerrors "AgentStake-Chain/internal/errors"
	"AgentStake-Chain/internal/llm"
	"AgentStake-Chain/internal/observability/metrics"
	"AgentStake-Chain/internal/staking"
	"AgentStake-Chain/internal/tokens"
	"AgentStake-Chain/pkg/logger"
)

// TaskRequest 描述了一个自然语言质押任务。
type TaskRequest struct {
	ID        string         `json:"id,omitempty"`
	Utterance string         `json:"utterance"`
	Chain     string         `json:"chain,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskResult 汇总意图解析与链上执行得到的结果。
type TaskResult struct {
	Utterance string `json:"utterance"`
	Chain     string `json:"chain"`
	ChainID   uint64 `json:"chain_id"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	BaseUnits string `json:"base_units"`
	Thought   string `json:"thought"`
	Reply     string `json:"reply"`
	TxHash    string `json:"tx_hash"`
	Wallet    string `json:"wallet"`
	Pool      string `json:"pool"`
	CreatedAt int64  `json:"created_at"`
}

// ChainDirectory 提供按链名查找质押服务的能力，由 web3/provider 实现。
type ChainDirectory interface {
	DefaultChain() string
	Service(name string) (*staking.Service, bool)
	ChainID(name string) (uint64, bool)
	Chains() []string
}

// Agent 协调大模型与链上执行，是系统的业务核心。
type Agent struct {
	llmClient  llm.Client
	chains     ChainDirectory
	tokens     tokens.Provider
	llmTimeout time.Duration

	locks *walletLock

	// 最近的请求历史，仅供大模型做上下文参考，进程重启即丢失。
	memoryDepth int
	historyMu   sync.Mutex
	history     []llm.HistoryEntry
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// defaultMemoryDepth 是大模型调用时可参考的历史请求数量的默认值。
const defaultMemoryDepth = 5

// WithMemoryDepth 设置大模型调用时可参考的历史请求数量。
func WithMemoryDepth(depth int) Option {
	return func(a *Agent) {
		a.memoryDepth = depth
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// New 创建一个 Agent。
func New(llmClient llm.Client, chains ChainDirectory, tokenProvider tokens.Provider, opts ...Option) *Agent {
	ag := &Agent{
		llmClient:   llmClient,
		chains:      chains,
		tokens:      tokenProvider,
		memoryDepth: defaultMemoryDepth,
		locks:       newWalletLock(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.memoryDepth <= 0 {
		ag.memoryDepth = defaultMemoryDepth
	}
	return ag
}

// Execute 把一条自然语言请求走完整条流水线：解析意图、校验链与代币、
// 换算数量、串行化同链执行，最后原子提交质押批次。
//
// 链上执行的错误会原样向上传播，保留编码、连接、执行三类错误码，
// 供任务层决定是否重试。
func (a *Agent) Execute(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	if a.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if a.chains == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链注册表")
	}
	if a.tokens == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置代币注册表")
	}
	if strings.TrimSpace(req.Utterance) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "请求内容不能为空")
	}

	intent, err := a.resolveIntent(ctx, req)
	if err != nil {
		return nil, err
	}

	chain := strings.TrimSpace(req.Chain)
	if chain == "" {
		chain = strings.TrimSpace(intent.Chain)
	}
	if chain == "" {
		chain = a.chains.DefaultChain()
	}

	service, ok := a.chains.Service(chain)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的链: "+chain)
	}
	chainID, ok := a.chains.ChainID(chain)
	if !ok || chainID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "链 "+chain+" 缺少链 ID 定义")
	}

	token, ok := a.tokens.Resolve(chain, intent.Token)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "链 "+chain+" 上没有可质押的代币 "+intent.Token)
	}

	amount, err := token.ToBaseUnits(intent.Amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "质押数量不合法")
	}

	// 同一条链上的执行必须串行，见 staking.Service 的并发约束。
	unlock := a.locks.acquire(chain)
	defer unlock()

	receipt, err := service.Stake(ctx, staking.StakeRequest{
		Token:   token.Address,
		Amount:  amount,
		ChainID: chainID,
	})
	if err != nil {
		metrics.ObserveStakeSubmission(chain, token.Symbol, string(xerrors.CodeOf(err)))
		logger.Audit().Error("质押提交失败",
			"chain", chain,
			"token", token.Symbol,
			"amount", intent.Amount,
			"code", string(xerrors.CodeOf(err)),
		)
		return nil, err
	}

	metrics.ObserveStakeSubmission(chain, token.Symbol, "submitted")
	logger.Audit().Info("质押已提交",
		"chain", chain,
		"token", token.Symbol,
		"amount", intent.Amount,
		"tx_hash", receipt.TxHash.Hex(),
		"wallet", receipt.From.Hex(),
		"pool", receipt.To.Hex(),
	)

	result := &TaskResult{
		Utterance: req.Utterance,
		Chain:     chain,
		ChainID:   receipt.ChainID,
		Token:     token.Symbol,
		Amount:    intent.Amount,
		BaseUnits: receipt.Amount.String(),
		Thought:   intent.Thought,
		Reply:     intent.Reply,
		TxHash:    receipt.TxHash.Hex(),
		Wallet:    receipt.From.Hex(),
		Pool:      receipt.To.Hex(),
		CreatedAt: time.Now().Unix(),
	}
	a.remember(req.Utterance, result.Reply, result.CreatedAt)
	return result, nil
}

// resolveIntent 调用大模型把自然语言解析为结构化意图。
func (a *Agent) resolveIntent(ctx context.Context, req TaskRequest) (*llm.StakeIntent, error) {
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	intent, err := a.llmClient.ResolveStake(llmCtx, llm.Request{
		Utterance: req.Utterance,
		Chains:    a.chains.Chains(),
		Tokens:    a.tokens.Symbols(a.defaultOrRequestedChain(req)),
		History:   a.recentHistory(),
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "意图解析超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "意图解析失败")
	}
	return intent, nil
}

func (a *Agent) defaultOrRequestedChain(req TaskRequest) string {
	if chain := strings.TrimSpace(req.Chain); chain != "" {
		return chain
	}
	return a.chains.DefaultChain()
}

// remember 把一次成功的请求追加到内存历史里，超过深度限制时淘汰最旧的。
func (a *Agent) remember(utterance, reply string, createdAt int64) {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	a.history = append(a.history, llm.HistoryEntry{
		Utterance: utterance,
		Reply:     reply,
		CreatedAt: createdAt,
	})
	if len(a.history) > a.memoryDepth {
		a.history = a.history[len(a.history)-a.memoryDepth:]
	}
}

func (a *Agent) recentHistory() []llm.HistoryEntry {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	out := make([]llm.HistoryEntry, len(a.history))
	copy(out, a.history)
	return out
}
