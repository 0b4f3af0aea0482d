package agent

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentStake-Chain/internal/errors"
	"AgentStake-Chain/internal/llm"
	"AgentStake-Chain/internal/staking"
	"AgentStake-Chain/internal/tokens"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testWallet = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testPool   = common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	testUSDC   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

type stubLLM struct {
	intent *llm.StakeIntent
	err    error
	wait   time.Duration
}

func (s *stubLLM) ResolveStake(ctx context.Context, req llm.Request) (*llm.StakeIntent, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.intent, nil
}

type stubHandle struct {
	submitErr error
	submits   atomic.Int64
	inFlight  atomic.Int64
	overlaps  atomic.Int64
}

func (h *stubHandle) Address() common.Address { return testWallet }

func (h *stubHandle) Submit(ctx context.Context, batch staking.Batch, opts staking.SubmitOptions) (common.Hash, error) {
	if h.inFlight.Add(1) > 1 {
		h.overlaps.Add(1)
	}
	time.Sleep(time.Millisecond)
	h.inFlight.Add(-1)
	h.submits.Add(1)
	if h.submitErr != nil {
		return common.Hash{}, h.submitErr
	}
	return common.HexToHash("0xabc123"), nil
}

func (h *stubHandle) Close() {}

type stubAcquirer struct {
	handle *stubHandle
}

func (a *stubAcquirer) Acquire(ctx context.Context) (staking.WalletHandle, error) {
	return a.handle, nil
}

type stubDirectory struct {
	services map[string]*staking.Service
	chainIDs map[string]uint64
	def      string
}

func (d *stubDirectory) DefaultChain() string { return d.def }

func (d *stubDirectory) Service(name string) (*staking.Service, bool) {
	s, ok := d.services[name]
	return s, ok
}

func (d *stubDirectory) ChainID(name string) (uint64, bool) {
	id, ok := d.chainIDs[name]
	return id, ok
}

func (d *stubDirectory) Chains() []string {
	names := make([]string, 0, len(d.services))
	for name := range d.services {
		names = append(names, name)
	}
	return names
}

type stubTokens struct{}

func (stubTokens) Resolve(chain, symbol string) (tokens.Token, bool) {
	if symbol == "USDC" {
		return tokens.Token{Symbol: "USDC", Address: testUSDC, Decimals: 6}, true
	}
	return tokens.Token{}, false
}

func (stubTokens) Symbols(chain string) []string { return []string{"USDC"} }

func newTestAgent(t *testing.T, llmClient llm.Client, handle *stubHandle) *Agent {
	t.Helper()
	service, err := staking.NewService(
		staking.Deployment{Wallet: testWallet, Pool: testPool},
		&stubAcquirer{handle: handle},
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	directory := &stubDirectory{
		services: map[string]*staking.Service{"mainnet": service},
		chainIDs: map[string]uint64{"mainnet": 1},
		def:      "mainnet",
	}
	return New(llmClient, directory, stubTokens{})
}

func TestExecuteSuccess(t *testing.T) {
	handle := &stubHandle{}
	llmClient := &stubLLM{intent: &llm.StakeIntent{
		Token: "USDC", Amount: "250.5", Thought: "分析", Reply: "已提交",
	}}
	ag := newTestAgent(t, llmClient, handle)

	result, err := ag.Execute(context.Background(), TaskRequest{Utterance: "帮我质押 250.5 USDC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Token != "USDC" || result.Amount != "250.5" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.BaseUnits != "250500000" {
		t.Fatalf("unexpected base units: %s", result.BaseUnits)
	}
	if result.ChainID != 1 || result.Chain != "mainnet" {
		t.Fatalf("unexpected chain: %+v", result)
	}
	if result.TxHash == "" || result.Reply != "已提交" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := handle.submits.Load(); got != 1 {
		t.Fatalf("expected exactly one submission, got %d", got)
	}
}

func TestExecuteLLMTimeout(t *testing.T) {
	llmClient := &stubLLM{wait: 50 * time.Millisecond}
	handle := &stubHandle{}
	service, err := staking.NewService(
		staking.Deployment{Wallet: testWallet, Pool: testPool},
		&stubAcquirer{handle: handle},
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	directory := &stubDirectory{
		services: map[string]*staking.Service{"mainnet": service},
		chainIDs: map[string]uint64{"mainnet": 1},
		def:      "mainnet",
	}
	ag := New(llmClient, directory, stubTokens{}, WithLLMTimeout(10*time.Millisecond))

	_, err = ag.Execute(context.Background(), TaskRequest{Utterance: "质押"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !stdErrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
	if got := handle.submits.Load(); got != 0 {
		t.Fatalf("timed-out resolution must not reach the chain, got %d submissions", got)
	}
}

func TestExecuteUnknownToken(t *testing.T) {
	handle := &stubHandle{}
	llmClient := &stubLLM{intent: &llm.StakeIntent{Token: "DOGE", Amount: "1"}}
	ag := newTestAgent(t, llmClient, handle)

	_, err := ag.Execute(context.Background(), TaskRequest{Utterance: "质押 DOGE"})
	if err == nil {
		t.Fatal("expected unknown-token error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if got := handle.submits.Load(); got != 0 {
		t.Fatalf("unknown token must not reach the chain, got %d submissions", got)
	}
}

func TestExecuteRejectsChainWithoutID(t *testing.T) {
	handle := &stubHandle{}
	service, err := staking.NewService(
		staking.Deployment{Wallet: testWallet, Pool: testPool},
		&stubAcquirer{handle: handle},
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	// 目录知道服务但没有链 ID 定义，回执绝不能带着 ChainID=0 出去。
	directory := &stubDirectory{
		services: map[string]*staking.Service{"mainnet": service},
		chainIDs: map[string]uint64{},
		def:      "mainnet",
	}
	llmClient := &stubLLM{intent: &llm.StakeIntent{Token: "USDC", Amount: "1"}}
	ag := New(llmClient, directory, stubTokens{})

	_, err = ag.Execute(context.Background(), TaskRequest{Utterance: "质押 1 USDC"})
	if err == nil {
		t.Fatal("expected missing chain id error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	if got := handle.submits.Load(); got != 0 {
		t.Fatalf("missing chain id must not reach the chain, got %d submissions", got)
	}
}

func TestExecutePreservesExecutionErrorCode(t *testing.T) {
	cause := xerrors.New(xerrors.CodeExecutionFailure, "交易已上链但执行回滚")
	handle := &stubHandle{submitErr: cause}
	llmClient := &stubLLM{intent: &llm.StakeIntent{Token: "USDC", Amount: "1"}}
	ag := newTestAgent(t, llmClient, handle)

	_, err := ag.Execute(context.Background(), TaskRequest{Utterance: "质押 1 USDC"})
	if err == nil {
		t.Fatal("expected execution error")
	}
	// 链上执行的错误必须原样向上传播，任务层依赖错误码判断可重试性。
	if !stdErrors.Is(err, cause) {
		t.Fatalf("execution error must propagate verbatim, got %v", err)
	}
	if xerrors.RetryableError(err) {
		t.Fatal("execution failures must not be marked retryable")
	}
}

func TestExecuteSerializesSameChain(t *testing.T) {
	handle := &stubHandle{}
	llmClient := &stubLLM{intent: &llm.StakeIntent{Token: "USDC", Amount: "1"}}
	ag := newTestAgent(t, llmClient, handle)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ag.Execute(context.Background(), TaskRequest{Utterance: "质押 1 USDC"}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := handle.overlaps.Load(); got != 0 {
		t.Fatalf("submissions on one chain must not overlap, observed %d overlaps", got)
	}
	if got := handle.submits.Load(); got != 8 {
		t.Fatalf("expected 8 submissions, got %d", got)
	}
}
