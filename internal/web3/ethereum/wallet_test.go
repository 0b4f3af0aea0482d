package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	xerrors "AgentStake-Chain/internal/errors"
	"AgentStake-Chain/internal/staking"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// 测试用私钥，无任何真实资产。
const testKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	testWalletAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testTokenAddr  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	testPoolAddr   = common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
)

type fakeBackend struct {
	chainID       *big.Int
	ownerOK       bool
	estimateErr   error
	sendErr       error
	receiptStatus uint64

	ownerQueries int
	estimates    int
	sends        int
	lastSent     *coretypes.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:       big.NewInt(1),
		ownerOK:       true,
		receiptStatus: coretypes.ReceiptStatusSuccessful,
	}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return b.chainID, nil
}

func (b *fakeBackend) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	b.ownerQueries++
	word := make([]byte, 32)
	if b.ownerOK {
		word[31] = 1
	}
	return word, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	b.estimates++
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 300_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sends++
	b.lastSent = tx
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	return &coretypes.Receipt{Status: b.receiptStatus, TxHash: hash}, nil
}

func testConfig() Config {
	return Config{
		Name:          "testnet",
		WalletAddress: testWalletAddr,
		PrivateKeyHex: testKeyHex,
		PollInterval:  time.Millisecond,
	}
}

func testBatch(t *testing.T) staking.Batch {
	t.Helper()
	encoder, err := staking.NewEncoder()
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	amount := big.NewInt(1_000_000000)
	approveData, err := encoder.EncodeApprove(testPoolAddr, amount)
	if err != nil {
		t.Fatalf("encode approve: %v", err)
	}
	supplyData, err := encoder.EncodeSupply(testTokenAddr, amount, testWalletAddr, 0)
	if err != nil {
		t.Fatalf("encode supply: %v", err)
	}
	return staking.NewStakeBatch(testTokenAddr, testPoolAddr, approveData, supplyData)
}

func TestSubmitSuccess(t *testing.T) {
	backend := newFakeBackend()
	wallet, err := NewWalletWithBackend(context.Background(), testConfig(), backend)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	if backend.ownerQueries != 1 {
		t.Fatalf("expected one owner check, got %d", backend.ownerQueries)
	}

	hash, err := wallet.Submit(context.Background(), testBatch(t), staking.SubmitOptions{AtomicCallsOnly: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash == (common.Hash{}) {
		t.Fatal("expected non-zero tx hash")
	}
	if backend.sends != 1 {
		t.Fatalf("expected one broadcast, got %d", backend.sends)
	}
	if to := backend.lastSent.To(); to == nil || *to != testWalletAddr {
		t.Fatalf("transaction must target the wallet contract, got %v", to)
	}
	if wallet.ChainID() != 1 {
		t.Fatalf("unexpected chain id %d", wallet.ChainID())
	}
}

func TestSubmitRevertInSimulationHasNoPartialEffect(t *testing.T) {
	backend := newFakeBackend()
	// 模拟第二个子调用（supply）回滚：整个 executeBatch 估气失败。
	backend.estimateErr = errors.New("execution reverted: 26")

	wallet, err := NewWalletWithBackend(context.Background(), testConfig(), backend)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}

	_, err = wallet.Submit(context.Background(), testBatch(t), staking.SubmitOptions{AtomicCallsOnly: true})
	if err == nil {
		t.Fatal("expected execution error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeExecutionFailure {
		t.Fatalf("expected EXECUTION_FAILURE, got %v", err)
	}
	// 节点的回滚原因必须原样保留。
	if !errors.Is(err, backend.estimateErr) {
		t.Fatalf("underlying revert reason must be preserved: %v", err)
	}
	// 批次整体失败：没有任何交易被广播，授权也不会单独生效。
	if backend.sends != 0 {
		t.Fatalf("no transaction may be broadcast after a reverted simulation, got %d", backend.sends)
	}
}

func TestSubmitMinedButReverted(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptStatus = coretypes.ReceiptStatusFailed

	wallet, err := NewWalletWithBackend(context.Background(), testConfig(), backend)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}

	_, err = wallet.Submit(context.Background(), testBatch(t), staking.SubmitOptions{AtomicCallsOnly: true})
	if err == nil {
		t.Fatal("expected execution error for reverted receipt")
	}
	if xerrors.CodeOf(err) != xerrors.CodeExecutionFailure {
		t.Fatalf("expected EXECUTION_FAILURE, got %v", err)
	}
}

func TestSubmitRejectsDelegateCalls(t *testing.T) {
	backend := newFakeBackend()
	wallet, err := NewWalletWithBackend(context.Background(), testConfig(), backend)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}

	batch := testBatch(t)
	batch[1].Kind = staking.KindDelegateCall

	_, err = wallet.Submit(context.Background(), batch, staking.SubmitOptions{AtomicCallsOnly: true})
	if err == nil {
		t.Fatal("delegate calls must be rejected under atomic-only semantics")
	}
	if backend.estimates != 0 || backend.sends != 0 {
		t.Fatal("rejected batch must not reach the network")
	}
}

func TestAcquireRejectsUnauthorizedSigner(t *testing.T) {
	backend := newFakeBackend()
	backend.ownerOK = false

	_, err := NewWalletWithBackend(context.Background(), testConfig(), backend)
	if err == nil {
		t.Fatal("expected authorization failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConnectionFailure {
		t.Fatalf("expected CONNECTION_FAILURE, got %v", err)
	}
}

func TestAcquireRejectsChainIDMismatch(t *testing.T) {
	backend := newFakeBackend()
	backend.chainID = big.NewInt(11155111)

	cfg := testConfig()
	cfg.ExpectedChainID = 1

	_, err := NewWalletWithBackend(context.Background(), cfg, backend)
	if err == nil {
		t.Fatal("expected chain id mismatch failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConnectionFailure {
		t.Fatalf("expected CONNECTION_FAILURE, got %v", err)
	}
}

func TestNewAcquirerValidation(t *testing.T) {
	if _, err := NewAcquirer(Config{WalletAddress: testWalletAddr, PrivateKeyHex: testKeyHex}); err == nil {
		t.Fatal("missing RPC URL must be rejected")
	}
	if _, err := NewAcquirer(Config{RPCURL: "http://localhost:8545", PrivateKeyHex: testKeyHex}); err == nil {
		t.Fatal("missing wallet address must be rejected")
	}
	if _, err := NewAcquirer(Config{RPCURL: "http://localhost:8545", WalletAddress: testWalletAddr}); err == nil {
		t.Fatal("missing signing credential must be rejected")
	}
}
