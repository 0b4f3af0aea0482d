package staking

import (
	"context"
	"math/big"
	"testing"

	xerrors "AgentStake-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

type stubHandle struct {
	address    common.Address
	hash       common.Hash
	err        error
	submits    int
	lastBatch  Batch
	lastOpts   SubmitOptions
	closeCalls int
}

func (h *stubHandle) Address() common.Address { return h.address }

func (h *stubHandle) Submit(_ context.Context, batch Batch, opts SubmitOptions) (common.Hash, error) {
	h.submits++
	h.lastBatch = batch
	h.lastOpts = opts
	if h.err != nil {
		return common.Hash{}, h.err
	}
	return h.hash, nil
}

func (h *stubHandle) Close() { h.closeCalls++ }

type stubAcquirer struct {
	handle   *stubHandle
	err      error
	acquires int
}

func (a *stubAcquirer) Acquire(context.Context) (WalletHandle, error) {
	a.acquires++
	if a.err != nil {
		return nil, a.err
	}
	return a.handle, nil
}

func newTestService(t *testing.T, acquirer WalletAcquirer) *Service {
	t.Helper()
	svc, err := NewService(Deployment{Wallet: testWallet, Pool: testPool}, acquirer)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestStakeSuccess(t *testing.T) {
	hash := common.HexToHash("0xdeadbeef")
	handle := &stubHandle{address: testWallet, hash: hash}
	acquirer := &stubAcquirer{handle: handle}
	svc := newTestService(t, acquirer)

	req := StakeRequest{Token: testToken, Amount: big.NewInt(1_000_000000), ChainID: 1}
	receipt, err := svc.Stake(context.Background(), req)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	if receipt.TxHash != hash {
		t.Fatalf("unexpected tx hash: %s", receipt.TxHash)
	}
	if receipt.From != testWallet || receipt.To != testPool {
		t.Fatalf("receipt endpoints mismatch: %+v", receipt)
	}
	if receipt.Amount.Cmp(req.Amount) != 0 {
		t.Fatalf("receipt amount mismatch: %s", receipt.Amount)
	}
	if receipt.ChainID != 1 {
		t.Fatalf("receipt chain id mismatch: %d", receipt.ChainID)
	}

	if handle.submits != 1 {
		t.Fatalf("expected exactly one submit, got %d", handle.submits)
	}
	if !handle.lastOpts.AtomicCallsOnly {
		t.Fatal("batch must be submitted with atomic-only semantics")
	}
	if len(handle.lastBatch) != 2 {
		t.Fatalf("expected two calls in batch, got %d", len(handle.lastBatch))
	}
	if handle.lastBatch[0].Target != testToken || handle.lastBatch[1].Target != testPool {
		t.Fatal("approval must precede supply in the batch")
	}
	if handle.closeCalls != 1 {
		t.Fatalf("handle must be closed once, got %d", handle.closeCalls)
	}
}

func TestStakeAcquireFailureSkipsSubmit(t *testing.T) {
	handle := &stubHandle{address: testWallet}
	acquirer := &stubAcquirer{
		handle: handle,
		err:    xerrors.New(xerrors.CodeConnectionFailure, "节点不可达"),
	}
	svc := newTestService(t, acquirer)

	req := StakeRequest{Token: testToken, Amount: big.NewInt(42), ChainID: 1}
	receipt, err := svc.Stake(context.Background(), req)
	if err == nil {
		t.Fatal("expected acquisition error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConnectionFailure {
		t.Fatalf("expected CONNECTION_FAILURE, got %v", err)
	}
	if receipt != nil {
		t.Fatal("no partial receipt may be returned")
	}
	if handle.submits != 0 {
		t.Fatalf("submit must not be attempted, got %d calls", handle.submits)
	}
}

func TestStakeSubmitFailurePropagatesVerbatim(t *testing.T) {
	cause := xerrors.New(xerrors.CodeExecutionFailure, "execution reverted: 23")
	handle := &stubHandle{address: testWallet, err: cause}
	acquirer := &stubAcquirer{handle: handle}
	svc := newTestService(t, acquirer)

	req := StakeRequest{Token: testToken, Amount: big.NewInt(7), ChainID: 1}
	receipt, err := svc.Stake(context.Background(), req)
	if err == nil {
		t.Fatal("expected execution error")
	}
	if err != cause {
		t.Fatalf("error must propagate unmodified, got %v", err)
	}
	if receipt != nil {
		t.Fatal("no partial receipt may be returned")
	}
	if handle.submits != 1 {
		t.Fatalf("expected one submit attempt, got %d", handle.submits)
	}
	if handle.closeCalls != 1 {
		t.Fatal("handle must still be closed on failure")
	}
}

func TestStakeInvalidRequest(t *testing.T) {
	acquirer := &stubAcquirer{handle: &stubHandle{}}
	svc := newTestService(t, acquirer)

	cases := []StakeRequest{
		{Token: common.Address{}, Amount: big.NewInt(1), ChainID: 1},
		{Token: testToken, Amount: big.NewInt(0), ChainID: 1},
		{Token: testToken, Amount: nil, ChainID: 1},
		{Token: testToken, Amount: big.NewInt(1), ChainID: 0},
	}
	for i, req := range cases {
		if _, err := svc.Stake(context.Background(), req); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if acquirer.acquires != 0 {
		t.Fatalf("invalid requests must not reach acquisition, got %d", acquirer.acquires)
	}
}
