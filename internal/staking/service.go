package staking

import (
	"context"
	"math/big"

	xerrors "AgentStake-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// SubmitOptions 控制批次提交方式。
type SubmitOptions struct {
	// AtomicCallsOnly 要求把整个批次包装成单个链上交易，要么全部成功
	// 要么全部回滚，避免出现已授权未存入的中间状态。
	AtomicCallsOnly bool
}

// WalletHandle 是绑定到单个智能合约钱包和签名凭证的活动会话。
// Submit 会阻塞直到交易被打包或失败，超时控制交给调用方的 ctx；
// 一旦提案被签名发出就无法撤回。内部不做任何重试。
type WalletHandle interface {
	Address() common.Address
	Submit(ctx context.Context, batch Batch, opts SubmitOptions) (common.Hash, error)
	Close()
}

// WalletAcquirer 按需建立钱包会话。会话不跨请求复用，每次执行重新获取。
type WalletAcquirer interface {
	Acquire(ctx context.Context) (WalletHandle, error)
}

// Deployment 是部署期固定的合约地址，作为编排器的构造参数注入，
// 而不是出现在请求字段里。
type Deployment struct {
	Wallet common.Address
	Pool   common.Address
}

// Service 是质押流水线的公共入口，串联编码、组批与钱包执行。
//
// 同一钱包地址上的并发 Stake 调用在协议层是不安全的（nonce 竞争），
// 本层不提供互斥，调用方必须按钱包地址串行化（见 agent 层的钱包锁）。
type Service struct {
	deployment Deployment
	encoder    *Encoder
	acquirer   WalletAcquirer
}

// NewService 构造质押编排器。
func NewService(deployment Deployment, acquirer WalletAcquirer) (*Service, error) {
	if deployment.Wallet == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置钱包合约地址")
	}
	if deployment.Pool == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置借贷池地址")
	}
	if acquirer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置钱包会话获取器")
	}
	encoder, err := NewEncoder()
	if err != nil {
		return nil, err
	}
	return &Service{deployment: deployment, encoder: encoder, acquirer: acquirer}, nil
}

// Deployment 返回注入的部署地址。
func (s *Service) Deployment() Deployment {
	return s.deployment
}

// Stake 执行完整流水线：编码授权与存入、组装批次、建立钱包会话、原子提交。
// 任何一步失败都会中止整个操作，错误原样向上传播，绝不返回部分回执，
// 本层也不做任何自动重试。
func (s *Service) Stake(ctx context.Context, req StakeRequest) (*ExecutionReceipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	approveData, err := s.encoder.EncodeApprove(s.deployment.Pool, req.Amount)
	if err != nil {
		return nil, err
	}
	supplyData, err := s.encoder.EncodeSupply(req.Token, req.Amount, s.deployment.Wallet, 0)
	if err != nil {
		return nil, err
	}

	batch := NewStakeBatch(req.Token, s.deployment.Pool, approveData, supplyData)

	handle, err := s.acquirer.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	hash, err := handle.Submit(ctx, batch, SubmitOptions{AtomicCallsOnly: true})
	if err != nil {
		return nil, err
	}

	return &ExecutionReceipt{
		TxHash:  hash,
		From:    s.deployment.Wallet,
		To:      s.deployment.Pool,
		Amount:  new(big.Int).Set(req.Amount),
		ChainID: req.ChainID,
	}, nil
}
