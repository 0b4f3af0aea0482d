package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	xerrors "AgentStake-Chain/internal/errors"
	"AgentStake-Chain/internal/staking"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// 智能合约钱包的最小 ABI：批量执行与属主校验。
const walletABI = `[
	{"name":"executeBatch","type":"function","stateMutability":"payable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"}]}],"outputs":[]},
	{"name":"isOwner","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

const (
	opCall         uint8 = 0
	opDelegateCall uint8 = 1

	defaultPollInterval = 500 * time.Millisecond
)

// Config describes how to establish a smart-wallet session.
type Config struct {
	Name          string
	RPCURL        string
	WalletAddress common.Address
	// PrivateKeyHex 是钱包授权签名人的私钥，来自环境级密钥，
	// 绝不允许写入日志或任何响应。
	PrivateKeyHex string
	// ExpectedChainID 非零时会与节点返回的链 ID 交叉校验，防止 RPC 指错网络。
	ExpectedChainID uint64
	PollInterval    time.Duration
	Notes           string
}

// Backend mirrors the subset of ethclient methods the wallet session needs,
// so tests can substitute a fake network.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// walletCall 与 executeBatch 的 tuple 组件一一对应。
type walletCall struct {
	Target    common.Address
	Value     *big.Int
	Data      []byte
	Operation uint8
}

// Wallet 是绑定到单个智能合约钱包的活动会话，实现 staking.WalletHandle。
// 会话按执行建立，不跨请求复用；同一钱包地址上的并发提交必须由调用方串行化。
type Wallet struct {
	name         string
	wallet       common.Address
	key          *ecdsa.PrivateKey
	signer       common.Address
	chainID      *big.Int
	backend      Backend
	contractABI  abi.ABI
	rpcClient    *gethrpc.Client
	pollInterval time.Duration
}

// Acquirer 按配置建立钱包会话，实现 staking.WalletAcquirer。
type Acquirer struct {
	cfg Config
}

// NewAcquirer 校验配置并返回会话获取器。连接在 Acquire 时才真正建立。
func NewAcquirer(cfg Config) (*Acquirer, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 RPC 地址")
	}
	if cfg.WalletAddress == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置钱包合约地址")
	}
	if strings.TrimSpace(cfg.PrivateKeyHex) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供签名凭证")
	}
	return &Acquirer{cfg: cfg}, nil
}

// Acquire 建立一次钱包会话：连接节点、解析签名凭证并校验其在钱包上的授权。
func (a *Acquirer) Acquire(ctx context.Context) (staking.WalletHandle, error) {
	rpcClient, err := gethrpc.DialContext(ctx, strings.TrimSpace(a.cfg.RPCURL))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnectionFailure, err, "连接节点失败")
	}

	eth := ethclient.NewClient(rpcClient)
	wallet, err := newWallet(ctx, a.cfg, eth, rpcClient)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	return wallet, nil
}

func newWallet(ctx context.Context, cfg Config, backend Backend, rpcClient *gethrpc.Client) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnectionFailure, err, "解析签名凭证失败")
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnectionFailure, err, "获取链 ID 失败")
	}
	if cfg.ExpectedChainID != 0 && chainID.Uint64() != cfg.ExpectedChainID {
		return nil, xerrors.New(xerrors.CodeConnectionFailure,
			fmt.Sprintf("节点返回链 ID %d，与配置的 %d 不一致", chainID.Uint64(), cfg.ExpectedChainID))
	}

	contractABI, err := abi.JSON(strings.NewReader(walletABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncodingFailure, err, "解析钱包 ABI 失败")
	}

	w := &Wallet{
		name:         cfg.Name,
		wallet:       cfg.WalletAddress,
		key:          key,
		signer:       signer,
		chainID:      chainID,
		backend:      backend,
		contractABI:  contractABI,
		rpcClient:    rpcClient,
		pollInterval: cfg.PollInterval,
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}

	if err := w.checkAuthorized(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// NewWalletWithBackend wires a wallet session over an injected backend. It is
// used by tests and skips nothing: the owner check still runs against the
// provided backend.
func NewWalletWithBackend(ctx context.Context, cfg Config, backend Backend) (*Wallet, error) {
	return newWallet(ctx, cfg, backend, nil)
}

// checkAuthorized 通过 isOwner 视图校验签名人是否被钱包授权。
func (w *Wallet) checkAuthorized(ctx context.Context) error {
	data, err := w.contractABI.Pack("isOwner", w.signer)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEncodingFailure, err, "编码 isOwner 调用失败")
	}
	raw, err := w.backend.CallContract(ctx, gethcore.CallMsg{To: &w.wallet, Data: data}, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConnectionFailure, err, "查询钱包属主失败")
	}
	out, err := w.contractABI.Methods["isOwner"].Outputs.Unpack(raw)
	if err != nil || len(out) != 1 {
		return xerrors.Wrap(xerrors.CodeConnectionFailure, err, "解析钱包属主结果失败")
	}
	authorized, ok := out[0].(bool)
	if !ok || !authorized {
		return xerrors.New(xerrors.CodeConnectionFailure,
			fmt.Sprintf("签名人 %s 未被钱包 %s 授权", w.signer, w.wallet))
	}
	return nil
}

// Address 返回钱包合约地址。
func (w *Wallet) Address() common.Address {
	return w.wallet
}

// ChainID 返回会话实际连接到的网络 ID，供调用方做链一致性交叉校验。
func (w *Wallet) ChainID() uint64 {
	if w.chainID == nil {
		return 0
	}
	return w.chainID.Uint64()
}

// Submit 将整个批次包装为一笔 executeBatch 交易：模拟估气、签名、广播并
// 等待打包。所有调用要么全部成功要么全部回滚。任何一步失败都原样上抛，
// 不做内部重试——已签名发出的提案可能稍后被打包，重试会造成重复提交。
func (w *Wallet) Submit(ctx context.Context, batch staking.Batch, opts staking.SubmitOptions) (common.Hash, error) {
	if len(batch) == 0 {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "批次不能为空")
	}

	calls := make([]walletCall, 0, len(batch))
	for i, call := range batch {
		op := opCall
		if call.Kind == staking.KindDelegateCall {
			if opts.AtomicCallsOnly {
				return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument,
					fmt.Sprintf("批次第 %d 项是委托调用，原子批次只允许普通调用", i))
			}
			op = opDelegateCall
		}
		value := call.Value
		if value == nil {
			value = new(big.Int)
		}
		calls = append(calls, walletCall{
			Target:    call.Target,
			Value:     value,
			Data:      call.Data,
			Operation: op,
		})
	}

	data, err := w.contractABI.Pack("executeBatch", calls)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeEncodingFailure, err, "编码 executeBatch 调用失败")
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.signer)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "获取 nonce 失败")
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "获取 gas 价格失败")
	}

	// 估气即模拟执行：任何一个子调用会回滚，这里都会带着节点的原因串失败，
	// 批次不会有任何部分效果上链。
	gasLimit, err := w.backend.EstimateGas(ctx, gethcore.CallMsg{
		From: w.signer,
		To:   &w.wallet,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "批次模拟执行失败")
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &w.wallet,
		Value:    new(big.Int),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "签名交易失败")
	}

	if err := w.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "广播交易失败")
	}

	receipt, err := w.waitMined(ctx, signedTx.Hash())
	if err != nil {
		return common.Hash{}, err
	}
	if receipt.Status == coretypes.ReceiptStatusFailed {
		return common.Hash{}, xerrors.New(xerrors.CodeExecutionFailure,
			fmt.Sprintf("交易 %s 已上链但执行回滚", signedTx.Hash()))
	}
	return signedTx.Hash(), nil
}

// waitMined 轮询回执直到交易被打包。提案发出后无法撤回，ctx 取消只是
// 停止等待，交易仍可能在稍后落块。
func (w *Wallet) waitMined(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			// 交易可能仍会落块，这个超时不允许自动重试。
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(),
				fmt.Sprintf("等待交易 %s 打包超时，交易可能仍会落块", hash),
				xerrors.WithRetryable(false), xerrors.WithAlert(true))
		case <-ticker.C:
		}
	}
}

// Close 释放会话持有的网络连接。
func (w *Wallet) Close() {
	if w.rpcClient != nil {
		w.rpcClient.Close()
		w.rpcClient = nil
	}
}

var _ staking.WalletHandle = (*Wallet)(nil)
var _ staking.WalletAcquirer = (*Acquirer)(nil)
