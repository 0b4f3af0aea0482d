package staking

import (
	"math/big"

	xerrors "AgentStake-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// StakeRequest 描述一次已解析完成的质押请求，金额为代币最小单位。
type StakeRequest struct {
	Token   common.Address
	Amount  *big.Int
	ChainID uint64
}

// Validate 校验请求的基本不变量。链是否受支持由上层的链注册表负责判断。
func (r StakeRequest) Validate() error {
	if r.Token == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "代币地址不能为空")
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "质押金额必须大于零")
	}
	if r.ChainID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "链 ID 不能为零")
	}
	return nil
}

// ExecutionReceipt 是一次批次成功上链后的执行回执。
// ChainID 直接回显请求中的链 ID，而非从网络重新读取；请求链与钱包实际
// 所在网络不一致时这里不会发现，调用方如需强校验应比对钱包句柄的网络 ID。
type ExecutionReceipt struct {
	TxHash  common.Hash    `json:"tx_hash"`
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Amount  *big.Int       `json:"amount"`
	ChainID uint64         `json:"chain_id"`
}
