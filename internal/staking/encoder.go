package staking

import (
	"fmt"
	"math/big"
	"strings"

	xerrors "AgentStake-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ABI fragments，只保留流水线会编码的函数。
const (
	erc20ABI = `[
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	lendingPoolABI = `[
		{"name":"supply","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]}
	]`
)

// Encoder 将质押参数确定性地编码为调用数据。纯转换，无任何副作用。
type Encoder struct {
	erc20 abi.ABI
	pool  abi.ABI
}

// NewEncoder 解析内置 ABI 并返回编码器。
func NewEncoder() (*Encoder, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncodingFailure, err, "解析 ERC-20 ABI 失败")
	}
	pool, err := abi.JSON(strings.NewReader(lendingPoolABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncodingFailure, err, "解析借贷池 ABI 失败")
	}
	return &Encoder{erc20: erc20, pool: pool}, nil
}

// EncodeApprove 编码 ERC-20 approve(spender, amount)。
func (e *Encoder) EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	if err := checkUint256(amount); err != nil {
		return nil, err
	}
	return e.pack(e.erc20, "approve", spender, amount)
}

// EncodeSupply 编码借贷池 supply(asset, amount, onBehalfOf, referralCode)。
func (e *Encoder) EncodeSupply(asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) ([]byte, error) {
	if err := checkUint256(amount); err != nil {
		return nil, err
	}
	return e.pack(e.pool, "supply", asset, amount, onBehalfOf, referralCode)
}

func (e *Encoder) pack(contract abi.ABI, method string, args ...any) ([]byte, error) {
	if _, ok := contract.Methods[method]; !ok {
		return nil, xerrors.New(xerrors.CodeEncodingFailure, fmt.Sprintf("ABI 中不存在函数 %s", method))
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncodingFailure, err, fmt.Sprintf("编码 %s 调用失败", method))
	}
	return data, nil
}

// checkUint256 确保金额能放进 uint256。abi 包对超宽的 big.Int 会静默截断，
// 这里必须先行拒绝，截断后的金额会悄悄偏离用户意图。
func checkUint256(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeEncodingFailure, "金额必须为正整数")
	}
	if amount.BitLen() > 256 {
		return xerrors.New(xerrors.CodeEncodingFailure, "金额超出 uint256 可表示范围")
	}
	return nil
}
