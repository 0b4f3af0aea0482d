package staking

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallKind 区分普通合约调用与委托调用。
type CallKind uint8

const (
	// KindCall 表示普通的 CALL。
	KindCall CallKind = iota
	// KindDelegateCall 表示 DELEGATECALL。质押流水线出于资产安全策略
	// 永远不会构造这种调用：委托调用会在钱包自身的代码上下文中执行，
	// 恶意目标可以借此接管钱包。
	KindDelegateCall
)

// Call 是批次中的一个调用项，构造完成后不再修改。
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
	Kind   CallKind
}

// Batch 是一组有序调用。顺序即语义：授权必须先于存入，消费方不得重排。
type Batch []Call

// NewStakeBatch 将编码好的授权与存入调用组装为一个两项批次，授权在前。
// 所有调用都是普通调用且不携带原生币。批次每次请求都重新构建，绝不复用，
// 重放会造成重复授权或重复存入。
func NewStakeBatch(token, pool common.Address, approveData, supplyData []byte) Batch {
	return Batch{
		{
			Target: token,
			Value:  new(big.Int),
			Data:   approveData,
			Kind:   KindCall,
		},
		{
			Target: pool,
			Value:  new(big.Int),
			Data:   supplyData,
			Kind:   KindCall,
		},
	}
}
