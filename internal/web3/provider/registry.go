package provider

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"AgentStake-Chain/internal/config"
	"AgentStake-Chain/internal/staking"
	"AgentStake-Chain/internal/web3"
	"AgentStake-Chain/internal/web3/ethereum"

	"github.com/ethereum/go-ethereum/common"
)

// entry 把一条链的质押编排器和它的链 ID 绑在一起。
type entry struct {
	chainID uint64
	service *staking.Service
}

// Registry manages per-chain staking services keyed by human readable names.
// Wallet sessions are established lazily on each execution, so building the
// registry does not touch the network.
type Registry struct {
	defaultChain string
	entries      map[string]entry
}

// NewRegistry loads chain definitions and wires a staking service for every
// chain that has a deployment entry. The signing key is read once from the
// environment variable named in the staking config.
func NewRegistry(web3Cfg config.Web3Config, stakingCfg config.StakingConfig) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(web3Cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	signerKey := strings.TrimSpace(os.Getenv(stakingCfg.SignerKeyEnv))
	if signerKey == "" {
		return nil, fmt.Errorf("环境变量 %s 未提供签名私钥", stakingCfg.SignerKeyEnv)
	}

	entries := make(map[string]entry)
	for name, chain := range defs.Chains {
		deployment, ok := stakingCfg.Deployments[name]
		if !ok {
			// 没有部署条目的链只是可见但不可用，跳过。
			continue
		}
		wallet := common.HexToAddress(deployment.Wallet)
		pool := common.HexToAddress(deployment.Pool)
		if !common.IsHexAddress(deployment.Wallet) || !common.IsHexAddress(deployment.Pool) {
			return nil, fmt.Errorf("链 %s 的部署地址不合法: wallet=%q pool=%q",
				name, deployment.Wallet, deployment.Pool)
		}

		acquirer, err := ethereum.NewAcquirer(ethereum.Config{
			Name:            name,
			RPCURL:          chain.RPCURL,
			WalletAddress:   wallet,
			PrivateKeyHex:   signerKey,
			ExpectedChainID: chain.ChainID,
			Notes:           chain.Description,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		service, err := staking.NewService(staking.Deployment{Wallet: wallet, Pool: pool}, acquirer)
		if err != nil {
			return nil, fmt.Errorf("初始化链 %s 的质押服务失败: %w", name, err)
		}
		entries[name] = entry{chainID: chain.ChainID, service: service}
	}

	if len(entries) == 0 {
		return nil, errors.New("没有任何链同时具备 RPC 端点和部署条目")
	}

	defaultChain := web3Cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := entries[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, entries: entries}, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Service returns the staking service registered under the given chain name.
func (r *Registry) Service(name string) (*staking.Service, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.entries[name]
	return e.service, ok
}

// ChainID returns the configured chain id for a registered chain.
func (r *Registry) ChainID(name string) (uint64, bool) {
	if r == nil {
		return 0, false
	}
	e, ok := r.entries[name]
	return e.chainID, ok
}

// Chains returns the sorted list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
