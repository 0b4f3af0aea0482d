package tokens

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Provider 定义代币元数据检索的通用接口。
type Provider interface {
	Resolve(chain, symbol string) (Token, bool)
	Symbols(chain string) []string
}

// Token 描述一种可质押的 ERC-20 代币。
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// definitions 对应 configs/tokens.yaml 的结构。
type definitions struct {
	Chains map[string]map[string]tokenEntry `yaml:"chains"`
}

type tokenEntry struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// StaticProvider 通过加载 YAML 文件提供静态代币注册表。
type StaticProvider struct {
	// chain -> 大写 symbol -> token
	tokens map[string]map[string]Token
}

// LoadStaticProvider 从 YAML 文件加载代币条目。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("代币注册表文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析代币注册表路径失败: %w", err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取代币注册表失败: %w", err)
	}

	var defs definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析代币注册表失败: %w", err)
	}

	tokens := make(map[string]map[string]Token, len(defs.Chains))
	for chain, entries := range defs.Chains {
		perChain := make(map[string]Token, len(entries))
		for symbol, entry := range entries {
			if !common.IsHexAddress(entry.Address) {
				return nil, fmt.Errorf("链 %s 上代币 %s 的地址不合法: %q", chain, symbol, entry.Address)
			}
			normalized := strings.ToUpper(strings.TrimSpace(symbol))
			perChain[normalized] = Token{
				Symbol:   normalized,
				Address:  common.HexToAddress(entry.Address),
				Decimals: entry.Decimals,
			}
		}
		tokens[chain] = perChain
	}

	return &StaticProvider{tokens: tokens}, nil
}

// Resolve 按链名和代币符号查找代币，符号匹配不区分大小写。
func (p *StaticProvider) Resolve(chain, symbol string) (Token, bool) {
	if p == nil {
		return Token{}, false
	}
	perChain, ok := p.tokens[chain]
	if !ok {
		return Token{}, false
	}
	token, ok := perChain[strings.ToUpper(strings.TrimSpace(symbol))]
	return token, ok
}

// Symbols 返回某条链上所有可质押代币的符号，供意图解析提示使用。
func (p *StaticProvider) Symbols(chain string) []string {
	if p == nil {
		return nil
	}
	perChain, ok := p.tokens[chain]
	if !ok {
		return nil
	}
	symbols := make([]string, 0, len(perChain))
	for symbol := range perChain {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// ToBaseUnits 把人类可读的十进制数量换算为代币最小单位。
// 小数位数超过代币精度按错误处理，而不是静默截断。
func (t Token) ToBaseUnits(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("数量为空")
	}

	whole, frac := amount, ""
	if idx := strings.IndexByte(amount, '.'); idx >= 0 {
		whole, frac = amount[:idx], amount[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(t.Decimals) {
		return nil, fmt.Errorf("数量 %s 超过代币 %s 的精度 %d", amount, t.Symbol, t.Decimals)
	}

	digits := whole + frac + strings.Repeat("0", int(t.Decimals)-len(frac))
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("数量 %q 不是合法的十进制数", amount)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("数量 %s 不能为负", amount)
	}
	return value, nil
}

var _ Provider = (*StaticProvider)(nil)
