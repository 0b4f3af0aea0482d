package tokens

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
chains:
  mainnet:
    usdc:
      address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
      decimals: 6
    WETH:
      address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
      decimals: 18
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestLoadStaticProvider(t *testing.T) {
	provider, err := LoadStaticProvider(writeSample(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	token, ok := provider.Resolve("mainnet", "usdc")
	if !ok {
		t.Fatal("expected USDC on mainnet")
	}
	if token.Symbol != "USDC" || token.Decimals != 6 {
		t.Fatalf("unexpected token: %+v", token)
	}

	// 符号匹配不区分大小写。
	if _, ok := provider.Resolve("mainnet", "weth"); !ok {
		t.Fatal("symbol lookup must be case-insensitive")
	}
	if _, ok := provider.Resolve("sepolia", "USDC"); ok {
		t.Fatal("unknown chain must not resolve")
	}

	if symbols := provider.Symbols("mainnet"); len(symbols) != 2 {
		t.Fatalf("unexpected symbols: %v", symbols)
	}
}

func TestLoadStaticProviderRejectsBadAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	bad := "chains:\n  mainnet:\n    usdc:\n      address: \"not-an-address\"\n      decimals: 6\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if _, err := LoadStaticProvider(path); err == nil {
		t.Fatal("malformed address must be rejected")
	}
}

func TestToBaseUnits(t *testing.T) {
	usdc := Token{Symbol: "USDC", Decimals: 6}

	cases := []struct {
		amount  string
		want    string
		wantErr bool
	}{
		{amount: "250.5", want: "250500000"},
		{amount: "1", want: "1000000"},
		{amount: "0.000001", want: "1"},
		{amount: ".5", want: "500000"},
		{amount: "0.0000001", wantErr: true}, // 超过精度
		{amount: "-5", wantErr: true},
		{amount: "abc", wantErr: true},
		{amount: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := usdc.ToBaseUnits(tc.amount)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("amount %q: expected error, got %v", tc.amount, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("amount %q: unexpected error: %v", tc.amount, err)
		}
		if got.String() != tc.want {
			t.Fatalf("amount %q: got %s, want %s", tc.amount, got, tc.want)
		}
	}
}
