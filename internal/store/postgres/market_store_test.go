package postgres

import (
	"math/big"
	"testing"

	"github.com/openwager/poolhouse/internal/domain"
)

func TestPoolsCodec(t *testing.T) {
	in := map[domain.Outcome]*big.Int{
		"home": big.NewInt(250),
		"draw": new(big.Int),
		"away": new(big.Int).Lsh(big.NewInt(1), 90), // beyond int64
	}

	data, err := encodePools(in)
	if err != nil {
		t.Fatalf("encodePools() error: %v", err)
	}

	out, err := decodePools(data)
	if err != nil {
		t.Fatalf("decodePools() error: %v", err)
	}

	if len(out) != len(in) {
		t.Fatalf("decoded %d outcomes, want %d", len(out), len(in))
	}
	for o, p := range in {
		got, ok := out[o]
		if !ok {
			t.Errorf("outcome %q missing after round trip", o)
			continue
		}
		if got.Cmp(p) != 0 {
			t.Errorf("outcome %q = %s, want %s", o, got, p)
		}
	}
}

func TestDecodePoolsRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "pools"},
		{"amount not a number", `{"home":"plenty"}`},
		{"amount with decimals", `{"home":"1.5"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodePools([]byte(tt.data)); err == nil {
				t.Errorf("decodePools(%q) = nil error, want failure", tt.data)
			}
		})
	}
}

func TestBigString(t *testing.T) {
	if got := bigString(nil); got != "0" {
		t.Errorf("bigString(nil) = %q, want \"0\"", got)
	}
	if got := bigString(big.NewInt(-7)); got != "-7" {
		t.Errorf("bigString(-7) = %q", got)
	}
}

func TestParseBig(t *testing.T) {
	x, err := parseBig("340282366920938463463374607431768211456") // 2^128
	if err != nil {
		t.Fatalf("parseBig() error: %v", err)
	}
	want := new(big.Int).Lsh(big.NewInt(1), 128)
	if x.Cmp(want) != 0 {
		t.Errorf("parseBig() = %s, want %s", x, want)
	}

	if _, err := parseBig("1e18"); err == nil {
		t.Error("parseBig(\"1e18\") should fail, scientific notation is not a base-unit amount")
	}
}
