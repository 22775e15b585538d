package agent

import "testing"

func TestExtractSwapAmount(t *testing.T) {
	cases := []struct {
		name    string
		goal    string
		balance string
		want    string
	}{
		{name: "swap phrase", goal: "swap 0.5 NEAR to a stable token", balance: "10", want: "0.5"},
		{name: "maximum wins over later mentions", goal: "buy 3 near of BTC, maximum 2 near", balance: "10", want: "2"},
		{name: "max phrase", goal: "spend max 1.25 NEAR on memecoins", balance: "5", want: "1.25"},
		{name: "near token phrase", goal: "use 4 near tokens for ETH", balance: "5", want: "4"},
		{name: "bare amount", goal: "trade 7 near", balance: "8", want: "7"},
		{name: "each pattern uses its first match", goal: "maximum 3 near, keep it safe with 1 near", balance: "2", want: DefaultSwapAmount},
		{name: "all over balance", goal: "swap 20 near now", balance: "2", want: DefaultSwapAmount},
		{name: "no amount", goal: "buy something stable", balance: "10", want: DefaultSwapAmount},
		{name: "unparsable balance", goal: "swap 1 near", balance: "n/a", want: DefaultSwapAmount},
		{name: "leading decimal point", goal: "swap .5 near", balance: "10", want: "0.5"},
		{name: "bare leading decimal point", goal: "put .25 near into ETH", balance: "10", want: "0.25"},
		{name: "decimal with integer part", goal: "swap 1.5 near", balance: "10", want: "1.5"},
		{name: "equal to balance", goal: "swap 2 near", balance: "2", want: "2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractSwapAmount(tc.goal, tc.balance); got != tc.want {
				t.Fatalf("ExtractSwapAmount(%q, %q) = %q, want %q", tc.goal, tc.balance, got, tc.want)
			}
		})
	}
}
