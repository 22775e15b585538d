package dex

import (
	"context"
	"fmt"
	"math/big"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/near"
)

// DefaultSlippageBps is the default slippage tolerance (1%).
const DefaultSlippageBps = 100

const bpsDenominator = 10_000

// PoolFinder locates a pool for a token pair.
type PoolFinder interface {
	FindPool(ctx context.Context, tokenA, tokenB string) (uint64, bool)
}

// Estimate is the quoted outcome of a swap.
type Estimate struct {
	PoolID      uint64 `json:"pool_id"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"`
	ExpectedOut string `json:"expected_out"`
	MinimumOut  string `json:"minimum_out"`
	SlippageBps int    `json:"slippage_bps"`
}

// Estimator quotes swaps through the exchange's get_return view.
type Estimator struct {
	chain       ViewCaller
	pools       PoolFinder
	dexContract string
	slippageBps int
}

// NewEstimator builds an estimator. A non-positive slippage falls back to
// DefaultSlippageBps.
func NewEstimator(chain ViewCaller, pools PoolFinder, dexContract string, slippageBps int) *Estimator {
	if slippageBps <= 0 || slippageBps >= bpsDenominator {
		slippageBps = DefaultSlippageBps
	}
	return &Estimator{chain: chain, pools: pools, dexContract: dexContract, slippageBps: slippageBps}
}

// EstimateSwap quotes an exact-input swap of amountIn (smallest unit).
func (e *Estimator) EstimateSwap(ctx context.Context, tokenIn, amountIn, tokenOut string) (*Estimate, error) {
	if tokenIn == tokenOut {
		return nil, xerrors.New(CodeInvalidSwap, "cannot swap a token for itself: "+tokenIn)
	}
	amount, err := near.NormalizeAmount(amountIn)
	if err != nil || !near.IsPositiveAmount(amount) {
		return nil, xerrors.New(CodeInvalidSwap, "swap amount must be positive: "+amountIn)
	}

	poolID, ok := e.pools.FindPool(ctx, tokenIn, tokenOut)
	if !ok {
		return nil, xerrors.New(CodeNoPool, fmt.Sprintf("no liquidity pool for %s -> %s", tokenIn, tokenOut))
	}

	var quoted string
	err = e.chain.CallView(ctx, e.dexContract, "get_return", map[string]any{
		"pool_id":   poolID,
		"token_in":  tokenIn,
		"amount_in": amount,
		"token_out": tokenOut,
	}, &quoted)
	if err != nil {
		return nil, err
	}
	expected, err := near.NormalizeAmount(quoted)
	if err != nil {
		return nil, err
	}
	if !near.IsPositiveAmount(expected) {
		return nil, xerrors.New(CodeInvalidSwap, fmt.Sprintf("pool %d quotes zero output for %s -> %s", poolID, tokenIn, tokenOut))
	}

	return &Estimate{
		PoolID:      poolID,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amount,
		ExpectedOut: expected,
		MinimumOut:  MinimumOutput(expected, e.slippageBps),
		SlippageBps: e.slippageBps,
	}, nil
}

// MinimumOutput applies the slippage tolerance with integer division.
func MinimumOutput(expected string, slippageBps int) string {
	value, ok := new(big.Int).SetString(expected, 10)
	if !ok {
		return "0"
	}
	value.Mul(value, big.NewInt(int64(bpsDenominator-slippageBps)))
	value.Quo(value, big.NewInt(bpsDenominator))
	return value.String()
}
