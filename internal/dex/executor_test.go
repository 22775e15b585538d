package dex

import (
	"context"
	"encoding/json"
	"testing"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/near"

	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, chain *fakeChain) (*Executor, string) {
	t.Helper()
	key, err := near.GenerateKeyPair()
	require.NoError(t, err)

	liq, err := NewLiquidity(chain, "dex.testnet")
	require.NoError(t, err)
	estimator := NewEstimator(chain, liq, "dex.testnet", 0)
	builder := NewBuilder("dex.testnet", "wrap.testnet", nil)
	exec := NewExecutor(chain, estimator, builder, "wrap.testnet",
		WithPolling(30, 0),
		WithSettleDelay(0),
	)
	return exec, key.SecretKeyString()
}

func swappablePools() []Pool {
	pools := poolsWithout(5)
	pools[3] = Pool{TokenAccountIDs: []string{"wrap.testnet", "usdt.testnet"}}
	return pools
}

func TestExecuteSwapUsesActualWrappedBalance(t *testing.T) {
	chain := &fakeChain{
		pools:   swappablePools(),
		balance: "10000000000000000000000000",
		wrapped: "499000000000000000000000",
		quote:   "1000",
	}
	exec, key := newTestExecutor(t, chain)

	result := exec.ExecuteSwap(context.Background(), "agent.testnet", key, "usdt.testnet", "0.5")
	require.True(t, result.Success, result.Error)
	require.Equal(t, []string{"tx-1", "tx-2", "tx-3"}, result.Submitted)
	require.Equal(t, "tx-3", result.TransactionHash)
	require.Equal(t, "499000000000000000000000", result.AmountIn)
	require.Equal(t, "990", result.Estimate.MinimumOut)

	require.Len(t, chain.sent, 3)
	require.Equal(t, "near_deposit", chain.sent[0].Action.MethodName)
	require.Equal(t, "500000000000000000000000", chain.sent[0].Action.Deposit)
	require.Equal(t, "storage_deposit", chain.sent[1].Action.MethodName)
	require.Equal(t, "usdt.testnet", chain.sent[1].Receiver)
	require.Equal(t, "ft_transfer_call", chain.sent[2].Action.MethodName)

	var transfer map[string]string
	require.NoError(t, json.Unmarshal(chain.sent[2].Action.Args, &transfer))
	require.Equal(t, "499000000000000000000000", transfer["amount"])

	// wrap and storage registration are polled, the final swap is not
	require.Equal(t, 2, chain.statusCalls)
}

func TestExecuteSwapTimesOutWaitingForFinality(t *testing.T) {
	chain := &fakeChain{
		pools:      swappablePools(),
		balance:    "10000000000000000000000000",
		wrapped:    "500000000000000000000000",
		quote:      "1000",
		neverFinal: true,
	}
	exec, key := newTestExecutor(t, chain)

	result := exec.ExecuteSwap(context.Background(), "agent.testnet", key, "usdt.testnet", "0.5")
	require.False(t, result.Success)
	require.Contains(t, result.Error, "did not finalize in time")
	require.Equal(t, CodeNotFinalized, xerrors.CodeOf(result.Err))
	require.ErrorIs(t, result.Err, ErrNotFinalized)
	require.Equal(t, 30, chain.statusCalls)
	require.Equal(t, []string{"tx-1"}, result.Submitted)
}

func TestExecuteSwapBalanceGuard(t *testing.T) {
	chain := &fakeChain{
		pools:   swappablePools(),
		balance: "500000000000000000000000",
		quote:   "1000",
	}
	exec, key := newTestExecutor(t, chain)

	result := exec.ExecuteSwap(context.Background(), "agent.testnet", key, "usdt.testnet", "0.5")
	require.False(t, result.Success)
	require.Equal(t, CodeInsufficientBalance, xerrors.CodeOf(result.Err))
	require.Empty(t, chain.sent)
}

func TestExecuteSwapLeavesWrappedFundsOnMissingPool(t *testing.T) {
	chain := &fakeChain{
		pools:   poolsWithout(5),
		balance: "10000000000000000000000000",
		wrapped: "500000000000000000000000",
		quote:   "1000",
	}
	exec, key := newTestExecutor(t, chain)

	result := exec.ExecuteSwap(context.Background(), "agent.testnet", key, "usdt.testnet", "0.5")
	require.False(t, result.Success)
	require.Equal(t, CodeNoPool, xerrors.CodeOf(result.Err))
	require.ErrorIs(t, result.Err, ErrNoPool)
	require.Equal(t, []string{"tx-1"}, result.Submitted)
}

func TestExecuteSwapRejectsInvalidKey(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakeChain{})
	result := exec.ExecuteSwap(context.Background(), "agent.testnet", "not-a-key", "usdt.testnet", "0.5")
	require.False(t, result.Success)
	require.Equal(t, near.CodeInvalidKey, xerrors.CodeOf(result.Err))
}
