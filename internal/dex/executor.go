package dex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/near"
	"SwapAgent-Chain/pkg/logger"
)

const (
	DefaultPollAttempts = 30
	DefaultPollInterval = time.Second
	DefaultSettleDelay  = 2 * time.Second
	// DefaultGasReserve is kept aside for transaction fees (0.05 NEAR).
	DefaultGasReserve = "50000000000000000000000"
)

// Chain is the subset of the chain client used to execute swaps.
type Chain interface {
	ViewCaller
	GetBalanceYocto(ctx context.Context, accountID string) (string, error)
	SignAndSend(ctx context.Context, signer *near.KeyPair, signerID, receiverID string, actions ...near.FunctionCall) (string, error)
	TxStatus(ctx context.Context, txHash, senderID string) (*near.TxOutcome, error)
}

// Quoter estimates swaps.
type Quoter interface {
	EstimateSwap(ctx context.Context, tokenIn, amountIn, tokenOut string) (*Estimate, error)
}

// SwapResult is the outcome of ExecuteSwap. Submitted lists every
// transaction that reached the network, including the ones of a failed run.
type SwapResult struct {
	Success         bool      `json:"success"`
	TransactionHash string    `json:"transaction_hash,omitempty"`
	AmountIn        string    `json:"amount_in,omitempty"`
	Estimate        *Estimate `json:"estimate,omitempty"`
	Submitted       []string  `json:"submitted,omitempty"`
	Error           string    `json:"error,omitempty"`
	Err             error     `json:"-"`
}

// Executor runs the wrap, quote, register and swap sequence.
type Executor struct {
	chain        Chain
	quoter       Quoter
	builder      *Builder
	wrapContract string
	gasReserve   string
	pollAttempts int
	pollInterval time.Duration
	settleDelay  time.Duration
	logger       *slog.Logger
}

// ExecutorOption customises the Executor.
type ExecutorOption func(*Executor)

// WithPolling sets how often and how long finality is polled.
func WithPolling(attempts int, interval time.Duration) ExecutorOption {
	return func(e *Executor) {
		if attempts > 0 {
			e.pollAttempts = attempts
		}
		if interval >= 0 {
			e.pollInterval = interval
		}
	}
}

// WithSettleDelay sets the pause inserted after a transaction is final.
func WithSettleDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d >= 0 {
			e.settleDelay = d
		}
	}
}

// WithGasReserve sets the yoctoNEAR kept aside for fees by the balance guard.
func WithGasReserve(yocto string) ExecutorOption {
	return func(e *Executor) {
		if yocto != "" {
			e.gasReserve = yocto
		}
	}
}

// NewExecutor wires the executor.
func NewExecutor(chain Chain, quoter Quoter, builder *Builder, wrapContract string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		chain:        chain,
		quoter:       quoter,
		builder:      builder,
		wrapContract: wrapContract,
		gasReserve:   DefaultGasReserve,
		pollAttempts: DefaultPollAttempts,
		pollInterval: DefaultPollInterval,
		settleDelay:  DefaultSettleDelay,
		logger:       logger.Named("dex.executor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ExecuteSwap wraps nearAmount NEAR, swaps the wrapped balance for tokenOut
// and returns the hash of the swap transaction. Transactions that were
// already submitted are never reverted.
func (e *Executor) ExecuteSwap(ctx context.Context, accountID, rawPrivateKey, tokenOut, nearAmount string) SwapResult {
	result := SwapResult{}
	if err := e.execute(ctx, accountID, rawPrivateKey, tokenOut, nearAmount, &result); err != nil {
		result.Success = false
		result.Err = err
		result.Error = xerrors.MessageOf(err)
		e.logger.Warn("swap failed",
			slog.String("account_id", accountID),
			slog.String("token_out", tokenOut),
			slog.Int("submitted", len(result.Submitted)),
			slog.String("error", result.Error))
		return result
	}
	result.Success = true
	return result
}

func (e *Executor) execute(ctx context.Context, accountID, rawPrivateKey, tokenOut, nearAmount string, result *SwapResult) error {
	key, err := near.ParseKeyPair(rawPrivateKey)
	if err != nil {
		return err
	}
	if tokenOut == e.wrapContract {
		return xerrors.New(CodeInvalidSwap, "cannot swap a token for itself: "+tokenOut)
	}
	amount, err := near.ParseAmount(nearAmount)
	if err != nil {
		return err
	}
	if !near.IsPositiveAmount(amount) {
		return xerrors.New(CodeInvalidSwap, "swap amount must be positive: "+nearAmount)
	}

	balance, err := e.chain.GetBalanceYocto(ctx, accountID)
	if err != nil {
		return err
	}
	if !near.HasSufficientBalance(balance, amount, e.gasReserve) {
		have, _ := near.FormatAmount(balance)
		reserve, _ := near.FormatAmount(e.gasReserve)
		return xerrors.New(CodeInsufficientBalance, fmt.Sprintf("insufficient balance: have %s NEAR, need %s NEAR plus %s NEAR gas reserve", have, nearAmount, reserve))
	}

	wrap, err := e.builder.WrapCall(amount)
	if err != nil {
		return err
	}
	wrapHash, err := e.submit(ctx, key, accountID, wrap, result)
	if err != nil {
		return err
	}
	if err := e.awaitFinal(ctx, wrapHash, accountID); err != nil {
		return err
	}
	if err := sleep(ctx, e.settleDelay); err != nil {
		return err
	}

	var wrapped string
	if err := e.chain.CallView(ctx, e.wrapContract, "ft_balance_of", map[string]string{"account_id": accountID}, &wrapped); err != nil {
		return err
	}
	wrapped, err = near.NormalizeAmount(wrapped)
	if err != nil {
		return err
	}
	if !near.IsPositiveAmount(wrapped) {
		return xerrors.New(CodeInvalidSwap, "wrapped balance is zero after wrapping")
	}
	result.AmountIn = wrapped

	estimate, err := e.quoter.EstimateSwap(ctx, e.wrapContract, wrapped, tokenOut)
	if err != nil {
		return err
	}
	result.Estimate = estimate

	calls, err := e.builder.BuildSwapTransactions(SwapRequest{
		TokenIn:    e.wrapContract,
		AmountIn:   wrapped,
		TokenOut:   tokenOut,
		MinimumOut: estimate.MinimumOut,
		PoolID:     estimate.PoolID,
		AccountID:  accountID,
	})
	if err != nil {
		return err
	}

	for i, call := range calls {
		hash, err := e.submit(ctx, key, accountID, call, result)
		if err != nil {
			return err
		}
		if i == len(calls)-1 {
			result.TransactionHash = hash
			break
		}
		if err := e.awaitFinal(ctx, hash, accountID); err != nil {
			return err
		}
		if err := sleep(ctx, e.settleDelay); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) submit(ctx context.Context, key *near.KeyPair, accountID string, call near.Call, result *SwapResult) (string, error) {
	hash, err := e.chain.SignAndSend(ctx, key, accountID, call.ContractID, call.Action)
	if err != nil {
		return "", err
	}
	result.Submitted = append(result.Submitted, hash)
	logger.Audit().Info("transaction submitted",
		slog.String("account_id", accountID),
		slog.String("contract_id", call.ContractID),
		slog.String("method", call.Action.MethodName),
		slog.String("deposit", call.Action.Deposit),
		slog.String("tx_hash", hash))
	return hash, nil
}

// awaitFinal polls the transaction until it is final. Execution failures
// abort immediately; transient RPC errors are polled through.
func (e *Executor) awaitFinal(ctx context.Context, hash, accountID string) error {
	for attempt := 1; attempt <= e.pollAttempts; attempt++ {
		outcome, err := e.chain.TxStatus(ctx, hash, accountID)
		switch {
		case err != nil && xerrors.CodeOf(err) == near.CodeTxFailed:
			return err
		case err != nil:
			e.logger.Debug("transaction status unavailable",
				slog.String("tx_hash", hash),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		case outcome.Final:
			return nil
		}
		if attempt < e.pollAttempts {
			if err := sleep(ctx, e.pollInterval); err != nil {
				return err
			}
		}
	}
	return xerrors.New(CodeNotFinalized, fmt.Sprintf("transaction %s did not finalize in time", hash))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeTimeout, err, "swap interrupted")
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "swap interrupted")
	case <-timer.C:
		return nil
	}
}
