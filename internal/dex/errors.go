package dex

import xerrors "SwapAgent-Chain/internal/errors"

const (
	CodeNoPool              xerrors.Code = "DEX_NO_POOL"
	CodeInvalidSwap         xerrors.Code = "DEX_INVALID_SWAP"
	CodeNotFinalized        xerrors.Code = "DEX_TX_NOT_FINALIZED"
	CodeInsufficientBalance xerrors.Code = "DEX_INSUFFICIENT_BALANCE"
)

var (
	// ErrNoPool is returned when no pool for the pair was found within the scan bound.
	ErrNoPool = xerrors.New(CodeNoPool, "no liquidity pool")
	// ErrNotFinalized is returned when a transaction is not final after polling.
	ErrNotFinalized = xerrors.New(CodeNotFinalized, "transaction did not finalize in time")
)

func init() {
	xerrors.Register(CodeNoPool, xerrors.Attributes{
		Message:  "no liquidity pool",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidSwap, xerrors.Attributes{
		Message:  "invalid swap request",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotFinalized, xerrors.Attributes{
		Message:  "transaction did not finalize in time",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:  "insufficient balance",
		Severity: xerrors.SeverityInfo,
	})
}
