package near

import xerrors "SwapAgent-Chain/internal/errors"

const (
	CodeRPCFailure      xerrors.Code = "NEAR_RPC_FAILURE"
	CodeAccountNotFound xerrors.Code = "NEAR_ACCOUNT_NOT_FOUND"
	CodeTxFailed        xerrors.Code = "NEAR_TX_FAILED"
	CodeInvalidAmount   xerrors.Code = "NEAR_INVALID_AMOUNT"
	CodeInvalidKey      xerrors.Code = "NEAR_INVALID_KEY"
)

var (
	// ErrAccountNotFound is returned when the queried account does not exist on chain.
	ErrAccountNotFound = xerrors.New(CodeAccountNotFound, "account not found")
	// ErrInvalidAmount is returned for amount strings that are not plain non-negative numbers.
	ErrInvalidAmount = xerrors.New(CodeInvalidAmount, "invalid amount")
	// ErrInvalidKey is returned for malformed key material.
	ErrInvalidKey = xerrors.New(CodeInvalidKey, "invalid key")
)

func init() {
	xerrors.Register(CodeRPCFailure, xerrors.Attributes{
		Message:   "near rpc failure",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeAccountNotFound, xerrors.Attributes{
		Message:  "account not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTxFailed, xerrors.Attributes{
		Message:  "transaction failed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{
		Message:  "invalid amount",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidKey, xerrors.Attributes{
		Message:  "invalid key",
		Severity: xerrors.SeverityWarning,
	})
}
