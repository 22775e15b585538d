package dex

import (
	"encoding/json"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/near"
)

// StorageDepositAmount is the deposit attached to storage registration (0.00125 NEAR).
const StorageDepositAmount = "1250000000000000000000"

// oneYocto is required by NEP-141 transfer calls.
const oneYocto = "1"

// SwapRequest describes the swap the builder should encode.
type SwapRequest struct {
	TokenIn       string
	AmountIn      string
	TokenOut      string
	MinimumOut    string
	PoolID        uint64
	AccountID     string
	NeedsWrapping bool
}

// Builder turns swap requests into ordered contract calls.
type Builder struct {
	dexContract  string
	wrapContract string
	payload      PayloadBuilder
}

// NewBuilder creates a builder. A nil payload builder selects RefPayload.
func NewBuilder(dexContract, wrapContract string, payload PayloadBuilder) *Builder {
	if payload == nil {
		payload = RefPayload{}
	}
	return &Builder{dexContract: dexContract, wrapContract: wrapContract, payload: payload}
}

// WrapCall returns the near_deposit call that wraps amount yoctoNEAR.
func (b *Builder) WrapCall(amount string) (near.Call, error) {
	normalized, err := near.NormalizeAmount(amount)
	if err != nil {
		return near.Call{}, err
	}
	return near.Call{
		ContractID: b.wrapContract,
		Action: near.FunctionCall{
			MethodName: "near_deposit",
			Args:       []byte("{}"),
			Gas:        near.DefaultGas,
			Deposit:    normalized,
		},
	}, nil
}

// BuildSwapTransactions returns, in order: the optional wrap, the storage
// registration on the output token and the transfer call carrying the swap.
func (b *Builder) BuildSwapTransactions(req SwapRequest) ([]near.Call, error) {
	if req.AccountID == "" {
		return nil, xerrors.New(CodeInvalidSwap, "account id is required")
	}
	if req.TokenIn == req.TokenOut {
		return nil, xerrors.New(CodeInvalidSwap, "cannot swap a token for itself: "+req.TokenIn)
	}
	amountIn, err := near.NormalizeAmount(req.AmountIn)
	if err != nil {
		return nil, err
	}
	minOut, err := near.NormalizeAmount(req.MinimumOut)
	if err != nil {
		return nil, err
	}

	calls := make([]near.Call, 0, 3)
	if req.NeedsWrapping {
		wrap, err := b.WrapCall(amountIn)
		if err != nil {
			return nil, err
		}
		calls = append(calls, wrap)
	}

	storageArgs, err := json.Marshal(map[string]any{
		"account_id":        req.AccountID,
		"registration_only": true,
	})
	if err != nil {
		return nil, err
	}
	calls = append(calls, near.Call{
		ContractID: req.TokenOut,
		Action: near.FunctionCall{
			MethodName: "storage_deposit",
			Args:       storageArgs,
			Gas:        near.DefaultGas,
			Deposit:    StorageDepositAmount,
		},
	})

	msg, err := b.payload.BuildSwapPayload(req.PoolID, req.TokenIn, req.TokenOut, amountIn, minOut)
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidSwap, err, "build swap payload")
	}
	transferArgs, err := json.Marshal(map[string]string{
		"receiver_id": b.dexContract,
		"amount":      amountIn,
		"msg":         string(msg),
	})
	if err != nil {
		return nil, err
	}
	calls = append(calls, near.Call{
		ContractID: req.TokenIn,
		Action: near.FunctionCall{
			MethodName: "ft_transfer_call",
			Args:       transferArgs,
			Gas:        near.SwapGas,
			Deposit:    oneYocto,
		},
	})
	return calls, nil
}
