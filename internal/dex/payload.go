package dex

import (
	"encoding/json"
)

// PayloadBuilder produces the message embedded in the swap transfer call.
// The shape is dictated by the exchange contract version.
type PayloadBuilder interface {
	BuildSwapPayload(poolID uint64, tokenIn, tokenOut, amountIn, minAmountOut string) ([]byte, error)
}

// RefPayload builds messages for Ref Finance style exchanges.
type RefPayload struct{}

type refSwapAction struct {
	PoolID       uint64 `json:"pool_id"`
	TokenIn      string `json:"token_in"`
	TokenOut     string `json:"token_out"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
}

type refSwapMessage struct {
	Force      int             `json:"force"`
	ReferralID *string         `json:"referral_id"`
	Actions    []refSwapAction `json:"actions"`
}

// BuildSwapPayload implements PayloadBuilder.
func (RefPayload) BuildSwapPayload(poolID uint64, tokenIn, tokenOut, amountIn, minAmountOut string) ([]byte, error) {
	return json.Marshal(refSwapMessage{
		Force: 0,
		Actions: []refSwapAction{{
			PoolID:       poolID,
			TokenIn:      tokenIn,
			TokenOut:     tokenOut,
			AmountIn:     amountIn,
			MinAmountOut: minAmountOut,
		}},
	})
}
