package dex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/near"
)

type sentTx struct {
	Receiver string
	Action   near.FunctionCall
}

type fakeChain struct {
	mu            sync.Mutex
	pools         []Pool
	failPools     bool
	quote         string
	wrapped       string
	balance       string
	neverFinal    bool
	getPoolsCalls int
	statusCalls   int
	quoteArgs     map[string]any
	sent          []sentTx
}

func assign(out any, value any) error {
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeChain) CallView(_ context.Context, contractID, method string, args any, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var decoded map[string]any
	_ = assign(&decoded, args)

	switch method {
	case "get_number_of_pools":
		return assign(out, len(f.pools))
	case "get_pools":
		f.getPoolsCalls++
		if f.failPools {
			return xerrors.New(near.CodeRPCFailure, "node unavailable")
		}
		from := int(decoded["from_index"].(float64))
		limit := int(decoded["limit"].(float64))
		end := from + limit
		if end > len(f.pools) {
			end = len(f.pools)
		}
		if from > end {
			from = end
		}
		return assign(out, f.pools[from:end])
	case "get_return":
		f.quoteArgs = decoded
		return assign(out, f.quote)
	case "ft_balance_of":
		return assign(out, f.wrapped)
	}
	return fmt.Errorf("unexpected view %s.%s", contractID, method)
}

func (f *fakeChain) GetBalanceYocto(context.Context, string) (string, error) {
	return f.balance, nil
}

func (f *fakeChain) SignAndSend(_ context.Context, _ *near.KeyPair, _, receiverID string, actions ...near.FunctionCall) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentTx{Receiver: receiverID, Action: actions[0]})
	return fmt.Sprintf("tx-%d", len(f.sent)), nil
}

func (f *fakeChain) TxStatus(_ context.Context, hash, _ string) (*near.TxOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return &near.TxOutcome{Hash: hash, Final: !f.neverFinal}, nil
}

func poolsWithout(n int) []Pool {
	pools := make([]Pool, n)
	for i := range pools {
		pools[i] = Pool{TokenAccountIDs: []string{fmt.Sprintf("t%d.testnet", i), "other.testnet"}}
	}
	return pools
}
