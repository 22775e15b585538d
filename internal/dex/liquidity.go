package dex

import (
	"context"
	"log/slog"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/pkg/logger"

	lru "github.com/hashicorp/golang-lru"
)

const (
	DefaultPageSize        = 100
	DefaultSwapScanLimit   = 500
	DefaultFilterScanLimit = 200
	defaultCacheSize       = 256
)

// ViewCaller is the read-only subset of the chain client.
type ViewCaller interface {
	CallView(ctx context.Context, contractID, method string, args any, out any) error
}

// Pool is one entry of the exchange's pool registry.
type Pool struct {
	PoolKind          string   `json:"pool_kind"`
	TokenAccountIDs   []string `json:"token_account_ids"`
	Amounts           []string `json:"amounts"`
	TotalFee          int      `json:"total_fee"`
	SharesTotalSupply string   `json:"shares_total_supply"`
}

// Contains reports whether both tokens are part of the pool, in any order.
func (p Pool) Contains(a, b string) bool {
	var hasA, hasB bool
	for _, id := range p.TokenAccountIDs {
		if id == a {
			hasA = true
		}
		if id == b {
			hasB = true
		}
	}
	return hasA && hasB
}

// Liquidity scans the pool registry of the exchange contract.
type Liquidity struct {
	chain       ViewCaller
	dexContract string
	pageSize    int
	swapLimit   int
	filterLimit int
	cache       *lru.Cache
	logger      *slog.Logger
}

// LiquidityOption customises Liquidity.
type LiquidityOption func(*Liquidity)

// WithScanLimits overrides the swap lookup and pre-filter scan depths.
func WithScanLimits(swapLimit, filterLimit int) LiquidityOption {
	return func(l *Liquidity) {
		if swapLimit > 0 {
			l.swapLimit = swapLimit
		}
		if filterLimit > 0 {
			l.filterLimit = filterLimit
		}
	}
}

// WithPageSize overrides the number of pools fetched per call.
func WithPageSize(size int) LiquidityOption {
	return func(l *Liquidity) {
		if size > 0 {
			l.pageSize = size
		}
	}
}

// NewLiquidity constructs the pool scanner for the given exchange contract.
func NewLiquidity(chain ViewCaller, dexContract string, opts ...LiquidityOption) (*Liquidity, error) {
	if chain == nil || dexContract == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "liquidity scanner requires a chain client and exchange contract")
	}
	cache, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create pool cache")
	}
	l := &Liquidity{
		chain:       chain,
		dexContract: dexContract,
		pageSize:    DefaultPageSize,
		swapLimit:   DefaultSwapScanLimit,
		filterLimit: DefaultFilterScanLimit,
		cache:       cache,
		logger:      logger.Named("dex.liquidity"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// FindPool returns the first pool, in registry order, that contains both
// tokens. The scan stops at the swap scan limit. RPC errors yield not found.
func (l *Liquidity) FindPool(ctx context.Context, tokenA, tokenB string) (uint64, bool) {
	return l.lookup(ctx, tokenA, tokenB, l.swapLimit)
}

// HasLiquidity reports whether a pool for the pair exists within the
// pre-filter scan limit.
func (l *Liquidity) HasLiquidity(ctx context.Context, tokenA, tokenB string) bool {
	_, ok := l.lookup(ctx, tokenA, tokenB, l.filterLimit)
	return ok
}

func (l *Liquidity) lookup(ctx context.Context, tokenA, tokenB string, limit int) (uint64, bool) {
	key := pairKey(tokenA, tokenB)
	if cached, ok := l.cache.Get(key); ok {
		if id := cached.(uint64); id < uint64(limit) {
			return id, true
		}
	}
	id, ok := l.scan(ctx, tokenA, tokenB, limit)
	if ok {
		l.cache.Add(key, id)
	}
	return id, ok
}

func (l *Liquidity) scan(ctx context.Context, tokenA, tokenB string, limit int) (uint64, bool) {
	var total uint64
	if err := l.chain.CallView(ctx, l.dexContract, "get_number_of_pools", nil, &total); err != nil {
		l.logger.Warn("failed to read pool count", slog.Any("error", err))
		return 0, false
	}

	bound := uint64(limit)
	if total < bound {
		bound = total
	}

	for from := uint64(0); from < bound; from += uint64(l.pageSize) {
		size := uint64(l.pageSize)
		if from+size > bound {
			size = bound - from
		}
		var pools []Pool
		args := map[string]uint64{"from_index": from, "limit": size}
		if err := l.chain.CallView(ctx, l.dexContract, "get_pools", args, &pools); err != nil {
			l.logger.Warn("failed to read pool page",
				slog.Uint64("from_index", from),
				slog.Any("error", err))
			return 0, false
		}
		for i, pool := range pools {
			if pool.Contains(tokenA, tokenB) {
				return from + uint64(i), true
			}
		}
		if uint64(len(pools)) < size {
			break
		}
	}
	return 0, false
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
