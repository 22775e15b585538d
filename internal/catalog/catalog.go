// Package catalog assembles the priced, liquidity-filtered token list the
// predictor chooses from. An indexer is the primary source; an embedded static
// dataset and a built-in list cover indexer outages.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/pkg/logger"
)

const (
	DefaultMaxTokens     = 15
	DefaultMaxCandidates = 30
	defaultCacheTTL      = time.Minute
	cacheKeyPrefix       = "catalog:prices:"
)

//go:embed fallback_tokens.json
var embeddedFallback []byte

// Token describes a tradable token.
type Token struct {
	ContractID string `json:"contract_id"`
	Symbol     string `json:"symbol"`
	Decimals   int    `json:"decimals"`
	Price      string `json:"price"`
}

// Source identifies which tier produced the token list.
type Source string

const (
	SourceIndexer Source = "indexer"
	SourceStatic  Source = "static"
	SourceBuiltin Source = "builtin"
)

// LiquidityChecker reports whether a pool exists for a pair.
type LiquidityChecker interface {
	HasLiquidity(ctx context.Context, tokenA, tokenB string) bool
}

// PriceCache stores raw indexer responses.
type PriceCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Catalog fetches and filters the token list.
type Catalog struct {
	indexerURL    string
	baseToken     string
	liquidity     LiquidityChecker
	httpClient    *http.Client
	cache         PriceCache
	cacheTTL      time.Duration
	maxTokens     int
	maxCandidates int
	static        []byte
	logger        *slog.Logger
}

// Option customises the Catalog.
type Option func(*Catalog)

// WithHTTPClient overrides the indexer HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Catalog) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPriceCache enables caching of indexer responses.
func WithPriceCache(cache PriceCache, ttl time.Duration) Option {
	return func(c *Catalog) {
		c.cache = cache
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithLimits overrides the result cap and the number of priced candidates
// checked for liquidity.
func WithLimits(maxTokens, maxCandidates int) Option {
	return func(c *Catalog) {
		if maxTokens > 0 {
			c.maxTokens = maxTokens
		}
		if maxCandidates > 0 {
			c.maxCandidates = maxCandidates
		}
	}
}

// WithStaticData replaces the embedded fallback dataset.
func WithStaticData(data []byte) Option {
	return func(c *Catalog) {
		c.static = data
	}
}

// LoadStaticData reads a fallback dataset from disk.
func LoadStaticData(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "static token path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "read static token file")
	}
	return data, nil
}

// New builds a catalog bound to the wrapped base token.
func New(indexerURL, baseToken string, liquidity LiquidityChecker, opts ...Option) *Catalog {
	c := &Catalog{
		indexerURL:    strings.TrimSpace(indexerURL),
		baseToken:     baseToken,
		liquidity:     liquidity,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		cacheTTL:      defaultCacheTTL,
		maxTokens:     DefaultMaxTokens,
		maxCandidates: DefaultMaxCandidates,
		static:        embeddedFallback,
		logger:        logger.Named("catalog"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// FetchAvailableTokens returns at most maxTokens tokens sorted by descending
// price. It never fails: indexer problems degrade to the static tiers.
func (c *Catalog) FetchAvailableTokens(ctx context.Context) []Token {
	tokens, _ := c.Fetch(ctx)
	return tokens
}

// Fetch is FetchAvailableTokens that also reports which tier answered.
func (c *Catalog) Fetch(ctx context.Context) ([]Token, Source) {
	entries, err := c.fetchIndexer(ctx)
	if err != nil {
		c.logger.Warn("indexer unavailable, using static token list", slog.Any("error", err))
		return c.fallback()
	}

	candidates := rankTokens(entries, c.baseToken)
	if len(candidates) > c.maxCandidates {
		candidates = candidates[:c.maxCandidates]
	}

	selected := make([]Token, 0, c.maxTokens)
	for _, token := range candidates {
		if c.liquidity != nil && !c.liquidity.HasLiquidity(ctx, c.baseToken, token.ContractID) {
			continue
		}
		selected = append(selected, token)
		if len(selected) >= c.maxTokens {
			break
		}
	}
	if len(selected) == 0 {
		c.logger.Warn("no indexer token passed the liquidity filter, using static token list",
			slog.Int("candidates", len(candidates)))
		return c.fallback()
	}
	return selected, SourceIndexer
}

func (c *Catalog) fallback() ([]Token, Source) {
	var entries []Token
	if err := json.Unmarshal(c.static, &entries); err != nil || len(entries) == 0 {
		c.logger.Error("static token list unusable, using built-in list", slog.Any("error", err))
		return BuiltinTokens(), SourceBuiltin
	}
	tokens := rankTokens(entries, c.baseToken)
	if len(tokens) > c.maxTokens {
		tokens = tokens[:c.maxTokens]
	}
	if len(tokens) == 0 {
		return BuiltinTokens(), SourceBuiltin
	}
	return tokens, SourceStatic
}

type indexerEntry struct {
	Symbol  string      `json:"symbol"`
	Price   looseString `json:"price"`
	Decimal int         `json:"decimal"`
}

// looseString accepts both JSON strings and numbers.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	if string(data) == "null" {
		*s = ""
		return nil
	}
	*s = looseString(data)
	return nil
}

func (c *Catalog) fetchIndexer(ctx context.Context) ([]Token, error) {
	if c.indexerURL == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "price indexer url is not configured")
	}

	raw, err := c.cachedPrices(ctx)
	if err != nil {
		return nil, err
	}

	var decoded map[string]indexerEntry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalService, err, "decode price indexer payload")
	}
	tokens := make([]Token, 0, len(decoded))
	for id, entry := range decoded {
		tokens = append(tokens, Token{
			ContractID: id,
			Symbol:     entry.Symbol,
			Decimals:   entry.Decimal,
			Price:      string(entry.Price),
		})
	}
	return tokens, nil
}

func (c *Catalog) cachedPrices(ctx context.Context) ([]byte, error) {
	key := cacheKeyPrefix + c.indexerURL
	if c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			return data, nil
		} else if err != nil {
			c.logger.Debug("price cache read failed", slog.Any("error", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.indexerURL, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "build price indexer request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalService, err, "request price indexer")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(xerrors.CodeExternalService, fmt.Sprintf("price indexer returned status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalService, err, "read price indexer response")
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
			c.logger.Debug("price cache write failed", slog.Any("error", err))
		}
	}
	return data, nil
}

// rankTokens drops the base token and entries without a positive price, then
// sorts by descending price.
func rankTokens(entries []Token, baseToken string) []Token {
	type priced struct {
		token Token
		value float64
	}
	list := make([]priced, 0, len(entries))
	for _, token := range entries {
		if token.ContractID == "" || token.ContractID == baseToken {
			continue
		}
		value, ok := PositivePrice(token.Price)
		if !ok {
			continue
		}
		list = append(list, priced{token: token, value: value})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].value != list[j].value {
			return list[i].value > list[j].value
		}
		return list[i].token.ContractID < list[j].token.ContractID
	})
	out := make([]Token, len(list))
	for i, item := range list {
		out[i] = item.token
	}
	return out
}

// PositivePrice parses a price and reports whether it is a finite positive number.
func PositivePrice(price string) (float64, bool) {
	value, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
	if err != nil || value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

// BuiltinTokens is the last-resort token list.
func BuiltinTokens() []Token {
	return []Token{
		{ContractID: "wbtc.fakes.testnet", Symbol: "WBTC", Decimals: 8, Price: "60000"},
		{ContractID: "eth.fakes.testnet", Symbol: "ETH", Decimals: 18, Price: "2400"},
		{ContractID: "usdt.fakes.testnet", Symbol: "USDT", Decimals: 6, Price: "1"},
		{ContractID: "usdc.fakes.testnet", Symbol: "USDC", Decimals: 6, Price: "1"},
		{ContractID: "ref.fakes.testnet", Symbol: "REF", Decimals: 18, Price: "0.1"},
	}
}
