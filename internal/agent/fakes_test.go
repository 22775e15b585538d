package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"SwapAgent-Chain/internal/account"
	"SwapAgent-Chain/internal/catalog"
	"SwapAgent-Chain/internal/dex"
	"SwapAgent-Chain/internal/planner"
	"SwapAgent-Chain/internal/secret"
	"SwapAgent-Chain/internal/task"
)

type fakeProvisioner struct {
	mu     sync.Mutex
	seq    int
	funded bool
	err    error
}

func (p *fakeProvisioner) CreateAccount(context.Context) (*account.Account, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	acct := &account.Account{
		AccountID:  fmt.Sprintf("agent-%d.testnet", p.seq),
		PublicKey:  "ed25519:pub",
		PrivateKey: "ed25519:secret",
		Funded:     p.funded,
	}
	if p.funded {
		acct.FundedAmount = "10"
	} else {
		acct.FundedAmount = "0"
		acct.RateLimited = true
	}
	return acct, nil
}

type fakeBalances struct {
	balance string
	err     error
}

func (b fakeBalances) GetBalance(context.Context, string) (string, error) {
	return b.balance, b.err
}

type staticPlanner struct{}

func (staticPlanner) Plan(context.Context, string, string) planner.Plan {
	return planner.Plan{Tasks: planner.DefaultPlan(), Source: "default"}
}

type staticTokens struct {
	tokens []catalog.Token
}

func (s staticTokens) Fetch(context.Context) ([]catalog.Token, catalog.Source) {
	return s.tokens, catalog.SourceBuiltin
}

type swapperFunc func(ctx context.Context, accountID, rawKey, tokenOut, amount string) dex.SwapResult

func (f swapperFunc) ExecuteSwap(ctx context.Context, accountID, rawKey, tokenOut, amount string) dex.SwapResult {
	return f(ctx, accountID, rawKey, tokenOut, amount)
}

type recordingSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSink) Publish(_ context.Context, _ string, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *recordingSink) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.messages, "\n")
}

var testTokens = []catalog.Token{
	{ContractID: "token.v2.ref-finance.near", Symbol: "REF", Decimals: 18, Price: "0.12"},
	{ContractID: "usdt.tether-token.near", Symbol: "USDt", Decimals: 6, Price: "1.00"},
	{ContractID: "wbtc.bridge.near", Symbol: "WBTC", Decimals: 8, Price: "60000"},
}

type fixture struct {
	repo    *MemoryRepository
	ledger  *task.Ledger
	service *Service
	cipher  *secret.Cipher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cipher, err := secret.NewCipher(strings.Repeat("k", secret.KeySize))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	repo := NewMemoryRepository()
	ledger := task.NewLedger(task.NewMemoryStore())
	service := NewService(repo, &fakeProvisioner{funded: true}, cipher, ledger,
		WithBalanceReader(fakeBalances{balance: "10"}),
		WithServiceClock(func() time.Time { return time.Unix(1700000000, 0) }))
	return &fixture{repo: repo, ledger: ledger, service: service, cipher: cipher}
}

func (f *fixture) createAgent(t *testing.T, goal string) *Agent {
	t.Helper()
	agent, err := f.service.CreateAgent(context.Background(), CreateRequest{Owner: "owner-1", Goal: goal})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return agent
}
