// Package account 负责为新智能体生成链上账户并通过水龙头完成注册与注资。
package account

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/near"
	"SwapAgent-Chain/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxAttempts   = 5
	defaultBaseDelay     = time.Second
	defaultFundingAmount = "10"
	accountPrefix        = "agent-"
)

// errRateLimited 表示水龙头触发了限流，不应继续重试。
var errRateLimited = errors.New("faucet rate limited")

// Account 为新建账户的结果。FundedAmount 为 "0" 时账户仅在本地存在，需要人工注资。
type Account struct {
	AccountID    string
	PublicKey    string
	PrivateKey   string
	FundedAmount string
	Funded       bool
	RateLimited  bool
}

// Provisioner 生成密钥对并调用水龙头注册账户。
type Provisioner struct {
	faucetURL     string
	suffix        string
	httpClient    *http.Client
	maxAttempts   int
	baseDelay     time.Duration
	fundingAmount string
	now           func() time.Time
	logger        *slog.Logger
}

// Option 用于定制 Provisioner。
type Option func(*Provisioner)

// WithHTTPClient 覆盖默认 HTTP 客户端。
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provisioner) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithRetry 设置最大尝试次数与初始退避时间。
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Provisioner) {
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			p.baseDelay = baseDelay
		}
	}
}

// WithFundingAmount 设置水龙头成功时记录的注资金额（NEAR）。
func WithFundingAmount(amount string) Option {
	return func(p *Provisioner) {
		if strings.TrimSpace(amount) != "" {
			p.fundingAmount = amount
		}
	}
}

// WithClock 注入时间源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProvisioner 创建账户供应器。faucetURL 为空时所有账户都以未注资状态返回。
func NewProvisioner(faucetURL, accountSuffix string, opts ...Option) *Provisioner {
	p := &Provisioner{
		faucetURL:     strings.TrimSpace(faucetURL),
		suffix:        accountSuffix,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		maxAttempts:   defaultMaxAttempts,
		baseDelay:     defaultBaseDelay,
		fundingAmount: defaultFundingAmount,
		now:           time.Now,
		logger:        logger.Named("account"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// CreateAccount 生成密钥对和账户名并尝试注资。只有密钥生成失败会返回错误，
// 水龙头失败或限流时返回未注资的账户。
func (p *Provisioner) CreateAccount(ctx context.Context) (*Account, error) {
	keys, err := near.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	accountID, err := p.newAccountID()
	if err != nil {
		return nil, err
	}

	acct := &Account{
		AccountID:    accountID,
		PublicKey:    keys.PublicKeyString(),
		PrivateKey:   keys.SecretKeyString(),
		FundedAmount: "0",
	}

	if p.faucetURL == "" {
		p.logger.Warn("未配置水龙头，账户需要人工注资", slog.String("account_id", accountID))
		return acct, nil
	}

	err = p.fund(ctx, accountID, acct.PublicKey)
	switch {
	case err == nil:
		acct.Funded = true
		acct.FundedAmount = p.fundingAmount
		p.logger.Info("账户注册并注资成功", slog.String("account_id", accountID), slog.String("amount", p.fundingAmount))
	case errors.Is(err, errRateLimited):
		acct.RateLimited = true
		p.logger.Warn("水龙头限流，账户需要人工注资", slog.String("account_id", accountID))
	default:
		p.logger.Warn("水龙头注资失败，账户需要人工注资", slog.String("account_id", accountID), slog.Any("error", err))
	}
	return acct, nil
}

func (p *Provisioner) newAccountID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "生成账户名失败")
	}
	millis := strconv.FormatInt(p.now().UnixMilli(), 10)
	return accountPrefix + hex.EncodeToString(buf) + "-" + millis + p.suffix, nil
}

func (p *Provisioner) fund(ctx context.Context, accountID, publicKey string) error {
	payload, err := json.Marshal(map[string]string{
		"newAccountId":        accountID,
		"newAccountPublicKey": publicKey,
	})
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.baseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = p.baseDelay << uint(p.maxAttempts)
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := p.requestFunding(ctx, payload)
		if errors.Is(err, errRateLimited) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Debug("水龙头请求失败，准备重试",
			slog.String("account_id", accountID),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	}

	retries := backoff.WithMaxRetries(policy, uint64(p.maxAttempts-1))
	return backoff.RetryNotify(operation, backoff.WithContext(retries, ctx), notify)
}

func (p *Provisioner) requestFunding(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.faucetURL, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeExternalService, err, "调用水龙头失败")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(string(body)), "rate limit") {
		return errRateLimited
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return xerrors.New(xerrors.CodeExternalService, fmt.Sprintf("水龙头返回状态码 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return nil
}
