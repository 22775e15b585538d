package near

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	xerrors "SwapAgent-Chain/internal/errors"

	"github.com/mr-tron/base58"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRateLimit = 10
	defaultBurst     = 5
)

// Client talks to a NEAR JSON-RPC endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	nextID     atomic.Uint64
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for RPC calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit caps outgoing requests per second. A non-positive rps
// disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient constructs an RPC client for the given endpoint.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置 NEAR RPC 地址")
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is the error object returned by the node.
type RPCError struct {
	Name    string          `json:"name"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Cause   struct {
		Name string          `json:"name"`
		Info json.RawMessage `json:"info"`
	} `json:"cause"`
}

func (e *RPCError) Error() string {
	if e.Cause.Name != "" {
		return fmt.Sprintf("%s: %s", e.Cause.Name, strings.TrimSpace(e.Message))
	}
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, string(e.Data))
	}
	return e.Message
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return xerrors.Wrap(CodeRPCFailure, err, "RPC 限流等待失败")
		}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      fmt.Sprintf("swapagent-%d", c.nextID.Add(1)),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return xerrors.Wrap(CodeRPCFailure, err, "序列化 RPC 请求失败")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(CodeRPCFailure, err, "创建 RPC 请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(CodeRPCFailure, err, "调用 "+method+" 失败")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return xerrors.Wrap(CodeRPCFailure, err, "读取 RPC 响应失败")
	}
	if resp.StatusCode >= http.StatusBadRequest && len(payload) == 0 {
		return xerrors.New(CodeRPCFailure, fmt.Sprintf("RPC 返回状态码 %d", resp.StatusCode))
	}

	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return xerrors.Wrap(CodeRPCFailure, err, fmt.Sprintf("解析 RPC 响应失败 (status %d)", resp.StatusCode))
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return xerrors.Wrap(CodeRPCFailure, err, "解析 RPC 结果失败")
	}
	return nil
}

// Account is the on-chain state returned by view_account.
type Account struct {
	Amount       string `json:"amount"`
	Locked       string `json:"locked"`
	CodeHash     string `json:"code_hash"`
	StorageUsage uint64 `json:"storage_usage"`
	BlockHeight  uint64 `json:"block_height"`
	BlockHash    string `json:"block_hash"`
	// Older nodes report query failures inside the result object.
	Error string `json:"error,omitempty"`
}

// ViewAccount reads the account state at final finality.
func (c *Client) ViewAccount(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	err := c.call(ctx, "query", map[string]any{
		"request_type": "view_account",
		"finality":     "final",
		"account_id":   accountID,
	}, &account)
	if err != nil {
		if isUnknownAccount(err) {
			return nil, xerrors.Wrap(CodeAccountNotFound, err, "账户不存在: "+accountID)
		}
		return nil, wrapRPC(err, "查询账户失败")
	}
	if account.Error != "" {
		if strings.Contains(account.Error, "does not exist") {
			return nil, xerrors.New(CodeAccountNotFound, "账户不存在: "+accountID)
		}
		return nil, xerrors.New(CodeRPCFailure, account.Error)
	}
	return &account, nil
}

// GetBalance returns the spendable balance of the account in NEAR.
func (c *Client) GetBalance(ctx context.Context, accountID string) (string, error) {
	raw, err := c.GetBalanceYocto(ctx, accountID)
	if err != nil {
		return "", err
	}
	return FormatAmount(raw)
}

// GetBalanceYocto returns the spendable balance of the account in yoctoNEAR.
func (c *Client) GetBalanceYocto(ctx context.Context, accountID string) (string, error) {
	account, err := c.ViewAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return NormalizeAmount(account.Amount)
}

type callFunctionResult struct {
	Result      []int    `json:"result"`
	Logs        []string `json:"logs"`
	BlockHeight uint64   `json:"block_height"`
	Error       string   `json:"error,omitempty"`
}

// CallView invokes a read-only contract method and decodes its JSON result
// into out. A nil args value sends an empty object.
func (c *Client) CallView(ctx context.Context, contractID, method string, args any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化调用参数失败")
	}

	var result callFunctionResult
	err = c.call(ctx, "query", map[string]any{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contractID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(encoded),
	}, &result)
	if err != nil {
		return wrapRPC(err, fmt.Sprintf("调用 %s.%s 失败", contractID, method))
	}
	if result.Error != "" {
		return xerrors.New(CodeRPCFailure, fmt.Sprintf("调用 %s.%s 失败: %s", contractID, method, result.Error))
	}
	if out == nil {
		return nil
	}

	raw := make([]byte, len(result.Result))
	for i, b := range result.Result {
		raw[i] = byte(b)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(CodeRPCFailure, err, fmt.Sprintf("解析 %s.%s 返回值失败", contractID, method))
	}
	return nil
}

// AccessKey is the state returned by view_access_key.
type AccessKey struct {
	Nonce       uint64          `json:"nonce"`
	Permission  json.RawMessage `json:"permission"`
	BlockHeight uint64          `json:"block_height"`
	BlockHash   string          `json:"block_hash"`
	Error       string          `json:"error,omitempty"`
}

// ViewAccessKey reads the access key used for signing.
func (c *Client) ViewAccessKey(ctx context.Context, accountID, publicKey string) (*AccessKey, error) {
	var key AccessKey
	err := c.call(ctx, "query", map[string]any{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey,
	}, &key)
	if err != nil {
		if isUnknownAccount(err) {
			return nil, xerrors.Wrap(CodeAccountNotFound, err, "账户不存在: "+accountID)
		}
		return nil, wrapRPC(err, "查询访问密钥失败")
	}
	if key.Error != "" {
		return nil, xerrors.New(CodeRPCFailure, key.Error)
	}
	return &key, nil
}

// LatestBlockHash returns the hash of the latest final block.
func (c *Client) LatestBlockHash(ctx context.Context) (string, error) {
	var block struct {
		Header struct {
			Hash string `json:"hash"`
		} `json:"header"`
	}
	if err := c.call(ctx, "block", map[string]any{"finality": "final"}, &block); err != nil {
		return "", wrapRPC(err, "查询最新区块失败")
	}
	return block.Header.Hash, nil
}

// SignAndSend builds a transaction from the signer's access key, signs it and
// broadcasts it without waiting for execution. It returns the transaction hash.
func (c *Client) SignAndSend(ctx context.Context, signer *KeyPair, signerID, receiverID string, actions ...FunctionCall) (string, error) {
	if signer == nil {
		return "", xerrors.New(CodeInvalidKey, "缺少签名密钥")
	}
	if len(actions) == 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "交易至少需要一个操作")
	}

	accessKey, err := c.ViewAccessKey(ctx, signerID, signer.PublicKeyString())
	if err != nil {
		return "", err
	}
	blockHash := accessKey.BlockHash
	if blockHash == "" {
		if blockHash, err = c.LatestBlockHash(ctx); err != nil {
			return "", err
		}
	}
	hashBytes, err := base58.Decode(blockHash)
	if err != nil || len(hashBytes) != 32 {
		return "", xerrors.New(CodeRPCFailure, "区块哈希格式无效")
	}

	tx := &Transaction{
		SignerID:   signerID,
		PublicKey:  signer.PublicKey(),
		Nonce:      accessKey.Nonce + 1,
		ReceiverID: receiverID,
		Actions:    actions,
	}
	copy(tx.BlockHash[:], hashBytes)

	signed, err := SignTransaction(tx, signer)
	if err != nil {
		return "", err
	}

	var hash string
	err = c.call(ctx, "broadcast_tx_async", []string{base64.StdEncoding.EncodeToString(signed.Encoded)}, &hash)
	if err != nil {
		return "", xerrors.Wrap(CodeTxFailed, err, "广播交易失败")
	}
	if hash == "" {
		hash = signed.Hash
	}
	return hash, nil
}

// TxOutcome summarises the execution status of a transaction.
type TxOutcome struct {
	Hash         string
	Final        bool
	SuccessValue string
}

type txStatusResult struct {
	Status json.RawMessage `json:"status"`
}

// TxStatus polls the transaction status once. Unknown transactions and
// transactions still in flight are reported as not final. A Failure status
// is returned as an error.
func (c *Client) TxStatus(ctx context.Context, txHash, senderID string) (*TxOutcome, error) {
	var result txStatusResult
	err := c.call(ctx, "tx", []string{txHash, senderID}, &result)
	if err != nil {
		if isPendingTx(err) {
			return &TxOutcome{Hash: txHash}, nil
		}
		return nil, wrapRPC(err, "查询交易状态失败")
	}

	var status struct {
		SuccessValue   *string         `json:"SuccessValue"`
		SuccessReceipt *string         `json:"SuccessReceiptId"`
		Failure        json.RawMessage `json:"Failure"`
	}
	if err := json.Unmarshal(result.Status, &status); err != nil {
		// "NotStarted" / "Started" are plain strings.
		return &TxOutcome{Hash: txHash}, nil
	}
	if len(status.Failure) > 0 && string(status.Failure) != "null" {
		return nil, xerrors.New(CodeTxFailed, fmt.Sprintf("交易 %s 执行失败: %s", txHash, string(status.Failure)))
	}
	if status.SuccessValue != nil {
		return &TxOutcome{Hash: txHash, Final: true, SuccessValue: *status.SuccessValue}, nil
	}
	return &TxOutcome{Hash: txHash}, nil
}

func isUnknownAccount(err error) bool {
	rpcErr, ok := err.(*RPCError)
	if !ok {
		return false
	}
	return rpcErr.Cause.Name == "UNKNOWN_ACCOUNT" || strings.Contains(string(rpcErr.Data), "does not exist")
}

func isPendingTx(err error) bool {
	rpcErr, ok := err.(*RPCError)
	if !ok {
		return false
	}
	switch rpcErr.Cause.Name {
	case "UNKNOWN_TRANSACTION", "TIMEOUT_ERROR":
		return true
	}
	return strings.Contains(string(rpcErr.Data), "doesn't exist")
}

func wrapRPC(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(CodeRPCFailure, err, message)
}
