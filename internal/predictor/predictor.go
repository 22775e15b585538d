// Package predictor 调用大模型从代币目录中挑选一个交易目标，并在模型失败时
// 退化为基于关键词的确定性选择。
package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"SwapAgent-Chain/internal/catalog"
	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/llm"
	"SwapAgent-Chain/pkg/logger"
)

const (
	// FallbackConfidence 为启发式选择的固定置信度。
	FallbackConfidence = 0.3
	// DefaultModelConfidence 为模型未给出有效置信度时的默认值。
	DefaultModelConfidence = 0.7
)

const CodeEmptyCatalog xerrors.Code = "PREDICTOR_EMPTY_CATALOG"

func init() {
	xerrors.Register(CodeEmptyCatalog, xerrors.Attributes{
		Message:  "token catalog is empty",
		Severity: xerrors.SeverityWarning,
	})
}

var stableMarkers = []string{"usdt", "usdc", "dai", "usn", "busd"}

// Source 标记预测来源。
type Source string

const (
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// Prediction 为预测结果。SelectedToken 总是目录中的规范合约 ID。
type Prediction struct {
	SelectedToken string  `json:"selected_token"`
	Symbol        string  `json:"symbol"`
	Reasoning     string  `json:"reasoning"`
	Confidence    float64 `json:"confidence"`
	Price         string  `json:"price"`
	Source        Source  `json:"source"`
}

// Predictor 负责代币预测。
type Predictor struct {
	client llm.Client
	logger *slog.Logger
}

// New 创建 Predictor。client 为空时直接使用启发式选择。
func New(client llm.Client) *Predictor {
	return &Predictor{client: client, logger: logger.Named("predictor")}
}

type modelAnswer struct {
	SelectedToken string         `json:"selectedToken"`
	Token         string         `json:"token"`
	Symbol        string         `json:"symbol"`
	Reasoning     string         `json:"reasoning"`
	Confidence    flexConfidence `json:"confidence"`
}

// flexConfidence 接受数字或数字字符串，其他取值（如 "high"）按未给出处理。
type flexConfidence float64

func (c *flexConfidence) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		*c = 0
		return nil
	}
	*c = flexConfidence(value)
	return nil
}

// PredictToken 选择一个代币。目录为空时返回校验错误，其余失败都会退化为启发式选择。
func (p *Predictor) PredictToken(ctx context.Context, tokens []catalog.Token, goal string) (*Prediction, error) {
	if len(tokens) == 0 {
		return nil, xerrors.New(CodeEmptyCatalog, "cannot predict from an empty token catalog")
	}

	if p.client != nil {
		prediction, reason := p.ask(ctx, tokens, goal)
		if prediction != nil {
			return prediction, nil
		}
		p.logger.Warn("模型预测不可用，使用启发式选择", slog.String("reason", reason))
	}
	return Fallback(tokens, goal), nil
}

func (p *Predictor) ask(ctx context.Context, tokens []catalog.Token, goal string) (*Prediction, string) {
	raw, err := p.client.Complete(ctx, buildPrompt(tokens, goal))
	if err != nil {
		return nil, err.Error()
	}

	result := llm.DecodeJSON[modelAnswer](raw, llm.WithBareObjectFallback())
	answer, ok := result.Get()
	if !ok {
		return nil, "malformed output: " + result.Reason()
	}

	token, ok := resolve(tokens, answer.SelectedToken, answer.Token, answer.Symbol)
	if !ok {
		return nil, fmt.Sprintf("model picked a token outside the catalog: %q", firstNonEmpty(answer.SelectedToken, answer.Token, answer.Symbol))
	}

	return &Prediction{
		SelectedToken: token.ContractID,
		Symbol:        token.Symbol,
		Reasoning:     strings.TrimSpace(answer.Reasoning),
		Confidence:    clampConfidence(float64(answer.Confidence)),
		Price:         token.Price,
		Source:        SourceLLM,
	}, ""
}

// resolve 按合约 ID 或符号把模型输出映射回目录条目。
func resolve(tokens []catalog.Token, candidates ...string) (catalog.Token, bool) {
	for _, candidate := range candidates {
		needle := strings.ToLower(strings.TrimSpace(candidate))
		if needle == "" {
			continue
		}
		for _, token := range tokens {
			if strings.ToLower(token.ContractID) == needle {
				return token, true
			}
		}
		for _, token := range tokens {
			if strings.ToLower(token.Symbol) == needle {
				return token, true
			}
		}
	}
	return catalog.Token{}, false
}

func clampConfidence(value float64) float64 {
	switch {
	case value <= 0 || math.IsNaN(value):
		return DefaultModelConfidence
	case value > 1:
		return 1
	default:
		return value
	}
}

// Fallback 按关键词优先级选择：stable → btc → eth → 目录首项。
func Fallback(tokens []catalog.Token, goal string) *Prediction {
	lowered := strings.ToLower(goal)

	pick := func(token catalog.Token, reason string) *Prediction {
		return &Prediction{
			SelectedToken: token.ContractID,
			Symbol:        token.Symbol,
			Reasoning:     reason,
			Confidence:    FallbackConfidence,
			Price:         token.Price,
			Source:        SourceFallback,
		}
	}

	if strings.Contains(lowered, "stable") {
		if token, ok := findSymbol(tokens, stableMarkers...); ok {
			return pick(token, "goal asks for a stable asset; picked the first stablecoin in the catalog")
		}
	}
	if strings.Contains(lowered, "btc") || strings.Contains(lowered, "bitcoin") {
		if token, ok := findSymbol(tokens, "btc"); ok {
			return pick(token, "goal mentions bitcoin; picked the first BTC token in the catalog")
		}
	}
	if strings.Contains(lowered, "eth") || strings.Contains(lowered, "ethereum") {
		if token, ok := findSymbol(tokens, "eth"); ok {
			return pick(token, "goal mentions ethereum; picked the first ETH token in the catalog")
		}
	}
	return pick(tokens[0], "no keyword matched; picked the highest priced token")
}

func findSymbol(tokens []catalog.Token, markers ...string) (catalog.Token, bool) {
	for _, token := range tokens {
		symbol := strings.ToLower(token.Symbol)
		for _, marker := range markers {
			if strings.Contains(symbol, marker) {
				return token, true
			}
		}
	}
	return catalog.Token{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func buildPrompt(tokens []catalog.Token, goal string) string {
	var b strings.Builder
	b.WriteString("You are the token selection module of an autonomous trading agent on NEAR.\n")
	b.WriteString(fmt.Sprintf("Goal: %s\n\n", strings.TrimSpace(goal)))
	b.WriteString("Available tokens (symbol | contract id | price USD):\n")
	for _, token := range tokens {
		b.WriteString(fmt.Sprintf("- %s | %s | %s\n", token.Symbol, token.ContractID, token.Price))
	}
	b.WriteString("\nPick exactly one token from the list. Reply with JSON only:\n")
	b.WriteString(`{"selectedToken": "<contract id>", "symbol": "<symbol>", "reasoning": "<short reason>", "confidence": <0..1>}`)
	b.WriteString("\n")
	return b.String()
}
