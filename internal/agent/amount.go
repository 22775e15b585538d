package agent

import (
	"regexp"
	"strings"

	"SwapAgent-Chain/internal/near"
)

// DefaultSwapAmount 是目标文本中没有可用金额时的兑换数量（NEAR）。
const DefaultSwapAmount = "0.5"

// 整数部分可省略（".5"），匹配从小数点开始，不会只截取小数位。
const amountPattern = `(\d*\.?\d+)`

// 按优先级排列，越具体的表述越靠前。
var swapAmountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmaximum\s+(?:of\s+)?` + amountPattern + `\s*near\b`),
	regexp.MustCompile(`(?i)\bmax\s+` + amountPattern + `\s*near\b`),
	regexp.MustCompile(`(?i)\bswap\s+` + amountPattern + `\s*near\b`),
	regexp.MustCompile(`(?i)` + amountPattern + `\s*near\s+tokens?\b`),
	regexp.MustCompile(`(?i)` + amountPattern + `\s*near\b`),
}

// ExtractSwapAmount 从目标文本中提取兑换金额。依次尝试各个模式，第一个不超过余额的值胜出；
// 都不满足时返回 DefaultSwapAmount。余额无法解析时视为 0。
func ExtractSwapAmount(goal, balance string) string {
	balanceYocto, err := near.ParseAmount(strings.TrimSpace(balance))
	if err != nil {
		balanceYocto = "0"
	}
	for _, pattern := range swapAmountPatterns {
		match := pattern.FindStringSubmatch(goal)
		if len(match) < 2 {
			continue
		}
		amountYocto, err := near.ParseAmount(match[1])
		if err != nil || !near.IsPositiveAmount(amountYocto) {
			continue
		}
		if cmp, err := near.CompareAmounts(amountYocto, balanceYocto); err == nil && cmp <= 0 {
			if strings.HasPrefix(match[1], ".") {
				return "0" + match[1]
			}
			return match[1]
		}
	}
	return DefaultSwapAmount
}
