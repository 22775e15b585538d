package near

import (
	"math/big"
	"strconv"
	"strings"

	xerrors "SwapAgent-Chain/internal/errors"
)

// NativeDecimals is the number of decimals of the native token (yoctoNEAR).
const NativeDecimals = 24

// maxExponent bounds exponent notation so a hostile value cannot allocate
// an arbitrarily long digit string.
const maxExponent = 128

// NormalizeAmount rewrites an integer amount into plain decimal digits.
// Exponent forms such as "1e+21" or "1.5E3" are expanded, a leading "+"
// and leading zeros are stripped, and any fractional remainder is truncated.
// The output of NormalizeAmount is always a valid input that maps to itself.
func NormalizeAmount(value string) (string, error) {
	s := strings.TrimSpace(value)
	s = strings.TrimPrefix(s, "+")
	if s == "" || strings.HasPrefix(s, "-") {
		return "", xerrors.New(CodeInvalidAmount, "金额格式无效: "+value)
	}

	mantissa, exponent := s, 0
	if idx := strings.IndexAny(s, "eE"); idx >= 0 {
		mantissa = s[:idx]
		exp, err := strconv.Atoi(strings.TrimPrefix(s[idx+1:], "+"))
		if err != nil || exp > maxExponent || exp < -maxExponent {
			return "", xerrors.New(CodeInvalidAmount, "金额指数无效: "+value)
		}
		exponent = exp
	}

	intPart, fracPart, _ := strings.Cut(mantissa, ".")
	if intPart == "" && fracPart == "" {
		return "", xerrors.New(CodeInvalidAmount, "金额格式无效: "+value)
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return "", xerrors.New(CodeInvalidAmount, "金额格式无效: "+value)
	}

	digits := intPart + fracPart
	shift := exponent - len(fracPart)
	switch {
	case shift > 0:
		digits += strings.Repeat("0", shift)
	case shift < 0:
		cut := len(digits) + shift
		if cut <= 0 {
			digits = ""
		} else {
			digits = digits[:cut]
		}
	}

	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return "0", nil
	}
	return digits, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseUnits converts a human decimal string into the smallest unit of a
// token with the given number of decimals. Extra fractional digits are truncated.
func ParseUnits(value string, decimals int) (string, error) {
	s := strings.TrimSpace(value)
	if strings.ContainsAny(s, "eE") {
		f, ok := new(big.Float).SetPrec(256).SetString(s)
		if !ok || f.Sign() < 0 {
			return "", xerrors.New(CodeInvalidAmount, "金额格式无效: "+value)
		}
		s = f.Text('f', decimals)
	}
	s = strings.TrimPrefix(s, "+")
	intPart, fracPart, _ := strings.Cut(s, ".")
	if (intPart == "" && fracPart == "") || !isDigits(intPart) || !isDigits(fracPart) {
		return "", xerrors.New(CodeInvalidAmount, "金额格式无效: "+value)
	}
	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))
	return NormalizeAmount(intPart + fracPart)
}

// FormatUnits renders a smallest-unit integer as a decimal string with
// trailing fractional zeros removed.
func FormatUnits(raw string, decimals int) (string, error) {
	digits, err := NormalizeAmount(raw)
	if err != nil {
		return "", err
	}
	if decimals <= 0 {
		return digits, nil
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	intPart := digits[:len(digits)-decimals]
	fracPart := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if fracPart == "" {
		return intPart, nil
	}
	return intPart + "." + fracPart, nil
}

// ParseAmount converts a NEAR decimal string such as "0.5" into yoctoNEAR.
func ParseAmount(value string) (string, error) {
	return ParseUnits(value, NativeDecimals)
}

// FormatAmount converts yoctoNEAR into a NEAR decimal string.
func FormatAmount(yocto string) (string, error) {
	return FormatUnits(yocto, NativeDecimals)
}

// HasSufficientBalance reports whether balance >= amount + reserve. All three
// values are smallest-unit integer strings. Unparsable input yields false.
func HasSufficientBalance(balance, amount, reserve string) bool {
	b, ok := bigAmount(balance)
	if !ok {
		return false
	}
	a, ok := bigAmount(amount)
	if !ok {
		return false
	}
	r := new(big.Int)
	if strings.TrimSpace(reserve) != "" {
		if r, ok = bigAmount(reserve); !ok {
			return false
		}
	}
	need := new(big.Int).Add(a, r)
	return b.Cmp(need) >= 0
}

// CompareAmounts compares two smallest-unit integer strings.
func CompareAmounts(a, b string) (int, error) {
	x, ok := bigAmount(a)
	if !ok {
		return 0, xerrors.New(CodeInvalidAmount, "金额格式无效: "+a)
	}
	y, ok := bigAmount(b)
	if !ok {
		return 0, xerrors.New(CodeInvalidAmount, "金额格式无效: "+b)
	}
	return x.Cmp(y), nil
}

// IsPositiveAmount reports whether the value is a valid integer amount above zero.
func IsPositiveAmount(value string) bool {
	v, ok := bigAmount(value)
	return ok && v.Sign() > 0
}

func bigAmount(value string) (*big.Int, bool) {
	normalized, err := NormalizeAmount(value)
	if err != nil {
		return nil, false
	}
	return new(big.Int).SetString(normalized, 10)
}
