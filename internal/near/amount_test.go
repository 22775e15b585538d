package near

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAmount(t *testing.T) {
	cases := map[string]string{
		"1e+21":     "1000000000000000000000",
		"1E21":      "1000000000000000000000",
		"1.5e3":     "1500",
		"1.2345e2":  "123",
		"+0042":     "42",
		"000":       "0",
		"12.99":     "12",
		"2.5e-1":    "0",
		"123456789": "123456789",
		" 7 ":       "7",
	}
	for input, want := range cases {
		got, err := NormalizeAmount(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)

		again, err := NormalizeAmount(got)
		require.NoError(t, err)
		require.Equal(t, got, again, "normalize must be idempotent for %s", input)
	}
}

func TestNormalizeAmountRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "-1", "abc", "1e", "1e999", "1..2", "0x10"} {
		_, err := NormalizeAmount(input)
		require.Error(t, err, input)
	}
}

func TestParseAndFormatAmount(t *testing.T) {
	yocto, err := ParseAmount("0.5")
	require.NoError(t, err)
	require.Equal(t, "500000000000000000000000", yocto)

	yocto, err = ParseAmount("10")
	require.NoError(t, err)
	require.Equal(t, "10000000000000000000000000", yocto)

	human, err := FormatAmount("1250000000000000000000")
	require.NoError(t, err)
	require.Equal(t, "0.00125", human)

	human, err = FormatAmount("0")
	require.NoError(t, err)
	require.Equal(t, "0", human)

	human, err = FormatAmount("12000000000000000000000000")
	require.NoError(t, err)
	require.Equal(t, "12", human)
}

func TestParseUnitsTruncatesExtraDecimals(t *testing.T) {
	raw, err := ParseUnits("1.1234567", 6)
	require.NoError(t, err)
	require.Equal(t, "1123456", raw)

	raw, err = ParseUnits("5e-1", 2)
	require.NoError(t, err)
	require.Equal(t, "50", raw)
}

func TestHasSufficientBalance(t *testing.T) {
	require.True(t, HasSufficientBalance("100", "60", "40"))
	require.False(t, HasSufficientBalance("100", "60", "41"))
	require.True(t, HasSufficientBalance("100", "100", ""))
	require.False(t, HasSufficientBalance("not-a-number", "1", "0"))
	require.False(t, HasSufficientBalance("100", "1", "x"))

	// values beyond float64 precision must still compare exactly
	require.True(t, HasSufficientBalance("10000000000000000000000001", "10000000000000000000000000", "1"))
	require.False(t, HasSufficientBalance("10000000000000000000000000", "10000000000000000000000000", "1"))
	require.True(t, HasSufficientBalance("1e+25", "5000000000000000000000000", "5e+24"))
}

func TestCompareAmounts(t *testing.T) {
	cmp, err := CompareAmounts("2", "10")
	require.NoError(t, err)
	require.Equal(t, -1, cmp)

	_, err = CompareAmounts("2", "ten")
	require.Error(t, err)
	require.True(t, IsPositiveAmount("1"))
	require.False(t, IsPositiveAmount("0"))
}
