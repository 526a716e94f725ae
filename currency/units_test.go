package currency

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	u, err := ParseUnits("10.00", 6)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10_000_000), u)

	u, err = ParseUnits("0.01", 6)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10_000), u)

	_, err = ParseUnits("-1", 6)
	require.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ParseUnits("0.0000001", 6)
	require.ErrorIs(t, err, ErrTooPrecise)

	_, err = ParseUnits("not-a-number", 6)
	require.Error(t, err)
}

func TestFormatUnits(t *testing.T) {
	require.Equal(t, "7.2", FormatUnits(big.NewInt(7_200_000), 6))
	require.Equal(t, "0.01", FormatUnits(big.NewInt(10_000), 6))
	require.Equal(t, "0", FormatUnits(big.NewInt(0), 6))
}

func TestPercentOf(t *testing.T) {
	base, _ := ParseUnits("9", 6)

	// 9 × 20% = 1.8
	require.Equal(t, big.NewInt(1_800_000), PercentOf(base, 20, 6))
	// 9 × 80% = 7.2
	require.Equal(t, big.NewInt(7_200_000), PercentOf(base, 80, 6))

	// Rounding at 4 places, half up: 0.0001 × 33% = 0.000033 -> 0.0000.
	tiny, _ := ParseUnits("0.0001", 6)
	require.Equal(t, int64(0), PercentOf(tiny, 33, 6).Int64())

	// 0.01 × 25% = 0.0025 exactly.
	cent, _ := ParseUnits("0.01", 6)
	require.Equal(t, big.NewInt(2_500), PercentOf(cent, 25, 6))
}

func TestSplitEvenSingle(t *testing.T) {
	out := SplitEven(big.NewInt(7_200_000), 1)
	require.Len(t, out, 1)
	require.Equal(t, big.NewInt(7_200_000), out[0])
}

func TestSplitEvenRemainder(t *testing.T) {
	// 10 units over 3 parts: 4, 3, 3.
	out := SplitEven(big.NewInt(10), 3)
	require.Len(t, out, 3)
	require.Equal(t, int64(4), out[0].Int64())
	require.Equal(t, int64(3), out[1].Int64())
	require.Equal(t, int64(3), out[2].Int64())
	require.Equal(t, int64(10), Sum(out...).Int64())
}

func TestSplitEvenDropsZeroParts(t *testing.T) {
	out := SplitEven(big.NewInt(2), 5)
	require.Len(t, out, 2)
	require.Equal(t, int64(2), Sum(out...).Int64())
}

func TestSplitEvenSumsExactly(t *testing.T) {
	for parts := 1; parts <= 20; parts++ {
		total := big.NewInt(1_800_001)
		out := SplitEven(total, parts)
		require.Equal(t, total, Sum(out...), "parts=%d", parts)
	}
}
