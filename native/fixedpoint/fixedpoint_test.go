package fixedpoint

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMulDivKeepsPrecision(t *testing.T) {
	// 100 * 5% annual * 30 days / 365 days evaluated at 1e30 scale
	principal := big.NewInt(100_000_000)
	rate := MustParse("0.05")
	perSecond, err := MulDiv(principal, rate, big.NewInt(365*24*60*60))
	require.NoError(t, err)

	interest, err := MulDiv(perSecond, big.NewInt(30*24*60*60), Scale)
	require.NoError(t, err)
	require.Equal(t, int64(410958), interest.Int64())
}

func TestMulDivErrors(t *testing.T) {
	_, err := MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0))
	require.ErrorIs(t, err, ErrDivisionByZero)

	_, err = MulDiv(big.NewInt(-1), big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrNegative)

	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	_, err = MulDiv(huge, big.NewInt(4), big.NewInt(1))
	require.True(t, errors.Is(err, ErrOverflow))

	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = Mul(tooWide, One())
	require.ErrorIs(t, err, ErrOverflow)
}

func TestMulDivUpRoundsRemainder(t *testing.T) {
	got, err := MulDivUp(big.NewInt(10), big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, int64(4), got.Int64())

	exact, err := MulDivUp(big.NewInt(9), big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, int64(3), exact.Int64())
}

func TestParseAndFormat(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.05", "0.05"},
		{"1", "1"},
		{"1.50", "1.5"},
		{"", "0"},
	}
	for _, tc := range cases {
		v, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, Format(v))
	}

	_, err := Parse("-1")
	require.ErrorIs(t, err, ErrNegative)
	_, err = Parse("abc")
	require.Error(t, err)
	_, err = Parse("0.0000000000000000000000000000001")
	require.Error(t, err)
}

func TestSubRejectsUnderflow(t *testing.T) {
	_, err := Sub(big.NewInt(1), big.NewInt(2))
	require.ErrorIs(t, err, ErrNegative)
	v, err := Sub(big.NewInt(5), big.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, int64(3), v.Int64())
}
