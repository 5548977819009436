package margin

import (
	"testing"

	"fxmargin/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRequiredMargin(t *testing.T) {
	t.Run("EURUSDStandardLot", func(t *testing.T) {
		m, err := RequiredMargin(d("1.0"), d("1.08510"), 100)
		require.NoError(t, err)
		assert.Equal(t, "1085.10", m.StringFixed(2))
	})

	t.Run("MicroLot", func(t *testing.T) {
		m, err := RequiredMargin(d("0.01"), d("1.2651"), 500)
		require.NoError(t, err)
		assert.True(t, m.Equal(d("2.53")), m.String())
	})

	t.Run("InvalidLeverage", func(t *testing.T) {
		for _, lev := range []int{0, -100} {
			_, err := RequiredMargin(d("1"), d("1.1"), lev)
			assert.ErrorIs(t, err, ErrInvalidLeverage)
		}
	})
}

func TestRequiredMarginMonotonic(t *testing.T) {
	base, err := RequiredMargin(d("1"), d("1.1"), 100)
	require.NoError(t, err)

	moreVolume, _ := RequiredMargin(d("1.5"), d("1.1"), 100)
	higherPrice, _ := RequiredMargin(d("1"), d("1.2"), 100)
	moreLeverage, _ := RequiredMargin(d("1"), d("1.1"), 200)

	assert.True(t, moreVolume.GreaterThan(base))
	assert.True(t, higherPrice.GreaterThan(base))
	assert.True(t, moreLeverage.LessThan(base))
}

func TestProfit(t *testing.T) {
	tests := []struct {
		name    string
		side    types.Side
		open    string
		current string
		volume  string
		symbol  string
		want    string
	}{
		{"BuyEURUSDGain", types.SideBuy, "1.08510", "1.09010", "1.0", "EUR/USD", "500"},
		{"SellEURUSDGain", types.SideSell, "1.09010", "1.08510", "1.0", "EUR/USD", "500"},
		{"SellEURUSDLoss", types.SideSell, "1.08510", "1.09010", "0.5", "EUR/USD", "-250"},
		{"BuyUSDJPYLoss", types.SideBuy, "149.50", "149.00", "1.0", "USD/JPY", "-500"},
		{"SellGBPJPYGain", types.SideSell, "190.00", "189.75", "0.1", "GBP/JPY", "25"},
		{"Flat", types.SideBuy, "1.1", "1.1", "3", "EUR/USD", "0"},
		{"RoundsHalfAwayFromZero", types.SideBuy, "1.00000", "1.000005", "0.01", "EUR/USD", "0.01"},
		{"RoundsNegativeHalfAwayFromZero", types.SideSell, "1.00000", "1.000005", "0.01", "EUR/USD", "-0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Profit(tt.side, d(tt.open), d(tt.current), d(tt.volume), tt.symbol)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestProfitDeterministic(t *testing.T) {
	first := Profit(types.SideBuy, d("1.2345"), d("1.2399"), d("0.37"), "GBP/USD")
	for i := 0; i < 10; i++ {
		assert.True(t, first.Equal(Profit(types.SideBuy, d("1.2345"), d("1.2399"), d("0.37"), "GBP/USD")))
	}
}

func TestPipSize(t *testing.T) {
	assert.True(t, PipSize("USD/JPY").Equal(d("0.01")))
	assert.True(t, PipSize("eurjpy").Equal(d("0.01")))
	assert.True(t, PipSize("EUR/USD").Equal(d("0.0001")))
	assert.False(t, IsJPYQuoted("JPY/USD"))
}

func TestSwapCharge(t *testing.T) {
	// EUR/USD long -0.5 pips on 1 lot: 0.00005 * 100000 = -5.00
	assert.True(t, SwapCharge(types.SideBuy, d("1"), d("-0.5"), d("0.2"), "EUR/USD").Equal(d("-5")))
	assert.True(t, SwapCharge(types.SideSell, d("1"), d("-0.5"), d("0.2"), "EUR/USD").Equal(d("2")))
	// USD/JPY short -0.8 pips on 0.5 lot: 0.008 * 0.5 * 1000 = -4.00
	assert.True(t, SwapCharge(types.SideSell, d("0.5"), d("0.4"), d("-0.8"), "USD/JPY").Equal(d("-4")))
}

func TestCommission(t *testing.T) {
	assert.True(t, Commission(d("0.25"), d("7")).Equal(d("1.75")))
	assert.True(t, Commission(d("1"), decimal.Zero).IsZero())
}

func TestLevel(t *testing.T) {
	assert.True(t, Level(d("1000"), decimal.Zero).IsZero())
	assert.True(t, Level(d("1000"), d("500")).Equal(d("200")))
	assert.True(t, Level(d("-100"), d("500")).IsZero())
	assert.True(t, Level(d("1000"), d("3")).Equal(d("33333.33")))
	assert.True(t, FreeMargin(d("10000"), d("1085.10")).Equal(d("8914.90")))
}

func TestEffectiveLeverage(t *testing.T) {
	assert.Equal(t, 100, EffectiveLeverage(100, 500))
	assert.Equal(t, 400, EffectiveLeverage(500, 400))
	assert.Equal(t, 500, EffectiveLeverage(500, 0))
}

func TestPipValue(t *testing.T) {
	cases := []struct {
		symbol string
		volume string
		want   string
	}{
		{"EUR/USD", "1", "10.00"},
		{"EUR/USD", "0.1", "1.00"},
		{"USD/JPY", "1", "10.00"},
		{"GBP/JPY", "2.5", "25.00"},
	}
	for _, tc := range cases {
		t.Run(tc.symbol+"_"+tc.volume, func(t *testing.T) {
			assert.Equal(t, tc.want, PipValue(d(tc.volume), tc.symbol).StringFixed(2))
		})
	}
}

func TestSizePosition(t *testing.T) {
	cases := []struct {
		name    string
		symbol  string
		entry   string
		stop    string
		risk    string
		pips    string
		lots    string
		wantErr error
	}{
		{"EURUSD", "EUR/USD", "1.0850", "1.0800", "200.00", "50.0", "0.40", nil},
		{"USDJPY", "USD/JPY", "149.50", "149.00", "200.00", "50.0", "0.40", nil},
		{"RoundsDown", "EUR/USD", "1.0850", "1.0820", "200.00", "30.0", "0.66", nil},
		{"NoDistance", "EUR/USD", "1.0850", "1.0850", "", "", "", ErrInvalidDistance},
		{"BadStop", "EUR/USD", "1.0850", "0", "", "", "", ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SizePosition(d("10000"), d("2"), d(tc.entry), d(tc.stop), tc.symbol)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.risk, got.RiskAmount.StringFixed(2))
			assert.Equal(t, tc.pips, got.StopPips.StringFixed(1))
			assert.Equal(t, tc.lots, got.Lots.StringFixed(2))
			assert.True(t, got.Units.Equal(got.Lots.Mul(ContractSize)))
		})
	}
}

func TestRiskRewardRatio(t *testing.T) {
	rr, err := RiskRewardRatio(d("1.0850"), d("1.0800"), d("1.0950"), "EUR/USD")
	require.NoError(t, err)
	assert.Equal(t, "50.0", rr.RiskPips.StringFixed(1))
	assert.Equal(t, "100.0", rr.RewardPips.StringFixed(1))
	assert.Equal(t, "2.00", rr.Ratio.StringFixed(2))

	rr, err = RiskRewardRatio(d("149.50"), d("149.80"), d("149.05"), "USD/JPY")
	require.NoError(t, err)
	assert.Equal(t, "1.50", rr.Ratio.StringFixed(2))

	_, err = RiskRewardRatio(d("1.0850"), d("1.0850"), d("1.0950"), "EUR/USD")
	assert.ErrorIs(t, err, ErrInvalidDistance)
}
