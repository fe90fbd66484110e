package strategy

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testExpiration = "2026-08-27"

var testExpiry = time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

func opt(typ models.OptionType, strike, bid, ask, delta float64) models.Option {
	return models.Option{
		Symbol: models.FormatOptionSymbol("SPXW", testExpiry, typ, strike),
		Strike: strike,
		Type:   typ,
		Bid:    bid,
		Ask:    ask,
		Delta:  delta,
	}
}

func testChain() models.Chain {
	return models.Chain{
		testExpiration: {
			opt(models.OptionTypeCall, 6875, 5.00, 5.20, 0.30),
			opt(models.OptionTypeCall, 6900, 3.10, 3.30, 0.21),
			opt(models.OptionTypeCall, 6925, 1.00, 1.10, 0.12),
			opt(models.OptionTypeCall, 6950, 0.40, 0.50, 0.05),
			opt(models.OptionTypePut, 6825, 4.80, 5.00, -0.31),
			opt(models.OptionTypePut, 6800, 2.80, 3.00, -0.19),
			opt(models.OptionTypePut, 6775, 0.90, 1.00, -0.10),
			opt(models.OptionTypePut, 6750, 0.30, 0.40, -0.04),
		},
	}
}

func condorVariant() *config.VariantConfig {
	return &config.VariantConfig{
		Name:              "20 Delta",
		Prefix:            "IC-20D",
		Structure:         config.StructureCondor,
		TargetDelta:       0.20,
		MaxDeltaDeviation: 0.05,
		WingWidth:         25,
		ProfitTargetPct:   0.25,
	}
}

func flyVariant() *config.VariantConfig {
	return &config.VariantConfig{
		Name:            "Fly V1",
		Prefix:          "IF-V1",
		Structure:       config.StructureFly,
		WingWidth:       25,
		ProfitTargetPct: 0.20,
	}
}

func quietSelector() *Selector {
	return NewSelector(log.New(io.Discard, "", 0))
}

func TestSelectCondor(t *testing.T) {
	legs, err := quietSelector().Select(testChain(), testExpiration, 6850, condorVariant())
	require.NoError(t, err)

	assert.Equal(t, 6900.0, legs.ShortCall.Strike, "closest call to 0.20 delta")
	assert.Equal(t, 6925.0, legs.LongCall.Strike, "long call at short + width")
	assert.Equal(t, 6800.0, legs.ShortPut.Strike, "closest put to 0.20 delta")
	assert.Equal(t, 6775.0, legs.LongPut.Strike, "long put at short - width")
	assert.False(t, legs.IsFly())

	// Credit is the sum of short mids minus the sum of long mids.
	assert.InDelta(t, 3.20+2.90-1.05-0.95, legs.Credit, 1e-9)
	assert.Equal(t, 25.0, legs.Width())
	assert.Equal(t, models.SideShort, legs.ShortCall.Side)
	assert.Equal(t, models.SideLong, legs.LongPut.Side)
}

func TestSelectCondorDeltaTooFar(t *testing.T) {
	v := condorVariant()
	v.MaxDeltaDeviation = 0.005
	_, err := quietSelector().Select(testChain(), testExpiration, 6850, v)
	assert.ErrorIs(t, err, ErrDeltaTooFar)
}

func TestSelectCondorMissingWing(t *testing.T) {
	v := condorVariant()
	v.WingWidth = 30 // no 6930 call or 6770 put listed
	_, err := quietSelector().Select(testChain(), testExpiration, 6850, v)
	assert.ErrorIs(t, err, ErrStrikeUnavailable)
}

func TestSelectRejectsUnknownExpiration(t *testing.T) {
	_, err := quietSelector().Select(testChain(), "2026-08-28", 6850, condorVariant())
	assert.ErrorIs(t, err, ErrNoExpiration)
	assert.ErrorIs(t, err, ErrNoCandidate, "every rejection wraps the base sentinel")
}

func TestSelectRejectsNonPositiveCredit(t *testing.T) {
	chain := models.Chain{
		testExpiration: {
			opt(models.OptionTypeCall, 6900, 1.00, 1.10, 0.20),
			opt(models.OptionTypeCall, 6925, 2.00, 2.10, 0.12),
			opt(models.OptionTypePut, 6800, 1.00, 1.10, -0.20),
			opt(models.OptionTypePut, 6775, 2.00, 2.10, -0.10),
		},
	}
	_, err := quietSelector().Select(chain, testExpiration, 6850, condorVariant())
	assert.ErrorIs(t, err, ErrNoCredit)
}

func TestSelectFlyCentersOnSpot(t *testing.T) {
	legs, err := quietSelector().Select(testChain(), testExpiration, 6898, flyVariant())
	require.NoError(t, err)

	assert.Equal(t, 6900.0, legs.ShortCall.Strike)
	assert.Equal(t, 6900.0, legs.ShortPut.Strike)
	assert.True(t, legs.IsFly())
	assert.Equal(t, 6925.0, legs.LongCall.Strike)
	assert.Equal(t, 6875.0, legs.LongPut.Strike)
}

func TestSelectFlyLowerTie(t *testing.T) {
	chain := models.Chain{
		testExpiration: {
			opt(models.OptionTypeCall, 6850, 20.0, 21.0, 0.50),
			opt(models.OptionTypeCall, 6875, 10.0, 11.0, 0.35),
			opt(models.OptionTypeCall, 6900, 3.10, 3.30, 0.21),
			opt(models.OptionTypePut, 6850, 19.0, 20.0, -0.50),
			opt(models.OptionTypePut, 6825, 10.0, 11.0, -0.30),
			opt(models.OptionTypePut, 6900, 40.0, 41.0, -0.75),
		},
	}
	v := flyVariant()
	v.WingWidth = 25
	legs, err := quietSelector().Select(chain, testExpiration, 6875, v)
	require.NoError(t, err)
	// 6850 and 6900 are equidistant from 6875; ties go low.
	assert.Equal(t, 6850.0, legs.ShortCall.Strike)
}
