package pricing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func baseTelemetry() Telemetry {
	return Telemetry{
		StartingPrice: dec("100"),
		CurrentPrice:  dec("100"),
		TimeRemaining: 2 * time.Hour,
		Now:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBidIncrementColdStart(t *testing.T) {
	// No history, no pressure: the base increment passes through untouched.
	inc := BidIncrement(baseTelemetry())
	assert.True(t, inc.Equal(dec("5")), "got %s", inc)
}

func TestBidIncrementVelocity(t *testing.T) {
	tel := baseTelemetry()
	bidderA, bidderB := uuid.New(), uuid.New()
	for i := 0; i < 10; i++ {
		who := bidderA
		if i%2 == 1 {
			who = bidderB
		}
		tel.RecentBids = append(tel.RecentBids, BidPoint{
			BidderID: who,
			Amount:   dec("100").Add(decimal.NewFromInt(int64(i))),
			PlacedAt: tel.Now.Add(-time.Duration(10-i) * time.Minute / 2),
		})
	}

	// 1 bid/min lands in the 1.5x velocity band; price band 100 rounds to
	// whole units, 7.50 -> 8.
	inc := BidIncrement(tel)
	assert.True(t, inc.Equal(dec("8")), "got %s", inc)
}

func TestBidIncrementTimePressure(t *testing.T) {
	tel := baseTelemetry()
	tel.TimeRemaining = 3 * time.Minute

	inc := BidIncrement(tel)
	assert.True(t, inc.Equal(dec("10")), "got %s", inc)
}

func TestBidIncrementPriceJump(t *testing.T) {
	tel := baseTelemetry()
	tel.CurrentPrice = dec("400")

	// 4x over start triggers the 3x jump factor; the 101-500 band rounds to
	// multiples of 5.
	inc := BidIncrement(tel)
	assert.True(t, inc.Equal(dec("15")), "got %s", inc)
}

func TestBidIncrementNeverRoundsBelowBandStep(t *testing.T) {
	tel := baseTelemetry()
	tel.CurrentPrice = dec("6000")

	// 5 x 4 = 20 would round to zero in the 50-step band; it snaps up to one
	// step instead.
	inc := BidIncrement(tel)
	assert.True(t, inc.Equal(dec("50")), "got %s", inc)
}

func TestProxyIncrement(t *testing.T) {
	// 0.7 x 5 = 3.50 rounds to 4 in the whole-unit band.
	inc := ProxyIncrement(baseTelemetry())
	assert.True(t, inc.Equal(dec("4")), "got %s", inc)
}

func TestSuggestedNextBid(t *testing.T) {
	next := SuggestedNextBid(baseTelemetry())
	assert.True(t, next.Equal(dec("105")), "got %s", next)

	tel := baseTelemetry()
	tel.CurrentPrice = dec("110")
	next = SuggestedNextBid(tel)
	assert.True(t, next.Equal(dec("115")), "got %s", next)
}

func TestPredictedFinalPriceFewBids(t *testing.T) {
	tel := baseTelemetry()
	tel.CurrentPrice = dec("250")

	got := PredictedFinalPrice(tel)
	assert.True(t, got.Equal(dec("300")), "got %s", got)
}

func TestPredictedFinalPriceProjection(t *testing.T) {
	tel := baseTelemetry()
	tel.CurrentPrice = dec("200")
	tel.TimeRemaining = 10 * time.Minute

	start := tel.Now.Add(-4 * time.Minute)
	for i := 0; i < 5; i++ {
		tel.RecentBids = append(tel.RecentBids, BidPoint{
			BidderID: uuid.New(),
			Amount:   dec("100").Add(decimal.NewFromInt(int64(i * 25))),
			PlacedAt: start.Add(time.Duration(i) * time.Minute),
		})
	}

	// Average gap 60s, average step 25, 10 projected bids damped by 0.8:
	// 200 + 25*10*0.8 = 400.
	got := PredictedFinalPrice(tel)
	assert.True(t, got.Equal(dec("400")), "got %s", got)
}

func TestPredictedFinalPriceZeroSpanFallsBack(t *testing.T) {
	tel := baseTelemetry()
	tel.CurrentPrice = dec("100")
	at := tel.Now
	for i := 0; i < 3; i++ {
		tel.RecentBids = append(tel.RecentBids, BidPoint{
			BidderID: uuid.New(),
			Amount:   dec("100"),
			PlacedAt: at,
		})
	}

	got := PredictedFinalPrice(tel)
	assert.True(t, got.Equal(dec("120")), "got %s", got)
}
