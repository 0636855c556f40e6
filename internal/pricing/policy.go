// Package pricing computes dynamic bid increments and price projections from
// auction telemetry. Everything here is a pure function of its inputs; the
// lane supplies timestamps from the commit clock.
package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Telemetry is the pricing input snapshot taken by the lane at decision time.
// RecentBids is ordered oldest first and capped by the lane at the last 20.
type Telemetry struct {
	StartingPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	BidCount      int
	TimeRemaining time.Duration
	RecentBids    []BidPoint
	Now           time.Time
}

// BidPoint is one committed bid as the policy sees it.
type BidPoint struct {
	BidderID uuid.UUID
	Amount   decimal.Decimal
	PlacedAt time.Time
}

var (
	baseIncrement = decimal.NewFromInt(5)
	minIncrement  = decimal.NewFromInt(1)
	maxIncrement  = decimal.NewFromInt(500)

	proxyRatio = decimal.NewFromFloat(0.7)
	decay      = decimal.NewFromFloat(0.8)

	velocityWindow = 10 * time.Minute
)

// BidIncrement returns the minimum step above current price. The base step
// is scaled by price-jump, velocity, time-pressure, and competition factors,
// clamped to [1.00, 500.00], then rounded to the band step for the current
// price.
func BidIncrement(t Telemetry) decimal.Decimal {
	inc := baseIncrement.
		Mul(priceJumpFactor(t)).
		Mul(velocityFactor(t)).
		Mul(timePressureFactor(t)).
		Mul(competitionFactor(t))

	if inc.LessThan(minIncrement) {
		inc = minIncrement
	}
	if inc.GreaterThan(maxIncrement) {
		inc = maxIncrement
	}

	return roundToStep(inc, t.CurrentPrice)
}

// ProxyIncrement is the conservative step automatic counter-bids use:
// 0.7x the standard increment with a 1.00 floor, rounded to the same band.
func ProxyIncrement(t Telemetry) decimal.Decimal {
	inc := BidIncrement(t).Mul(proxyRatio)
	if inc.LessThan(minIncrement) {
		inc = minIncrement
	}
	return roundToStep(inc, t.CurrentPrice)
}

// SuggestedNextBid is the lowest amount the next bid can carry.
func SuggestedNextBid(t Telemetry) decimal.Decimal {
	return t.CurrentPrice.Add(BidIncrement(t))
}

// PredictedFinalPrice projects the closing price from the last 10 bids'
// cadence and average step, damped by a 0.8 decay. With fewer than 3 bids
// there is no cadence to project, so it falls back to 1.2x current price.
func PredictedFinalPrice(t Telemetry) decimal.Decimal {
	recent := t.RecentBids
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	if len(recent) < 3 {
		return t.CurrentPrice.Mul(decimal.NewFromFloat(1.2)).Round(2)
	}

	n := len(recent)
	span := recent[n-1].PlacedAt.Sub(recent[0].PlacedAt)
	if span <= 0 {
		return t.CurrentPrice.Mul(decimal.NewFromFloat(1.2)).Round(2)
	}

	avgGap := span / time.Duration(n-1)
	avgStep := recent[n-1].Amount.Sub(recent[0].Amount).
		Div(decimal.NewFromInt(int64(n - 1)))

	projectedBids := decimal.NewFromFloat(t.TimeRemaining.Seconds() / avgGap.Seconds())
	if projectedBids.IsNegative() {
		projectedBids = decimal.Zero
	}

	return t.CurrentPrice.Add(avgStep.Mul(projectedBids).Mul(decay)).Round(2)
}

// priceJumpFactor scales with how far price has run from the start.
func priceJumpFactor(t Telemetry) decimal.Decimal {
	if !t.StartingPrice.IsPositive() {
		return decimal.NewFromInt(1)
	}
	r, _ := t.CurrentPrice.Div(t.StartingPrice).Float64()
	switch {
	case r <= 1.5:
		return decimal.NewFromInt(1)
	case r <= 2.0:
		return decimal.NewFromFloat(1.5)
	case r <= 3.0:
		return decimal.NewFromInt(2)
	case r <= 5.0:
		return decimal.NewFromInt(3)
	default:
		return decimal.NewFromInt(4)
	}
}

// velocityFactor scales with bids per minute over the last ten minutes.
func velocityFactor(t Telemetry) decimal.Decimal {
	cutoff := t.Now.Add(-velocityWindow)
	var inWindow int
	for _, b := range t.RecentBids {
		if !b.PlacedAt.Before(cutoff) {
			inWindow++
		}
	}
	perMinute := float64(inWindow) / velocityWindow.Minutes()
	switch {
	case perMinute < 0.5:
		return decimal.NewFromInt(1)
	case perMinute < 1.0:
		return decimal.NewFromFloat(1.2)
	case perMinute < 2.0:
		return decimal.NewFromFloat(1.5)
	case perMinute < 5.0:
		return decimal.NewFromInt(2)
	default:
		return decimal.NewFromInt(3)
	}
}

// timePressureFactor scales as the end time approaches.
func timePressureFactor(t Telemetry) decimal.Decimal {
	minutes := t.TimeRemaining.Minutes()
	switch {
	case minutes > 60:
		return decimal.NewFromInt(1)
	case minutes > 30:
		return decimal.NewFromFloat(1.1)
	case minutes > 15:
		return decimal.NewFromFloat(1.3)
	case minutes > 5:
		return decimal.NewFromFloat(1.5)
	case minutes > 1:
		return decimal.NewFromInt(2)
	default:
		return decimal.NewFromInt(3)
	}
}

// competitionFactor scales with how many distinct bidders are active in the
// last 20 bids.
func competitionFactor(t Telemetry) decimal.Decimal {
	recent := t.RecentBids
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	bidders := make(map[uuid.UUID]struct{}, len(recent))
	for _, b := range recent {
		bidders[b.BidderID] = struct{}{}
	}
	switch n := len(bidders); {
	case n <= 2:
		return decimal.NewFromInt(1)
	case n <= 4:
		return decimal.NewFromFloat(1.2)
	case n <= 6:
		return decimal.NewFromFloat(1.4)
	case n <= 10:
		return decimal.NewFromFloat(1.6)
	default:
		return decimal.NewFromInt(2)
	}
}

// roundToStep snaps an increment to the meaningful step for the price band,
// never rounding below one step.
func roundToStep(inc, currentPrice decimal.Decimal) decimal.Decimal {
	step := bandStep(currentPrice)
	rounded := inc.Div(step).Round(0).Mul(step)
	if rounded.LessThan(step) {
		rounded = step
	}
	return rounded
}

func bandStep(currentPrice decimal.Decimal) decimal.Decimal {
	p, _ := currentPrice.Float64()
	switch {
	case p <= 100:
		return decimal.NewFromInt(1)
	case p <= 500:
		return decimal.NewFromInt(5)
	case p <= 1000:
		return decimal.NewFromInt(10)
	case p <= 5000:
		return decimal.NewFromInt(25)
	default:
		return decimal.NewFromInt(50)
	}
}
