package auction

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/realtime-auction-backend/internal/domain/values"
)

func price(s string) values.Money {
	return values.MustNewMoneyFromString(s, values.USD)
}

func TestNewAuctionDerivesStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	future, err := New(uuid.New(), "lot", price("100.00"),
		now.Add(time.Hour), now.Add(2*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, StatusUpcoming, future.Status)

	started, err := New(uuid.New(), "lot", price("100.00"),
		now.Add(-time.Minute), now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, StatusLive, started.Status)
	assert.True(t, started.CurrentPrice.Equal(started.StartingPrice))
}

func TestNewAuctionValidation(t *testing.T) {
	now := time.Now().UTC()

	_, err := New(uuid.Nil, "lot", price("100.00"), now, now.Add(time.Hour), now)
	assert.Error(t, err)

	_, err = New(uuid.New(), "", price("100.00"), now, now.Add(time.Hour), now)
	assert.Error(t, err)

	_, err = New(uuid.New(), "lot", values.Zero(values.USD), now, now.Add(time.Hour), now)
	assert.Error(t, err)

	// End before start.
	_, err = New(uuid.New(), "lot", price("100.00"), now.Add(time.Hour), now, now)
	assert.Error(t, err)
}

func TestLifecycleTransitions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a, err := New(uuid.New(), "lot", price("100.00"),
		now.Add(time.Hour), now.Add(2*time.Hour), now)
	require.NoError(t, err)

	require.NoError(t, a.Promote(now.Add(time.Hour)))
	assert.Equal(t, StatusLive, a.Status)
	assert.Error(t, a.Promote(now), "live auctions cannot be promoted again")

	winner := uuid.New()
	require.NoError(t, a.Close(&winner, now.Add(2*time.Hour)))
	assert.Equal(t, StatusClosed, a.Status)
	assert.Equal(t, winner, *a.WinnerID)
	assert.True(t, a.Status.Terminal())
	assert.Error(t, a.Close(&winner, now), "closed is final")
}

func TestCancelRules(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seller := uuid.New()
	a, err := New(seller, "lot", price("100.00"),
		now.Add(-time.Hour), now.Add(time.Hour), now)
	require.NoError(t, err)

	assert.Error(t, a.Cancel(uuid.New(), now), "only the seller cancels")

	require.NoError(t, a.ApplyBid(price("110.00"), now))
	assert.Error(t, a.Cancel(seller, now), "bids lock the auction in")

	fresh, err := New(seller, "lot", price("100.00"),
		now.Add(-time.Hour), now.Add(time.Hour), now)
	require.NoError(t, err)
	require.NoError(t, fresh.Cancel(seller, now))
	assert.Equal(t, StatusCancelled, fresh.Status)
	assert.Error(t, fresh.Cancel(seller, now), "cancelled is final")
}

func TestApplyBidRequiresStrictIncrease(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a, err := New(uuid.New(), "lot", price("100.00"),
		now.Add(-time.Hour), now.Add(time.Hour), now)
	require.NoError(t, err)

	require.NoError(t, a.ApplyBid(price("110.00"), now))
	assert.Equal(t, 1, a.BidCount)

	assert.Error(t, a.ApplyBid(price("110.00"), now))
	assert.Error(t, a.ApplyBid(price("105.00"), now))
	assert.Equal(t, 1, a.BidCount)
	assert.Equal(t, "110.00", a.CurrentPrice.String())
}

func TestIsLiveRespectsWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a, err := New(uuid.New(), "lot", price("100.00"),
		now.Add(-time.Hour), now.Add(time.Hour), now)
	require.NoError(t, err)

	assert.True(t, a.IsLive(now))
	// Status says live but the window has passed: bids must not commit.
	assert.False(t, a.IsLive(now.Add(2*time.Hour)))
	assert.True(t, a.DueForClose(now.Add(time.Hour)))
}
