package values

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoneyFromString(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     string
		wantErr  bool
	}{
		{name: "whole amount", amount: "100", currency: "USD", want: "100.00"},
		{name: "two decimals", amount: "99.95", currency: "USD", want: "99.95"},
		{name: "one decimal", amount: "10.5", currency: "EUR", want: "10.50"},
		{name: "three decimals rejected", amount: "10.005", currency: "USD", wantErr: true},
		{name: "garbage rejected", amount: "ten", currency: "USD", wantErr: true},
		{name: "unknown currency", amount: "10", currency: "XYZ", wantErr: true},
		{name: "lowercase currency accepted", amount: "10", currency: "usd", want: "10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMoneyFromString(tt.amount, tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.String())
		})
	}
}

func TestMoneyComparisons(t *testing.T) {
	a := MustNewMoneyFromString("100.00", USD)
	b := MustNewMoneyFromString("105.00", USD)

	assert.True(t, b.GreaterThan(a))
	assert.True(t, a.LessThan(b))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, a.Equal(MustNewMoneyFromString("100", USD)))
}

func TestMoneyComparePanicsAcrossCurrencies(t *testing.T) {
	usd := MustNewMoneyFromString("10", USD)
	eur := MustNewMoneyFromString("10", EUR)
	assert.Panics(t, func() { usd.Compare(eur) })
}

func TestMoneyAddAmount(t *testing.T) {
	m := MustNewMoneyFromString("100.00", USD)
	got := m.AddAmount(decimal.NewFromFloat(5.5))
	assert.Equal(t, "105.50", got.String())
	assert.Equal(t, USD, got.Currency())
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	m := MustNewMoneyFromString("1234.50", USD)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `"1234.50"`, string(data))

	var back Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, m.Equal(back))
}

func TestMoneyScan(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("42.75"))
	assert.Equal(t, "42.75", m.String())

	require.NoError(t, m.Scan([]byte("10.00")))
	assert.Equal(t, "10.00", m.String())

	assert.Error(t, m.Scan("not-a-number"))
}

func TestMoneyToCents(t *testing.T) {
	assert.Equal(t, int64(10050), MustNewMoneyFromString("100.50", USD).ToCents())
	assert.Equal(t, int64(0), Zero(USD).ToCents())
}
