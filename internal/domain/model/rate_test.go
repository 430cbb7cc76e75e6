package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRate_OrientedNormalize(t *testing.T) {
	r := Rate{Market: NewMarket("CLP", "USD"), Value: Float(0.00125), Source: "currencylayer"}

	oriented := r.Oriented("USD")
	assert.True(t, oriented.IsInverse())
	assert.Equal(t, NewMarket("USD", "CLP"), oriented.Market)
	assert.InDelta(t, 0.00125, *oriented.Value, 1e-12)

	n := oriented.Normalize()
	assert.False(t, n.IsInverse())
	require.NotNil(t, n.Value)
	assert.InDelta(t, 800, *n.Value, 1e-9)
	assert.Equal(t, "currencylayer", n.Source)

	// Normalizing twice is a no-op.
	assert.Equal(t, n, n.Normalize())
}

func TestRate_OrientedSameBase(t *testing.T) {
	r := Rate{Market: NewMarket("USD", "CLP"), Value: Float(800)}

	oriented := r.Oriented("USD")
	assert.False(t, oriented.IsInverse())
	assert.Equal(t, r, oriented.Normalize())
}

func TestRate_NormalizeNullValue(t *testing.T) {
	testCases := []struct {
		name  string
		value *float64
	}{
		{name: "Nil", value: nil},
		{name: "Zero", value: Float(0)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := Rate{Market: NewMarket("CLP", "USD"), Value: tc.value}.Oriented("USD").Normalize()
			assert.Nil(t, r.Value)
			assert.False(t, r.IsInverse())
		})
	}
}

func TestCachedRate_RoundTrip(t *testing.T) {
	r := Rate{
		Market:     NewMarket("USD", "CLP"),
		Source:     "currencylayer",
		SourceData: map[string]any{"quote": 800.0},
		Value:      Float(800),
		Date:       "2024-01-10",
		Timestamp:  1704844800,
	}

	c := NewCachedRate(r)
	assert.Equal(t, "USD-CLP", c.Market)

	back, err := c.Rate()
	require.NoError(t, err)
	assert.Equal(t, r, back)
}

func TestCachedRate_PendingInversionKeepsProducedOrientation(t *testing.T) {
	r := Rate{Market: NewMarket("CLP", "USD"), Value: Float(0.00125)}.Oriented("USD")

	c := NewCachedRate(r)
	assert.Equal(t, "CLP-USD", c.Market)
	assert.InDelta(t, 0.00125, *c.Value, 1e-12)
}
