package trade

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPricesExample(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	text := "Selling diamond sword for $50, also have an axe for 20 coins"
	prices := DetectPrices(text)
	require.Len(prices, 2)

	assert.Equal("$50", prices[0].Raw)
	assert.Equal(50.0, prices[0].Value)
	assert.Equal(strings.Index(text, "$50"), prices[0].Start)
	assert.Equal(prices[0].Start+len("$50"), prices[0].End)

	assert.Equal("20 coins", prices[1].Raw)
	assert.Equal(20.0, prices[1].Value)
	assert.Equal(strings.Index(text, "20 coins"), prices[1].Start)
	assert.Equal(len(text), prices[1].End)

	for _, p := range prices {
		assert.Equal(p.Raw, text[p.Start:p.End])
	}

	assert.Equal(
		"Selling diamond sword for <price>$50</price>, also have an axe for <price>20 coins</price>",
		Highlight(text, prices, "<price>", "</price>"),
	)
	assert.Equal(
		`Selling diamond sword for <price value="50">$50</price>, also have an axe for <price value="20">20 coins</price>`,
		Highlight(text, prices, "", ""),
	)
}

func TestDetectPrices(t *testing.T) {
	assert := assert.New(t)

	testCases := []struct {
		text   string
		raw    []string
		values []float64
	}{
		{text: "WTS diamond sword $50", raw: []string{"$50"}, values: []float64{50}},
		{text: "WTS house for $1,500 obo", raw: []string{"$1,500"}, values: []float64{1500}},
		{text: "WTB beacon 2.5k gold", raw: []string{"2.5k gold"}, values: []float64{2500}},
		{text: "price € 30", raw: []string{"€ 30"}, values: []float64{30}},
		{text: "selling for 50k or 1m coins", raw: []string{"50k", "1m coins"}, values: []float64{50000, 1000000}},
		{text: "only 300g", raw: []string{"300g"}, values: []float64{300}},
		{text: "now $50k each", raw: []string{"$50k"}, values: []float64{50000}},
		{text: "level 5 mage, sword x3", raw: nil, values: nil},
	}

	for _, tc := range testCases {
		prices := DetectPrices(tc.text)
		var raw []string
		var values []float64
		for _, p := range prices {
			raw = append(raw, p.Raw)
			values = append(values, p.Value)
		}
		assert.Equal(tc.raw, raw, tc.text)
		assert.Equal(tc.values, values, tc.text)
	}
}

func TestDetectPricesOutsideMarkup(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	text := `WTS axe 5k, ask <mention player="5k">@5k</mention> or <mention kind="staff">@staff</mention> for $20`
	prices := DetectPricesOutsideMarkup(text)
	require.Len(prices, 2)
	assert.Equal("5k", prices[0].Raw)
	assert.Equal(5000.0, prices[0].Value)
	assert.Equal(strings.Index(text, "5k"), prices[0].Start)
	assert.Equal("$20", prices[1].Raw)
	for _, p := range prices {
		assert.Equal(p.Raw, text[p.Start:p.End])
	}

	assert.Equal(
		`WTS axe <price>5k</price>, ask <mention player="5k">@5k</mention> or <mention kind="staff">@staff</mention> for <price>$20</price>`,
		Highlight(text, prices, "<price>", "</price>"),
	)

	// plain text behaves like DetectPrices
	assert.Equal(DetectPrices("WTS 300g"), DetectPricesOutsideMarkup("WTS 300g"))
}
