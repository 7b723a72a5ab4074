package feed

import (
	"encoding/json"
	"math"
)

// DemoAssets is shown when the ticker has neither live nor cached data.
var DemoAssets = []Asset{
	{ID: "apple", Symbol: "AAPL", Price: 224.18, Change24h: 1.12},
	{ID: "nvidia", Symbol: "NVDA", Price: 1094.66, Change24h: -0.54},
	{ID: "microsoft", Symbol: "MSFT", Price: 352.94, Change24h: 0.86},
	{ID: "bitcoin", Symbol: "BTC", Price: 67540.0, Change24h: 2.48},
	{ID: "ethereum", Symbol: "ETH", Price: 3482.0, Change24h: 1.73},
	{ID: "solana", Symbol: "SOL", Price: 161.42, Change24h: 0.92},
}

// DemoQuotes is shown when the stock tracker has neither live nor cached
// data, or when no API key is configured.
var DemoQuotes = []Quote{
	{Symbol: "AAPL", Price: 224.18, ChangePercent: 1.12, DayLow: 221.9, DayHigh: 226.4},
	{Symbol: "MSFT", Price: 352.94, ChangePercent: 0.86, DayLow: 349.1, DayHigh: 356.7},
	{Symbol: "NVDA", Price: 1094.66, ChangePercent: -0.54, DayLow: 1080.0, DayHigh: 1120.0},
}

// DemoSeries returns a deterministic wave of n points around 100.
func DemoSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round(100 + math.Sin(float64(i)/2)*4)
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
