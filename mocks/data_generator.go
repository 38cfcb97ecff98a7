package mocks

import (
	"cmp"
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/shopspring/decimal"
)

// DataGenerator produces reproducible bar series for tests and benchmarks.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator seeds the generator. The same seed yields the same bars.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig describes one bar series.
type GeneratorConfig struct {
	InstrumentID string
	StartTime    time.Time
	Interval     time.Duration
	Count        int
	InitialPrice float64
	// Volatility is the standard deviation of the per-bar return.
	Volatility float64
	// Trend is the total drift over the series, spread evenly across bars.
	Trend      float64
	VolumeBase float64
	// VolumeVariance is the relative spread of volume around VolumeBase, 0 to 1.
	VolumeVariance float64
}

func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		InstrumentID:   "TEST",
		StartTime:      time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
		Interval:       time.Minute,
		Count:          10000,
		InitialPrice:   100.0,
		Volatility:     0.002,
		Trend:          0.0,
		VolumeBase:     10000,
		VolumeVariance: 0.3,
	}
}

// Generate returns Count bars following a geometric random walk.
func (g *DataGenerator) Generate(config GeneratorConfig) []types.MarketEvent {
	events := make([]types.MarketEvent, config.Count)
	price := config.InitialPrice
	at := config.StartTime

	for i := range config.Count {
		open := price

		// Box-Muller
		u1 := 1 - g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		closePrice := open * (1 + config.Volatility*z + config.Trend/float64(config.Count))
		if closePrice <= 0 {
			closePrice = open * 0.99
		}

		high := math.Max(open, closePrice) + math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		low := math.Min(open, closePrice) - math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		if low <= 0 {
			low = math.Min(open, closePrice) * 0.99
		}

		volume := config.VolumeBase * (1 + (g.rng.Float64()*2-1)*config.VolumeVariance)
		if volume < 0 {
			volume = config.VolumeBase * 0.1
		}

		events[i] = types.NewBar(config.InstrumentID, at,
			round(open, 4), round(high, 4), round(low, 4), round(closePrice, 4), round(volume, 2))

		price = closePrice
		at = at.Add(config.Interval)
	}

	return events
}

// GenerateMultiSymbol generates one series per instrument with slightly
// different starting prices and volatility, merged into time order.
func (g *DataGenerator) GenerateMultiSymbol(instruments []string, base GeneratorConfig) []types.MarketEvent {
	var all []types.MarketEvent

	for _, id := range instruments {
		config := base
		config.InstrumentID = id
		config.InitialPrice = base.InitialPrice * (0.8 + g.rng.Float64()*0.4)
		config.Volatility = base.Volatility * (0.8 + g.rng.Float64()*0.4)

		all = append(all, g.Generate(config)...)
	}

	slices.SortStableFunc(all, func(a, b types.MarketEvent) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}

		return cmp.Compare(a.InstrumentID, b.InstrumentID)
	})

	return all
}

// Generate10K returns 10,000 one-minute bars with a fixed seed.
func Generate10K(instrumentID string) []types.MarketEvent {
	config := DefaultConfig()
	config.InstrumentID = instrumentID

	return NewDataGenerator(42).Generate(config)
}

func Generate10KMultiSymbol(instruments []string) []types.MarketEvent {
	return NewDataGenerator(42).GenerateMultiSymbol(instruments, DefaultConfig())
}

func round(val float64, places int32) decimal.Decimal {
	return decimal.NewFromFloat(val).Round(places)
}
