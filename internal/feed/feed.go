// Package feed simulates market data: a per-instrument random walk that
// backfills a rolling price history at startup and then ticks every few
// seconds.
package feed

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockflow/market-sim/internal/metrics"
	"github.com/stockflow/market-sim/internal/model"
)

const (
	// HistoryWindow is the number of samples kept in each instrument's chart.
	HistoryWindow = 30

	// DefaultInterval is the tick period.
	DefaultInterval = 4 * time.Second

	pricePlaces = 4
	chartPlaces = 2
)

var (
	floorPrice = decimal.New(1, -1) // 0.1
	hundred    = decimal.NewFromInt(100)
)

// Source yields uniform draws in [0, 1).
type Source interface {
	Float64() float64
}

type runtimeSource struct{}

func (runtimeSource) Float64() float64 { return rand.Float64() }

// RuntimeSource returns the process-wide random source.
func RuntimeSource() Source { return runtimeSource{} }

// SeededSource is a reproducible sequence frac(sin(seed+i) * 10000) for
// i = 0, 1, 2, ... It is not safe for concurrent use.
type SeededSource struct {
	seed float64
	i    int
}

// NewSeededSource starts a sequence at seed.
func NewSeededSource(seed float64) *SeededSource {
	return &SeededSource{seed: seed}
}

func (s *SeededSource) Float64() float64 {
	x := math.Sin(s.seed+float64(s.i)) * 10000
	s.i++
	return x - math.Floor(x)
}

// walk describes one backfill: the step draw offset and the clamp band
// around the base price.
type walk struct {
	bias   float64 // subtracted from each draw; slightly below 0.5 drifts up
	lo, hi decimal.Decimal
}

var (
	randomWalk = walk{bias: 0.49, lo: decimal.RequireFromString("0.85"), hi: decimal.RequireFromString("1.15")}
	seededWalk = walk{bias: 0.49, lo: decimal.RequireFromString("0.95"), hi: decimal.RequireFromString("1.05")}
)

// backfill generates HistoryWindow samples starting from base.
func (w walk) backfill(base decimal.Decimal, src Source) []model.ChartPoint {
	lo := base.Mul(w.lo)
	hi := base.Mul(w.hi)

	points := make([]model.ChartPoint, 0, HistoryWindow)
	v := base
	for i := 0; i < HistoryWindow; i++ {
		step := (src.Float64() - w.bias) * 0.1
		v = v.Add(v.Mul(decimal.NewFromFloat(step))).Round(8)
		if v.LessThan(lo) {
			v = lo
		}
		if v.GreaterThan(hi) {
			v = hi
		}
		points = append(points, model.ChartPoint{Price: v.Round(chartPlaces)})
	}
	return points
}

// SeedHistory fills every chart with the deterministic walk seeded by the
// instrument's own price. Prices are left untouched; repeated calls produce
// identical charts.
func SeedHistory(c *Catalog) {
	c.mutate(func(items []model.Instrument) {
		for i := range items {
			seed, _ := items[i].Price.Float64()
			items[i].DayChartData = seededWalk.backfill(items[i].Price, NewSeededSource(seed))
		}
	})
}

// Simulator drives the catalog's prices.
type Simulator struct {
	catalog *Catalog
	now     func() time.Time
	logger  *slog.Logger

	mu  sync.Mutex // guards src
	src Source
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSource replaces the runtime random source.
func WithSource(src Source) Option {
	return func(s *Simulator) { s.src = src }
}

// WithClock overrides the quote timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithLogger sets the logger used by Run.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// NewSimulator creates a simulator over catalog.
func NewSimulator(catalog *Catalog, opts ...Option) *Simulator {
	s := &Simulator{
		catalog: catalog,
		src:     RuntimeSource(),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize perturbs every price by up to ±5% and backfills a fresh random
// history around the new price.
func (s *Simulator) Initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catalog.mutate(func(items []model.Instrument) {
		for i := range items {
			inst := &items[i]
			factor := 1 + (s.src.Float64()-0.5)*0.1
			inst.Price = inst.Price.Mul(decimal.NewFromFloat(factor)).Round(pricePlaces)
			if inst.Price.LessThan(floorPrice) {
				inst.Price = floorPrice
			}
			inst.DayChartData = randomWalk.backfill(inst.Price, s.src)
		}
	})
}

// Tick advances every instrument by one random step and returns the quotes
// produced, in catalog order. The change fields are relative to the price
// before the tick. An empty catalog yields no quotes.
func (s *Simulator) Tick() []model.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	var quotes []model.Quote
	s.catalog.mutate(func(items []model.Instrument) {
		quotes = make([]model.Quote, 0, len(items))
		for i := range items {
			inst := &items[i]
			prev := inst.Price

			cp := (s.src.Float64() - 0.495) * 0.05
			next := prev.Add(prev.Mul(decimal.NewFromFloat(cp))).Round(pricePlaces)
			if next.LessThan(floorPrice) {
				next = floorPrice
			}

			inst.Price = next
			inst.Change = next.Sub(prev)
			if prev.IsZero() {
				inst.ChangePercent = decimal.Zero
			} else {
				inst.ChangePercent = inst.Change.Div(prev).Mul(hundred).Round(pricePlaces)
			}
			inst.DayChartData = slide(inst.DayChartData, model.ChartPoint{Price: next})

			quotes = append(quotes, model.Quote{
				Ticker:        inst.Ticker,
				Price:         inst.Price,
				Change:        inst.Change,
				ChangePercent: inst.ChangePercent,
				At:            at,
			})
		}
	})
	return quotes
}

// Run ticks every interval until ctx is cancelled, handing each batch of
// quotes to fn. fn runs on the ticking goroutine.
func (s *Simulator) Run(ctx context.Context, interval time.Duration, fn func([]model.Quote)) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("market feed started", "instruments", s.catalog.Len(), "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("market feed stopped")
			return
		case <-ticker.C:
			quotes := s.Tick()
			metrics.FeedTicks.Inc()
			if fn != nil && len(quotes) > 0 {
				fn(quotes)
			}
		}
	}
}

// slide appends p and drops the oldest samples beyond HistoryWindow.
func slide(history []model.ChartPoint, p model.ChartPoint) []model.ChartPoint {
	out := make([]model.ChartPoint, 0, HistoryWindow)
	if n := len(history); n >= HistoryWindow {
		history = history[n-HistoryWindow+1:]
	}
	out = append(out, history...)
	return append(out, p)
}
