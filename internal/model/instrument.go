package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentKind discriminates the instrument variants.
type InstrumentKind string

const (
	KindStock InstrumentKind = "Stock"
	KindETF   InstrumentKind = "ETF"
)

// ChartPoint is one sample of an instrument's rolling price history.
type ChartPoint struct {
	Price decimal.Decimal `json:"price"`
}

// StockDetails holds the fields only stocks carry.
type StockDetails struct {
	MarketCap decimal.Decimal `json:"marketCap" yaml:"marketCap"`
	High52w   decimal.Decimal `json:"high52w" yaml:"high52w"`
	Low52w    decimal.Decimal `json:"low52w" yaml:"low52w"`
}

// Instrument is a tradable catalog entry. Identity (ticker, name, category,
// kind) never changes; the price fields are owned by the market feed.
type Instrument struct {
	ID            string          `json:"id"`
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name"`
	Domain        string          `json:"domain"`
	Category      string          `json:"category"`
	Kind          InstrumentKind  `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	DayChartData  []ChartPoint    `json:"day_chart_data"`
	Stock         *StockDetails   `json:"stock,omitempty"` // nil unless Kind == KindStock
}

// Clone returns a copy that does not share the chart buffer.
func (i Instrument) Clone() Instrument {
	c := i
	c.DayChartData = append([]ChartPoint{}, i.DayChartData...)
	if i.Stock != nil {
		s := *i.Stock
		c.Stock = &s
	}
	return c
}

// Quote is the price snapshot produced by one tick for one instrument.
type Quote struct {
	Ticker        string          `json:"ticker"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	At            time.Time       `json:"at"`
}
