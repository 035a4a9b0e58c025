package feed

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/stockflow/market-sim/internal/model"
	"github.com/stockflow/market-sim/internal/symbol"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrDuplicateTicker = errors.New("feed: duplicate ticker")
	ErrInvalidEntry    = errors.New("feed: invalid catalog entry")
)

// Catalog is the process-wide instrument table. The simulator is its only
// writer; everything else reads copies.
type Catalog struct {
	mu    sync.RWMutex
	items []model.Instrument
	index map[string]int // upper-cased ticker -> position in items
}

// NewCatalog builds a catalog preserving the given order.
func NewCatalog(instruments []model.Instrument) (*Catalog, error) {
	c := &Catalog{
		items: make([]model.Instrument, 0, len(instruments)),
		index: make(map[string]int, len(instruments)),
	}
	for _, inst := range instruments {
		key, err := symbol.Parse(inst.Ticker)
		if err != nil {
			return nil, fmt.Errorf("%w: id %q: %w", ErrInvalidEntry, inst.ID, err)
		}
		if _, dup := c.index[key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTicker, inst.Ticker)
		}
		inst.Ticker = key
		c.index[key] = len(c.items)
		c.items = append(c.items, inst.Clone())
	}
	return c, nil
}

// LoadCatalog reads the catalog from path, or the embedded default when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// --- YAML layout ---

type catalogFile struct {
	Instruments []catalogEntry `yaml:"instruments"`
}

type catalogEntry struct {
	ID            string `yaml:"id"`
	Ticker        string `yaml:"ticker"`
	Name          string `yaml:"name"`
	Domain        string `yaml:"domain"`
	Category      string `yaml:"category"`
	Type          string `yaml:"type"`
	Price         string `yaml:"price"`
	Change        string `yaml:"change"`
	ChangePercent string `yaml:"changePercent"`
	Stock         *struct {
		MarketCap string `yaml:"marketCap"`
		High52w   string `yaml:"high52w"`
		Low52w    string `yaml:"low52w"`
	} `yaml:"stock"`
}

// ParseCatalog decodes a YAML catalog document. Every instrument starts
// with the deterministic history from SeedHistory.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	instruments := make([]model.Instrument, 0, len(f.Instruments))
	for _, e := range f.Instruments {
		inst, err := e.instrument()
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}
	c, err := NewCatalog(instruments)
	if err != nil {
		return nil, err
	}
	SeedHistory(c)
	return c, nil
}

func (e catalogEntry) instrument() (model.Instrument, error) {
	inst := model.Instrument{
		ID:           e.ID,
		Ticker:       e.Ticker,
		Name:         e.Name,
		Domain:       e.Domain,
		Category:     e.Category,
		Kind:         model.InstrumentKind(e.Type),
		DayChartData: []model.ChartPoint{},
	}

	var err error
	if inst.Price, err = parseDecimal(e.Price, "price", e.Ticker); err != nil {
		return inst, err
	}
	if !inst.Price.IsPositive() {
		return inst, fmt.Errorf("%w: %s price must be positive", ErrInvalidEntry, e.Ticker)
	}
	if inst.Change, err = parseDecimal(e.Change, "change", e.Ticker); err != nil {
		return inst, err
	}
	if inst.ChangePercent, err = parseDecimal(e.ChangePercent, "changePercent", e.Ticker); err != nil {
		return inst, err
	}

	switch inst.Kind {
	case model.KindStock:
		if e.Stock == nil {
			return inst, fmt.Errorf("%w: stock %s has no stock details", ErrInvalidEntry, e.Ticker)
		}
		var s model.StockDetails
		if s.MarketCap, err = parseDecimal(e.Stock.MarketCap, "marketCap", e.Ticker); err != nil {
			return inst, err
		}
		if s.High52w, err = parseDecimal(e.Stock.High52w, "high52w", e.Ticker); err != nil {
			return inst, err
		}
		if s.Low52w, err = parseDecimal(e.Stock.Low52w, "low52w", e.Ticker); err != nil {
			return inst, err
		}
		inst.Stock = &s
	case model.KindETF:
	default:
		return inst, fmt.Errorf("%w: %s has unknown type %q", ErrInvalidEntry, e.Ticker, e.Type)
	}
	return inst, nil
}

func parseDecimal(s, field, ticker string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %s: %v", ErrInvalidEntry, ticker, field, err)
	}
	return v, nil
}

// --- Readers ---

// Len returns the number of instruments.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// List returns copies of all instruments in catalog order.
func (c *Catalog) List() []model.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Instrument, len(c.items))
	for i, inst := range c.items {
		out[i] = inst.Clone()
	}
	return out
}

// Get looks up an instrument by ticker, ignoring case.
func (c *Catalog) Get(ticker string) (model.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[tickerKey(ticker)]
	if !ok {
		return model.Instrument{}, false
	}
	return c.items[i].Clone(), true
}

// Price returns the latest price for ticker.
func (c *Catalog) Price(ticker string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[tickerKey(ticker)]
	if !ok {
		return decimal.Zero, false
	}
	return c.items[i].Price, true
}

// Prices snapshots every latest price keyed by ticker.
func (c *Catalog) Prices() map[string]decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(c.items))
	for _, inst := range c.items {
		out[inst.Ticker] = inst.Price
	}
	return out
}

// mutate runs fn with exclusive access to the instruments.
func (c *Catalog) mutate(fn func(items []model.Instrument)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.items)
}

func tickerKey(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
