package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/stockflow/market-sim/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Value marks every holding of acct to the given prices. A holding with no
// price is valued at its cost basis, so it contributes zero P&L.
func Value(acct model.Account, prices map[string]decimal.Decimal) model.Portfolio {
	p := model.Portfolio{
		Username:  acct.User.Name,
		Cash:      acct.Wallet,
		Positions: make([]model.PositionValue, 0, len(acct.Holdings)),
	}

	for _, h := range acct.Holdings {
		qty := decimal.NewFromInt(h.Quantity)
		price, ok := prices[h.Ticker]
		if !ok {
			price = h.AvgBuyPrice
		}

		pv := model.PositionValue{
			Ticker:      h.Ticker,
			Quantity:    h.Quantity,
			AvgBuyPrice: h.AvgBuyPrice,
			Price:       price,
			Invested:    h.AvgBuyPrice.Mul(qty),
			MarketValue: price.Mul(qty),
		}
		pv.ProfitLoss = pv.MarketValue.Sub(pv.Invested)
		pv.ProfitLossPercent = percent(pv.ProfitLoss, pv.Invested)

		p.Invested = p.Invested.Add(pv.Invested)
		p.MarketValue = p.MarketValue.Add(pv.MarketValue)
		p.Positions = append(p.Positions, pv)
	}

	p.ProfitLoss = p.MarketValue.Sub(p.Invested)
	p.ProfitLossPercent = percent(p.ProfitLoss, p.Invested)
	p.NetWorth = p.Cash.Add(p.MarketValue)
	return p
}

// percent returns part/whole*100 rounded to 2 places, or 0 when whole is 0.
func percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}
