package models

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusSuccess     Status = "success"
	StatusWaiting     Status = "waiting"
	StatusNoArbitrage Status = "no_arbitrage"
	StatusError       Status = "error"
)

type ArbitrageOpportunity struct {
	Crypto               string  `json:"crypto"`
	LowestPrice          float64 `json:"lowest_price"`
	LowestPriceExchange  string  `json:"lowest_price_exchange"`
	HighestPrice         float64 `json:"highest_price"`
	HighestPriceExchange string  `json:"highest_price_exchange"`
	BuyCurrency          string  `json:"buy_currency"`
	SellCurrency         string  `json:"sell_currency"`
	SpreadPercentage     float64 `json:"spread_percentage"`
	TotalFees            float64 `json:"total_fees"`
	ArbitrageAfterFees   float64 `json:"arbitrage_after_fees"`
	ProfitPercentage     float64 `json:"profit_percentage"`
}

// ArbitrageSnapshot is one normalized view of the latest server update.
// Opportunities is non-empty only when Status is StatusSuccess.
type ArbitrageSnapshot struct {
	Status        Status                 `json:"status"`
	Message       string                 `json:"message,omitempty"`
	Opportunities []ArbitrageOpportunity `json:"opportunities"`
	ServerTime    *time.Time             `json:"server_time,omitempty"`
}

func (s ArbitrageSnapshot) IsSuccess() bool {
	return s.Status == StatusSuccess && len(s.Opportunities) > 0
}

// Best returns the opportunity with the highest ArbitrageAfterFees. Ties go to
// the earliest element.
func (s ArbitrageSnapshot) Best() (ArbitrageOpportunity, bool) {
	if !s.IsSuccess() {
		return ArbitrageOpportunity{}, false
	}
	best := s.Opportunities[0]
	for _, opp := range s.Opportunities[1:] {
		if opp.ArbitrageAfterFees > best.ArbitrageAfterFees {
			best = opp
		}
	}
	return best, true
}

// Clone returns a copy that shares no backing arrays with s.
func (s ArbitrageSnapshot) Clone() ArbitrageSnapshot {
	out := s
	out.Opportunities = make([]ArbitrageOpportunity, len(s.Opportunities))
	copy(out.Opportunities, s.Opportunities)
	if s.ServerTime != nil {
		t := *s.ServerTime
		out.ServerTime = &t
	}
	return out
}

type HighestProfitRecord struct {
	Profit    float64              `json:"profit"`
	Timestamp time.Time            `json:"timestamp"`
	Details   ArbitrageOpportunity `json:"details"`
}

// Route renders the buy/sell legs, e.g. "BTC: coinbase (USD) -> kraken (EUR)".
func (r HighestProfitRecord) Route() string {
	d := r.Details
	return fmt.Sprintf("%s: %s (%s) -> %s (%s)",
		d.Crypto, d.LowestPriceExchange, d.BuyCurrency, d.HighestPriceExchange, d.SellCurrency)
}
