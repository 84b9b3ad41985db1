package wire

import (
	"github.com/gregtusar/arbsync/pkg/models"
)

const (
	msgMalformed       = "malformed arbitrage payload"
	msgNoOpportunities = "no arbitrage opportunities in update"
)

// Normalize maps either wire shape onto the canonical snapshot. It is total:
// every input yields a snapshot whose Opportunities are non-empty exactly when
// its status is success.
func Normalize(raw RawPayload) models.ArbitrageSnapshot {
	if raw.Malformed || raw.Status == "" {
		return models.ArbitrageSnapshot{
			Status:        models.StatusError,
			Message:       msgMalformed,
			Opportunities: []models.ArbitrageOpportunity{},
		}
	}

	status := models.Status(raw.Status)
	if status != models.StatusSuccess {
		return models.ArbitrageSnapshot{
			Status:        status,
			Message:       raw.Message,
			Opportunities: []models.ArbitrageOpportunity{},
		}
	}

	var opps []models.ArbitrageOpportunity
	if raw.Envelope {
		opps = make([]models.ArbitrageOpportunity, 0, len(raw.Opportunities))
		for _, o := range raw.Opportunities {
			opps = append(opps, toOpportunity(o))
		}
	} else {
		opps = []models.ArbitrageOpportunity{toOpportunity(raw.RawOpportunity)}
	}

	if len(opps) == 0 {
		msg := raw.Message
		if msg == "" {
			msg = msgNoOpportunities
		}
		return models.ArbitrageSnapshot{
			Status:        models.StatusNoArbitrage,
			Message:       msg,
			Opportunities: []models.ArbitrageOpportunity{},
		}
	}

	return models.ArbitrageSnapshot{
		Status:        models.StatusSuccess,
		Message:       raw.Message,
		Opportunities: opps,
	}
}

// NormalizeJSON decodes and normalizes in one step.
func NormalizeJSON(data []byte) models.ArbitrageSnapshot {
	return Normalize(Decode(data))
}

func toOpportunity(o RawOpportunity) models.ArbitrageOpportunity {
	return models.ArbitrageOpportunity{
		Crypto:               str(o.Crypto),
		LowestPrice:          num(o.LowestPrice),
		LowestPriceExchange:  str(o.LowestPriceExchange),
		HighestPrice:         num(o.HighestPrice),
		HighestPriceExchange: str(o.HighestPriceExchange),
		BuyCurrency:          str(o.BuyCurrency),
		SellCurrency:         str(o.SellCurrency),
		SpreadPercentage:     num(o.SpreadPercentage),
		TotalFees:            num(o.TotalFees),
		ArbitrageAfterFees:   num(o.ArbitrageAfterFees),
		ProfitPercentage:     num(o.ProfitPercentage),
	}
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func num(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
