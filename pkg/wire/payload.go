package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// UpdateTypeArbitrage is the only client_data type that carries a payload we act on.
const UpdateTypeArbitrage = "arbitrage_update"

// RawOpportunity holds the per-opportunity fields as they appear on the wire.
// Every field is optional; absence is distinguishable from zero.
type RawOpportunity struct {
	Crypto               *string  `json:"crypto"`
	LowestPrice          *float64 `json:"lowest_price"`
	LowestPriceExchange  *string  `json:"lowest_price_exchange"`
	HighestPrice         *float64 `json:"highest_price"`
	HighestPriceExchange *string  `json:"highest_price_exchange"`
	BuyCurrency          *string  `json:"buy_currency"`
	SellCurrency         *string  `json:"sell_currency"`
	SpreadPercentage     *float64 `json:"spread_percentage"`
	TotalFees            *float64 `json:"total_fees"`
	ArbitrageAfterFees   *float64 `json:"arbitrage_after_fees"`
	ProfitPercentage     *float64 `json:"profit_percentage"`
}

// RawPayload is the decoded form of either wire shape. Envelope reports
// whether the payload carried an opportunities array; when it did not, the
// embedded RawOpportunity holds the legacy flat fields.
type RawPayload struct {
	Status  string
	Message string
	RawOpportunity
	Opportunities []RawOpportunity
	Envelope      bool

	// Malformed is set when a success payload matched neither shape.
	Malformed bool
	Reason    string
}

// Decode never fails: anything it cannot make sense of comes back with
// Malformed set so that Normalize can turn it into an error snapshot.
func Decode(data []byte) RawPayload {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return malformed(fmt.Sprintf("payload is not an object: %v", err))
	}

	var raw RawPayload
	status, ok := fields["status"]
	if !ok {
		return malformed("payload has no status")
	}
	if err := json.Unmarshal(status, &raw.Status); err != nil {
		return malformed(fmt.Sprintf("status is not a string: %v", err))
	}
	if msg, ok := fields["message"]; ok {
		// a non-string message is dropped rather than failing the payload
		_ = json.Unmarshal(msg, &raw.Message)
	}
	if raw.Status != "success" {
		return raw
	}

	if opps, ok := fields["opportunities"]; ok && !isNull(opps) {
		raw.Envelope = true
		if err := json.Unmarshal(opps, &raw.Opportunities); err != nil {
			return malformed(fmt.Sprintf("opportunities: %v", err))
		}
		return raw
	}

	if err := json.Unmarshal(data, &raw.RawOpportunity); err != nil {
		return malformed(fmt.Sprintf("flat opportunity: %v", err))
	}
	return raw
}

func malformed(reason string) RawPayload {
	return RawPayload{Malformed: true, Reason: reason}
}

func isNull(b json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}

// ClientData is the body of the client_data socket event.
type ClientData struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

func ParseClientData(b []byte) (ClientData, error) {
	var cd ClientData
	if err := json.Unmarshal(b, &cd); err != nil {
		return ClientData{}, fmt.Errorf("failed to decode client_data: %w", err)
	}
	return cd, nil
}

var serverTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ServerTime parses the envelope timestamp. Zone-less timestamps, as sent by
// isoformat() on a naive datetime, are read as UTC.
func (cd ClientData) ServerTime() (time.Time, bool) {
	for _, layout := range serverTimeLayouts {
		if t, err := time.Parse(layout, cd.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
