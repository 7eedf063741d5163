package ingestion

import (
	"encoding/json"
	"fmt"

	"stablevault/internal/protocol"
)

// PriceUpdate is a parsed inbound feed write, ready to apply to the core.
type PriceUpdate struct {
	Operator   protocol.Principal
	Asset      protocol.Asset
	Price      uint64
	Confidence uint64
}

// Field names use snake_case to match the upstream feed producers.
type priceUpdateJSON struct {
	Operator   string `json:"operator"`
	Asset      string `json:"asset"`
	Price      uint64 `json:"price"`
	Confidence uint64 `json:"confidence"`
}

// ParsePriceUpdate converts raw JSON bytes into a PriceUpdate. Structural
// validation only; authorization and value bounds are the core's job.
func ParsePriceUpdate(data []byte) (PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("parse PriceUpdate: %w", err)
	}

	if j.Operator == "" {
		return PriceUpdate{}, fmt.Errorf("parse PriceUpdate: missing operator")
	}
	if j.Asset == "" {
		return PriceUpdate{}, fmt.Errorf("parse PriceUpdate: missing asset")
	}

	return PriceUpdate{
		Operator:   protocol.Principal(j.Operator),
		Asset:      protocol.Asset(j.Asset),
		Price:      j.Price,
		Confidence: j.Confidence,
	}, nil
}
