package query

import "encoding/json"

// VaultResponse represents one vault record for API queries.
type VaultResponse struct {
	ID             uint64 `json:"id"`
	Owner          string `json:"owner"`
	CollateralSTX  uint64 `json:"collateral_stx"`
	CollateralXBTC uint64 `json:"collateral_xbtc"`
	Debt           uint64 `json:"debt"`
	LastUpdate     uint64 `json:"last_update"`
	Active         bool   `json:"active"`
}

// UserVaultsResponse lists the ordered vault ids held by one owner.
type UserVaultsResponse struct {
	Owner    string   `json:"owner"`
	VaultIDs []uint64 `json:"vault_ids"`
}

// StatsResponse is the protocol-wide aggregate view.
type StatsResponse struct {
	VaultCount          uint64 `json:"vault_count"`
	TotalDebt           uint64 `json:"total_debt"`
	TotalCollateralSTX  uint64 `json:"total_collateral_stx"`
	TotalCollateralXBTC uint64 `json:"total_collateral_xbtc"`
	TotalSupply         uint64 `json:"total_supply"`
}

// HealthResponse carries a vault's current health factor.
type HealthResponse struct {
	VaultID      uint64 `json:"vault_id"`
	HealthFactor uint64 `json:"health_factor"`
	Safe         bool   `json:"safe"`
}

// PriceResponse is the raw stored feed plus the gated current price.
type PriceResponse struct {
	Asset      string `json:"asset"`
	Price      uint64 `json:"price"`
	Timestamp  uint64 `json:"timestamp"`
	Confidence uint64 `json:"confidence"`
	Stale      bool   `json:"stale"`
}

// EventResponse is one event-log row for history queries.
type EventResponse struct {
	Sequence uint64          `json:"sequence"`
	EventID  string          `json:"event_id"`
	Kind     string          `json:"kind"`
	Caller   string          `json:"caller"`
	VaultID  uint64          `json:"vault_id,omitempty"`
	Tick     uint64          `json:"tick"`
	Payload  json.RawMessage `json:"payload"`
}
