package event

import (
	"github.com/google/uuid"

	"stablevault/internal/protocol"
)

// Kind discriminates committed-operation records in the event log.
type Kind int32

const (
	KindUnknown Kind = iota
	KindVaultOpened
	KindCollateralDeposited
	KindStablecoinMinted
	KindStablecoinBurned
	KindCollateralWithdrawn
	KindVaultLiquidated
	KindPriceUpdated
	KindOperatorUpdated
	KindLiquidatorUpdated
)

func (k Kind) String() string {
	switch k {
	case KindVaultOpened:
		return "VaultOpened"
	case KindCollateralDeposited:
		return "CollateralDeposited"
	case KindStablecoinMinted:
		return "StablecoinMinted"
	case KindStablecoinBurned:
		return "StablecoinBurned"
	case KindCollateralWithdrawn:
		return "CollateralWithdrawn"
	case KindVaultLiquidated:
		return "VaultLiquidated"
	case KindPriceUpdated:
		return "PriceUpdated"
	case KindOperatorUpdated:
		return "OperatorUpdated"
	case KindLiquidatorUpdated:
		return "LiquidatorUpdated"
	default:
		return "Unknown"
	}
}

// Envelope wraps every committed operation appended to the log. Sequence is
// the core's monotonic commit counter; Tick is the protocol tick at commit.
type Envelope struct {
	EventID  uuid.UUID          `json:"event_id"`
	Sequence uint64             `json:"sequence"`
	Kind     Kind               `json:"kind"`
	Caller   protocol.Principal `json:"caller"`
	VaultID  uint64             `json:"vault_id,omitempty"` // 0 for non-vault events
	Tick     uint64             `json:"tick"`
	Payload  interface{}        `json:"payload"`
}

// --- Payloads ---

type VaultOpened struct {
	Owner      protocol.Principal `json:"owner"`
	STXAmount  uint64             `json:"stx_amount"`
	XBTCAmount uint64             `json:"xbtc_amount"`
}

type CollateralDeposited struct {
	STXAmount  uint64 `json:"stx_amount"`
	XBTCAmount uint64 `json:"xbtc_amount"`
}

type StablecoinMinted struct {
	Amount  uint64 `json:"amount"`
	NewDebt uint64 `json:"new_debt"`
}

type StablecoinBurned struct {
	Amount  uint64 `json:"amount"`
	NewDebt uint64 `json:"new_debt"`
}

type CollateralWithdrawn struct {
	STXAmount uint64 `json:"stx_amount"`
}

type VaultLiquidated struct {
	Liquidator protocol.Principal `json:"liquidator"`
	DebtRepaid uint64             `json:"debt_repaid"`
	STXPayout  uint64             `json:"stx_payout"`
	XBTCShare  uint64             `json:"xbtc_share"`
}

type PriceUpdated struct {
	Asset      protocol.Asset `json:"asset"`
	Price      uint64         `json:"price"`
	Confidence uint64         `json:"confidence"`
}

type OperatorUpdated struct {
	Operator   protocol.Principal `json:"operator"`
	Authorized bool               `json:"authorized"`
}

type LiquidatorUpdated struct {
	Liquidator protocol.Principal `json:"liquidator"`
	Authorized bool               `json:"authorized"`
}
