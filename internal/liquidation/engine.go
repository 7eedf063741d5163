package liquidation

import (
	"fmt"

	"stablevault/internal/custody"
	"stablevault/internal/math"
	"stablevault/internal/protocol"
	"stablevault/internal/token"
	"stablevault/internal/vault"
)

// Receipt summarizes a completed forced settlement.
type Receipt struct {
	VaultID    uint64
	DebtRepaid uint64
	STXPayout  uint64
	XBTCShare  uint64
}

// Engine identifies unsafe vaults and executes forced settlement. The
// liquidator set is owned by the deploying principal, with the same literal
// self-exclusion as the oracle operator setter.
type Engine struct {
	owner       protocol.Principal
	liquidators map[protocol.Principal]bool

	ledger  *vault.Ledger
	token   token.Ledger
	custody custody.TransferService
}

func New(
	owner protocol.Principal,
	ledger *vault.Ledger,
	tok token.Ledger,
	cust custody.TransferService,
) *Engine {
	return &Engine{
		owner:       owner,
		liquidators: make(map[protocol.Principal]bool),
		ledger:      ledger,
		token:       tok,
		custody:     cust,
	}
}

// SetLiquidator grants or revokes liquidation authority. Owner-only; a
// liquidator equal to the caller is rejected (preserved literally).
func (e *Engine) SetLiquidator(caller, liquidator protocol.Principal, authorized bool) error {
	if caller != e.owner {
		return fmt.Errorf("%w: set-liquidator requires owner", protocol.ErrNotAuthorized)
	}
	if liquidator == caller {
		return fmt.Errorf("%w: liquidator equals caller", protocol.ErrInvalidAmount)
	}

	e.liquidators[liquidator] = authorized
	return nil
}

// IsLiquidator reports whether the principal may liquidate.
func (e *Engine) IsLiquidator(p protocol.Principal) bool {
	return e.liquidators[p]
}

// Liquidate force-settles an unsafe vault. The caller repays the entire debt
// (burned from their balance) for a penalty-priced collateral claim:
// liquidationAmount = debt*110/100, stxPayout = collateral[STX]*liquidationAmount/debt,
// with a symmetric xBTC share. Only the STX payout leaves custody; the xBTC
// share is deducted from the vault's and the system's bookkeeping but never
// transferred. The stats divergence regression test pins that behavior.
func (e *Engine) Liquidate(caller protocol.Principal, vaultID uint64) (Receipt, error) {
	if !e.liquidators[caller] {
		return Receipt{}, fmt.Errorf("%w: %s is not an authorized liquidator", protocol.ErrNotAuthorized, caller)
	}

	v, err := e.ledger.ActiveVault(vaultID)
	if err != nil {
		return Receipt{}, err
	}

	health, err := e.ledger.HealthFactor(vaultID)
	if err != nil {
		return Receipt{}, err
	}
	if health >= protocol.LiquidationRatio {
		return Receipt{}, fmt.Errorf("%w: health factor %d", protocol.ErrLiquidationNotAllowed, health)
	}

	// The liquidator must cover the entire debt, not the penalty-discounted
	// amount.
	if e.token.BalanceOf(caller) < v.Debt {
		return Receipt{}, fmt.Errorf("%w: balance %d below debt %d", protocol.ErrInsufficientStablecoinBalance, e.token.BalanceOf(caller), v.Debt)
	}

	liquidationAmount, err := math.MulDiv(v.Debt, protocol.LiquidationPenalty, 100)
	if err != nil {
		return Receipt{}, err
	}
	stxPayout, err := math.MulDiv(v.CollateralSTX, liquidationAmount, v.Debt)
	if err != nil {
		return Receipt{}, err
	}
	xbtcShare, err := math.MulDiv(v.CollateralXBTC, liquidationAmount, v.Debt)
	if err != nil {
		return Receipt{}, err
	}

	// Penalty-adjusted shares can exceed the remaining collateral. The
	// subtraction must fail with a range error before any side effect, never
	// wrap.
	if _, err := math.Sub(v.CollateralSTX, stxPayout); err != nil {
		return Receipt{}, err
	}
	if _, err := math.Sub(v.CollateralXBTC, xbtcShare); err != nil {
		return Receipt{}, err
	}

	if err := e.token.Burn(v.Debt, caller); err != nil {
		return Receipt{}, err
	}
	if stxPayout > 0 {
		if err := e.custody.TransferOut(protocol.AssetSTX, stxPayout, caller); err != nil {
			return Receipt{}, err
		}
	}

	if err := e.ledger.Settle(vaultID, stxPayout, xbtcShare); err != nil {
		return Receipt{}, err
	}

	return Receipt{
		VaultID:    vaultID,
		DebtRepaid: v.Debt,
		STXPayout:  stxPayout,
		XBTCShare:  xbtcShare,
	}, nil
}

// Liquidators returns a copy of the liquidator set (snapshot creation).
func (e *Engine) Liquidators() map[protocol.Principal]bool {
	out := make(map[protocol.Principal]bool, len(e.liquidators))
	for k, v := range e.liquidators {
		out[k] = v
	}
	return out
}

// RestoreLiquidator directly sets a liquidator flag (snapshot restore).
func (e *Engine) RestoreLiquidator(p protocol.Principal, authorized bool) {
	e.liquidators[p] = authorized
}
