package valuation

import (
	"stablevault/internal/math"
	"stablevault/internal/oracle"
	"stablevault/internal/protocol"
)

// Engine is the pure valuation and health-factor calculator. It owns no
// state beyond the oracle reference; all math is unsigned fixed-point with a
// percentage scale of 100 and floor division. Truncation is conservative:
// a computed health factor never overstates the real one.
type Engine struct {
	oracle *oracle.Oracle
}

func New(o *oracle.Oracle) *Engine {
	return &Engine{oracle: o}
}

// CollateralValue prices a collateral snapshot against current feeds:
// stx*price[STX] + xbtc*price[xBTC]. Staleness from either feed propagates.
func (e *Engine) CollateralValue(stx, xbtc uint64) (uint64, error) {
	stxPrice, err := e.oracle.GetPrice(protocol.AssetSTX)
	if err != nil {
		return 0, err
	}
	xbtcPrice, err := e.oracle.GetPrice(protocol.AssetXBTC)
	if err != nil {
		return 0, err
	}

	stxValue, err := math.Mul(stx, stxPrice)
	if err != nil {
		return 0, err
	}
	xbtcValue, err := math.Mul(xbtc, xbtcPrice)
	if err != nil {
		return 0, err
	}

	return math.Add(stxValue, xbtcValue)
}

// HealthFactor returns collateralValue*100/debt, or the sentinel maximum for
// debt-free positions.
func (e *Engine) HealthFactor(stx, xbtc, debt uint64) (uint64, error) {
	if debt == 0 {
		return protocol.HealthFactorMax, nil
	}

	value, err := e.CollateralValue(stx, xbtc)
	if err != nil {
		return 0, err
	}

	return math.MulDiv(value, 100, debt)
}

// RatioWithDebt returns value*100/debt for an already-priced collateral value.
// Used on mint and withdraw paths where the value is computed against a
// hypothetical collateral or debt level.
func (e *Engine) RatioWithDebt(value, debt uint64) (uint64, error) {
	if debt == 0 {
		return protocol.HealthFactorMax, nil
	}
	return math.MulDiv(value, 100, debt)
}
