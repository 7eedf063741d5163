package vault

import (
	"fmt"

	"stablevault/internal/custody"
	"stablevault/internal/math"
	"stablevault/internal/protocol"
	"stablevault/internal/token"
	"stablevault/internal/valuation"
)

// Ledger owns every vault record and all position-level mutation. Operations
// follow all-preconditions-then-single-mutation: every check (including the
// checked arithmetic for the resulting balances and stats) runs before the
// custody or token side effect is issued, so a failing operation leaves zero
// observable state change.
//
// The Ledger is not internally synchronized; the owning core serializes
// whole operations at its boundary.
type Ledger struct {
	vaults     map[uint64]*Vault
	ownerIndex map[protocol.Principal][]uint64
	stats      Stats

	accounting *valuation.Engine
	token      token.Ledger
	custody    custody.TransferService
	clock      protocol.TickProvider
}

func NewLedger(
	accounting *valuation.Engine,
	tok token.Ledger,
	cust custody.TransferService,
	clock protocol.TickProvider,
) *Ledger {
	return &Ledger{
		vaults:     make(map[uint64]*Vault),
		ownerIndex: make(map[protocol.Principal][]uint64),
		accounting: accounting,
		token:      tok,
		custody:    cust,
		clock:      clock,
	}
}

// activeVault resolves an id to a live vault. Missing and inactive collapse
// into the same not-found error: a closed vault is gone for every caller.
func (l *Ledger) activeVault(id uint64) (*Vault, error) {
	v, ok := l.vaults[id]
	if !ok || !v.Active {
		return nil, fmt.Errorf("%w: id %d", protocol.ErrVaultNotFound, id)
	}
	return v, nil
}

// Open creates a vault collateralized with stxAmount (transferred into
// custody) and xbtcAmount, and returns the new id. The id allocator is the
// vault counter itself, capped below MaxVaultID as an overflow guard.
func (l *Ledger) Open(caller protocol.Principal, stxAmount, xbtcAmount uint64) (uint64, error) {
	if stxAmount == 0 {
		return 0, fmt.Errorf("%w: open requires STX collateral", protocol.ErrInvalidAmount)
	}

	id := l.stats.VaultCount + 1
	if id >= protocol.MaxVaultID {
		return 0, fmt.Errorf("%w: vault id %d exceeds allocator cap", protocol.ErrInvalidAmount, id)
	}
	if _, exists := l.vaults[id]; exists {
		return 0, fmt.Errorf("%w: id %d", protocol.ErrVaultAlreadyExists, id)
	}
	if len(l.ownerIndex[caller]) >= protocol.MaxVaultsPerOwner {
		return 0, fmt.Errorf("%w: owner %s already holds %d vaults", protocol.ErrInvalidAmount, caller, protocol.MaxVaultsPerOwner)
	}

	totalSTX, err := math.Add(l.stats.TotalCollateralSTX, stxAmount)
	if err != nil {
		return 0, err
	}
	totalXBTC, err := math.Add(l.stats.TotalCollateralXBTC, xbtcAmount)
	if err != nil {
		return 0, err
	}

	// Single side effect: only the STX leg moves through custody here. The
	// xBTC balance is credited from the caller's declared amount.
	if err := l.custody.TransferIn(protocol.AssetSTX, stxAmount, caller); err != nil {
		return 0, err
	}

	l.vaults[id] = &Vault{
		ID:             id,
		Owner:          caller,
		CollateralSTX:  stxAmount,
		CollateralXBTC: xbtcAmount,
		Debt:           0,
		LastUpdate:     l.clock.Tick(),
		Active:         true,
	}
	l.ownerIndex[caller] = append(l.ownerIndex[caller], id)
	l.stats.VaultCount = id
	l.stats.TotalCollateralSTX = totalSTX
	l.stats.TotalCollateralXBTC = totalXBTC

	return id, nil
}

// AddCollateral tops up an active vault. An STX amount is mandatory on every
// call, even when only xBTC is being added; there is no xBTC-only top-up
// path.
func (l *Ledger) AddCollateral(caller protocol.Principal, vaultID, stxAmount, xbtcAmount uint64) error {
	v, err := l.activeVault(vaultID)
	if err != nil {
		return err
	}
	if v.Owner != caller {
		return fmt.Errorf("%w: vault %d is not owned by %s", protocol.ErrNotAuthorized, vaultID, caller)
	}
	if stxAmount == 0 {
		return fmt.Errorf("%w: top-up requires STX", protocol.ErrInvalidAmount)
	}

	newSTX, err := math.Add(v.CollateralSTX, stxAmount)
	if err != nil {
		return err
	}
	newXBTC, err := math.Add(v.CollateralXBTC, xbtcAmount)
	if err != nil {
		return err
	}
	totalSTX, err := math.Add(l.stats.TotalCollateralSTX, stxAmount)
	if err != nil {
		return err
	}
	totalXBTC, err := math.Add(l.stats.TotalCollateralXBTC, xbtcAmount)
	if err != nil {
		return err
	}

	if err := l.custody.TransferIn(protocol.AssetSTX, stxAmount, caller); err != nil {
		return err
	}

	v.CollateralSTX = newSTX
	v.CollateralXBTC = newXBTC
	v.LastUpdate = l.clock.Tick()
	l.stats.TotalCollateralSTX = totalSTX
	l.stats.TotalCollateralXBTC = totalXBTC

	return nil
}

// Mint issues stablecoin against an active vault, holding the resulting
// position at or above the minimum collateral ratio.
func (l *Ledger) Mint(caller protocol.Principal, vaultID, amount uint64) error {
	v, err := l.activeVault(vaultID)
	if err != nil {
		return err
	}
	if v.Owner != caller {
		return fmt.Errorf("%w: vault %d is not owned by %s", protocol.ErrNotAuthorized, vaultID, caller)
	}
	if amount == 0 || amount >= protocol.MaxMintAmount {
		return fmt.Errorf("%w: mint amount %d outside (0, %d)", protocol.ErrInvalidAmount, amount, protocol.MaxMintAmount)
	}

	newDebt, err := math.Add(v.Debt, amount)
	if err != nil {
		return err
	}
	totalDebt, err := math.Add(l.stats.TotalDebt, amount)
	if err != nil {
		return err
	}

	value, err := l.accounting.CollateralValue(v.CollateralSTX, v.CollateralXBTC)
	if err != nil {
		return err
	}
	ratio, err := l.accounting.RatioWithDebt(value, newDebt)
	if err != nil {
		return err
	}
	if ratio < protocol.MinimumCollateralRatio {
		return fmt.Errorf("%w: ratio %d on debt %d", protocol.ErrMinimumCollateralRatio, ratio, newDebt)
	}

	if err := l.token.Mint(amount, caller); err != nil {
		return err
	}

	v.Debt = newDebt
	v.LastUpdate = l.clock.Tick()
	l.stats.TotalDebt = totalDebt

	return nil
}

// Burn repays vault debt by destroying stablecoin held by the owner.
// Overpayment is rejected: the burn cannot exceed the vault's debt.
func (l *Ledger) Burn(caller protocol.Principal, vaultID, amount uint64) error {
	v, err := l.activeVault(vaultID)
	if err != nil {
		return err
	}
	if v.Owner != caller {
		return fmt.Errorf("%w: vault %d is not owned by %s", protocol.ErrNotAuthorized, vaultID, caller)
	}
	if amount == 0 {
		return fmt.Errorf("%w: burn amount is zero", protocol.ErrInvalidAmount)
	}
	if l.token.BalanceOf(caller) < amount {
		return fmt.Errorf("%w: balance %d below burn %d", protocol.ErrInsufficientStablecoinBalance, l.token.BalanceOf(caller), amount)
	}
	if v.Debt < amount {
		return fmt.Errorf("%w: burn %d exceeds debt %d", protocol.ErrInvalidAmount, amount, v.Debt)
	}

	if err := l.token.Burn(amount, caller); err != nil {
		return err
	}

	v.Debt -= amount
	v.LastUpdate = l.clock.Tick()
	l.stats.TotalDebt -= amount

	return nil
}

// Withdraw releases STX collateral back to the owner. When debt remains, the
// position priced at the reduced collateral must still clear the minimum
// ratio. Only STX withdrawal is exposed; there is no xBTC withdrawal path.
func (l *Ledger) Withdraw(caller protocol.Principal, vaultID, stxAmount uint64) error {
	v, err := l.activeVault(vaultID)
	if err != nil {
		return err
	}
	if v.Owner != caller {
		return fmt.Errorf("%w: vault %d is not owned by %s", protocol.ErrNotAuthorized, vaultID, caller)
	}
	if stxAmount == 0 {
		return fmt.Errorf("%w: withdraw amount is zero", protocol.ErrInvalidAmount)
	}
	if v.CollateralSTX < stxAmount {
		return fmt.Errorf("%w: vault holds %d STX, withdraw %d", protocol.ErrInsufficientCollateral, v.CollateralSTX, stxAmount)
	}

	remainingSTX := v.CollateralSTX - stxAmount
	if v.Debt > 0 {
		value, err := l.accounting.CollateralValue(remainingSTX, v.CollateralXBTC)
		if err != nil {
			return err
		}
		ratio, err := l.accounting.RatioWithDebt(value, v.Debt)
		if err != nil {
			return err
		}
		if ratio < protocol.MinimumCollateralRatio {
			return fmt.Errorf("%w: ratio %d after withdrawing %d STX", protocol.ErrMinimumCollateralRatio, ratio, stxAmount)
		}
	}

	if err := l.custody.TransferOut(protocol.AssetSTX, stxAmount, caller); err != nil {
		return err
	}

	v.CollateralSTX = remainingSTX
	v.LastUpdate = l.clock.Tick()
	l.stats.TotalCollateralSTX -= stxAmount

	return nil
}

// Settle closes a vault after forced settlement: clears the debt, deducts
// both payout shares with checked subtraction, and flips the record to its
// terminal inactive state. Callers pre-validate the shares; an underflow here
// is still an explicit range error, never a wrap.
func (l *Ledger) Settle(vaultID, stxPayout, xbtcPayout uint64) error {
	v, err := l.activeVault(vaultID)
	if err != nil {
		return err
	}

	newSTX, err := math.Sub(v.CollateralSTX, stxPayout)
	if err != nil {
		return err
	}
	newXBTC, err := math.Sub(v.CollateralXBTC, xbtcPayout)
	if err != nil {
		return err
	}
	totalDebt, err := math.Sub(l.stats.TotalDebt, v.Debt)
	if err != nil {
		return err
	}
	totalSTX, err := math.Sub(l.stats.TotalCollateralSTX, stxPayout)
	if err != nil {
		return err
	}
	totalXBTC, err := math.Sub(l.stats.TotalCollateralXBTC, xbtcPayout)
	if err != nil {
		return err
	}

	v.Debt = 0
	v.CollateralSTX = newSTX
	v.CollateralXBTC = newXBTC
	v.LastUpdate = l.clock.Tick()
	v.Active = false
	l.stats.TotalDebt = totalDebt
	l.stats.TotalCollateralSTX = totalSTX
	l.stats.TotalCollateralXBTC = totalXBTC

	return nil
}

// Get returns a copy of the vault record, active or not.
func (l *Ledger) Get(id uint64) (Vault, bool) {
	v, ok := l.vaults[id]
	if !ok {
		return Vault{}, false
	}
	return *v, true
}

// ActiveVault returns a copy of a live vault, or VaultNotFound.
func (l *Ledger) ActiveVault(id uint64) (Vault, error) {
	v, err := l.activeVault(id)
	if err != nil {
		return Vault{}, err
	}
	return *v, nil
}

// UserVaults returns the bounded ordered id sequence for an owner.
func (l *Ledger) UserVaults(owner protocol.Principal) []uint64 {
	ids := l.ownerIndex[owner]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// Stats returns the running totals.
func (l *Ledger) Stats() Stats {
	return l.stats
}

// HealthFactor prices a live vault against current feeds.
func (l *Ledger) HealthFactor(id uint64) (uint64, error) {
	v, err := l.activeVault(id)
	if err != nil {
		return 0, err
	}
	return l.accounting.HealthFactor(v.CollateralSTX, v.CollateralXBTC, v.Debt)
}

// RestoreVault directly installs a vault record (snapshot restore).
func (l *Ledger) RestoreVault(v Vault) {
	cp := v
	l.vaults[v.ID] = &cp
}

// RestoreOwnerIndex directly installs an owner's id sequence (snapshot restore).
func (l *Ledger) RestoreOwnerIndex(owner protocol.Principal, ids []uint64) {
	cp := make([]uint64, len(ids))
	copy(cp, ids)
	l.ownerIndex[owner] = cp
}

// RestoreStats directly installs the running totals (snapshot restore).
func (l *Ledger) RestoreStats(s Stats) {
	l.stats = s
}

// AllVaults returns copies of every vault record (snapshot creation).
func (l *Ledger) AllVaults() []Vault {
	out := make([]Vault, 0, len(l.vaults))
	for _, v := range l.vaults {
		out = append(out, *v)
	}
	return out
}

// OwnerIndexes returns a copy of the per-owner id sequences (snapshot creation).
func (l *Ledger) OwnerIndexes() map[protocol.Principal][]uint64 {
	out := make(map[protocol.Principal][]uint64, len(l.ownerIndex))
	for owner, ids := range l.ownerIndex {
		cp := make([]uint64, len(ids))
		copy(cp, ids)
		out[owner] = cp
	}
	return out
}
