package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stablevault/internal/custody"
	"stablevault/internal/event"
	"stablevault/internal/liquidation"
	"stablevault/internal/observability"
	"stablevault/internal/oracle"
	"stablevault/internal/protocol"
	"stablevault/internal/token"
	"stablevault/internal/valuation"
	"stablevault/internal/vault"
)

// Output carries one committed operation from the core to the persistence
// and publish workers.
type Output struct {
	Envelope *event.Envelope
}

// Core is the serialized operation surface over the vault ledger, oracle and
// liquidation engine. Every public method locks for its whole duration, so
// subsystem state is only ever mutated by one operation at a time and the
// commit sequence is gap-free.
type Core struct {
	mu sync.Mutex

	owner protocol.Principal
	clock protocol.TickProvider

	oracle      *oracle.Oracle
	accounting  *valuation.Engine
	ledger      *vault.Ledger
	liquidation *liquidation.Engine
	token       *token.Book
	custody     *custody.Vault

	sequence uint64

	metrics *observability.Metrics
	log     zerolog.Logger

	persistChan chan<- Output
	publishChan chan<- Output
}

// NewCore wires the full subsystem graph. startSequence is the next commit
// sequence to assign (1 on a cold start, lastPersisted+1 on a warm one).
func NewCore(
	owner protocol.Principal,
	clock protocol.TickProvider,
	startSequence uint64,
	persistChan, publishChan chan<- Output,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Core {
	orc := oracle.New(owner, clock)
	accounting := valuation.New(orc)
	tok := token.NewBook()
	cust := custody.NewVault()
	ledger := vault.NewLedger(accounting, tok, cust, clock)
	liq := liquidation.New(owner, ledger, tok, cust)

	return &Core{
		owner:       owner,
		clock:       clock,
		oracle:      orc,
		accounting:  accounting,
		ledger:      ledger,
		liquidation: liq,
		token:       tok,
		custody:     cust,
		sequence:    startSequence,
		metrics:     metrics,
		log:         log,
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// Token exposes the stablecoin book (bootstrap and test funding).
func (c *Core) Token() *token.Book { return c.token }

// Custody exposes the collateral custody vault (bootstrap and test funding).
func (c *Core) Custody() *custody.Vault { return c.custody }

// commit assigns the next sequence, wraps the payload in an envelope and
// emits it. The persist send blocks so no committed operation is ever lost;
// the publish send drops on a full channel, subscribers catch up from the log.
func (c *Core) commit(kind event.Kind, caller protocol.Principal, vaultID uint64, payload interface{}) {
	env := &event.Envelope{
		EventID:  uuid.New(),
		Sequence: c.sequence,
		Kind:     kind,
		Caller:   caller,
		VaultID:  vaultID,
		Tick:     c.clock.Tick(),
		Payload:  payload,
	}
	c.sequence++

	out := Output{Envelope: env}
	c.persistChan <- out

	select {
	case c.publishChan <- out:
	default:
		if c.metrics != nil {
			c.metrics.PublishDrops.Inc()
		}
	}

	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
}

func (c *Core) observe(op string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	if err != nil {
		c.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
		if errors.Is(err, protocol.ErrOraclePriceStale) {
			c.metrics.StaleRejections.WithLabelValues(op).Inc()
		}
		return
	}
	c.metrics.OpsApplied.WithLabelValues(op).Inc()
	c.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	s := c.ledger.Stats()
	c.metrics.SetStats(s.VaultCount, s.TotalDebt, s.TotalCollateralSTX, s.TotalCollateralXBTC, c.token.TotalSupply())
}

// rejectReason maps the closed error set onto a stable metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, protocol.ErrVaultNotFound):
		return "vault_not_found"
	case errors.Is(err, protocol.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, protocol.ErrVaultUndercollateralized):
		return "undercollateralized"
	case errors.Is(err, protocol.ErrLiquidationNotAllowed):
		return "liquidation_not_allowed"
	case errors.Is(err, protocol.ErrOraclePriceStale):
		return "stale_price"
	case errors.Is(err, protocol.ErrMinimumCollateralRatio):
		return "min_collateral_ratio"
	case errors.Is(err, protocol.ErrVaultAlreadyExists):
		return "vault_exists"
	case errors.Is(err, protocol.ErrInsufficientStablecoinBalance):
		return "insufficient_balance"
	case errors.Is(err, protocol.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, protocol.ErrArithmeticRange):
		return "arithmetic_range"
	case errors.Is(err, protocol.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "internal"
	}
}

// --- Vault operations ---

// OpenVault creates a vault for the caller and returns the new id.
func (c *Core) OpenVault(caller protocol.Principal, stxAmount, xbtcAmount uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	id, err := c.ledger.Open(caller, stxAmount, xbtcAmount)
	c.observe("open_vault", start, err)
	if err != nil {
		c.log.Debug().Err(err).Str("caller", string(caller)).Msg("open vault rejected")
		return 0, err
	}

	c.commit(event.KindVaultOpened, caller, id, event.VaultOpened{
		Owner:      caller,
		STXAmount:  stxAmount,
		XBTCAmount: xbtcAmount,
	})
	c.log.Info().Uint64("vault_id", id).Str("owner", string(caller)).
		Uint64("stx", stxAmount).Uint64("xbtc", xbtcAmount).Msg("vault opened")
	return id, nil
}

// AddCollateral tops up the caller's vault.
func (c *Core) AddCollateral(caller protocol.Principal, vaultID, stxAmount, xbtcAmount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	err := c.ledger.AddCollateral(caller, vaultID, stxAmount, xbtcAmount)
	c.observe("add_collateral", start, err)
	if err != nil {
		c.log.Debug().Err(err).Uint64("vault_id", vaultID).Msg("add collateral rejected")
		return err
	}

	c.commit(event.KindCollateralDeposited, caller, vaultID, event.CollateralDeposited{
		STXAmount:  stxAmount,
		XBTCAmount: xbtcAmount,
	})
	return nil
}

// MintStablecoin issues new stablecoin against the caller's vault.
func (c *Core) MintStablecoin(caller protocol.Principal, vaultID, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	err := c.ledger.Mint(caller, vaultID, amount)
	c.observe("mint", start, err)
	if err != nil {
		c.log.Debug().Err(err).Uint64("vault_id", vaultID).Uint64("amount", amount).Msg("mint rejected")
		return err
	}

	v, _ := c.ledger.Get(vaultID)
	c.commit(event.KindStablecoinMinted, caller, vaultID, event.StablecoinMinted{
		Amount:  amount,
		NewDebt: v.Debt,
	})
	c.log.Info().Uint64("vault_id", vaultID).Uint64("amount", amount).Msg("stablecoin minted")
	return nil
}

// BurnStablecoin repays vault debt from the caller's balance.
func (c *Core) BurnStablecoin(caller protocol.Principal, vaultID, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	err := c.ledger.Burn(caller, vaultID, amount)
	c.observe("burn", start, err)
	if err != nil {
		c.log.Debug().Err(err).Uint64("vault_id", vaultID).Uint64("amount", amount).Msg("burn rejected")
		return err
	}

	v, _ := c.ledger.Get(vaultID)
	c.commit(event.KindStablecoinBurned, caller, vaultID, event.StablecoinBurned{
		Amount:  amount,
		NewDebt: v.Debt,
	})
	return nil
}

// WithdrawCollateral releases STX from the caller's vault.
func (c *Core) WithdrawCollateral(caller protocol.Principal, vaultID, stxAmount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	err := c.ledger.Withdraw(caller, vaultID, stxAmount)
	c.observe("withdraw", start, err)
	if err != nil {
		c.log.Debug().Err(err).Uint64("vault_id", vaultID).Uint64("stx", stxAmount).Msg("withdraw rejected")
		return err
	}

	c.commit(event.KindCollateralWithdrawn, caller, vaultID, event.CollateralWithdrawn{
		STXAmount: stxAmount,
	})
	return nil
}

// LiquidateVault force-settles an unsafe vault on behalf of an authorized
// liquidator.
func (c *Core) LiquidateVault(caller protocol.Principal, vaultID uint64) (liquidation.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	receipt, err := c.liquidation.Liquidate(caller, vaultID)
	c.observe("liquidate", start, err)
	if err != nil {
		c.log.Debug().Err(err).Uint64("vault_id", vaultID).Str("caller", string(caller)).Msg("liquidation rejected")
		return liquidation.Receipt{}, err
	}

	c.commit(event.KindVaultLiquidated, caller, vaultID, event.VaultLiquidated{
		Liquidator: caller,
		DebtRepaid: receipt.DebtRepaid,
		STXPayout:  receipt.STXPayout,
		XBTCShare:  receipt.XBTCShare,
	})
	if c.metrics != nil {
		c.metrics.Liquidations.Inc()
		c.metrics.LiquidationPayouts.WithLabelValues("STX").Add(float64(receipt.STXPayout))
		c.metrics.LiquidationPayouts.WithLabelValues("xBTC").Add(float64(receipt.XBTCShare))
	}
	c.log.Info().Uint64("vault_id", vaultID).Str("liquidator", string(caller)).
		Uint64("debt_repaid", receipt.DebtRepaid).Uint64("stx_payout", receipt.STXPayout).
		Msg("vault liquidated")
	return receipt, nil
}

// --- Oracle operations ---

// UpdatePrice writes a new feed value for an asset.
func (c *Core) UpdatePrice(caller protocol.Principal, asset protocol.Asset, price, confidence uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	err := c.oracle.UpdatePrice(caller, asset, price, confidence)
	c.observe("update_price", start, err)
	if err != nil {
		c.log.Debug().Err(err).Str("asset", string(asset)).Msg("price update rejected")
		return err
	}

	c.commit(event.KindPriceUpdated, caller, 0, event.PriceUpdated{
		Asset:      asset,
		Price:      price,
		Confidence: confidence,
	})
	if c.metrics != nil {
		c.metrics.PriceUpdates.WithLabelValues(string(asset)).Inc()
	}
	return nil
}

// SetOracleOperator grants or revokes feed-write authority.
func (c *Core) SetOracleOperator(caller, operator protocol.Principal, authorized bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	err := c.oracle.SetOperator(caller, operator, authorized)
	c.observe("set_operator", start, err)
	if err != nil {
		return err
	}

	c.commit(event.KindOperatorUpdated, caller, 0, event.OperatorUpdated{
		Operator:   operator,
		Authorized: authorized,
	})
	return nil
}

// SetLiquidator grants or revokes liquidation authority.
func (c *Core) SetLiquidator(caller, liquidator protocol.Principal, authorized bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	err := c.liquidation.SetLiquidator(caller, liquidator, authorized)
	c.observe("set_liquidator", start, err)
	if err != nil {
		return err
	}

	c.commit(event.KindLiquidatorUpdated, caller, 0, event.LiquidatorUpdated{
		Liquidator: liquidator,
		Authorized: authorized,
	})
	return nil
}

// --- Admin stubs ---

// EmergencyShutdown is accepted from the owner but changes nothing; the
// switch has never been wired to any behavior.
func (c *Core) EmergencyShutdown(caller protocol.Principal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return fmt.Errorf("%w: emergency shutdown requires owner", protocol.ErrNotAuthorized)
	}
	c.log.Warn().Str("caller", string(caller)).Msg("emergency shutdown acknowledged (no-op)")
	return nil
}

// UpdateLiquidationRatio is accepted from the owner but the ratio is a
// compile-time constant; the call changes nothing.
func (c *Core) UpdateLiquidationRatio(caller protocol.Principal, ratio uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return fmt.Errorf("%w: update liquidation ratio requires owner", protocol.ErrNotAuthorized)
	}
	c.log.Warn().Uint64("ratio", ratio).Msg("liquidation ratio update acknowledged (no-op)")
	return nil
}

// --- Read surface ---

// ProtocolStats is the aggregate view served to queries.
type ProtocolStats struct {
	VaultCount          uint64
	TotalDebt           uint64
	TotalCollateralSTX  uint64
	TotalCollateralXBTC uint64
	TotalSupply         uint64
}

// GetVault returns a copy of the vault record, active or terminal.
func (c *Core) GetVault(id uint64) (vault.Vault, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.ledger.Get(id)
	if !ok {
		return vault.Vault{}, fmt.Errorf("%w: id %d", protocol.ErrVaultNotFound, id)
	}
	return v, nil
}

// GetUserVaults returns the ordered vault ids held by an owner.
func (c *Core) GetUserVaults(owner protocol.Principal) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.UserVaults(owner)
}

// GetProtocolStats returns the running totals plus the stablecoin supply.
func (c *Core) GetProtocolStats() ProtocolStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.ledger.Stats()
	return ProtocolStats{
		VaultCount:          s.VaultCount,
		TotalDebt:           s.TotalDebt,
		TotalCollateralSTX:  s.TotalCollateralSTX,
		TotalCollateralXBTC: s.TotalCollateralXBTC,
		TotalSupply:         c.token.TotalSupply(),
	}
}

// CalculateHealthFactor prices a live vault against current feeds.
func (c *Core) CalculateHealthFactor(vaultID uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.HealthFactor(vaultID)
}

// IsVaultSafe reports whether a vault's health factor clears the
// liquidation threshold.
func (c *Core) IsVaultSafe(vaultID uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hf, err := c.ledger.HealthFactor(vaultID)
	if err != nil {
		return false, err
	}
	return hf >= protocol.LiquidationRatio, nil
}

// GetPrice returns the current feed price behind the staleness gate.
func (c *Core) GetPrice(asset protocol.Asset) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oracle.GetPrice(asset)
}

// GetFeed returns the raw stored feed without the staleness gate.
func (c *Core) GetFeed(asset protocol.Asset) (oracle.PriceFeed, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oracle.Feed(asset)
}

// Sequence returns the next commit sequence to assign.
func (c *Core) Sequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// --- Snapshot ---

// SnapshotState is the serializable in-memory state for warm restarts.
type SnapshotState struct {
	Sequence      uint64
	Vaults        []vault.Vault
	OwnerIndex    map[protocol.Principal][]uint64
	Stats         vault.Stats
	Feeds         map[protocol.Asset]oracle.PriceFeed
	Operators     map[protocol.Principal]bool
	Liquidators   map[protocol.Principal]bool
	TokenBalances map[protocol.Principal]uint64
	TokenSupply   uint64
	Wallets       []custody.WalletEntry
	Held          map[protocol.Asset]uint64
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *Core) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &SnapshotState{
		Sequence:      c.sequence,
		Vaults:        c.ledger.AllVaults(),
		OwnerIndex:    c.ledger.OwnerIndexes(),
		Stats:         c.ledger.Stats(),
		Feeds:         c.oracle.Feeds(),
		Operators:     c.oracle.Operators(),
		Liquidators:   c.liquidation.Liquidators(),
		TokenBalances: c.token.Balances(),
		TokenSupply:   c.token.TotalSupply(),
		Wallets:       c.custody.Wallets(),
		Held:          c.custody.HeldBalances(),
	}
}

// RestoreFromSnapshot loads the in-memory state from a snapshot. Must run
// before the core starts serving operations.
func (c *Core) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence
	for _, v := range snap.Vaults {
		c.ledger.RestoreVault(v)
	}
	for owner, ids := range snap.OwnerIndex {
		c.ledger.RestoreOwnerIndex(owner, ids)
	}
	c.ledger.RestoreStats(snap.Stats)
	for asset, feed := range snap.Feeds {
		c.oracle.RestoreFeed(asset, feed)
	}
	for p, ok := range snap.Operators {
		c.oracle.RestoreOperator(p, ok)
	}
	for p, ok := range snap.Liquidators {
		c.liquidation.RestoreLiquidator(p, ok)
	}
	for p, amount := range snap.TokenBalances {
		c.token.RestoreBalance(p, amount)
	}
	c.token.RestoreSupply(snap.TokenSupply)
	for _, w := range snap.Wallets {
		c.custody.RestoreWallet(w.Owner, w.Asset, w.Amount)
	}
	for asset, amount := range snap.Held {
		c.custody.RestoreHeld(asset, amount)
	}
}
