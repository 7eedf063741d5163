package oracle

import (
	"fmt"

	"stablevault/internal/protocol"
)

// PriceFeed is the latest attested price for one asset. Latest-value-only: an
// update overwrites, no history is kept.
type PriceFeed struct {
	Price      uint64
	Timestamp  uint64 // tick of last update
	Confidence uint64 // 1..100
}

// Oracle holds the latest price per asset behind a freshness gate. Writes are
// restricted to authorized operators; the operator set is owned by the
// deploying principal.
type Oracle struct {
	owner     protocol.Principal
	operators map[protocol.Principal]bool
	feeds     map[protocol.Asset]PriceFeed
	clock     protocol.TickProvider
}

func New(owner protocol.Principal, clock protocol.TickProvider) *Oracle {
	return &Oracle{
		owner:     owner,
		operators: make(map[protocol.Principal]bool),
		feeds:     make(map[protocol.Asset]PriceFeed),
		clock:     clock,
	}
}

// SetOperator grants or revokes feed-write authority. Owner-only. An operator
// equal to the caller is rejected, so the owner cannot self-designate.
func (o *Oracle) SetOperator(caller, operator protocol.Principal, authorized bool) error {
	if caller != o.owner {
		return fmt.Errorf("%w: set-operator requires owner", protocol.ErrNotAuthorized)
	}
	if operator == caller {
		return fmt.Errorf("%w: operator equals caller", protocol.ErrInvalidAmount)
	}

	o.operators[operator] = authorized
	return nil
}

// IsOperator reports whether the principal may write feeds.
func (o *Oracle) IsOperator(p protocol.Principal) bool {
	return o.operators[p]
}

// UpdatePrice overwrites the feed for an asset unconditionally.
func (o *Oracle) UpdatePrice(caller protocol.Principal, asset protocol.Asset, price, confidence uint64) error {
	if !o.operators[caller] {
		return fmt.Errorf("%w: %s is not an oracle operator", protocol.ErrNotAuthorized, caller)
	}
	if price == 0 {
		return fmt.Errorf("%w: price is zero", protocol.ErrInvalidAmount)
	}
	if confidence < 1 || confidence > 100 {
		return fmt.Errorf("%w: confidence %d outside [1,100]", protocol.ErrInvalidAmount, confidence)
	}
	if asset == "" {
		return fmt.Errorf("%w: empty asset", protocol.ErrInvalidAmount)
	}

	o.feeds[asset] = PriceFeed{
		Price:      price,
		Timestamp:  o.clock.Tick(),
		Confidence: confidence,
	}
	return nil
}

// GetPrice returns the current price for an asset. A feed that was never set
// and a feed older than MaxPriceAge map to the same staleness error.
func (o *Oracle) GetPrice(asset protocol.Asset) (uint64, error) {
	feed, ok := o.feeds[asset]
	if !ok {
		return 0, fmt.Errorf("%w: no feed for %s", protocol.ErrOraclePriceStale, asset)
	}

	now := o.clock.Tick()
	if now >= feed.Timestamp && now-feed.Timestamp >= protocol.MaxPriceAge {
		return 0, fmt.Errorf("%w: feed for %s is %d ticks old", protocol.ErrOraclePriceStale, asset, now-feed.Timestamp)
	}

	return feed.Price, nil
}

// Feed exposes the raw stored feed (query surface, no staleness gate).
func (o *Oracle) Feed(asset protocol.Asset) (PriceFeed, bool) {
	feed, ok := o.feeds[asset]
	return feed, ok
}

// RestoreFeed directly sets a feed (snapshot restore).
func (o *Oracle) RestoreFeed(asset protocol.Asset, feed PriceFeed) {
	o.feeds[asset] = feed
}

// Feeds returns a copy of all stored feeds (snapshot creation).
func (o *Oracle) Feeds() map[protocol.Asset]PriceFeed {
	out := make(map[protocol.Asset]PriceFeed, len(o.feeds))
	for k, v := range o.feeds {
		out[k] = v
	}
	return out
}

// Operators returns a copy of the operator set (snapshot creation).
func (o *Oracle) Operators() map[protocol.Principal]bool {
	out := make(map[protocol.Principal]bool, len(o.operators))
	for k, v := range o.operators {
		out[k] = v
	}
	return out
}

// RestoreOperator directly sets an operator flag (snapshot restore).
func (o *Oracle) RestoreOperator(p protocol.Principal, authorized bool) {
	o.operators[p] = authorized
}
