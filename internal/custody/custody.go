package custody

import (
	"fmt"

	"stablevault/internal/math"
	"stablevault/internal/protocol"
)

// TransferService moves native collateral between user wallets and protocol
// custody. Calls are synchronous and must be effectively atomic with the
// surrounding ledger mutation: the core aborts the whole operation when a
// transfer fails, and issues the transfer only after every other precondition
// has passed.
type TransferService interface {
	TransferIn(asset protocol.Asset, amount uint64, from protocol.Principal) error
	TransferOut(asset protocol.Asset, amount uint64, to protocol.Principal) error
}

type walletKey struct {
	owner protocol.Principal
	asset protocol.Asset
}

// Vault is an in-memory custody implementation tracking user wallet balances
// and the protocol-held pool per asset.
type Vault struct {
	wallets map[walletKey]uint64
	held    map[protocol.Asset]uint64
}

func NewVault() *Vault {
	return &Vault{
		wallets: make(map[walletKey]uint64),
		held:    make(map[protocol.Asset]uint64),
	}
}

// Fund credits a user wallet outside the protocol (test and bootstrap hook).
func (v *Vault) Fund(owner protocol.Principal, asset protocol.Asset, amount uint64) {
	v.wallets[walletKey{owner, asset}] += amount
}

// WalletBalance returns the user-held balance for an asset.
func (v *Vault) WalletBalance(owner protocol.Principal, asset protocol.Asset) uint64 {
	return v.wallets[walletKey{owner, asset}]
}

// Held returns the protocol-held pool for an asset.
func (v *Vault) Held(asset protocol.Asset) uint64 {
	return v.held[asset]
}

func (v *Vault) TransferIn(asset protocol.Asset, amount uint64, from protocol.Principal) error {
	if amount == 0 {
		return fmt.Errorf("%w: transfer-in amount is zero", protocol.ErrInvalidAmount)
	}

	key := walletKey{from, asset}
	if v.wallets[key] < amount {
		return fmt.Errorf("%w: %s wallet holds %d, need %d", protocol.ErrTransferFailed, asset, v.wallets[key], amount)
	}

	pool, err := math.Add(v.held[asset], amount)
	if err != nil {
		return err
	}

	v.wallets[key] -= amount
	v.held[asset] = pool
	return nil
}

// WalletEntry is one user/asset wallet balance (snapshot creation).
type WalletEntry struct {
	Owner  protocol.Principal
	Asset  protocol.Asset
	Amount uint64
}

// Wallets returns a copy of all user wallet balances (snapshot creation).
func (v *Vault) Wallets() []WalletEntry {
	out := make([]WalletEntry, 0, len(v.wallets))
	for k, amount := range v.wallets {
		out = append(out, WalletEntry{Owner: k.owner, Asset: k.asset, Amount: amount})
	}
	return out
}

// HeldBalances returns a copy of the protocol-held pools (snapshot creation).
func (v *Vault) HeldBalances() map[protocol.Asset]uint64 {
	out := make(map[protocol.Asset]uint64, len(v.held))
	for k, amount := range v.held {
		out[k] = amount
	}
	return out
}

// RestoreWallet directly sets a user wallet balance (snapshot restore).
func (v *Vault) RestoreWallet(owner protocol.Principal, asset protocol.Asset, amount uint64) {
	v.wallets[walletKey{owner, asset}] = amount
}

// RestoreHeld directly sets a protocol-held pool (snapshot restore).
func (v *Vault) RestoreHeld(asset protocol.Asset, amount uint64) {
	v.held[asset] = amount
}

func (v *Vault) TransferOut(asset protocol.Asset, amount uint64, to protocol.Principal) error {
	if amount == 0 {
		return fmt.Errorf("%w: transfer-out amount is zero", protocol.ErrInvalidAmount)
	}
	if v.held[asset] < amount {
		return fmt.Errorf("%w: custody holds %d %s, need %d", protocol.ErrTransferFailed, v.held[asset], asset, amount)
	}

	wallet, err := math.Add(v.wallets[walletKey{to, asset}], amount)
	if err != nil {
		return err
	}

	v.held[asset] -= amount
	v.wallets[walletKey{to, asset}] = wallet
	return nil
}
