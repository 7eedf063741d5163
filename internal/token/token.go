package token

import (
	"fmt"

	"stablevault/internal/math"
	"stablevault/internal/protocol"
)

// Ledger is the stablecoin token-ledger collaborator. Mint, burn and transfer
// are synchronous: either the balance change lands before the call returns or
// the call fails. The core issues at most one of these per operation.
type Ledger interface {
	Mint(amount uint64, to protocol.Principal) error
	Burn(amount uint64, from protocol.Principal) error
	Transfer(amount uint64, from, to protocol.Principal, memo []byte) error
	BalanceOf(id protocol.Principal) uint64
	TotalSupply() uint64
}

// Book is an in-memory fungible-token ledger.
type Book struct {
	balances    map[protocol.Principal]uint64
	totalSupply uint64
}

func NewBook() *Book {
	return &Book{
		balances: make(map[protocol.Principal]uint64),
	}
}

func (b *Book) Mint(amount uint64, to protocol.Principal) error {
	if amount == 0 {
		return fmt.Errorf("%w: mint amount is zero", protocol.ErrInvalidAmount)
	}

	supply, err := math.Add(b.totalSupply, amount)
	if err != nil {
		return err
	}
	balance, err := math.Add(b.balances[to], amount)
	if err != nil {
		return err
	}

	b.totalSupply = supply
	b.balances[to] = balance
	return nil
}

func (b *Book) Burn(amount uint64, from protocol.Principal) error {
	if amount == 0 {
		return fmt.Errorf("%w: burn amount is zero", protocol.ErrInvalidAmount)
	}
	if b.balances[from] < amount {
		return fmt.Errorf("%w: burn %d exceeds balance %d", protocol.ErrInsufficientStablecoinBalance, amount, b.balances[from])
	}

	b.balances[from] -= amount
	b.totalSupply -= amount
	return nil
}

func (b *Book) Transfer(amount uint64, from, to protocol.Principal, memo []byte) error {
	if amount == 0 {
		return fmt.Errorf("%w: transfer amount is zero", protocol.ErrInvalidAmount)
	}
	if from == to {
		return fmt.Errorf("%w: self transfer", protocol.ErrTransferFailed)
	}
	if b.balances[from] < amount {
		return fmt.Errorf("%w: transfer %d exceeds balance %d", protocol.ErrInsufficientStablecoinBalance, amount, b.balances[from])
	}

	balance, err := math.Add(b.balances[to], amount)
	if err != nil {
		return err
	}

	b.balances[from] -= amount
	b.balances[to] = balance
	return nil
}

func (b *Book) BalanceOf(id protocol.Principal) uint64 {
	return b.balances[id]
}

func (b *Book) TotalSupply() uint64 {
	return b.totalSupply
}

// Balances returns a copy of all holder balances (snapshot creation).
func (b *Book) Balances() map[protocol.Principal]uint64 {
	out := make(map[protocol.Principal]uint64, len(b.balances))
	for k, v := range b.balances {
		out[k] = v
	}
	return out
}

// RestoreBalance directly sets a holder balance (snapshot restore).
func (b *Book) RestoreBalance(id protocol.Principal, amount uint64) {
	b.balances[id] = amount
}

// RestoreSupply directly sets the total supply (snapshot restore).
func (b *Book) RestoreSupply(total uint64) {
	b.totalSupply = total
}
