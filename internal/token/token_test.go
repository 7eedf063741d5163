package token_test

import (
	"errors"
	"testing"

	"stablevault/internal/protocol"
	"stablevault/internal/token"
)

const (
	alice = protocol.Principal("SP-ALICE")
	bob   = protocol.Principal("SP-BOB")
)

func TestMintAndSupply(t *testing.T) {
	b := token.NewBook()
	if err := b.Mint(1_000_000, alice); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if b.BalanceOf(alice) != 1_000_000 {
		t.Errorf("balance: got %d", b.BalanceOf(alice))
	}
	if b.TotalSupply() != 1_000_000 {
		t.Errorf("supply: got %d", b.TotalSupply())
	}

	if err := b.Mint(0, alice); !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("zero mint: got %v, want ErrInvalidAmount", err)
	}
}

func TestBurn(t *testing.T) {
	b := token.NewBook()
	if err := b.Mint(500, alice); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := b.Burn(200, alice); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if b.BalanceOf(alice) != 300 || b.TotalSupply() != 300 {
		t.Errorf("after burn: balance %d supply %d", b.BalanceOf(alice), b.TotalSupply())
	}

	if err := b.Burn(301, alice); !errors.Is(err, protocol.ErrInsufficientStablecoinBalance) {
		t.Errorf("over-burn: got %v, want ErrInsufficientStablecoinBalance", err)
	}
	if err := b.Burn(0, alice); !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("zero burn: got %v, want ErrInvalidAmount", err)
	}
}

func TestTransfer(t *testing.T) {
	b := token.NewBook()
	if err := b.Mint(1000, alice); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := b.Transfer(400, alice, bob, []byte("memo")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if b.BalanceOf(alice) != 600 || b.BalanceOf(bob) != 400 {
		t.Errorf("balances: alice %d bob %d", b.BalanceOf(alice), b.BalanceOf(bob))
	}
	if b.TotalSupply() != 1000 {
		t.Errorf("supply changed on transfer: %d", b.TotalSupply())
	}

	if err := b.Transfer(100, alice, alice, nil); !errors.Is(err, protocol.ErrTransferFailed) {
		t.Errorf("self transfer: got %v, want ErrTransferFailed", err)
	}
	if err := b.Transfer(601, alice, bob, nil); !errors.Is(err, protocol.ErrInsufficientStablecoinBalance) {
		t.Errorf("overdraw: got %v, want ErrInsufficientStablecoinBalance", err)
	}
	if err := b.Transfer(0, alice, bob, nil); !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("zero transfer: got %v, want ErrInvalidAmount", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	b := token.NewBook()
	b.Mint(700, alice)
	b.Mint(300, bob)

	restored := token.NewBook()
	for p, amount := range b.Balances() {
		restored.RestoreBalance(p, amount)
	}
	restored.RestoreSupply(b.TotalSupply())

	if restored.BalanceOf(alice) != 700 || restored.BalanceOf(bob) != 300 {
		t.Errorf("restored balances: alice %d bob %d", restored.BalanceOf(alice), restored.BalanceOf(bob))
	}
	if restored.TotalSupply() != 1000 {
		t.Errorf("restored supply: %d", restored.TotalSupply())
	}
}
