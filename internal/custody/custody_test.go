package custody_test

import (
	"errors"
	"testing"

	"stablevault/internal/custody"
	"stablevault/internal/protocol"
)

const alice = protocol.Principal("SP-ALICE")

func TestTransferInMovesWalletToPool(t *testing.T) {
	v := custody.NewVault()
	v.Fund(alice, protocol.AssetSTX, 1000)

	if err := v.TransferIn(protocol.AssetSTX, 400, alice); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if v.WalletBalance(alice, protocol.AssetSTX) != 600 {
		t.Errorf("wallet: got %d, want 600", v.WalletBalance(alice, protocol.AssetSTX))
	}
	if v.Held(protocol.AssetSTX) != 400 {
		t.Errorf("held: got %d, want 400", v.Held(protocol.AssetSTX))
	}
}

func TestTransferInInsufficientWallet(t *testing.T) {
	v := custody.NewVault()
	v.Fund(alice, protocol.AssetSTX, 100)

	err := v.TransferIn(protocol.AssetSTX, 101, alice)
	if !errors.Is(err, protocol.ErrTransferFailed) {
		t.Errorf("got %v, want ErrTransferFailed", err)
	}
	if v.WalletBalance(alice, protocol.AssetSTX) != 100 || v.Held(protocol.AssetSTX) != 0 {
		t.Error("failed transfer must not move funds")
	}
}

func TestTransferOut(t *testing.T) {
	v := custody.NewVault()
	v.Fund(alice, protocol.AssetSTX, 1000)
	if err := v.TransferIn(protocol.AssetSTX, 1000, alice); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	if err := v.TransferOut(protocol.AssetSTX, 250, alice); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	if v.Held(protocol.AssetSTX) != 750 {
		t.Errorf("held: got %d, want 750", v.Held(protocol.AssetSTX))
	}
	if v.WalletBalance(alice, protocol.AssetSTX) != 250 {
		t.Errorf("wallet: got %d, want 250", v.WalletBalance(alice, protocol.AssetSTX))
	}

	if err := v.TransferOut(protocol.AssetSTX, 751, alice); !errors.Is(err, protocol.ErrTransferFailed) {
		t.Errorf("over-withdraw: got %v, want ErrTransferFailed", err)
	}
}

func TestZeroAmountRejected(t *testing.T) {
	v := custody.NewVault()
	if err := v.TransferIn(protocol.AssetSTX, 0, alice); !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("transfer in zero: got %v, want ErrInvalidAmount", err)
	}
	if err := v.TransferOut(protocol.AssetSTX, 0, alice); !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("transfer out zero: got %v, want ErrInvalidAmount", err)
	}
}

func TestAssetsAreIndependent(t *testing.T) {
	v := custody.NewVault()
	v.Fund(alice, protocol.AssetSTX, 500)
	v.Fund(alice, protocol.AssetXBTC, 7)

	if err := v.TransferIn(protocol.AssetSTX, 500, alice); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if v.Held(protocol.AssetXBTC) != 0 {
		t.Errorf("xBTC pool touched: %d", v.Held(protocol.AssetXBTC))
	}
	if v.WalletBalance(alice, protocol.AssetXBTC) != 7 {
		t.Errorf("xBTC wallet touched: %d", v.WalletBalance(alice, protocol.AssetXBTC))
	}
}

func TestSnapshotRestore(t *testing.T) {
	v := custody.NewVault()
	v.Fund(alice, protocol.AssetSTX, 1000)
	v.TransferIn(protocol.AssetSTX, 400, alice)

	restored := custody.NewVault()
	for _, w := range v.Wallets() {
		restored.RestoreWallet(w.Owner, w.Asset, w.Amount)
	}
	for asset, amount := range v.HeldBalances() {
		restored.RestoreHeld(asset, amount)
	}

	if restored.WalletBalance(alice, protocol.AssetSTX) != 600 {
		t.Errorf("restored wallet: %d", restored.WalletBalance(alice, protocol.AssetSTX))
	}
	if restored.Held(protocol.AssetSTX) != 400 {
		t.Errorf("restored pool: %d", restored.Held(protocol.AssetSTX))
	}
}
