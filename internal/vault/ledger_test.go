package vault_test

import (
	"errors"
	"testing"

	"stablevault/internal/custody"
	"stablevault/internal/oracle"
	"stablevault/internal/protocol"
	"stablevault/internal/testutil"
	"stablevault/internal/token"
	"stablevault/internal/valuation"
	"stablevault/internal/vault"
)

const (
	owner    = protocol.Principal("SP-OWNER")
	operator = protocol.Principal("SP-OPERATOR")
	alice    = protocol.Principal("SP-ALICE")
	bob      = protocol.Principal("SP-BOB")
)

type fixture struct {
	ledger  *vault.Ledger
	oracle  *oracle.Oracle
	token   *token.Book
	custody *custody.Vault
	clock   *testutil.ManualTick
}

// newFixture wires a ledger with fresh feeds (STX at 1_000_000, xBTC at
// 100_000_000_000) and a funded wallet for alice.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testutil.ManualTick{Now: 1000}
	orc := oracle.New(owner, clock)
	if err := orc.SetOperator(owner, operator, true); err != nil {
		t.Fatalf("set operator: %v", err)
	}
	if err := orc.UpdatePrice(operator, protocol.AssetSTX, 1_000_000, 95); err != nil {
		t.Fatalf("price STX: %v", err)
	}
	if err := orc.UpdatePrice(operator, protocol.AssetXBTC, 100_000_000_000, 95); err != nil {
		t.Fatalf("price xBTC: %v", err)
	}

	tok := token.NewBook()
	cust := custody.NewVault()
	cust.Fund(alice, protocol.AssetSTX, 1_000_000)

	return &fixture{
		ledger:  vault.NewLedger(valuation.New(orc), tok, cust, clock),
		oracle:  orc,
		token:   tok,
		custody: cust,
		clock:   clock,
	}
}

func (f *fixture) setPrice(t *testing.T, asset protocol.Asset, price uint64) {
	t.Helper()
	if err := f.oracle.UpdatePrice(operator, asset, price, 95); err != nil {
		t.Fatalf("price %s: %v", asset, err)
	}
}

func TestOpenAssignsSequentialIDs(t *testing.T) {
	f := newFixture(t)

	id1, err := f.ledger.Open(alice, 1000, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id2, err := f.ledger.Open(alice, 500, 2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if id1 != 1 || id2 != 2 {
		t.Errorf("ids: got %d, %d", id1, id2)
	}

	v, ok := f.ledger.Get(id2)
	if !ok {
		t.Fatal("vault missing")
	}
	if v.Owner != alice || v.CollateralSTX != 500 || v.CollateralXBTC != 2 || v.Debt != 0 || !v.Active {
		t.Errorf("vault: %+v", v)
	}

	ids := f.ledger.UserVaults(alice)
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("owner index: %v", ids)
	}
}

func TestOpenRequiresSTX(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Open(alice, 0, 5)
	if !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}

	// Zero mutation on the failed open.
	if s := f.ledger.Stats(); s != (vault.Stats{}) {
		t.Errorf("stats mutated: %+v", s)
	}
	if f.custody.Held(protocol.AssetSTX) != 0 {
		t.Error("custody mutated")
	}
	if len(f.ledger.UserVaults(alice)) != 0 {
		t.Error("owner index mutated")
	}
}

func TestOpenMovesOnlySTXThroughCustody(t *testing.T) {
	f := newFixture(t)

	if _, err := f.ledger.Open(alice, 1000, 3); err != nil {
		t.Fatalf("open: %v", err)
	}
	if f.custody.Held(protocol.AssetSTX) != 1000 {
		t.Errorf("STX pool: got %d, want 1000", f.custody.Held(protocol.AssetSTX))
	}
	// The xBTC leg is credited from the declared amount, no custody movement.
	if f.custody.Held(protocol.AssetXBTC) != 0 {
		t.Errorf("xBTC pool: got %d, want 0", f.custody.Held(protocol.AssetXBTC))
	}

	s := f.ledger.Stats()
	if s.TotalCollateralSTX != 1000 || s.TotalCollateralXBTC != 3 {
		t.Errorf("stats: %+v", s)
	}
}

func TestOpenFailsWhenWalletShort(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Open(bob, 100, 0)
	if !errors.Is(err, protocol.ErrTransferFailed) {
		t.Errorf("got %v, want ErrTransferFailed", err)
	}
	if s := f.ledger.Stats(); s != (vault.Stats{}) {
		t.Errorf("stats mutated: %+v", s)
	}
}

func TestOpenPerOwnerCap(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < protocol.MaxVaultsPerOwner; i++ {
		if _, err := f.ledger.Open(alice, 10, 0); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}

	_, err := f.ledger.Open(alice, 10, 0)
	if !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("11th open: got %v, want ErrInvalidAmount", err)
	}
	if len(f.ledger.UserVaults(alice)) != protocol.MaxVaultsPerOwner {
		t.Errorf("index grew past cap: %d", len(f.ledger.UserVaults(alice)))
	}
}

func TestAddCollateral(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 1)

	if err := f.ledger.AddCollateral(alice, id, 500, 2); err != nil {
		t.Fatalf("add: %v", err)
	}

	v, _ := f.ledger.Get(id)
	if v.CollateralSTX != 1500 || v.CollateralXBTC != 3 {
		t.Errorf("vault: %+v", v)
	}
	s := f.ledger.Stats()
	if s.TotalCollateralSTX != 1500 || s.TotalCollateralXBTC != 3 {
		t.Errorf("stats: %+v", s)
	}
	if f.custody.Held(protocol.AssetSTX) != 1500 {
		t.Errorf("pool: %d", f.custody.Held(protocol.AssetSTX))
	}
}

func TestAddCollateralRequiresSTXEvenForXBTCTopUp(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)

	// An xBTC-only top-up is impossible; the STX leg is mandatory.
	err := f.ledger.AddCollateral(alice, id, 0, 5)
	if !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
	v, _ := f.ledger.Get(id)
	if v.CollateralXBTC != 0 {
		t.Error("rejected top-up mutated the vault")
	}
}

func TestAddCollateralOwnerOnly(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)

	err := f.ledger.AddCollateral(bob, id, 100, 0)
	if !errors.Is(err, protocol.ErrNotAuthorized) {
		t.Errorf("got %v, want ErrNotAuthorized", err)
	}
}

func TestMintRatioBoundary(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0) // value 1_000_000_000

	// Exactly 200 passes.
	if err := f.ledger.Mint(alice, id, 500_000_000); err != nil {
		t.Fatalf("mint at ratio 200: %v", err)
	}
	if f.token.BalanceOf(alice) != 500_000_000 {
		t.Errorf("balance: %d", f.token.BalanceOf(alice))
	}

	// One more unit floors the ratio to 199.
	err := f.ledger.Mint(alice, id, 1)
	if !errors.Is(err, protocol.ErrMinimumCollateralRatio) {
		t.Errorf("mint at ratio 199: got %v, want ErrMinimumCollateralRatio", err)
	}

	v, _ := f.ledger.Get(id)
	if v.Debt != 500_000_000 {
		t.Errorf("debt after rejected mint: %d", v.Debt)
	}
	if f.ledger.Stats().TotalDebt != 500_000_000 {
		t.Errorf("total debt: %d", f.ledger.Stats().TotalDebt)
	}
}

func TestMintAmountBounds(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)

	if err := f.ledger.Mint(alice, id, 0); !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("zero mint: got %v, want ErrInvalidAmount", err)
	}
	if err := f.ledger.Mint(alice, id, protocol.MaxMintAmount); !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("mint at cap: got %v, want ErrInvalidAmount", err)
	}
}

func TestMintStalePrice(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)

	f.clock.Advance(protocol.MaxPriceAge)
	err := f.ledger.Mint(alice, id, 100)
	if !errors.Is(err, protocol.ErrOraclePriceStale) {
		t.Errorf("got %v, want ErrOraclePriceStale", err)
	}
}

func TestBurn(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)
	if err := f.ledger.Mint(alice, id, 400_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := f.ledger.Burn(alice, id, 150_000_000); err != nil {
		t.Fatalf("burn: %v", err)
	}
	v, _ := f.ledger.Get(id)
	if v.Debt != 250_000_000 {
		t.Errorf("debt: %d", v.Debt)
	}
	if f.token.BalanceOf(alice) != 250_000_000 {
		t.Errorf("balance: %d", f.token.BalanceOf(alice))
	}
	if f.ledger.Stats().TotalDebt != 250_000_000 {
		t.Errorf("total debt: %d", f.ledger.Stats().TotalDebt)
	}
}

func TestBurnOverpaymentRejected(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)
	f.ledger.Mint(alice, id, 100_000_000)

	// Give alice more tokens than her debt via a second vault.
	id2, _ := f.ledger.Open(alice, 1000, 0)
	f.ledger.Mint(alice, id2, 100_000_000)

	err := f.ledger.Burn(alice, id, 100_000_001)
	if !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("burn above debt: got %v, want ErrInvalidAmount", err)
	}
}

func TestBurnRequiresBalance(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)
	f.ledger.Mint(alice, id, 100_000_000)

	// Spend the minted tokens away, then try to repay.
	if err := f.token.Transfer(100_000_000, alice, bob, nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	err := f.ledger.Burn(alice, id, 100_000_000)
	if !errors.Is(err, protocol.ErrInsufficientStablecoinBalance) {
		t.Errorf("got %v, want ErrInsufficientStablecoinBalance", err)
	}
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)
	f.ledger.Mint(alice, id, 400_000_000)

	// 1000 -> 800 STX keeps the ratio at 200 exactly.
	if err := f.ledger.Withdraw(alice, id, 200); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	v, _ := f.ledger.Get(id)
	if v.CollateralSTX != 800 {
		t.Errorf("collateral: %d", v.CollateralSTX)
	}
	if f.custody.Held(protocol.AssetSTX) != 800 {
		t.Errorf("pool: %d", f.custody.Held(protocol.AssetSTX))
	}

	// One more unit floors the ratio below 200.
	err := f.ledger.Withdraw(alice, id, 1)
	if !errors.Is(err, protocol.ErrMinimumCollateralRatio) {
		t.Errorf("got %v, want ErrMinimumCollateralRatio", err)
	}
}

func TestWithdrawDebtFreeSkipsRatioCheck(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)

	// No debt, so the entire position can leave even with stale feeds.
	f.clock.Advance(protocol.MaxPriceAge)
	if err := f.ledger.Withdraw(alice, id, 1000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	v, _ := f.ledger.Get(id)
	if v.CollateralSTX != 0 {
		t.Errorf("collateral: %d", v.CollateralSTX)
	}
}

func TestWithdrawBounds(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)

	if err := f.ledger.Withdraw(alice, id, 0); !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("zero: got %v, want ErrInvalidAmount", err)
	}
	if err := f.ledger.Withdraw(alice, id, 1001); !errors.Is(err, protocol.ErrInsufficientCollateral) {
		t.Errorf("over: got %v, want ErrInsufficientCollateral", err)
	}
	if err := f.ledger.Withdraw(bob, id, 100); !errors.Is(err, protocol.ErrNotAuthorized) {
		t.Errorf("non-owner: got %v, want ErrNotAuthorized", err)
	}
}

func TestSettleIsTerminal(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)
	f.ledger.Mint(alice, id, 400_000_000)

	if err := f.ledger.Settle(id, 900, 0); err != nil {
		t.Fatalf("settle: %v", err)
	}

	v, _ := f.ledger.Get(id)
	if v.Active || v.Debt != 0 || v.CollateralSTX != 100 {
		t.Errorf("settled vault: %+v", v)
	}
	s := f.ledger.Stats()
	if s.TotalDebt != 0 || s.TotalCollateralSTX != 100 {
		t.Errorf("stats: %+v", s)
	}

	// A terminal vault is gone for every mutation path.
	if err := f.ledger.AddCollateral(alice, id, 10, 0); !errors.Is(err, protocol.ErrVaultNotFound) {
		t.Errorf("add on terminal: got %v, want ErrVaultNotFound", err)
	}
	if err := f.ledger.Mint(alice, id, 10); !errors.Is(err, protocol.ErrVaultNotFound) {
		t.Errorf("mint on terminal: got %v, want ErrVaultNotFound", err)
	}
	if _, err := f.ledger.HealthFactor(id); !errors.Is(err, protocol.ErrVaultNotFound) {
		t.Errorf("health on terminal: got %v, want ErrVaultNotFound", err)
	}
}

func TestHealthFactorDebtFree(t *testing.T) {
	f := newFixture(t)
	id, _ := f.ledger.Open(alice, 1000, 0)

	hf, err := f.ledger.HealthFactor(id)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if hf != protocol.HealthFactorMax {
		t.Errorf("got %d, want sentinel %d", hf, protocol.HealthFactorMax)
	}
}

func TestTotalDebtMatchesVaultSum(t *testing.T) {
	f := newFixture(t)

	id1, _ := f.ledger.Open(alice, 1000, 0)
	id2, _ := f.ledger.Open(alice, 2000, 0)
	f.ledger.Mint(alice, id1, 300_000_000)
	f.ledger.Mint(alice, id2, 700_000_000)
	f.ledger.Burn(alice, id1, 100_000_000)

	var sum uint64
	for _, id := range []uint64{id1, id2} {
		v, _ := f.ledger.Get(id)
		sum += v.Debt
	}
	if got := f.ledger.Stats().TotalDebt; got != sum {
		t.Errorf("total debt %d, vault sum %d", got, sum)
	}
}
