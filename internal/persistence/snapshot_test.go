package persistence_test

import (
	"encoding/json"
	"testing"

	"stablevault/internal/core"
	"stablevault/internal/custody"
	"stablevault/internal/oracle"
	"stablevault/internal/persistence"
	"stablevault/internal/protocol"
	"stablevault/internal/vault"
)

func sampleState() *core.SnapshotState {
	return &core.SnapshotState{
		Sequence: 42,
		Vaults: []vault.Vault{
			{ID: 1, Owner: "SP-ALICE", CollateralSTX: 1000, CollateralXBTC: 2, Debt: 400_000_000, LastUpdate: 1010, Active: true},
			{ID: 2, Owner: "SP-BOB", CollateralSTX: 0, CollateralXBTC: 0, Debt: 0, LastUpdate: 1020, Active: false},
		},
		OwnerIndex: map[protocol.Principal][]uint64{
			"SP-ALICE": {1},
			"SP-BOB":   {2},
		},
		Stats: vault.Stats{
			VaultCount:         2,
			TotalDebt:          400_000_000,
			TotalCollateralSTX: 1000,
		},
		Feeds: map[protocol.Asset]oracle.PriceFeed{
			protocol.AssetSTX: {Price: 1_000_000, Timestamp: 1000, Confidence: 95},
		},
		Operators:     map[protocol.Principal]bool{"SP-OPERATOR": true},
		Liquidators:   map[protocol.Principal]bool{"SP-LIQUIDATOR": true},
		TokenBalances: map[protocol.Principal]uint64{"SP-ALICE": 400_000_000},
		TokenSupply:   400_000_000,
		Wallets: []custody.WalletEntry{
			{Owner: "SP-ALICE", Asset: protocol.AssetSTX, Amount: 999_000},
		},
		Held: map[protocol.Asset]uint64{protocol.AssetSTX: 1000},
	}
}

func TestSnapshotStateRoundTrip(t *testing.T) {
	state := sampleState()

	// Through the wire form and a JSON cycle, as SaveSnapshot/LoadLatestSnapshot do.
	data := persistence.FromState(state)
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded persistence.SnapshotData
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored := decoded.ToState()

	if restored.Sequence != 42 {
		t.Errorf("sequence: %d", restored.Sequence)
	}
	if len(restored.Vaults) != 2 {
		t.Fatalf("vaults: %d", len(restored.Vaults))
	}

	byID := map[uint64]vault.Vault{}
	for _, v := range restored.Vaults {
		byID[v.ID] = v
	}
	v1 := byID[1]
	if v1.Owner != "SP-ALICE" || v1.CollateralSTX != 1000 || v1.Debt != 400_000_000 || !v1.Active {
		t.Errorf("vault 1: %+v", v1)
	}
	if byID[2].Active {
		t.Error("vault 2 should stay terminal")
	}

	if restored.Stats != state.Stats {
		t.Errorf("stats: %+v", restored.Stats)
	}

	feed := restored.Feeds[protocol.AssetSTX]
	if feed.Price != 1_000_000 || feed.Timestamp != 1000 || feed.Confidence != 95 {
		t.Errorf("feed: %+v", feed)
	}

	if !restored.Operators["SP-OPERATOR"] || !restored.Liquidators["SP-LIQUIDATOR"] {
		t.Error("authority sets lost")
	}
	if restored.TokenBalances["SP-ALICE"] != 400_000_000 || restored.TokenSupply != 400_000_000 {
		t.Error("token state lost")
	}

	ids := restored.OwnerIndex["SP-ALICE"]
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("owner index: %v", ids)
	}

	if len(restored.Wallets) != 1 || restored.Wallets[0].Amount != 999_000 {
		t.Errorf("wallets: %+v", restored.Wallets)
	}
	if restored.Held[protocol.AssetSTX] != 1000 {
		t.Errorf("held: %+v", restored.Held)
	}
}
