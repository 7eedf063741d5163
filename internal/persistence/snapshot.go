package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stablevault/internal/core"
	"stablevault/internal/custody"
	"stablevault/internal/oracle"
	"stablevault/internal/protocol"
	"stablevault/internal/vault"
)

// SnapshotManager stores and loads full-state snapshots so a warm restart can
// skip replaying the whole event log.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON wire form of core.SnapshotState.
type SnapshotData struct {
	Sequence      uint64              `json:"sequence"`
	Vaults        []VaultSnap         `json:"vaults"`
	OwnerIndex    map[string][]uint64 `json:"owner_index"`
	Stats         StatsSnap           `json:"stats"`
	Feeds         map[string]FeedSnap `json:"feeds"`
	Operators     map[string]bool     `json:"operators"`
	Liquidators   map[string]bool     `json:"liquidators"`
	TokenBalances map[string]uint64   `json:"token_balances"`
	TokenSupply   uint64              `json:"token_supply"`
	Wallets       []WalletSnap        `json:"wallets"`
	Held          map[string]uint64   `json:"held"`
	CreatedAt     time.Time           `json:"created_at"`
}

type VaultSnap struct {
	ID             uint64 `json:"id"`
	Owner          string `json:"owner"`
	CollateralSTX  uint64 `json:"collateral_stx"`
	CollateralXBTC uint64 `json:"collateral_xbtc"`
	Debt           uint64 `json:"debt"`
	LastUpdate     uint64 `json:"last_update"`
	Active         bool   `json:"active"`
}

type StatsSnap struct {
	VaultCount          uint64 `json:"vault_count"`
	TotalDebt           uint64 `json:"total_debt"`
	TotalCollateralSTX  uint64 `json:"total_collateral_stx"`
	TotalCollateralXBTC uint64 `json:"total_collateral_xbtc"`
}

type FeedSnap struct {
	Price      uint64 `json:"price"`
	Timestamp  uint64 `json:"timestamp"`
	Confidence uint64 `json:"confidence"`
}

type WalletSnap struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// FromState converts the core's in-memory snapshot into the wire form.
func FromState(s *core.SnapshotState) *SnapshotData {
	data := &SnapshotData{
		Sequence:      s.Sequence,
		Vaults:        make([]VaultSnap, 0, len(s.Vaults)),
		OwnerIndex:    make(map[string][]uint64, len(s.OwnerIndex)),
		Feeds:         make(map[string]FeedSnap, len(s.Feeds)),
		Operators:     make(map[string]bool, len(s.Operators)),
		Liquidators:   make(map[string]bool, len(s.Liquidators)),
		TokenBalances: make(map[string]uint64, len(s.TokenBalances)),
		TokenSupply:   s.TokenSupply,
		Wallets:       make([]WalletSnap, 0, len(s.Wallets)),
		Held:          make(map[string]uint64, len(s.Held)),
		CreatedAt:     time.Now().UTC(),
		Stats: StatsSnap{
			VaultCount:          s.Stats.VaultCount,
			TotalDebt:           s.Stats.TotalDebt,
			TotalCollateralSTX:  s.Stats.TotalCollateralSTX,
			TotalCollateralXBTC: s.Stats.TotalCollateralXBTC,
		},
	}

	for _, v := range s.Vaults {
		data.Vaults = append(data.Vaults, VaultSnap{
			ID:             v.ID,
			Owner:          string(v.Owner),
			CollateralSTX:  v.CollateralSTX,
			CollateralXBTC: v.CollateralXBTC,
			Debt:           v.Debt,
			LastUpdate:     v.LastUpdate,
			Active:         v.Active,
		})
	}
	for owner, ids := range s.OwnerIndex {
		data.OwnerIndex[string(owner)] = ids
	}
	for asset, feed := range s.Feeds {
		data.Feeds[string(asset)] = FeedSnap{
			Price:      feed.Price,
			Timestamp:  feed.Timestamp,
			Confidence: feed.Confidence,
		}
	}
	for p, ok := range s.Operators {
		data.Operators[string(p)] = ok
	}
	for p, ok := range s.Liquidators {
		data.Liquidators[string(p)] = ok
	}
	for p, amount := range s.TokenBalances {
		data.TokenBalances[string(p)] = amount
	}
	for _, w := range s.Wallets {
		data.Wallets = append(data.Wallets, WalletSnap{
			Owner:  string(w.Owner),
			Asset:  string(w.Asset),
			Amount: w.Amount,
		})
	}
	for asset, amount := range s.Held {
		data.Held[string(asset)] = amount
	}

	return data
}

// ToState converts the wire form back into the core's in-memory snapshot.
func (d *SnapshotData) ToState() *core.SnapshotState {
	s := &core.SnapshotState{
		Sequence:      d.Sequence,
		Vaults:        make([]vault.Vault, 0, len(d.Vaults)),
		OwnerIndex:    make(map[protocol.Principal][]uint64, len(d.OwnerIndex)),
		Feeds:         make(map[protocol.Asset]oracle.PriceFeed, len(d.Feeds)),
		Operators:     make(map[protocol.Principal]bool, len(d.Operators)),
		Liquidators:   make(map[protocol.Principal]bool, len(d.Liquidators)),
		TokenBalances: make(map[protocol.Principal]uint64, len(d.TokenBalances)),
		TokenSupply:   d.TokenSupply,
		Wallets:       make([]custody.WalletEntry, 0, len(d.Wallets)),
		Held:          make(map[protocol.Asset]uint64, len(d.Held)),
		Stats: vault.Stats{
			VaultCount:          d.Stats.VaultCount,
			TotalDebt:           d.Stats.TotalDebt,
			TotalCollateralSTX:  d.Stats.TotalCollateralSTX,
			TotalCollateralXBTC: d.Stats.TotalCollateralXBTC,
		},
	}

	for _, v := range d.Vaults {
		s.Vaults = append(s.Vaults, vault.Vault{
			ID:             v.ID,
			Owner:          protocol.Principal(v.Owner),
			CollateralSTX:  v.CollateralSTX,
			CollateralXBTC: v.CollateralXBTC,
			Debt:           v.Debt,
			LastUpdate:     v.LastUpdate,
			Active:         v.Active,
		})
	}
	for owner, ids := range d.OwnerIndex {
		s.OwnerIndex[protocol.Principal(owner)] = ids
	}
	for asset, feed := range d.Feeds {
		s.Feeds[protocol.Asset(asset)] = oracle.PriceFeed{
			Price:      feed.Price,
			Timestamp:  feed.Timestamp,
			Confidence: feed.Confidence,
		}
	}
	for p, ok := range d.Operators {
		s.Operators[protocol.Principal(p)] = ok
	}
	for p, ok := range d.Liquidators {
		s.Liquidators[protocol.Principal(p)] = ok
	}
	for p, amount := range d.TokenBalances {
		s.TokenBalances[protocol.Principal(p)] = amount
	}
	for _, w := range d.Wallets {
		s.Wallets = append(s.Wallets, custody.WalletEntry{
			Owner:  protocol.Principal(w.Owner),
			Asset:  protocol.Asset(w.Asset),
			Amount: w.Amount,
		})
	}
	for asset, amount := range d.Held {
		s.Held[protocol.Asset(asset)] = amount
	}

	return s
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot, upserting on sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO vault_log.snapshots
			(snapshot_id, sequence, data, format_version, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $5
	`, uuid.New(), snap.Sequence, data, int32(1), len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM vault_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// LoadEventsFrom pages the event log forward from a sequence (audit replay
// and the events query endpoint).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence uint64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_id, kind, caller, vault_id, tick, payload, created_at
		FROM vault_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.Kind, &e.Caller,
			&e.VaultID, &e.Tick, &e.Payload, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM vault_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}
