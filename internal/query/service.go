package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stablevault/internal/core"
	"stablevault/internal/protocol"
)

// Service provides read-only access to the live core state and the Postgres
// event log. Core reads are served from memory; only history queries touch
// the database.
type Service struct {
	core *core.Core
	db   *sql.DB
}

func NewService(c *core.Core, db *sql.DB) *Service {
	return &Service{core: c, db: db}
}

// GetVault returns a vault record, active or terminal.
func (s *Service) GetVault(id uint64) (*VaultResponse, error) {
	v, err := s.core.GetVault(id)
	if err != nil {
		return nil, err
	}
	return &VaultResponse{
		ID:             v.ID,
		Owner:          string(v.Owner),
		CollateralSTX:  v.CollateralSTX,
		CollateralXBTC: v.CollateralXBTC,
		Debt:           v.Debt,
		LastUpdate:     v.LastUpdate,
		Active:         v.Active,
	}, nil
}

// GetUserVaults returns the ordered vault ids held by an owner.
func (s *Service) GetUserVaults(owner protocol.Principal) *UserVaultsResponse {
	return &UserVaultsResponse{
		Owner:    string(owner),
		VaultIDs: s.core.GetUserVaults(owner),
	}
}

// GetStats returns the running protocol totals.
func (s *Service) GetStats() *StatsResponse {
	stats := s.core.GetProtocolStats()
	return &StatsResponse{
		VaultCount:          stats.VaultCount,
		TotalDebt:           stats.TotalDebt,
		TotalCollateralSTX:  stats.TotalCollateralSTX,
		TotalCollateralXBTC: stats.TotalCollateralXBTC,
		TotalSupply:         stats.TotalSupply,
	}
}

// GetHealth prices a live vault against current feeds.
func (s *Service) GetHealth(vaultID uint64) (*HealthResponse, error) {
	hf, err := s.core.CalculateHealthFactor(vaultID)
	if err != nil {
		return nil, err
	}
	return &HealthResponse{
		VaultID:      vaultID,
		HealthFactor: hf,
		Safe:         hf >= protocol.LiquidationRatio,
	}, nil
}

// GetPrice returns the stored feed for an asset. Stale reports whether the
// gated read would currently be rejected.
func (s *Service) GetPrice(asset protocol.Asset) (*PriceResponse, error) {
	feed, ok := s.core.GetFeed(asset)
	if !ok {
		return nil, fmt.Errorf("%w: no feed for %s", protocol.ErrOraclePriceStale, asset)
	}

	stale := false
	if _, err := s.core.GetPrice(asset); err != nil {
		if !errors.Is(err, protocol.ErrOraclePriceStale) {
			return nil, err
		}
		stale = true
	}

	return &PriceResponse{
		Asset:      string(asset),
		Price:      feed.Price,
		Timestamp:  feed.Timestamp,
		Confidence: feed.Confidence,
		Stale:      stale,
	}, nil
}

// GetEvents pages the event log for a vault (vaultID 0 means all events).
// Cursor-based: pass the lowest sequence from the previous page as before.
func (s *Service) GetEvents(ctx context.Context, vaultID uint64, limit int, before *uint64) ([]EventResponse, error) {
	query := `
		SELECT sequence, event_id, kind, caller, vault_id, tick, payload
		FROM vault_log.events
	`
	conds := []string{}
	args := []interface{}{}
	argIdx := 1

	if vaultID > 0 {
		conds = append(conds, fmt.Sprintf("vault_id = $%d", argIdx))
		args = append(args, vaultID)
		argIdx++
	}
	if before != nil {
		conds = append(conds, fmt.Sprintf("sequence < $%d", argIdx))
		args = append(args, *before)
		argIdx++
	}

	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.Kind, &e.Caller,
			&e.VaultID, &e.Tick, &e.Payload,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
