package vault

import "stablevault/internal/protocol"

// Vault is a single collateral/debt position. Ids are assigned sequentially
// starting at 1 and never reused. Once Active flips to false the record is
// terminal: no field ever mutates again.
type Vault struct {
	ID             uint64
	Owner          protocol.Principal
	CollateralSTX  uint64
	CollateralXBTC uint64
	Debt           uint64
	LastUpdate     uint64 // tick of last mutation
	Active         bool
}

// Stats are the running system-wide totals. They are maintained
// transactionally by every mutation; there is no recompute-from-ledger path,
// so any drift persists until corrected by a migration.
type Stats struct {
	VaultCount          uint64
	TotalDebt           uint64
	TotalCollateralSTX  uint64
	TotalCollateralXBTC uint64
}
