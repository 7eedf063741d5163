package protocol

// Principal is an authenticated caller identity. Comparison is equality-only;
// the core never inspects its structure.
type Principal string

// Asset identifies a collateral class held in protocol custody.
type Asset string

const (
	AssetSTX  Asset = "STX"
	AssetXBTC Asset = "xBTC"
)

// CollateralAssets lists the supported collateral classes in valuation order.
var CollateralAssets = []Asset{AssetSTX, AssetXBTC}

// Ratio and limit constants. All ratio math is unsigned fixed-point with an
// implicit percentage scale of 100; division truncates toward zero.
const (
	// MinimumCollateralRatio is the floor ratio (percent) required after any
	// debt-increasing or collateral-reducing mutation.
	MinimumCollateralRatio uint64 = 200

	// LiquidationRatio is the health factor (percent) below which a vault
	// becomes eligible for forced settlement.
	LiquidationRatio uint64 = 150

	// LiquidationPenalty values liquidated debt at 110% when computing the
	// collateral claim.
	LiquidationPenalty uint64 = 110

	// StabilityFee is declared by the protocol but never applied anywhere.
	StabilityFee uint64 = 2

	// MaxPriceAge is the feed staleness window in ticks. A feed whose age is
	// >= MaxPriceAge is unusable.
	MaxPriceAge uint64 = 3600

	// MaxVaultID caps the sequential id allocator.
	MaxVaultID uint64 = 1_000_000

	// MaxMintAmount bounds a single mint operation (exclusive).
	MaxMintAmount uint64 = 1_000_000_000_000

	// HealthFactorMax is the sentinel health factor for debt-free vaults.
	HealthFactorMax uint64 = 999_999

	// MaxVaultsPerOwner bounds the per-owner vault index.
	MaxVaultsPerOwner = 10
)

// TickProvider supplies the monotonic integer tick (block height analogue)
// used for feed timestamps and staleness comparisons.
type TickProvider interface {
	Tick() uint64
}

// TickFunc adapts a function to TickProvider.
type TickFunc func() uint64

func (f TickFunc) Tick() uint64 { return f() }
