package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault core.
type Metrics struct {
	// --- Operations ---
	OpsApplied   *prometheus.CounterVec
	OpsRejected  *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec
	CoreSequence prometheus.Gauge

	// --- Ledger state ---
	VaultCount      prometheus.Gauge
	TotalDebt       prometheus.Gauge
	TotalCollateral *prometheus.GaugeVec
	TokenSupply     prometheus.Gauge

	// --- Oracle ---
	PriceUpdates    *prometheus.CounterVec
	StaleRejections *prometheus.CounterVec

	// --- Liquidation ---
	Liquidations       prometheus.Counter
	LiquidationPayouts *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistLastSequence  prometheus.Gauge
	PublishDrops         prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_applied_total",
			Help: "Operations committed by the core",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_rejected_total",
			Help: "Operations rejected before any mutation",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_op_duration_seconds",
			Help:    "Time to execute a single core operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_core_sequence",
			Help: "Current commit sequence number",
		}),

		VaultCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_count",
			Help: "Vaults ever created (doubles as the id allocator)",
		}),

		TotalDebt: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_debt",
			Help: "Running total stablecoin debt (base units)",
		}),

		TotalCollateral: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_total_collateral",
			Help: "Running total collateral per asset (base units)",
		}, []string{"asset"}),

		TokenSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_token_total_supply",
			Help: "Stablecoin total supply",
		}),

		PriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_price_updates_total",
			Help: "Accepted oracle feed updates",
		}, []string{"asset"}),

		StaleRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_stale_price_rejections_total",
			Help: "Operations rejected on feed staleness",
		}, []string{"op"}),

		Liquidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_liquidations_total",
			Help: "Completed forced settlements",
		}),

		LiquidationPayouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_payouts_total",
			Help: "Collateral payout shares by asset (base units)",
		}, []string{"asset"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetStats pushes the running ledger totals into the gauges.
func (m *Metrics) SetStats(vaultCount, totalDebt, totalSTX, totalXBTC, tokenSupply uint64) {
	m.VaultCount.Set(float64(vaultCount))
	m.TotalDebt.Set(float64(totalDebt))
	m.TotalCollateral.WithLabelValues("STX").Set(float64(totalSTX))
	m.TotalCollateral.WithLabelValues("xBTC").Set(float64(totalXBTC))
	m.TokenSupply.Set(float64(tokenSupply))
}
