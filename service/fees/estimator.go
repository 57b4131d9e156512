package fees

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/brojonat/rescuer/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// Strategy reduces recent prioritization fee samples to one price.
type Strategy interface {
	Calculate(samples []uint64) uint64
}

// MaxStrategy picks the highest sample.
type MaxStrategy struct{}

func (MaxStrategy) Calculate(samples []uint64) uint64 {
	var out uint64
	for _, s := range samples {
		if s > out {
			out = s
		}
	}
	return out
}

// AverageStrategy picks the mean of the samples, rounded down.
type AverageStrategy struct{}

func (AverageStrategy) Calculate(samples []uint64) uint64 {
	if len(samples) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(decimal.NewFromUint64(s))
	}
	return uint64(sum.Div(decimal.NewFromInt(int64(len(samples)))).Floor().IntPart())
}

// PercentileStrategy picks the nearest-rank percentile of the samples.
type PercentileStrategy struct {
	Percentile int // 0..100
}

func (p PercentileStrategy) Calculate(samples []uint64) uint64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pct := min(max(p.Percentile, 0), 100)
	rank := int(math.Ceil(float64(pct) / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// FeeSource is the RPC call the estimator samples.
type FeeSource interface {
	GetRecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error)
}

// EstimatorConfig tunes an Estimator.
type EstimatorConfig struct {
	Strategy Strategy
	// Multiplier is applied to the strategy's result; zero means 1.
	Multiplier decimal.Decimal
	// CapMicroLamports clamps the estimate; zero disables the cap.
	CapMicroLamports uint64
	// FloorMicroLamports is returned when recent samples are all zero.
	FloorMicroLamports uint64
}

// Estimator derives a compute unit price from recent prioritization fees.
type Estimator struct {
	source  FeeSource
	cfg     EstimatorConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEstimator creates an Estimator. A nil strategy defaults to the 75th percentile.
func NewEstimator(source FeeSource, cfg EstimatorConfig, m *metrics.Metrics, logger *slog.Logger) *Estimator {
	if cfg.Strategy == nil {
		cfg.Strategy = PercentileStrategy{Percentile: 75}
	}
	if cfg.Multiplier.IsZero() {
		cfg.Multiplier = decimal.NewFromInt(1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{source: source, cfg: cfg, metrics: m, logger: logger}
}

// Estimate returns a compute unit price in micro-lamports for a transaction
// that write-locks the given accounts.
func (e *Estimator) Estimate(ctx context.Context, writable []solana.PublicKey) (uint64, error) {
	results, err := e.source.GetRecentPrioritizationFees(ctx, solana.PublicKeySlice(writable))
	if err != nil {
		return 0, fmt.Errorf("failed to get recent prioritization fees: %w", err)
	}

	samples := make([]uint64, 0, len(results))
	for _, r := range results {
		samples = append(samples, r.PrioritizationFee)
	}
	price := e.Apply(e.cfg.Strategy.Calculate(samples))

	e.logger.DebugContext(ctx, "estimated priority fee",
		"samples", len(samples),
		"micro_lamports", price,
		"writable_accounts", len(writable),
	)
	if e.metrics != nil {
		e.metrics.RecordPriorityFee(price)
	}
	return price, nil
}

// Apply runs the multiplier, floor and cap over a raw price.
func (e *Estimator) Apply(raw uint64) uint64 {
	price := decimal.NewFromUint64(raw).Mul(e.cfg.Multiplier).Ceil()
	if price.Sign() <= 0 {
		price = decimal.NewFromUint64(e.cfg.FloorMicroLamports)
	}
	if e.cfg.CapMicroLamports > 0 && price.GreaterThan(decimal.NewFromUint64(e.cfg.CapMicroLamports)) {
		return e.cfg.CapMicroLamports
	}
	if price.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
		return math.MaxUint64
	}
	return price.BigInt().Uint64()
}
