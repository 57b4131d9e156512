package recovery

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// UIAmount scales a raw integer amount down by decimals.
func UIAmount(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromUint64(raw).Shift(-int32(decimals))
}

var maxUint64 = decimal.NewFromUint64(math.MaxUint64)

// RawAmount scales a UI amount up by decimals. It fails if ui is negative,
// has more fractional digits than decimals allows, or does not fit in a uint64.
func RawAmount(ui decimal.Decimal, decimals uint8) (uint64, error) {
	if ui.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", ui)
	}
	raw := ui.Shift(int32(decimals))
	if !raw.Equal(raw.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", ui, decimals)
	}
	if raw.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("amount %s overflows", ui)
	}
	return raw.BigInt().Uint64(), nil
}
