package tollbooth

// fee.go implements the tax computation applied to certified purchases.

const basisPointsPerUnit = 10_000

// FeePolicy computes the tax owed on a purchase amount.
//
// The rate is held in basis points (2.0% = 200 bps) so the ceiling division is
// exact integer arithmetic - floating point rounding could under-collect by a
// fraction of a sat.
type FeePolicy struct {
	// RateBasisPoints is the tax rate in basis points.
	RateBasisPoints int64

	// MinimumSats is the floor applied to every computed fee.
	MinimumSats int64
}

// ComputeFee returns max(MinimumSats, ceil(amountSats * rate)).
//
// amountSats must be positive - the caller validates this before invoking.
// The minimum fee can exceed small purchase amounts, in which case the
// certificate's net amount goes negative; the policy does not second-guess
// the purchase.
func (p FeePolicy) ComputeFee(amountSats int64) int64 {
	raw := (amountSats*p.RateBasisPoints + basisPointsPerUnit - 1) / basisPointsPerUnit
	if raw < p.MinimumSats {
		return p.MinimumSats
	}
	return raw
}
