package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"hypoguard/domain/core"
)

// NormalCDF computes the standard normal cumulative distribution Φ(x).
// Non-finite x is rejected with a domain error rather than saturating.
func NormalCDF(x float64) (float64, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, core.NewDomainError("normal CDF", x)
	}
	return distuv.UnitNormal.CDF(x), nil
}

// NormalQuantile computes Φ⁻¹(p) for p in the open interval (0, 1).
func NormalQuantile(p float64) (float64, error) {
	if math.IsNaN(p) || p <= 0 || p >= 1 {
		return 0, core.NewDomainError("normal quantile", p)
	}
	return distuv.UnitNormal.Quantile(p), nil
}

// NormalUpperTail returns 1 - Φ(x), evaluated as Φ(-x) so that large x keeps
// its precision instead of cancelling to zero.
func NormalUpperTail(x float64) (float64, error) {
	return NormalCDF(-x)
}

// TwoSidedPValue returns 2·(1 - Φ(|z|)).
func TwoSidedPValue(z float64) (float64, error) {
	if math.IsInf(z, 0) {
		return 0, nil
	}
	tail, err := NormalUpperTail(math.Abs(z))
	if err != nil {
		return 0, err
	}
	return 2 * tail, nil
}
