package settlement

import (
	"math/big"
	"time"
)

// CurveBase is the stake that maps to exactly CurveBase shares. Stakes above
// it earn proportionally more shares per unit, stakes below it fewer.
const CurveBase uint64 = 1_000_000

// curveRootDegree is the inverse of the fractional part of the 1.1 exponent.
const curveRootDegree = 10

var (
	fixedScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	// fixedScalePow is fixedScale^curveRootDegree.
	fixedScalePow = new(big.Int).Exp(fixedScale, big.NewInt(curveRootDegree), nil)
	bigCurveBase  = new(big.Int).SetUint64(CurveBase)
	maxUint64     = new(big.Int).SetUint64(^uint64(0))
)

// Shares converts a stake into shares: floor((amount/CurveBase)^1.1 * CurveBase).
//
// It is evaluated as amount * (amount/CurveBase)^(1/10) in 18-decimal fixed
// point with every step rounded down, so results are identical on every
// platform. It fails with domain.ErrAmountOverflow when the result does not
// fit in 64 bits.
func Shares(amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}
	a := new(big.Int).SetUint64(amount)

	// root = floor((amount/CurveBase)^(1/10) * 1e18)
	x := new(big.Int).Mul(a, fixedScalePow)
	x.Quo(x, bigCurveBase)
	root := iroot(x, curveRootDegree)

	out := a.Mul(a, root)
	out.Quo(out, fixedScale)
	if out.Cmp(maxUint64) > 0 {
		return 0, errAmountOverflow("shares")
	}
	return out.Uint64(), nil
}

// Refund returns the value refunded for shares cancelled elapsed into a
// market of the given duration: floor(shares * ((duration-elapsed)/duration)^1.5).
// It is zero once elapsed reaches duration and equals shares at elapsed <= 0.
func Refund(shares uint64, elapsed, duration time.Duration) uint64 {
	if shares == 0 || duration <= 0 || elapsed >= duration {
		return 0
	}
	if elapsed <= 0 {
		return shares
	}
	d := big.NewInt(int64(duration))
	r := big.NewInt(int64(duration - elapsed))

	// sqrt((r/d)) * d * 1e18 = isqrt(r * d * 1e36)
	rad := new(big.Int).Mul(r, d)
	rad.Mul(rad, fixedScale)
	rad.Mul(rad, fixedScale)
	root := new(big.Int).Sqrt(rad)

	num := new(big.Int).SetUint64(shares)
	num.Mul(num, r)
	num.Mul(num, root)

	den := new(big.Int).Mul(d, d)
	den.Mul(den, fixedScale)

	return num.Quo(num, den).Uint64()
}

// iroot returns floor(x^(1/n)) for x >= 0 using Newton's iteration from an
// upper bound, which decreases monotonically to the floor root.
func iroot(x *big.Int, n int) *big.Int {
	if x.Sign() == 0 {
		return new(big.Int)
	}
	bn := big.NewInt(int64(n))
	bn1 := big.NewInt(int64(n - 1))

	// 2^ceil(bitlen/n) >= x^(1/n)
	y := new(big.Int).Lsh(big.NewInt(1), uint((x.BitLen()+n-1)/n))
	pow := new(big.Int)
	next := new(big.Int)
	for {
		// next = ((n-1)*y + x / y^(n-1)) / n
		pow.Exp(y, bn1, nil)
		next.Quo(x, pow)
		next.Add(next, new(big.Int).Mul(bn1, y))
		next.Quo(next, bn)
		if next.Cmp(y) >= 0 {
			return y
		}
		y.Set(next)
	}
}
