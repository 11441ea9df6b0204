// Package pricing implements the Black-Scholes closed forms, analytic
// Greeks, and implied-volatility inversion used by the analytics composer.
//
// The package is pure: no I/O, no state, deterministic given inputs.
// Failure to invert a market price is a value ("not computable"), never
// an error or a silently substituted default.
package pricing

import (
	"math"
	"time"
)

const sqrt2Pi = 2.5066282746310002

// Right identifies the option side of a leg.
type Right string

const (
	Call Right = "call"
	Put  Right = "put"
)

// Volatility search interval for implied-volatility inversion.
const (
	volLow  = 1e-6
	volHigh = 5.0
)

// ttExpiryFloor keeps time-to-expiry strictly positive. This is a
// numerical safety clamp against division by zero at or past expiry,
// not a business rule.
const ttExpiryFloor = 1e-10

// TimeToExpiry returns the year fraction between now and the expiry
// instant, floored at 1e-10 so it never evaluates to exactly zero even
// when queried at or after expiry.
func TimeToExpiry(now, expiry time.Time) float64 {
	days := expiry.Sub(now).Seconds() / (24 * 60 * 60)
	return math.Max(days/365.0, ttExpiryFloor)
}

// ExpiryInstant combines an expiry date with the 15:30 session close in
// the given zone, which is the instant options actually stop trading.
func ExpiryInstant(expiryDate time.Time, loc *time.Location) time.Time {
	return time.Date(
		expiryDate.Year(), expiryDate.Month(), expiryDate.Day(),
		15, 30, 0, 0, loc,
	)
}

// Price calculates the Black-Scholes price of a European option.
//
// Parameters:
//   - right: Call or Put
//   - S: spot price of the underlying
//   - K: strike price
//   - T: time to expiry in years
//   - r: risk-free interest rate (annual)
//   - sigma: volatility (annual, as a decimal)
//
// If T or sigma is non-positive the intrinsic value is returned.
func Price(right Right, S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		if right == Call {
			return math.Max(0, S-K)
		}
		return math.Max(0, K-S)
	}

	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	d2 := d1 - sigma*math.Sqrt(T)

	if right == Call {
		return S*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2)
	}
	return K*math.Exp(-r*T)*normCDF(-d2) - S*normCDF(-d1)
}

// Vega is the sensitivity of the option price to volatility, per unit of
// volatility. Identical for calls and puts. Returns 0 if T or sigma is
// non-positive.
func Vega(S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		return 0
	}
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	return S * normPDF(d1) * math.Sqrt(T)
}

// GreeksSet holds the analytic Black-Scholes sensitivities of one option.
//
// Conventions: delta is signed per right, gamma and vega are right
// independent, theta is per year, vega per unit volatility and rho per
// unit rate.
type GreeksSet struct {
	Delta float64
	Gamma float64
	Vega  float64
	Theta float64
	Rho   float64
}

// AnalyticGreeks computes the closed-form Greeks for the given inputs.
// Callers must pass a real volatility; when volatility is not known
// (failed inversion) use Compute, which propagates "undefined" instead.
func AnalyticGreeks(right Right, S, K, T, r, sigma float64) GreeksSet {
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	d2 := d1 - sigma*math.Sqrt(T)
	discount := math.Exp(-r * T)

	g := GreeksSet{
		Gamma: normPDF(d1) / (S * sigma * math.Sqrt(T)),
		Vega:  S * normPDF(d1) * math.Sqrt(T),
	}

	if right == Call {
		g.Delta = normCDF(d1)
		g.Theta = -(S*normPDF(d1)*sigma)/(2*math.Sqrt(T)) - r*K*discount*normCDF(d2)
		g.Rho = K * T * discount * normCDF(d2)
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = -(S*normPDF(d1)*sigma)/(2*math.Sqrt(T)) + r*K*discount*normCDF(-d2)
		g.Rho = -K * T * discount * normCDF(-d2)
	}
	return g
}

// ImpliedVolatility inverts a market price to the Black-Scholes implied
// volatility using Newton's method with a bisection fallback, bounded to
// (1e-6, 5.0).
//
// The second return value is false, meaning not computable, when:
//   - T is non-positive, or
//   - the market price sits outside the arbitrage-free bounds implied by
//     intrinsic value, or
//   - neither solver converges within the search interval.
func ImpliedVolatility(marketPrice, S, K, T, r float64, right Right) (float64, bool) {
	if T <= 0 || S <= 0 || K <= 0 || marketPrice <= 0 {
		return 0, false
	}

	// Arbitrage-free bounds: price must sit between intrinsic value and
	// the value of the underlying collateral.
	discount := math.Exp(-r * T)
	var intrinsic, upper float64
	if right == Call {
		intrinsic = math.Max(0, S-K*discount)
		upper = S
	} else {
		intrinsic = math.Max(0, K*discount-S)
		upper = K * discount
	}
	const boundsTol = 1e-12
	if marketPrice < intrinsic-boundsTol || marketPrice > upper+boundsTol {
		return 0, false
	}

	const (
		maxIter = 100
		tol     = 1e-8
	)

	// Newton-Raphson from a 20% starting guess.
	sigma := 0.20
	for i := 0; i < maxIter; i++ {
		diff := Price(right, S, K, T, r, sigma) - marketPrice
		if math.Abs(diff) < tol {
			return sigma, true
		}

		vega := Vega(S, K, T, r, sigma)
		if vega < 1e-10 {
			break // flat slope, hand off to bisection
		}

		sigma -= diff / vega
		if sigma <= volLow || sigma >= volHigh {
			break // left the search interval, hand off to bisection
		}
	}

	return bisectVolatility(marketPrice, S, K, T, r, right)
}

// bisectVolatility is the robust fallback: Black-Scholes price is
// monotonically increasing in volatility, so plain bisection on the
// bounded interval always converges when a root exists inside it.
func bisectVolatility(marketPrice, S, K, T, r float64, right Right) (float64, bool) {
	lo, hi := volLow, volHigh

	fLo := Price(right, S, K, T, r, lo) - marketPrice
	fHi := Price(right, S, K, T, r, hi) - marketPrice
	if fLo > 0 || fHi < 0 {
		return 0, false // no root inside the interval
	}

	const (
		maxIter = 200
		tol     = 1e-8
	)
	for i := 0; i < maxIter; i++ {
		mid := 0.5 * (lo + hi)
		fMid := Price(right, S, K, T, r, mid) - marketPrice

		if math.Abs(fMid) < tol || hi-lo < 1e-12 {
			return mid, true
		}
		if fMid > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}

	return 0, false
}

// Result carries the implied volatility and Greeks of one priced option.
// A nil field means "not computable from available inputs"; when the
// volatility inversion fails every field is nil.
type Result struct {
	ImpliedVol *float64 `json:"implied_volatility,omitempty"`
	Delta      *float64 `json:"delta,omitempty"`
	Gamma      *float64 `json:"gamma,omitempty"`
	Vega       *float64 `json:"vega,omitempty"`
	Theta      *float64 `json:"theta,omitempty"`
	Rho        *float64 `json:"rho,omitempty"`
}

// Defined reports whether the inversion succeeded.
func (res Result) Defined() bool { return res.ImpliedVol != nil }

// Compute inverts the market price to implied volatility and, on success,
// evaluates the analytic Greeks at that volatility. On inversion failure
// the result is fully undefined; Greeks are never computed from a
// substituted default volatility.
func Compute(right Right, marketPrice, S, K, T, r float64) Result {
	sigma, ok := ImpliedVolatility(marketPrice, S, K, T, r, right)
	if !ok {
		return Result{}
	}

	g := AnalyticGreeks(right, S, K, T, r, sigma)
	return Result{
		ImpliedVol: f64(sigma),
		Delta:      f64(g.Delta),
		Gamma:      f64(g.Gamma),
		Vega:       f64(g.Vega),
		Theta:      f64(g.Theta),
		Rho:        f64(g.Rho),
	}
}

func f64(v float64) *float64 { return &v }

// normPDF is the standard normal probability density at x.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / sqrt2Pi
}

// normCDF is the standard normal cumulative distribution at x, computed
// via the error function.
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}
