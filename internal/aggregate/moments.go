package aggregate

import "math"

// Moments accumulates exact single-pass central moments up to order four,
// using the numerically stable online update. It backs mean/stddev reporting
// and the normality test without ever buffering values.
type Moments struct {
	n                int64
	mean, m2, m3, m4 float64
	min, max         float64
}

// Add folds one observation into the accumulator.
func (m *Moments) Add(x float64) {
	if m.n == 0 {
		m.min, m.max = x, x
	} else {
		if x < m.min {
			m.min = x
		}
		if x > m.max {
			m.max = x
		}
	}

	n1 := float64(m.n)
	m.n++
	n := float64(m.n)

	delta := x - m.mean
	deltaN := delta / n
	deltaN2 := deltaN * deltaN
	term1 := delta * deltaN * n1

	m.mean += deltaN
	m.m4 += term1*deltaN2*(n*n-3*n+3) + 6*deltaN2*m.m2 - 4*deltaN*m.m3
	m.m3 += term1*deltaN*(n-2) - 3*deltaN*m.m2
	m.m2 += term1
}

func (m *Moments) N() int64      { return m.n }
func (m *Moments) Mean() float64 { return m.mean }
func (m *Moments) Min() float64  { return m.min }
func (m *Moments) Max() float64  { return m.max }

// StdDev returns the sample standard deviation; zero when fewer than two
// observations exist.
func (m *Moments) StdDev() float64 {
	if m.n < 2 {
		return 0
	}
	return math.Sqrt(m.m2 / float64(m.n-1))
}

// minNormalitySample is the observation floor below which the omnibus test
// statistic is unstable and the test abstains.
const minNormalitySample = 20

// GaussianP returns the p-value of the D'Agostino-Pearson K-squared omnibus
// normality test: the skewness Z (D'Agostino 1970) and kurtosis Z
// (Anscombe-Glynn 1983) are combined into a chi-squared statistic with two
// degrees of freedom. Small or degenerate samples return 1.0 (no evidence
// against normality).
func (m *Moments) GaussianP() float64 {
	n := float64(m.n)
	if m.n < minNormalitySample || m.m2 <= 0 {
		return 1.0
	}

	// Sample skewness and kurtosis from the central moments.
	b1 := (m.m3 / n) / math.Pow(m.m2/n, 1.5)
	b2 := (m.m4 / n) / math.Pow(m.m2/n, 2)

	// Skewness: D'Agostino's transformed Z1.
	y := b1 * math.Sqrt((n+1)*(n+3)/(6*(n-2)))
	beta2 := 3 * (n*n + 27*n - 70) * (n + 1) * (n + 3) /
		((n - 2) * (n + 5) * (n + 7) * (n + 9))
	w2 := -1 + math.Sqrt(2*(beta2-1))
	delta := 1 / math.Sqrt(math.Log(math.Sqrt(w2)))
	alpha := math.Sqrt(2 / (w2 - 1))
	z1 := delta * math.Log(y/alpha+math.Sqrt(y*y/(alpha*alpha)+1))

	// Kurtosis: Anscombe-Glynn's transformed Z2.
	meanB2 := 3 * (n - 1) / (n + 1)
	varB2 := 24 * n * (n - 2) * (n - 3) / ((n + 1) * (n + 1) * (n + 3) * (n + 5))
	x := (b2 - meanB2) / math.Sqrt(varB2)
	sqrtBeta1 := 6 * (n*n - 5*n + 2) / ((n + 7) * (n + 9)) *
		math.Sqrt(6*(n+3)*(n+5)/(n*(n-2)*(n-3)))
	a := 6 + 8/sqrtBeta1*(2/sqrtBeta1+math.Sqrt(1+4/(sqrtBeta1*sqrtBeta1)))
	z2 := ((1 - 2/(9*a)) - math.Cbrt((1-2/a)/(1+x*math.Sqrt(2/(a-4))))) /
		math.Sqrt(2/(9*a))

	k2 := z1*z1 + z2*z2
	if math.IsNaN(k2) || math.IsInf(k2, 0) {
		return 1.0
	}
	// Chi-squared survival with 2 degrees of freedom.
	return math.Exp(-k2 / 2)
}
