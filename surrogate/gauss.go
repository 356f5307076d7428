// Package surrogate keeps cheap online density models over normalized
// parameter vectors. They only bias which candidates get proposed; nothing
// here decides feasibility.
package surrogate

import "math"

// minVar floors per-dimension variance.
const minVar = 1e-6

// DiagGauss is a streaming diagonal Gaussian (Welford's algorithm).
type DiagGauss struct {
	n    int
	mean []float64
	m2   []float64
}

// NewDiagGauss returns an empty model of the given dimension.
func NewDiagGauss(dim int) *DiagGauss {
	return &DiagGauss{mean: make([]float64, dim), m2: make([]float64, dim)}
}

// N is the number of absorbed samples.
func (g *DiagGauss) N() int { return g.n }

// Update absorbs one sample.
func (g *DiagGauss) Update(x []float64) {
	g.n++
	for i := range g.mean {
		v := at(x, i)
		d := v - g.mean[i]
		g.mean[i] += d / float64(g.n)
		g.m2[i] += d * (v - g.mean[i])
	}
}

// Mean returns a copy of the running mean.
func (g *DiagGauss) Mean() []float64 {
	return append([]float64(nil), g.mean...)
}

// Var returns the per-dimension sample variance: 1 before two samples,
// floored at 1e-6 afterwards.
func (g *DiagGauss) Var() []float64 {
	out := make([]float64, len(g.mean))
	for i := range out {
		out[i] = g.variance(i)
	}
	return out
}

func (g *DiagGauss) variance(i int) float64 {
	if g.n < 2 {
		return 1
	}
	return math.Max(g.m2[i]/float64(g.n-1), minVar)
}

// Score is the un-normalized density exp(-0.5 * sum((x-mean)^2/var)), in (0, 1].
func (g *DiagGauss) Score(x []float64) float64 {
	s := 0.0
	for i := range g.mean {
		d := at(x, i) - g.mean[i]
		s += d * d / g.variance(i)
	}
	return math.Exp(-0.5 * s)
}

// LogLikelihood is the diagonal Gaussian log density up to the shared
// -0.5*d*log(2*pi) constant.
func (g *DiagGauss) LogLikelihood(x []float64) float64 {
	s := 0.0
	for i := range g.mean {
		v := g.variance(i)
		d := at(x, i) - g.mean[i]
		s += d*d/v + math.Log(v)
	}
	return -0.5 * s
}

// Snapshot returns an independent copy of the sufficient statistics.
func (g *DiagGauss) Snapshot() *DiagGauss {
	return &DiagGauss{
		n:    g.n,
		mean: append([]float64(nil), g.mean...),
		m2:   append([]float64(nil), g.m2...),
	}
}

func at(x []float64, i int) float64 {
	if i < len(x) {
		return x[i]
	}
	return 0
}

// minTrusted is the feasible sample count below which scores are zero.
const minTrusted = 5

// Score combines the feasible density with the strongest failure density:
// feas(x) * (1 - max failure(x)). It is 0 until the feasible model has five
// samples; failure models with fewer than five samples are ignored.
func Score(x []float64, feas *DiagGauss, fails map[string]*DiagGauss) float64 {
	if feas == nil || feas.N() < minTrusted {
		return 0
	}
	pOK := feas.Score(x)
	pBad := 0.0
	for _, m := range fails {
		if m.N() >= minTrusted {
			pBad = math.Max(pBad, m.Score(x))
		}
	}
	return pOK * (1 - pBad)
}
