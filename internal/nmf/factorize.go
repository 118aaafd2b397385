package nmf

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-prism/internal/logger"
	"github.com/23skdu/longbow-prism/internal/metrics"
)

const updateEps = 1e-12

// FitConfig controls one factorization.
type FitConfig struct {
	Components int
	MaxIter    int
	Tol        float64
	Seed       int64
}

// DefaultFitConfig matches the defaults a notebook user gets.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Components: 10,
		MaxIter:    500,
		Tol:        1e-4,
	}
}

// Result holds the fitted factorization. Immutable after construction.
type Result struct {
	// components is (component, position-and-batch): one activation curve
	// per component.
	components *mat.Dense
	// W (positions x k) and H (k x neurons) are the fitted model state.
	W *mat.Dense
	H *mat.Dense

	Iterations int
	RelErr     float64
}

// NumComponents returns the number of fitted components.
func (r *Result) NumComponents() int {
	rows, _ := r.components.Dims()
	return rows
}

// Positions returns the length of each component curve.
func (r *Result) Positions() int {
	_, cols := r.components.Dims()
	return cols
}

// Component returns a copy of one component's activation curve.
func (r *Result) Component(i int) []float64 {
	out := make([]float64, r.Positions())
	mat.Row(out, i, r.components)
	return out
}

// Components returns copies of all component curves.
func (r *Result) Components() [][]float64 {
	curves := make([][]float64, r.NumComponents())
	for i := range curves {
		curves[i] = r.Component(i)
	}
	return curves
}

// ComponentStats returns the mean and standard deviation of one curve.
func (r *Result) ComponentStats(i int) (mean, std float64) {
	return stat.MeanStdDev(r.Component(i), nil)
}

// FactorCurves returns the component curves adjusted for display. When the
// sequence mixes input and generated tokens, the value at the boundary
// position is duplicated so every token carries a value: for input tokens the
// activation is a response, for generated tokens it is a cause. This is a
// presentation transform; the fitted components are unchanged.
func (r *Result) FactorCurves(nInputTokens, totalTokens int) [][]float64 {
	curves := r.Components()
	if totalTokens == nInputTokens || nInputTokens < 1 || nInputTokens > r.Positions() {
		return curves
	}
	out := make([][]float64, len(curves))
	for i, comp := range curves {
		dup := make([]float64, 0, len(comp)+1)
		dup = append(dup, comp[:nInputTokens]...)
		dup = append(dup, comp[nInputTokens-1:]...)
		out[i] = dup
	}
	return out
}

// Factorize decomposes a non-negative (neuron, position) activation matrix
// into component activation curves using multiplicative updates. Negative
// entries are clamped to zero first; GELU-family activations leak small
// negatives that are semantically noise. The component count silently caps at
// the number of positions to keep the problem well-posed. The fit is
// deterministic for a fixed seed and stops at convergence or MaxIter,
// whichever comes first; hitting the cap is an accuracy trade-off, not an
// error.
func Factorize(activations *mat.Dense, cfg FitConfig) (*Result, error) {
	if activations == nil {
		return nil, &EmptyActivationsError{}
	}
	neurons, positions := activations.Dims()
	if neurons == 0 || positions == 0 {
		return nil, &EmptyActivationsError{}
	}
	if cfg.Components <= 0 {
		return nil, fmt.Errorf("invalid n_components: %d (must be positive)", cfg.Components)
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = DefaultFitConfig().MaxIter
	}

	start := time.Now()

	k := cfg.Components
	capped := false
	if k > positions {
		k = positions
		capped = true
	}

	// X is (positions x neurons), clamped non-negative.
	x := mat.NewDense(positions, neurons, nil)
	sum := 0.0
	for p := 0; p < positions; p++ {
		for n := 0; n < neurons; n++ {
			v := activations.At(n, p)
			if v < 0 {
				v = 0
			}
			x.Set(p, n, v)
			sum += v
		}
	}

	normX := mat.Norm(x, 2)
	w := mat.NewDense(positions, k, nil)
	h := mat.NewDense(k, neurons, nil)

	if normX == 0 {
		// Degenerate all-zero input: the zero factorization is exact.
		return &Result{components: mat.DenseCopyOf(w.T()), W: w, H: h}, nil
	}

	// Random init scaled so W*H starts near the magnitude of X.
	rng := rand.New(rand.NewSource(cfg.Seed))
	scale := math.Sqrt(sum / float64(positions*neurons) / float64(k))
	randomize := func(m *mat.Dense) {
		rows, cols := m.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				m.Set(i, j, rng.Float64()*scale)
			}
		}
	}
	randomize(w)
	randomize(h)

	var (
		iter    int
		relErr  = math.Inf(1)
		prevErr = math.Inf(1)
	)
	for iter = 1; iter <= cfg.MaxIter; iter++ {
		// H <- H .* (Wt X) ./ (Wt W H + eps)
		var numH, wtw, denH mat.Dense
		numH.Mul(w.T(), x)
		wtw.Mul(w.T(), w)
		denH.Mul(&wtw, h)
		mulDiv(h, &numH, &denH)

		// W <- W .* (X Ht) ./ (W H Ht + eps)
		var numW, hht, denW mat.Dense
		numW.Mul(x, h.T())
		hht.Mul(h, h.T())
		denW.Mul(w, &hht)
		mulDiv(w, &numW, &denW)

		if iter%10 == 0 || iter == cfg.MaxIter {
			relErr = reconstructionError(x, w, h, normX)
			if math.Abs(prevErr-relErr) < cfg.Tol {
				break
			}
			prevErr = relErr
		}
	}
	if iter > cfg.MaxIter {
		iter = cfg.MaxIter
	}
	if math.IsInf(relErr, 1) {
		relErr = reconstructionError(x, w, h, normX)
	}

	components := mat.DenseCopyOf(w.T())

	metrics.RecordNMFFit(iter, relErr, capped, time.Since(start))
	logger.Log.Component("nmf").Debug("fit complete",
		"components", k,
		"positions", positions,
		"neurons", neurons,
		"iterations", iter,
		"rel_err", relErr,
	)

	return &Result{
		components: components,
		W:          w,
		H:          h,
		Iterations: iter,
		RelErr:     relErr,
	}, nil
}

// mulDiv applies target *= num / (den + eps) element-wise.
func mulDiv(target, num, den *mat.Dense) {
	rows, cols := target.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			target.Set(i, j, target.At(i, j)*num.At(i, j)/(den.At(i, j)+updateEps))
		}
	}
}

// reconstructionError computes ||X - WH||_F / ||X||_F.
func reconstructionError(x, w, h *mat.Dense, normX float64) float64 {
	var wh, diff mat.Dense
	wh.Mul(w, h)
	diff.Sub(x, &wh)
	return mat.Norm(&diff, 2) / normX
}
