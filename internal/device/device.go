package device

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Context is the compute backend that projection and ranking run on.
// The caller binds one once and threads it through analysis calls.
type Context interface {
	// MatVec computes w*x (+ bias when non-nil). w is (rows x cols),
	// x must have length cols.
	MatVec(w *mat.Dense, bias, x []float64) ([]float64, error)
	// Softmax returns the probability distribution for a logit vector.
	Softmax(v []float64) []float64
}

// NewContext returns the default CPU compute context.
func NewContext() Context {
	return &CPUContext{}
}

// CPUContext implements Context with gonum dense operations.
type CPUContext struct{}

func (c *CPUContext) MatVec(w *mat.Dense, bias, x []float64) ([]float64, error) {
	rows, cols := w.Dims()
	if len(x) != cols {
		return nil, fmt.Errorf("matvec dim mismatch: weight is %dx%d, input has length %d", rows, cols, len(x))
	}
	if bias != nil && len(bias) != rows {
		return nil, fmt.Errorf("matvec bias mismatch: weight has %d rows, bias has length %d", rows, len(bias))
	}

	var out mat.VecDense
	out.MulVec(w, mat.NewVecDense(cols, x))

	result := make([]float64, rows)
	for i := 0; i < rows; i++ {
		result[i] = out.AtVec(i)
		if bias != nil {
			result[i] += bias[i]
		}
	}
	return result, nil
}

// Softmax subtracts the max before exponentiation for numerical stability.
func (c *CPUContext) Softmax(v []float64) []float64 {
	probs := make([]float64, len(v))
	if len(v) == 0 {
		return probs
	}

	maxVal := v[0]
	for _, x := range v {
		if x > maxVal {
			maxVal = x
		}
	}

	sum := 0.0
	for i, x := range v {
		probs[i] = math.Exp(x - maxVal)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
