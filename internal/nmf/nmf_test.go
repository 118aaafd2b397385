package nmf

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-prism/internal/device"
)

// seqTensor builds a (batch, layer, neuron, position) tensor whose entries
// encode their own indices, so gather order is checkable.
func seqTensor(batch, layers, neurons, positions int) *device.Tensor {
	t := device.NewTensor(batch, layers, neurons, positions)
	for b := 0; b < batch; b++ {
		for l := 0; l < layers; l++ {
			for n := 0; n < neurons; n++ {
				for p := 0; p < positions; p++ {
					t.Set(float32(b*1000+l*100+n*10+p), b, l, n, p)
				}
			}
		}
	}
	return t
}

func TestReshapeAllLayers(t *testing.T) {
	acts := seqTensor(1, 2, 3, 4)

	m, err := Reshape(acts, AllLayers(), nil)
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	rows, cols := m.Dims()
	if rows != 6 || cols != 4 {
		t.Fatalf("shape = (%d, %d), want (6, 4)", rows, cols)
	}

	// Row 4 is layer 1, neuron 1; column 2 is position 2.
	if got := m.At(4, 2); got != 112 {
		t.Errorf("m[4][2] = %f, want 112", got)
	}
}

func TestReshapeRangeRoundTrip(t *testing.T) {
	acts := seqTensor(2, 3, 2, 5)

	all, err := Reshape(acts, AllLayers(), nil)
	if err != nil {
		t.Fatalf("AllLayers reshape failed: %v", err)
	}
	ranged, err := Reshape(acts, Range(0, 3), nil)
	if err != nil {
		t.Fatalf("Range reshape failed: %v", err)
	}
	if !mat.Equal(all, ranged) {
		t.Error("[0, L) range and all-layers reshape differ")
	}
}

func TestReshapeBatchFlattening(t *testing.T) {
	acts := seqTensor(2, 1, 1, 3)

	m, err := Reshape(acts, AllLayers(), nil)
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	rows, cols := m.Dims()
	if rows != 1 || cols != 6 {
		t.Fatalf("shape = (%d, %d), want (1, 6)", rows, cols)
	}
	// Batch-major: columns 0-2 from batch 0, columns 3-5 from batch 1.
	if m.At(0, 1) != 1 || m.At(0, 4) != 1001 {
		t.Errorf("batch flattening wrong: row = %v", mat.Row(nil, 0, m))
	}
}

func TestReshapeInvalidRanges(t *testing.T) {
	acts := seqTensor(1, 4, 2, 3)

	tests := []struct {
		name string
		sel  LayerSelection
	}{
		{"equal bounds", Range(2, 2)},
		{"inverted bounds", Range(3, 1)},
		{"beyond recorded layers", Range(2, 6)},
		{"empty explicit", ExplicitIDs()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reshape(acts, tt.sel, nil)
			var rangeErr *InvalidLayerRangeError
			if !errors.As(err, &rangeErr) {
				t.Fatalf("expected InvalidLayerRangeError, got %v", err)
			}
		})
	}
}

func TestReshapeSparseCollectedLayers(t *testing.T) {
	// Activations recorded for layers 0, 2 and 4 only: 3 rows in the tensor.
	acts := seqTensor(1, 3, 10, 7)
	collected := []int{0, 2, 4}

	// Range [0, 2) resolves to layer ids {0, 1}; layer 1 was not recorded.
	_, err := Reshape(acts, Range(0, 2), collected)
	var rangeErr *InvalidLayerRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected InvalidLayerRangeError, got %v", err)
	}
	if len(rangeErr.Available) != 3 || rangeErr.Available[0] != 0 || rangeErr.Available[1] != 2 || rangeErr.Available[2] != 4 {
		t.Errorf("available = %v, want [0 2 4]", rangeErr.Available)
	}

	// Explicit recorded ids succeed and gather in the given order.
	m, err := Reshape(acts, ExplicitIDs(4, 0), collected)
	if err != nil {
		t.Fatalf("explicit reshape failed: %v", err)
	}
	rows, _ := m.Dims()
	if rows != 20 {
		t.Errorf("rows = %d, want 20", rows)
	}
	// First block of rows must come from storage row 2 (layer 4).
	if got := m.At(0, 1); got != 201 {
		t.Errorf("m[0][1] = %f, want 201 (layer 4, neuron 0, position 1)", got)
	}
}

func TestReshapeWrongRank(t *testing.T) {
	acts := device.NewTensor(2, 3, 4)
	_, err := Reshape(acts, AllLayers(), nil)
	var rangeErr *InvalidLayerRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected InvalidLayerRangeError for 3-D tensor, got %v", err)
	}
}

func TestReshapeEmptyActivations(t *testing.T) {
	for _, acts := range []*device.Tensor{nil, {Shape: []int{0}, Data: nil}} {
		_, err := Reshape(acts, AllLayers(), nil)
		var empty *EmptyActivationsError
		if !errors.As(err, &empty) {
			t.Fatalf("expected EmptyActivationsError, got %v", err)
		}
	}
}

func TestFactorizeRecoversStructure(t *testing.T) {
	// Two clearly separated firing patterns across 8 positions, 6 neurons.
	neurons, positions := 6, 8
	m := mat.NewDense(neurons, positions, nil)
	for p := 0; p < positions; p++ {
		for n := 0; n < 3; n++ {
			if p < 4 {
				m.Set(n, p, 5)
			}
		}
		for n := 3; n < 6; n++ {
			if p >= 4 {
				m.Set(n, p, 5)
			}
		}
	}

	cfg := DefaultFitConfig()
	cfg.Components = 2
	cfg.Seed = 42
	res, err := Factorize(m, cfg)
	if err != nil {
		t.Fatalf("Factorize failed: %v", err)
	}
	if res.NumComponents() != 2 || res.Positions() != positions {
		t.Fatalf("result dims (%d, %d), want (2, %d)", res.NumComponents(), res.Positions(), positions)
	}
	if res.RelErr > 0.05 {
		t.Errorf("reconstruction error %f too high for separable input", res.RelErr)
	}
}

func TestFactorizeComponentCap(t *testing.T) {
	m := mat.NewDense(10, 3, nil)
	for i := 0; i < 10; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, float64(i+j))
		}
	}

	cfg := DefaultFitConfig()
	cfg.Components = 20
	cfg.Seed = 7
	res, err := Factorize(m, cfg)
	if err != nil {
		t.Fatalf("Factorize failed: %v", err)
	}
	if res.NumComponents() != 3 {
		t.Errorf("components = %d, want cap at 3 positions", res.NumComponents())
	}
}

func TestFactorizeAllZero(t *testing.T) {
	m := mat.NewDense(4, 5, nil)

	cfg := DefaultFitConfig()
	cfg.Components = 2
	res, err := Factorize(m, cfg)
	if err != nil {
		t.Fatalf("Factorize failed on all-zero input: %v", err)
	}
	for _, comp := range res.Components() {
		for i, v := range comp {
			if v != 0 {
				t.Fatalf("component value [%d] = %f, want 0", i, v)
			}
		}
	}
}

func TestFactorizeClampsNegatives(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{
		1, -0.001, 2,
		-0.5, 3, 1,
	})

	cfg := DefaultFitConfig()
	cfg.Components = 1
	cfg.Seed = 1
	res, err := Factorize(m, cfg)
	if err != nil {
		t.Fatalf("Factorize failed: %v", err)
	}
	for _, v := range res.Component(0) {
		if v < 0 || math.IsNaN(v) {
			t.Fatalf("component contains invalid value %f", v)
		}
	}
}

func TestFactorizeDeterministic(t *testing.T) {
	m := mat.NewDense(5, 6, nil)
	for i := 0; i < 5; i++ {
		for j := 0; j < 6; j++ {
			m.Set(i, j, float64((i*7+j*3)%11))
		}
	}

	cfg := DefaultFitConfig()
	cfg.Components = 3
	cfg.Seed = 99

	a, err := Factorize(m, cfg)
	if err != nil {
		t.Fatalf("first fit failed: %v", err)
	}
	b, err := Factorize(m, cfg)
	if err != nil {
		t.Fatalf("second fit failed: %v", err)
	}
	for i := 0; i < a.NumComponents(); i++ {
		ca, cb := a.Component(i), b.Component(i)
		for j := range ca {
			if ca[j] != cb[j] {
				t.Fatalf("fits differ at component %d position %d: %f vs %f", i, j, ca[j], cb[j])
			}
		}
	}
}

func TestFactorizeNilInput(t *testing.T) {
	_, err := Factorize(nil, DefaultFitConfig())
	var empty *EmptyActivationsError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyActivationsError, got %v", err)
	}
}

func TestFactorCurvesBoundaryDuplication(t *testing.T) {
	res := &Result{components: mat.NewDense(1, 4, []float64{10, 20, 30, 40})}

	// Mixed sequence: 5 tokens, 2 of them input. Boundary value duplicates.
	curves := res.FactorCurves(2, 5)
	want := []float64{10, 20, 20, 30, 40}
	if len(curves[0]) != len(want) {
		t.Fatalf("curve length %d, want %d", len(curves[0]), len(want))
	}
	for i := range want {
		if curves[0][i] != want[i] {
			t.Errorf("curve[%d] = %f, want %f", i, curves[0][i], want[i])
		}
	}

	// No generation: curves pass through unchanged.
	plain := res.FactorCurves(4, 4)
	if len(plain[0]) != 4 {
		t.Errorf("unmixed curve length %d, want 4", len(plain[0]))
	}
}
