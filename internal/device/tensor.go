package device

import "fmt"

// Tensor is a dense row-major tensor with an explicit shape. Activation
// captures arrive in this form: (batch, layer, neuron, position).
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NewTensor allocates a zero-filled tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{
		Shape: shape,
		Data:  make([]float32, n),
	}
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Len returns the number of elements implied by the shape.
func (t *Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks that the shape is well-formed and matches the data length.
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("nil tensor")
	}
	for i, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("invalid tensor shape %v: dimension %d must be positive", t.Shape, i)
		}
	}
	if n := t.Len(); n != len(t.Data) {
		return fmt.Errorf("tensor shape %v implies %d elements, data has %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// offset computes the flat index for a multi-dimensional index.
func (t *Tensor) offset(idx ...int) int {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("tensor index %v does not match shape %v", idx, t.Shape))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.Shape[i] {
			panic(fmt.Sprintf("tensor index %v out of bounds for shape %v", idx, t.Shape))
		}
		off = off*t.Shape[i] + x
	}
	return off
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor) At(idx ...int) float32 {
	return t.Data[t.offset(idx...)]
}

// Set writes the element at the given multi-dimensional index.
func (t *Tensor) Set(v float32, idx ...int) {
	t.Data[t.offset(idx...)] = v
}
