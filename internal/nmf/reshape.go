package nmf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-prism/internal/device"
)

// Reshape prepares a 4-D activation tensor (batch, layer, neuron, position)
// for factorization by gathering the selected layers and flattening to a 2-D
// matrix of shape (neuron-and-layer, position-and-batch). Selected layers
// concatenate along the neuron axis; the (batch, position) axes flatten
// batch-major into the trailing axis.
func Reshape(activations *device.Tensor, sel LayerSelection, collected []int) (*mat.Dense, error) {
	if activations == nil || len(activations.Data) == 0 {
		return nil, &EmptyActivationsError{}
	}
	if activations.Rank() != 4 {
		return nil, &InvalidLayerRangeError{
			Detail: fmt.Sprintf("activations must have four dimensions (batch, layer, neuron, position), got shape %v", activations.Shape),
		}
	}
	if err := activations.Validate(); err != nil {
		return nil, fmt.Errorf("malformed activation tensor: %w", err)
	}

	batch := activations.Shape[0]
	layers := activations.Shape[1]
	neurons := activations.Shape[2]
	positions := activations.Shape[3]

	if collected != nil && len(collected) != layers {
		return nil, &InvalidLayerRangeError{
			Detail: fmt.Sprintf("collected layer ids %v do not match the %d recorded layer rows", collected, layers),
		}
	}

	rows, err := sel.resolve(layers, collected)
	if err != nil {
		return nil, err
	}

	merged := mat.NewDense(len(rows)*neurons, batch*positions, nil)
	for li, row := range rows {
		for n := 0; n < neurons; n++ {
			for b := 0; b < batch; b++ {
				for p := 0; p < positions; p++ {
					merged.Set(li*neurons+n, b*positions+p, float64(activations.At(b, row, n, p)))
				}
			}
		}
	}
	return merged, nil
}
