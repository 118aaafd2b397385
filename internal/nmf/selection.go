package nmf

import (
	"fmt"
	"sort"
)

// InvalidLayerRangeError reports a malformed or unsatisfiable layer selection.
type InvalidLayerRangeError struct {
	From      int
	To        int
	Available []int
	Detail    string
}

func (e *InvalidLayerRangeError) Error() string {
	return "invalid layer range: " + e.Detail
}

// EmptyActivationsError signals that no activation tensor was supplied,
// i.e. activation collection was not enabled upstream.
type EmptyActivationsError struct{}

func (e *EmptyActivationsError) Error() string {
	return "no activation data found: make sure activation collection was enabled when the sequence was captured"
}

type selectionKind int

const (
	selectAll selectionKind = iota
	selectRange
	selectExplicit
)

// LayerSelection picks which recorded layers feed the factorization. It is
// one of: all recorded layers, a contiguous [from, to) range, or an explicit
// list of layer ids.
type LayerSelection struct {
	kind selectionKind
	from int
	to   int
	ids  []int
}

// AllLayers selects every recorded layer in recorded order.
func AllLayers() LayerSelection {
	return LayerSelection{kind: selectAll}
}

// Range selects the contiguous layer ids [from, to).
func Range(from, to int) LayerSelection {
	return LayerSelection{kind: selectRange, from: from, to: to}
}

// ExplicitIDs selects the given layer ids in the given order. Ids need not
// be contiguous.
func ExplicitIDs(ids ...int) LayerSelection {
	return LayerSelection{kind: selectExplicit, ids: ids}
}

func (s LayerSelection) String() string {
	switch s.kind {
	case selectRange:
		return fmt.Sprintf("layers [%d, %d)", s.from, s.to)
	case selectExplicit:
		return fmt.Sprintf("layers %v", s.ids)
	default:
		return "all layers"
	}
}

// resolve maps the selection to storage rows of the activation tensor.
// collected lists which layer ids the recorded rows correspond to; nil means
// rows 0..layerCount-1 hold layers 0..layerCount-1.
func (s LayerSelection) resolve(layerCount int, collected []int) ([]int, error) {
	if collected == nil {
		collected = make([]int, layerCount)
		for i := range collected {
			collected[i] = i
		}
	}

	rowByLayer := make(map[int]int, len(collected))
	for row, id := range collected {
		rowByLayer[id] = row
	}
	available := make([]int, 0, len(rowByLayer))
	for id := range rowByLayer {
		available = append(available, id)
	}
	sort.Ints(available)

	var layerIDs []int
	switch s.kind {
	case selectRange:
		if s.from == s.to {
			return nil, &InvalidLayerRangeError{
				From: s.from, To: s.to, Available: available,
				Detail: fmt.Sprintf("from_layer (%d) and to_layer (%d) cannot be the same value; they must be at least one apart to select a layer of activations", s.from, s.to),
			}
		}
		if s.from > s.to {
			return nil, &InvalidLayerRangeError{
				From: s.from, To: s.to, Available: available,
				Detail: fmt.Sprintf("from_layer (%d) cannot be larger than to_layer (%d)", s.from, s.to),
			}
		}
		for id := s.from; id < s.to; id++ {
			layerIDs = append(layerIDs, id)
		}
	case selectExplicit:
		if len(s.ids) == 0 {
			return nil, &InvalidLayerRangeError{
				Available: available,
				Detail:    "explicit layer selection is empty",
			}
		}
		layerIDs = s.ids
	default:
		layerIDs = append(layerIDs, available...)
	}

	rows := make([]int, len(layerIDs))
	for i, id := range layerIDs {
		row, ok := rowByLayer[id]
		if !ok {
			return nil, &InvalidLayerRangeError{
				From: s.from, To: s.to, Available: available,
				Detail: fmt.Sprintf("layer %d in selection %s has no recorded activations; layers with recorded activations are %v", id, s, available),
			}
		}
		rows[i] = row
	}
	return rows, nil
}
