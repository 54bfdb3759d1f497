package imageproc

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"

	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

// Watershed floods elevation from the labelled pixels of seeds (values > 0)
// and returns a label image of the same shape. Pixels are visited lowest
// elevation first; ties go to the pixel queued first, so results are
// deterministic. Neighbourhoods follow the spatial axes only. A nil or
// empty seed image seeds every regional minimum.
func Watershed(elevation, seeds *ndarray.Array) (*ndarray.Array, error) {
	if err := singleBand(elevation); err != nil {
		return nil, err
	}
	if seeds == nil || !hasSeeds(seeds) {
		seeds = LocalMinima(elevation)
	} else if !slices.Equal(seeds.Shape, elevation.Shape) {
		return nil, fmt.Errorf("%w: seeds %v vs elevation %v", ErrShapeMismatch, seeds.Shape, elevation.Shape)
	}

	labels := seeds.Clone()
	labels.Axes = elevation.Axes
	nb := newNeighbours(elevation)
	q := &floodQueue{}
	for i, l := range labels.Data {
		if l > 0 {
			q.push(elevation.Data[i], i)
		}
	}
	for q.Len() > 0 {
		it := heap.Pop(q).(floodItem)
		l := labels.Data[it.idx]
		nb.each(it.idx, func(n int) {
			if labels.Data[n] == 0 {
				labels.Data[n] = l
				q.push(max(elevation.Data[n], it.prio), n)
			}
		})
	}
	return labels, nil
}

// LocalMinima labels each connected plateau of pixels no higher than any
// neighbour with its own label, starting at 1.
func LocalMinima(elevation *ndarray.Array) *ndarray.Array {
	nb := newNeighbours(elevation)
	isMin := make([]bool, len(elevation.Data))
	for i, v := range elevation.Data {
		isMin[i] = true
		nb.each(i, func(n int) {
			if elevation.Data[n] < v {
				isMin[i] = false
			}
		})
	}
	out := &ndarray.Array{Shape: slices.Clone(elevation.Shape), Axes: elevation.Axes, Data: make([]float32, len(elevation.Data))}
	var next float32
	visited := make([]bool, len(isMin))
	for i := range isMin {
		if !isMin[i] || visited[i] {
			continue
		}
		plateau := []int{i}
		visited[i] = true
		// A plateau touching a lower pixel anywhere is not a minimum.
		minimum := true
		for k := 0; k < len(plateau); k++ {
			p := plateau[k]
			if !isMin[p] {
				minimum = false
			}
			nb.each(p, func(n int) {
				if !visited[n] && elevation.Data[n] == elevation.Data[i] {
					visited[n] = true
					plateau = append(plateau, n)
				}
			})
		}
		if !minimum {
			continue
		}
		next++
		for _, p := range plateau {
			out.Data[p] = next
		}
	}
	return out
}

func singleBand(a *ndarray.Array) error {
	if ci := a.AxisIndex('c'); ci >= 0 && a.Shape[ci] != 1 {
		return fmt.Errorf("%w: %d channels", ErrNotSingleBand, a.Shape[ci])
	}
	return nil
}

func hasSeeds(a *ndarray.Array) bool {
	return slices.ContainsFunc(a.Data, func(v float32) bool { return v > 0 })
}

// neighbours enumerates the direct neighbours of a flat index along the
// spatial axes.
type neighbours struct {
	shape   []int
	strides []int
	axes    []int
}

func newNeighbours(a *ndarray.Array) neighbours {
	nb := neighbours{shape: a.Shape, strides: a.Strides()}
	for i, r := range a.Axes {
		if strings.ContainsRune(SpatialAxes, r) {
			nb.axes = append(nb.axes, i)
		}
	}
	return nb
}

func (nb neighbours) each(idx int, fn func(int)) {
	for _, ax := range nb.axes {
		c := (idx / nb.strides[ax]) % nb.shape[ax]
		if c > 0 {
			fn(idx - nb.strides[ax])
		}
		if c < nb.shape[ax]-1 {
			fn(idx + nb.strides[ax])
		}
	}
}

type floodItem struct {
	prio  float32
	order int
	idx   int
}

type floodQueue struct {
	items []floodItem
	seq   int
}

func (q *floodQueue) push(prio float32, idx int) {
	heap.Push(q, floodItem{prio: prio, order: q.seq, idx: idx})
	q.seq++
}

func (q *floodQueue) Len() int { return len(q.items) }
func (q *floodQueue) Less(i, j int) bool {
	if q.items[i].prio != q.items[j].prio {
		return q.items[i].prio < q.items[j].prio
	}
	return q.items[i].order < q.items[j].order
}
func (q *floodQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *floodQueue) Push(x any)   { q.items = append(q.items, x.(floodItem)) }
func (q *floodQueue) Pop() any {
	it := q.items[len(q.items)-1]
	q.items = q.items[:len(q.items)-1]
	return it
}
