// Package sitemap keeps a grid of birth-site weights over the image that is
// updated incrementally as marks are accepted.
package sitemap

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/markfit/internal/mpp"
)

// PriorFunc returns the unnormalised birth weight at an image point
type PriorFunc func(x, y float64) float64

// Options configures a Map
type Options struct {
	Width, Height int     // Image size in pixels
	CellSize      float64 // Edge length of a grid cell in pixels
	// Suppression multiplies a cell's weight once per mark covering it.
	// 0 forbids births on covered cells, 1 ignores coverage.
	Suppression float64
	Prior       PriorFunc // Uniform when nil
}

// Map is a grid probability map implementing mpp.UpdatableMarkSet.
// It is owned by the optimization loop and is not safe for concurrent use.
type Map struct {
	opts       Options
	cols, rows int
	prior      []float64
	coverage   []int
	marks      map[mpp.MarkID]mpp.Circle
	weights    *fenwick
}

// New creates an empty map
func New(opts Options) (*Map, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", opts.Width, opts.Height)
	}
	if opts.CellSize <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %g", opts.CellSize)
	}
	if opts.Suppression < 0 || opts.Suppression > 1 {
		return nil, fmt.Errorf("suppression must be in [0,1], got %g", opts.Suppression)
	}

	m := &Map{
		opts: opts,
		cols: int(math.Ceil(float64(opts.Width) / opts.CellSize)),
		rows: int(math.Ceil(float64(opts.Height) / opts.CellSize)),
	}
	n := m.cols * m.rows
	m.prior = make([]float64, n)
	m.coverage = make([]int, n)
	m.marks = make(map[mpp.MarkID]mpp.Circle)

	for row := 0; row < m.rows; row++ {
		for col := 0; col < m.cols; col++ {
			x, y := m.cellCentre(col, row)
			w := 1.0
			if opts.Prior != nil {
				w = opts.Prior(x, y)
			}
			if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				return nil, fmt.Errorf("invalid prior %g at (%.1f,%.1f)", w, x, y)
			}
			m.prior[row*m.cols+col] = w
		}
	}

	m.weights = newFenwick(m.prior)
	return m, nil
}

// Reset rebuilds coverage from scratch for c
func (m *Map) Reset(c *mpp.Configuration) error {
	clear(m.coverage)
	clear(m.marks)
	for _, mk := range c.Marks() {
		if _, dup := m.marks[mk.ID]; dup {
			return fmt.Errorf("duplicate mark %d", mk.ID)
		}
		m.marks[mk.ID] = mk.Shape
		m.eachCell(mk.Shape, func(i int) { m.coverage[i]++ })
	}

	values := make([]float64, len(m.prior))
	for i := range values {
		values[i] = m.weight(i)
	}
	m.weights.build(values)

	slog.Debug("Site map reset", "marks", len(m.marks), "cells", len(values), "total_weight", m.weights.total())
	return nil
}

// Apply updates only the cells under the added and removed marks
func (m *Map) Apply(d mpp.Delta) error {
	touched := make(map[int]struct{})

	for _, mk := range d.Removed {
		shape, ok := m.marks[mk.ID]
		if !ok {
			return fmt.Errorf("mark %d is not tracked", mk.ID)
		}
		delete(m.marks, mk.ID)
		var err error
		m.eachCell(shape, func(i int) {
			if m.coverage[i] == 0 {
				err = fmt.Errorf("coverage underflow in cell %d removing mark %d", i, mk.ID)
				return
			}
			m.coverage[i]--
			touched[i] = struct{}{}
		})
		if err != nil {
			return err
		}
	}

	for _, mk := range d.Added {
		if _, dup := m.marks[mk.ID]; dup {
			return fmt.Errorf("mark %d is already tracked", mk.ID)
		}
		m.marks[mk.ID] = mk.Shape
		m.eachCell(mk.Shape, func(i int) {
			m.coverage[i]++
			touched[i] = struct{}{}
		})
	}

	for i := range touched {
		m.weights.set(i, m.weight(i))
	}
	return nil
}

// Sample draws a point with probability proportional to cell weight,
// uniformly inside the chosen cell. ok is false when every cell has zero
// weight.
func (m *Map) Sample(rng *mpp.Rand) (x, y float64, ok bool) {
	total := m.weights.total()
	if total <= 0 {
		return 0, 0, false
	}
	i := m.weights.find(rng.Float64() * total)
	if i < 0 {
		return 0, 0, false
	}

	col, row := i%m.cols, i/m.cols
	x0 := float64(col) * m.opts.CellSize
	y0 := float64(row) * m.opts.CellSize
	w := math.Min(m.opts.CellSize, float64(m.opts.Width)-x0)
	h := math.Min(m.opts.CellSize, float64(m.opts.Height)-y0)
	return x0 + rng.Float64()*w, y0 + rng.Float64()*h, true
}

// Total returns the summed weight of all cells
func (m *Map) Total() float64 {
	return m.weights.total()
}

// Coverage returns how many tracked marks cover the cell holding (x,y)
func (m *Map) Coverage(x, y float64) int {
	i, ok := m.cellAt(x, y)
	if !ok {
		return 0
	}
	return m.coverage[i]
}

// Weight returns the current weight of the cell holding (x,y)
func (m *Map) Weight(x, y float64) float64 {
	i, ok := m.cellAt(x, y)
	if !ok {
		return 0
	}
	return m.weights.values[i]
}

// Len returns the number of tracked marks
func (m *Map) Len() int {
	return len(m.marks)
}

// Grid returns the number of columns and rows
func (m *Map) Grid() (cols, rows int) {
	return m.cols, m.rows
}

// Rebuild returns a fresh map computed from the currently tracked marks
func (m *Map) Rebuild() *Map {
	out := &Map{
		opts:     m.opts,
		cols:     m.cols,
		rows:     m.rows,
		prior:    m.prior,
		coverage: make([]int, len(m.coverage)),
		marks:    make(map[mpp.MarkID]mpp.Circle, len(m.marks)),
	}
	for id, shape := range m.marks {
		out.marks[id] = shape
		out.eachCell(shape, func(i int) { out.coverage[i]++ })
	}
	values := make([]float64, len(out.prior))
	for i := range values {
		values[i] = out.weight(i)
	}
	out.weights = newFenwick(values)
	return out
}

// Equal reports whether two maps hold the same marks, coverage and cell
// weights. Totals are compared with a small tolerance.
func (m *Map) Equal(other *Map) bool {
	if m.cols != other.cols || m.rows != other.rows || len(m.marks) != len(other.marks) {
		return false
	}
	for id, shape := range m.marks {
		if other.marks[id] != shape {
			return false
		}
	}
	for i := range m.coverage {
		if m.coverage[i] != other.coverage[i] || m.weights.values[i] != other.weights.values[i] {
			return false
		}
	}
	a, b := m.weights.total(), other.weights.total()
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

func (m *Map) weight(i int) float64 {
	if m.coverage[i] == 0 {
		return m.prior[i]
	}
	return m.prior[i] * math.Pow(m.opts.Suppression, float64(m.coverage[i]))
}

func (m *Map) cellCentre(col, row int) (float64, float64) {
	return (float64(col) + 0.5) * m.opts.CellSize, (float64(row) + 0.5) * m.opts.CellSize
}

func (m *Map) cellAt(x, y float64) (int, bool) {
	if x < 0 || y < 0 || x >= float64(m.opts.Width) || y >= float64(m.opts.Height) {
		return 0, false
	}
	col := int(x / m.opts.CellSize)
	row := int(y / m.opts.CellSize)
	return row*m.cols + col, true
}

// eachCell visits the cells a circle covers: every cell whose centre lies in
// the disc plus the cell holding the circle centre.
func (m *Map) eachCell(c mpp.Circle, fn func(i int)) {
	centre, hasCentre := m.cellAt(c.X, c.Y)
	if hasCentre {
		fn(centre)
	}

	cs := m.opts.CellSize
	minCol := max(0, int(math.Floor((c.X-c.R)/cs)))
	maxCol := min(m.cols-1, int(math.Floor((c.X+c.R)/cs)))
	minRow := max(0, int(math.Floor((c.Y-c.R)/cs)))
	maxRow := min(m.rows-1, int(math.Floor((c.Y+c.R)/cs)))

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			i := row*m.cols + col
			if hasCentre && i == centre {
				continue
			}
			if x, y := m.cellCentre(col, row); c.Contains(x, y) {
				fn(i)
			}
		}
	}
}
