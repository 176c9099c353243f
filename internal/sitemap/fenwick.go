package sitemap

// fenwick is a binary indexed tree over non-negative cell weights. It
// supports point updates and weighted sampling in O(log n).
type fenwick struct {
	tree   []float64 // 1-based
	values []float64
	top    int // highest power of two <= n
}

func newFenwick(values []float64) *fenwick {
	f := &fenwick{}
	f.build(values)
	return f
}

// build replaces all values in O(n)
func (f *fenwick) build(values []float64) {
	n := len(values)
	f.values = append(f.values[:0], values...)
	f.tree = make([]float64, n+1)
	for i, v := range values {
		f.tree[i+1] += v
		if parent := (i + 1) + ((i + 1) & -(i + 1)); parent <= n {
			f.tree[parent] += f.tree[i+1]
		}
	}
	f.top = 1
	for f.top*2 <= n {
		f.top *= 2
	}
}

func (f *fenwick) len() int {
	return len(f.values)
}

// set changes the weight of cell i
func (f *fenwick) set(i int, v float64) {
	delta := v - f.values[i]
	if delta == 0 {
		return
	}
	f.values[i] = v
	for j := i + 1; j < len(f.tree); j += j & -j {
		f.tree[j] += delta
	}
}

// total returns the sum of all weights
func (f *fenwick) total() float64 {
	var sum float64
	for j := len(f.values); j > 0; j -= j & -j {
		sum += f.tree[j]
	}
	return sum
}

// find returns the cell whose cumulative weight range contains target,
// with target in [0, total). Zero-weight cells are never returned.
func (f *fenwick) find(target float64) int {
	n := len(f.values)
	pos := 0
	for step := f.top; step > 0; step >>= 1 {
		if next := pos + step; next <= n && f.tree[next] <= target {
			pos = next
			target -= f.tree[next]
		}
	}

	// Rounding can push past the last positive cell
	if pos >= n || f.values[pos] <= 0 {
		for i := min(pos, n-1); i >= 0; i-- {
			if f.values[i] > 0 {
				return i
			}
		}
		for i := pos; i < n; i++ {
			if f.values[i] > 0 {
				return i
			}
		}
		return -1
	}
	return pos
}
