package sitemap

import (
	"testing"

	"github.com/cwbudde/markfit/internal/mpp"
	"github.com/stretchr/testify/require"
)

func newTestMap(t *testing.T, suppression float64) *Map {
	t.Helper()
	m, err := New(Options{Width: 40, Height: 30, CellSize: 10, Suppression: suppression})
	require.NoError(t, err)
	return m
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero size", Options{Width: 0, Height: 10, CellSize: 1}},
		{"zero cell", Options{Width: 10, Height: 10}},
		{"suppression above one", Options{Width: 10, Height: 10, CellSize: 1, Suppression: 2}},
		{"negative prior", Options{Width: 10, Height: 10, CellSize: 1, Prior: func(x, y float64) float64 { return -1 }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			require.Error(t, err)
		})
	}
}

func TestGridCoversImage(t *testing.T) {
	m, err := New(Options{Width: 25, Height: 11, CellSize: 10})
	require.NoError(t, err)

	cols, rows := m.Grid()
	require.Equal(t, 3, cols)
	require.Equal(t, 2, rows)
	require.InDelta(t, 6.0, m.Total(), 1e-12)
}

func TestResetAndApplySuppressCoveredCells(t *testing.T) {
	m := newTestMap(t, 0)
	require.InDelta(t, 12.0, m.Total(), 1e-12)

	c, created := mpp.Empty().WithMarks(mpp.Circle{X: 15, Y: 15, R: 2})
	require.NoError(t, m.Reset(c))
	require.Equal(t, 1, m.Coverage(15, 15))
	require.Zero(t, m.Weight(15, 15))
	require.InDelta(t, 11.0, m.Total(), 1e-12)

	// A larger disc also reaching the centre of the neighbouring cell
	next, added := c.WithMarks(mpp.Circle{X: 20, Y: 15, R: 8})
	require.NoError(t, m.Apply(mpp.Diff(c, next)))
	require.Equal(t, 2, m.Coverage(15, 15))
	require.Equal(t, 1, m.Coverage(25, 15))
	require.InDelta(t, 10.0, m.Total(), 1e-12)

	require.NoError(t, m.Apply(mpp.Delta{Removed: created}))
	require.Equal(t, 1, m.Coverage(15, 15))
	require.NoError(t, m.Apply(mpp.Delta{Removed: added}))
	require.InDelta(t, 12.0, m.Total(), 1e-12)
	require.Zero(t, m.Len())
}

func TestApplyRejectsUnknownAndDuplicateMarks(t *testing.T) {
	m := newTestMap(t, 0.5)
	require.NoError(t, m.Reset(mpp.Empty()))

	ghost := mpp.Mark{ID: 99, Shape: mpp.Circle{X: 5, Y: 5, R: 1}}
	require.Error(t, m.Apply(mpp.Delta{Removed: []mpp.Mark{ghost}}))

	require.NoError(t, m.Apply(mpp.Delta{Added: []mpp.Mark{ghost}}))
	require.Error(t, m.Apply(mpp.Delta{Added: []mpp.Mark{ghost}}))
}

func TestSampleFollowsWeights(t *testing.T) {
	prior := func(x, y float64) float64 {
		if x < 10 && y < 10 {
			return 9
		}
		return 0
	}
	m, err := New(Options{Width: 20, Height: 20, CellSize: 10, Prior: prior})
	require.NoError(t, err)
	require.NoError(t, m.Reset(mpp.Empty()))

	rng := mpp.NewRand(4)
	for i := 0; i < 500; i++ {
		x, y, ok := m.Sample(rng)
		require.True(t, ok)
		require.True(t, x >= 0 && x < 10 && y >= 0 && y < 10, "sample (%f,%f) outside weighted cell", x, y)
	}

	c, _ := mpp.Empty().WithMarks(mpp.Circle{X: 5, Y: 5, R: 1})
	require.NoError(t, m.Reset(c))
	_, _, ok := m.Sample(rng)
	require.False(t, ok, "a map without weight must refuse to sample")
}

func TestSampleStaysInsideImage(t *testing.T) {
	m, err := New(Options{Width: 15, Height: 7, CellSize: 10, Suppression: 1})
	require.NoError(t, err)
	require.NoError(t, m.Reset(mpp.Empty()))

	rng := mpp.NewRand(8)
	for i := 0; i < 1000; i++ {
		x, y, ok := m.Sample(rng)
		require.True(t, ok)
		require.True(t, x >= 0 && x < 15 && y >= 0 && y < 7, "sample (%f,%f) outside image", x, y)
	}
}

func TestIncrementalMatchesRebuild(t *testing.T) {
	m, err := New(Options{
		Width: 64, Height: 48, CellSize: 4, Suppression: 0.3,
		Prior: func(x, y float64) float64 { return 1 + x/64 },
	})
	require.NoError(t, err)

	rng := mpp.NewRand(21)
	current := mpp.Empty()
	require.NoError(t, m.Reset(current))

	for i := 0; i < 300; i++ {
		var next *mpp.Configuration
		if current.Len() > 0 && rng.Float64() < 0.4 {
			next = current.Without(current.At(rng.Intn(current.Len())).ID)
		} else {
			next, _ = current.WithMarks(mpp.Circle{X: rng.Uniform(0, 64), Y: rng.Uniform(0, 48), R: rng.Uniform(1, 9)})
		}
		require.NoError(t, m.Apply(mpp.Diff(current, next)))
		current = next
	}

	require.True(t, m.Equal(m.Rebuild()))

	fresh, err := New(m.opts)
	require.NoError(t, err)
	require.NoError(t, fresh.Reset(current))
	require.True(t, m.Equal(fresh))
}

func TestFenwickFind(t *testing.T) {
	f := newFenwick([]float64{0, 2, 0, 3, 5})
	require.InDelta(t, 10.0, f.total(), 1e-12)

	cases := map[float64]int{0: 1, 1.99: 1, 2: 3, 4.99: 3, 5: 4, 9.99: 4}
	for target, want := range cases {
		require.Equal(t, want, f.find(target), "target %g", target)
	}

	f.set(4, 0)
	require.InDelta(t, 5.0, f.total(), 1e-12)
	require.Equal(t, 3, f.find(4.999999))
	require.Equal(t, 3, f.find(7), "out of range targets fall back to a positive cell")
}
