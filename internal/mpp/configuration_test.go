package mpp

import (
	"math"
	"testing"
)

func TestWithMarksIssuesFreshIDs(t *testing.T) {
	c, created := Empty().WithMarks(Circle{X: 1, Y: 1, R: 1}, Circle{X: 5, Y: 5, R: 2})
	if c.Len() != 2 {
		t.Fatalf("Expected 2 marks, got %d", c.Len())
	}
	if created[0].ID != 1 || created[1].ID != 2 {
		t.Errorf("Expected ids 1 and 2, got %d and %d", created[0].ID, created[1].ID)
	}

	// Removing a mark must not free its id
	c2, created2 := c.Without(1).WithMarks(Circle{X: 3, Y: 3, R: 1})
	if created2[0].ID != 3 {
		t.Errorf("Expected id 3 after removal, got %d", created2[0].ID)
	}
	if c2.Contains(1) {
		t.Error("Removed mark still present")
	}
	if c2.NextID() != 4 {
		t.Errorf("Expected next id 4, got %d", c2.NextID())
	}
}

func TestConfigurationDerivationLeavesReceiverUntouched(t *testing.T) {
	base, _ := Empty().WithMarks(Circle{X: 1, Y: 1, R: 1})
	base = base.WithEnergy(EnergyBreakdown{Total: 3})

	grown, _ := base.WithMarks(Circle{X: 2, Y: 2, R: 1})
	shrunk := base.Without(1)

	if base.Len() != 1 {
		t.Errorf("Base changed: %d marks", base.Len())
	}
	if !base.Evaluated() || base.Energy().Total != 3 {
		t.Error("Base lost its energy")
	}
	if grown.Evaluated() || shrunk.Evaluated() {
		t.Error("Derived configurations must not inherit energy")
	}
	if grown.Len() != 2 || shrunk.Len() != 0 {
		t.Errorf("Unexpected derived sizes %d and %d", grown.Len(), shrunk.Len())
	}
}

func TestNewConfigurationRejectsDuplicateIDs(t *testing.T) {
	_, err := NewConfiguration(
		Mark{ID: 4, Shape: Circle{R: 1}},
		Mark{ID: 4, Shape: Circle{R: 2}},
	)
	if err == nil {
		t.Fatal("Expected error for duplicate ids")
	}

	c, err := NewConfiguration(Mark{ID: 7, Shape: Circle{R: 1}})
	if err != nil {
		t.Fatalf("NewConfiguration failed: %v", err)
	}
	if c.NextID() != 8 {
		t.Errorf("Expected next id 8, got %d", c.NextID())
	}
}

func TestReplace(t *testing.T) {
	c, _ := Empty().WithMarks(Circle{X: 1, Y: 1, R: 1}, Circle{X: 9, Y: 9, R: 1})

	out, created, err := c.Replace([]MarkID{1}, Circle{X: 2, Y: 2, R: 1}, Circle{X: 3, Y: 3, R: 1})
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if out.Len() != 3 || len(created) != 2 {
		t.Fatalf("Expected 3 marks and 2 created, got %d and %d", out.Len(), len(created))
	}
	if out.Contains(1) || !out.Contains(2) {
		t.Error("Replace removed the wrong mark")
	}

	if _, _, err := c.Replace([]MarkID{42}); err == nil {
		t.Error("Expected error removing unknown mark")
	}
}

func TestDiff(t *testing.T) {
	from, _ := Empty().WithMarks(Circle{X: 1, Y: 1, R: 1}, Circle{X: 9, Y: 9, R: 1})
	to, _, err := from.Replace([]MarkID{1}, Circle{X: 4, Y: 4, R: 2})
	if err != nil {
		t.Fatal(err)
	}

	d := Diff(from, to)
	if len(d.Added) != 1 || d.Added[0].ID != 3 {
		t.Errorf("Unexpected added marks: %+v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0].ID != 1 {
		t.Errorf("Unexpected removed marks: %+v", d.Removed)
	}

	if !Diff(to, to).Empty() {
		t.Error("Diff of a configuration with itself should be empty")
	}

	fromNil := Diff(nil, to)
	if len(fromNil.Added) != to.Len() || len(fromNil.Removed) != 0 {
		t.Errorf("Diff from nil: %+v", fromNil)
	}
}

func TestFingerprint(t *testing.T) {
	a, _ := Empty().WithMarks(Circle{X: 1, Y: 2, R: 3})
	b, _ := Empty().WithMarks(Circle{X: 1, Y: 2, R: 3})
	c, _ := Empty().WithMarks(Circle{X: 1, Y: 2, R: 3.5})

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Equal configurations should share a fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("Different geometry should change the fingerprint")
	}
	if a.WithEnergy(EnergyBreakdown{Total: 1}).Fingerprint() != a.Fingerprint() {
		t.Error("Energy must not affect the fingerprint")
	}
}

func TestEnergyBreakdownTermNames(t *testing.T) {
	e := EnergyBreakdown{Total: 1, Terms: map[string]float64{"overlap": -1, "contrast": 2}}
	names := e.TermNames()
	if len(names) != 2 || names[0] != "contrast" || names[1] != "overlap" {
		t.Errorf("Unexpected term order: %v", names)
	}
	if e.Term("missing") != 0 {
		t.Error("Missing term should be zero")
	}
}

func TestCircleIntersectionArea(t *testing.T) {
	tests := []struct {
		name string
		a, b Circle
		want float64
	}{
		{"disjoint", Circle{0, 0, 1}, Circle{5, 0, 1}, 0},
		{"touching", Circle{0, 0, 1}, Circle{2, 0, 1}, 0},
		{"identical", Circle{0, 0, 2}, Circle{0, 0, 2}, math.Pi * 4},
		{"contained", Circle{0, 0, 5}, Circle{1, 0, 1}, math.Pi},
		// Two unit circles at distance 1: 2π/3 - √3/2
		{"lens", Circle{0, 0, 1}, Circle{1, 0, 1}, 2*math.Pi/3 - math.Sqrt(3)/2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.IntersectionArea(tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IntersectionArea = %f, want %f", got, tt.want)
			}
			if back := tt.b.IntersectionArea(tt.a); math.Abs(back-got) > 1e-9 {
				t.Errorf("IntersectionArea not symmetric: %f vs %f", got, back)
			}
		})
	}
}
