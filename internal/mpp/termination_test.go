package mpp

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMaxIterations(t *testing.T) {
	m := MaxIterations(3)
	if stop, _ := m.ShouldStop(Status{Iterations: 2}); stop {
		t.Error("Stopped before budget")
	}
	stop, reason := m.ShouldStop(Status{Iterations: 3})
	if !stop || !strings.Contains(reason, "3") {
		t.Errorf("Expected stop at budget, got %v %q", stop, reason)
	}
}

func TestWallClock(t *testing.T) {
	w := WallClock(time.Second)
	if stop, _ := w.ShouldStop(Status{Elapsed: 500 * time.Millisecond}); stop {
		t.Error("Stopped early")
	}
	if stop, _ := w.ShouldStop(Status{Elapsed: time.Second}); !stop {
		t.Error("Did not stop after budget")
	}
}

func TestPlateau(t *testing.T) {
	p := NewPlateau(3, 1e-6)
	step := &Step{}

	if stop, _ := p.ShouldStop(Status{BestScore: 1, HasBest: true}); stop {
		t.Fatal("Plateau must ignore the pre-run check")
	}

	flat := Status{BestScore: 5, HasBest: true, CurrentSize: 2, LastStep: step}
	for i := 0; i < 3; i++ {
		if stop, _ := p.ShouldStop(flat); stop {
			t.Fatalf("Stopped after %d flat checks", i+1)
		}
	}
	if stop, _ := p.ShouldStop(flat); !stop {
		t.Fatal("Expected plateau after patience exhausted")
	}

	p = NewPlateau(2, 1e-6)
	p.ShouldStop(flat)
	p.ShouldStop(flat)
	moved := flat
	moved.CurrentSize = 3
	if stop, _ := p.ShouldStop(moved); stop {
		t.Error("Size change must reset the plateau counter")
	}
}

func TestTrigger(t *testing.T) {
	tr := NewTrigger()
	if stop, _ := tr.ShouldStop(Status{}); stop || tr.Fired() {
		t.Fatal("New trigger already fired")
	}

	done := make(chan struct{})
	go func() {
		tr.Fire("user cancelled")
		close(done)
	}()
	<-done

	stop, reason := tr.ShouldStop(Status{})
	if !stop || reason != "user cancelled" {
		t.Errorf("Expected fired trigger, got %v %q", stop, reason)
	}
}

func TestContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := ContextDone{Ctx: ctx}
	if stop, _ := c.ShouldStop(Status{}); stop {
		t.Fatal("Stopped before cancel")
	}
	cancel()
	if stop, _ := c.ShouldStop(Status{}); !stop {
		t.Fatal("Did not stop after cancel")
	}
}

func TestAnyOfEvaluatesAll(t *testing.T) {
	plateau := NewPlateau(100, 0)
	a := AnyOf{MaxIterations(1), nil, WallClock(time.Nanosecond), plateau}

	stop, reason := a.ShouldStop(Status{Iterations: 1, Elapsed: time.Second, LastStep: &Step{}})
	if !stop {
		t.Fatal("Expected stop")
	}
	if !strings.Contains(reason, "max iterations") || !strings.Contains(reason, "wall clock") {
		t.Errorf("Expected both reasons, got %q", reason)
	}
	if !plateau.seeded {
		t.Error("Plateau was not consulted")
	}

	if stop, _ := (AnyOf{}).ShouldStop(Status{}); stop {
		t.Error("Empty AnyOf should never stop")
	}
}
