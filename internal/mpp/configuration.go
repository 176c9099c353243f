package mpp

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
)

// EnergyBreakdown is the score of a configuration plus its named terms
type EnergyBreakdown struct {
	Total float64            `json:"total"`
	Terms map[string]float64 `json:"terms,omitempty"`
}

// TermNames returns the term names in sorted order
func (e EnergyBreakdown) TermNames() []string {
	names := make([]string, 0, len(e.Terms))
	for name := range e.Terms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Term returns a named contribution, zero if absent
func (e EnergyBreakdown) Term(name string) float64 {
	return e.Terms[name]
}

// Configuration is an ordered, id-unique set of marks plus its energy.
//
// Configurations are treated as values: every method that changes the mark
// set returns a new Configuration and leaves the receiver untouched. The id
// counter is carried forward so that ids are never reissued along a chain.
type Configuration struct {
	marks     []Mark
	index     map[MarkID]int
	nextID    MarkID
	energy    EnergyBreakdown
	evaluated bool
}

// NewConfiguration builds a configuration from existing marks.
// Returns an error if two marks share an id.
func NewConfiguration(marks ...Mark) (*Configuration, error) {
	c := &Configuration{
		marks:  make([]Mark, 0, len(marks)),
		index:  make(map[MarkID]int, len(marks)),
		nextID: 1,
	}
	for _, m := range marks {
		if _, dup := c.index[m.ID]; dup {
			return nil, fmt.Errorf("duplicate mark id %d", m.ID)
		}
		c.index[m.ID] = len(c.marks)
		c.marks = append(c.marks, m)
		if m.ID >= c.nextID {
			c.nextID = m.ID + 1
		}
	}
	return c, nil
}

// Empty returns a configuration without marks
func Empty() *Configuration {
	c, _ := NewConfiguration()
	return c
}

// Len returns the number of marks
func (c *Configuration) Len() int {
	if c == nil {
		return 0
	}
	return len(c.marks)
}

// Marks returns a copy of the marks in order
func (c *Configuration) Marks() []Mark {
	if c == nil {
		return nil
	}
	return append([]Mark(nil), c.marks...)
}

// At returns the i-th mark in order
func (c *Configuration) At(i int) Mark {
	return c.marks[i]
}

// Mark looks up a mark by id
func (c *Configuration) Mark(id MarkID) (Mark, bool) {
	if c == nil {
		return Mark{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return Mark{}, false
	}
	return c.marks[i], true
}

// Contains reports whether a mark with the id is present
func (c *Configuration) Contains(id MarkID) bool {
	_, ok := c.Mark(id)
	return ok
}

// NextID returns the id the next created mark will receive
func (c *Configuration) NextID() MarkID {
	return c.nextID
}

// Energy returns the breakdown attached by the evaluator
func (c *Configuration) Energy() EnergyBreakdown {
	return c.energy
}

// Evaluated reports whether an energy has been attached
func (c *Configuration) Evaluated() bool {
	return c != nil && c.evaluated
}

// WithEnergy returns a copy carrying the given breakdown
func (c *Configuration) WithEnergy(e EnergyBreakdown) *Configuration {
	out := c.shallow()
	out.energy = e
	out.evaluated = true
	return out
}

// WithMarks returns a copy with new marks appended, one per shape.
// Each new mark gets a fresh id and scores on every region.
func (c *Configuration) WithMarks(shapes ...Circle) (*Configuration, []Mark) {
	out := c.derive(len(shapes))
	created := make([]Mark, 0, len(shapes))
	for _, s := range shapes {
		m := Mark{ID: out.nextID, Shape: s, Regions: RegionsAll}
		out.nextID++
		out.index[m.ID] = len(out.marks)
		out.marks = append(out.marks, m)
		created = append(created, m)
	}
	return out, created
}

// Without returns a copy with the given marks removed.
// Unknown ids are ignored.
func (c *Configuration) Without(ids ...MarkID) *Configuration {
	drop := make(map[MarkID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	out := &Configuration{
		marks:  make([]Mark, 0, len(c.marks)),
		index:  make(map[MarkID]int, len(c.marks)),
		nextID: c.nextID,
	}
	for _, m := range c.marks {
		if drop[m.ID] {
			continue
		}
		out.index[m.ID] = len(out.marks)
		out.marks = append(out.marks, m)
	}
	return out
}

// Replace removes the marks in remove and adds one new mark per shape.
// Returns an error if any id to remove is absent.
func (c *Configuration) Replace(remove []MarkID, shapes ...Circle) (*Configuration, []Mark, error) {
	for _, id := range remove {
		if !c.Contains(id) {
			return nil, nil, fmt.Errorf("mark %d not in configuration", id)
		}
	}
	out, created := c.Without(remove...).WithMarks(shapes...)
	return out, created, nil
}

// Fingerprint returns a stable hash of the mark geometry in order
func (c *Configuration) Fingerprint() string {
	h := fnv.New64a()
	var buf []byte
	for _, m := range c.marks {
		buf = buf[:0]
		buf = strconv.AppendUint(buf, uint64(m.ID), 16)
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, math.Float64bits(m.Shape.X), 16)
		buf = append(buf, ',')
		buf = strconv.AppendUint(buf, math.Float64bits(m.Shape.Y), 16)
		buf = append(buf, ',')
		buf = strconv.AppendUint(buf, math.Float64bits(m.Shape.R), 16)
		buf = append(buf, ';')
		h.Write(buf)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// derive copies marks and index with extra room, dropping the energy
func (c *Configuration) derive(extra int) *Configuration {
	out := &Configuration{
		marks:  make([]Mark, len(c.marks), len(c.marks)+extra),
		index:  make(map[MarkID]int, len(c.marks)+extra),
		nextID: c.nextID,
	}
	copy(out.marks, c.marks)
	for id, i := range c.index {
		out.index[id] = i
	}
	return out
}

// shallow shares the immutable mark storage
func (c *Configuration) shallow() *Configuration {
	return &Configuration{
		marks:     c.marks,
		index:     c.index,
		nextID:    c.nextID,
		energy:    c.energy,
		evaluated: c.evaluated,
	}
}

// Delta is the change between two configurations of the same lineage
type Delta struct {
	Added   []Mark
	Removed []Mark
}

// Empty reports whether nothing changed
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Diff returns the marks added and removed going from one configuration to
// another. A nil configuration is treated as empty.
func Diff(from, to *Configuration) Delta {
	var d Delta
	for _, m := range to.Marks() {
		if !from.Contains(m.ID) {
			d.Added = append(d.Added, m)
		}
	}
	for _, m := range from.Marks() {
		if !to.Contains(m.ID) {
			d.Removed = append(d.Removed, m)
		}
	}
	return d
}
