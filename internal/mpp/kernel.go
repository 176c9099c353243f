package mpp

import (
	"fmt"
	"sort"
)

// FailureReason classifies why a kernel produced no candidate
type FailureReason string

const (
	ReasonNoValidSite        FailureReason = "no_valid_site"
	ReasonConstraintViolated FailureReason = "constraint_violated"
	ReasonEmptyConfiguration FailureReason = "empty_configuration"
	ReasonRefinementFailed   FailureReason = "refinement_failed"
)

// Failure describes a proposal that did not produce a candidate
type Failure struct {
	Kernel string        `json:"kernel"`
	Reason FailureReason `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

func (f *Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("kernel %s: %s: %s", f.Kernel, f.Reason, f.Detail)
	}
	return fmt.Sprintf("kernel %s: %s", f.Kernel, f.Reason)
}

// Proposal is the outcome of a kernel: either a candidate configuration or
// a failure, never both.
type Proposal struct {
	candidate *Configuration
	failure   *Failure
}

// Candidate wraps a proposed configuration
func Candidate(c *Configuration) Proposal {
	if c == nil {
		return Failed("", ReasonConstraintViolated, "nil candidate")
	}
	return Proposal{candidate: c}
}

// Failed wraps a failure
func Failed(kernel string, reason FailureReason, detail string) Proposal {
	return Proposal{failure: &Failure{Kernel: kernel, Reason: reason, Detail: detail}}
}

// Candidate returns the proposed configuration if there is one
func (p Proposal) Candidate() (*Configuration, bool) {
	return p.candidate, p.candidate != nil
}

// Failure returns the failure if the kernel produced no candidate
func (p Proposal) Failure() (*Failure, bool) {
	return p.failure, p.failure != nil
}

// Kernel proposes a structural change to a configuration.
//
// Propose must not modify current. It may read shared indices such as an
// UpdatableMarkSet but must draw all randomness from rng.
type Kernel interface {
	Name() string
	Propose(current *Configuration, rng *Rand) Proposal
}

// KernelFunc adapts a function to the Kernel interface
type KernelFunc struct {
	ID string
	Fn func(current *Configuration, rng *Rand) Proposal
}

func (k KernelFunc) Name() string {
	return k.ID
}

func (k KernelFunc) Propose(current *Configuration, rng *Rand) Proposal {
	return k.Fn(current, rng)
}

// KernelWithWeight pairs a kernel with its selection weight
type KernelWithWeight struct {
	Kernel Kernel
	Weight float64
}

// KernelSet is a weighted collection of kernels plus an optional initial
// kernel used on the first iteration only.
type KernelSet struct {
	kernels    []KernelWithWeight
	cumulative []float64
	total      float64
	initial    Kernel
}

// NewKernelSet validates weights and builds the cumulative table.
// initial may be nil, in which case the first iteration also uses weighted
// selection.
func NewKernelSet(initial Kernel, kernels ...KernelWithWeight) (*KernelSet, error) {
	if len(kernels) == 0 {
		return nil, fmt.Errorf("kernel set requires at least one kernel")
	}

	ks := &KernelSet{
		kernels:    append([]KernelWithWeight(nil), kernels...),
		cumulative: make([]float64, len(kernels)),
		initial:    initial,
	}
	for i, kw := range kernels {
		if kw.Kernel == nil {
			return nil, fmt.Errorf("kernel %d is nil", i)
		}
		if kw.Weight < 0 {
			return nil, fmt.Errorf("kernel %s: weight cannot be negative", kw.Kernel.Name())
		}
		ks.total += kw.Weight
		ks.cumulative[i] = ks.total
	}
	if ks.total <= 0 {
		return nil, fmt.Errorf("kernel weights must sum to a positive value")
	}
	return ks, nil
}

// Select draws a kernel with probability weight/total
func (ks *KernelSet) Select(rng *Rand) Kernel {
	target := rng.Float64() * ks.total
	i := sort.Search(len(ks.cumulative), func(i int) bool {
		return ks.cumulative[i] > target
	})
	if i == len(ks.cumulative) {
		// Float rounding at the top end
		i = len(ks.cumulative) - 1
	}
	return ks.kernels[i].Kernel
}

// Initial returns the bootstrap kernel, nil if none was designated
func (ks *KernelSet) Initial() Kernel {
	return ks.initial
}

// ForIteration returns the initial kernel on iteration 0, otherwise a
// weighted draw
func (ks *KernelSet) ForIteration(iteration int, rng *Rand) Kernel {
	if iteration == 0 && ks.initial != nil {
		return ks.initial
	}
	return ks.Select(rng)
}

// Kernels returns the registered kernels and weights
func (ks *KernelSet) Kernels() []KernelWithWeight {
	return append([]KernelWithWeight(nil), ks.kernels...)
}

// Probability returns the selection probability of the i-th kernel
func (ks *KernelSet) Probability(i int) float64 {
	return ks.kernels[i].Weight / ks.total
}
