package mpp

import "time"

// Step is the immutable record of one iteration.
//
// Exactly one of Proposed and Failure is set. Current is the configuration
// the kernel was applied to; Best is the best configuration after the
// accept/reject decision (nil while nothing has been accepted).
type Step struct {
	Iteration   int
	Kernel      string
	Temperature float64
	Current     *Configuration
	Proposed    *Configuration
	Best        *Configuration
	Failure     *Failure
	Accepted    bool
	Probability float64
	NewBest     bool
	Duration    time.Duration
}

// Result returns the configuration the chain holds after this step
func (s Step) Result() *Configuration {
	if s.Accepted && s.Proposed != nil {
		return s.Proposed
	}
	return s.Current
}

// Failed reports whether the kernel produced no candidate
func (s Step) Failed() bool {
	return s.Failure != nil
}
