package mpp

// UpdatableMarkSet is a derived index over the current configuration that
// kernels consult read-only (for example a site probability map).
//
// Reset builds the index from scratch once per run. After each accepted step
// the loop calls Apply with the marks that were added and removed, so the
// cost of an update follows the size of the change. An error from either
// method aborts the run.
type UpdatableMarkSet interface {
	Reset(c *Configuration) error
	Apply(d Delta) error
}
