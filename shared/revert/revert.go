// Package revert implements a small helper for unwinding a sequence of
// fallible resource acquisitions. Every multi-step constructor in this
// repository (session directories, archives, spawned helper processes,
// MPIR inferiors) follows the same shape:
//
//	reverter := revert.New()
//	defer reverter.Fail()
//
//	f, err := os.Create(path)
//	if err != nil {
//		return err
//	}
//	reverter.Add(func() { _ = os.Remove(path) })
//
//	... more fallible steps, each pushing its own cleanup ...
//
//	reverter.Success()
//	return nil
//
// If any step after the deferred Fail() returns early (error or panic), every
// cleanup pushed so far runs in reverse order. Success disarms the deferred
// Fail.
package revert

// Reverter accumulates cleanup functions and runs them in LIFO order unless
// disarmed by Success.
type Reverter struct {
	fns []func()
}

// New returns an armed Reverter.
func New() *Reverter {
	return &Reverter{}
}

// Add pushes a cleanup function onto the revert stack.
func (r *Reverter) Add(fn func()) {
	r.fns = append(r.fns, fn)
}

// Fail runs every pushed cleanup function, most-recently-added first, unless
// Success has already disarmed the Reverter. Safe to call via defer
// unconditionally.
func (r *Reverter) Fail() {
	if r == nil || r.fns == nil {
		return
	}

	for i := len(r.fns) - 1; i >= 0; i-- {
		r.fns[i]()
	}

	r.fns = nil
}

// Success disarms the Reverter: a subsequent Fail() becomes a no-op.
func (r *Reverter) Success() {
	r.fns = nil
}

// Clone returns a new Reverter that owns a copy of the current cleanup
// stack, useful when a constructor wants to hand off ownership of the
// accumulated cleanups to a longer-lived object while keeping its own
// deferred Fail harmless.
func (r *Reverter) Clone() *Reverter {
	clone := &Reverter{fns: make([]func(), len(r.fns))}
	copy(clone.fns, r.fns)

	return clone
}
