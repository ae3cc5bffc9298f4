package playrec

import (
	"sync/atomic"
	"weak"
)

// Delegate receives lifecycle notifications. All methods are called from a
// single dispatch goroutine, never while the PlayerRecorder holds its lock,
// so implementations may call back into the PlayerRecorder.
type Delegate interface {
	// WillFinish is called before a playing, paused or recording session is
	// torn down. CurrentTime and Duration still answer during the call.
	WillFinish(pr *PlayerRecorder, successful bool)
	DidPreparePlayer(pr *PlayerRecorder, successful bool)
	DidPrepareRecorder(pr *PlayerRecorder, successful bool)
	// DidUpdate is called periodically while playing or recording.
	DidUpdate(pr *PlayerRecorder)
}

// NopDelegate implements Delegate with no-ops. Embed it to handle a subset of events.
type NopDelegate struct{}

func (NopDelegate) WillFinish(*PlayerRecorder, bool)         {}
func (NopDelegate) DidPreparePlayer(*PlayerRecorder, bool)   {}
func (NopDelegate) DidPrepareRecorder(*PlayerRecorder, bool) {}
func (NopDelegate) DidUpdate(*PlayerRecorder)                {}

// DelegateFuncs adapts optional callbacks to Delegate.
type DelegateFuncs struct {
	OnWillFinish         func(pr *PlayerRecorder, successful bool)
	OnDidPreparePlayer   func(pr *PlayerRecorder, successful bool)
	OnDidPrepareRecorder func(pr *PlayerRecorder, successful bool)
	OnDidUpdate          func(pr *PlayerRecorder)
}

func (f DelegateFuncs) WillFinish(pr *PlayerRecorder, successful bool) {
	if f.OnWillFinish != nil {
		f.OnWillFinish(pr, successful)
	}
}

func (f DelegateFuncs) DidPreparePlayer(pr *PlayerRecorder, successful bool) {
	if f.OnDidPreparePlayer != nil {
		f.OnDidPreparePlayer(pr, successful)
	}
}

func (f DelegateFuncs) DidPrepareRecorder(pr *PlayerRecorder, successful bool) {
	if f.OnDidPrepareRecorder != nil {
		f.OnDidPrepareRecorder(pr, successful)
	}
}

func (f DelegateFuncs) DidUpdate(pr *PlayerRecorder) {
	if f.OnDidUpdate != nil {
		f.OnDidUpdate(pr)
	}
}

// Delegates fans notifications out to several delegates in order. A nil
// entry is skipped.
func Delegates(ds ...Delegate) Delegate {
	return multiDelegate(ds)
}

type multiDelegate []Delegate

func (m multiDelegate) WillFinish(pr *PlayerRecorder, successful bool) {
	for _, d := range m {
		if d != nil {
			d.WillFinish(pr, successful)
		}
	}
}

func (m multiDelegate) DidPreparePlayer(pr *PlayerRecorder, successful bool) {
	for _, d := range m {
		if d != nil {
			d.DidPreparePlayer(pr, successful)
		}
	}
}

func (m multiDelegate) DidPrepareRecorder(pr *PlayerRecorder, successful bool) {
	for _, d := range m {
		if d != nil {
			d.DidPrepareRecorder(pr, successful)
		}
	}
}

func (m multiDelegate) DidUpdate(pr *PlayerRecorder) {
	for _, d := range m {
		if d != nil {
			d.DidUpdate(pr)
		}
	}
}

// Weak wraps a delegate without keeping it reachable. Once the target has
// been collected every notification is silently skipped.
//
//	pr.SetDelegate(playrec.Weak(view))
func Weak[T any, P interface {
	*T
	Delegate
}](p P) Delegate {
	return weakDelegate[T, P]{ref: weak.Make((*T)(p))}
}

type weakDelegate[T any, P interface {
	*T
	Delegate
}] struct {
	ref weak.Pointer[T]
}

func (w weakDelegate[T, P]) target() Delegate {
	if v := w.ref.Value(); v != nil {
		return P(v)
	}
	return nil
}

func (w weakDelegate[T, P]) WillFinish(pr *PlayerRecorder, successful bool) {
	if d := w.target(); d != nil {
		d.WillFinish(pr, successful)
	}
}

func (w weakDelegate[T, P]) DidPreparePlayer(pr *PlayerRecorder, successful bool) {
	if d := w.target(); d != nil {
		d.DidPreparePlayer(pr, successful)
	}
}

func (w weakDelegate[T, P]) DidPrepareRecorder(pr *PlayerRecorder, successful bool) {
	if d := w.target(); d != nil {
		d.DidPrepareRecorder(pr, successful)
	}
}

func (w weakDelegate[T, P]) DidUpdate(pr *PlayerRecorder) {
	if d := w.target(); d != nil {
		d.DidUpdate(pr)
	}
}

// Registration is returned by SetDelegate. Releasing it detaches the delegate;
// notifications already being delivered finish but no new ones start.
type Registration struct {
	owner    *PlayerRecorder
	delegate Delegate
	released atomic.Bool
}

// Release detaches the delegate if it is still the registered one. Safe to call more than once.
func (r *Registration) Release() {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	r.owner.delegate.CompareAndSwap(r, nil)
}

// Released reports whether Release has been called.
func (r *Registration) Released() bool {
	return r.released.Load()
}

func (r *Registration) active() Delegate {
	if r == nil || r.released.Load() {
		return nil
	}
	return r.delegate
}
