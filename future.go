package exl2

import (
	"context"
	"sync"
)

// Future is the pending result of a one-shot call. It resolves exactly once,
// either with the server's reply or with an error.
type Future struct {
	id     uint64
	action Action

	once sync.Once
	done chan struct{}
	resp *Response
	err  error

	release func()
}

func newFuture(id uint64, action Action) *Future {
	return &Future{
		id:     id,
		action: action,
		done:   make(chan struct{}),
	}
}

// ID returns the request id assigned to the call.
func (f *Future) ID() uint64 {
	return f.id
}

// Action returns the action the call was sent with.
func (f *Future) Action() Action {
	return f.action
}

// Done returns a channel that is closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done. A cancelled ctx
// leaves the call registered; use Release to abandon it.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.resp, f.err
	}
}

// Release abandons the call. The connection forgets the request id, a late
// reply is dropped, and the future resolves with ErrReleased if it has not
// resolved already.
func (f *Future) Release() {
	if f.release != nil {
		f.release()
	}
	f.reject(ErrReleased)
}

func (f *Future) resolve(resp *Response) {
	f.once.Do(func() {
		f.resp = resp
		close(f.done)
	})
}

func (f *Future) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}
