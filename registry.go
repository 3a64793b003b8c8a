package exl2

import (
	"fmt"
	"sync"
)

// idAllocator hands out request ids for one connection: 1, 2, 3, ...
type idAllocator struct {
	mu   sync.Mutex
	last uint64
}

func (a *idAllocator) next() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last++
	return a.last
}

// pendingCall is an outstanding request waiting for its reply. Exactly one
// of future and stream is set.
type pendingCall struct {
	id     uint64
	action Action
	future *Future
	stream *InferStream
}

func newOneShotCall(id uint64, action Action) *pendingCall {
	return &pendingCall{id: id, action: action, future: newFuture(id, action)}
}

func newStreamingCall(id uint64) *pendingCall {
	return &pendingCall{id: id, action: ActionInfer, stream: newInferStream(id)}
}

func (p *pendingCall) streaming() bool {
	return p.stream != nil
}

// fail completes the call with err.
func (p *pendingCall) fail(err error) {
	if p.streaming() {
		p.stream.fail(err)
		return
	}
	p.future.reject(err)
}

// registry maps request ids to pending calls. Calls are registered from
// caller goroutines and resolved from the read loop, so every access goes
// through mu.
type registry struct {
	mu    sync.Mutex
	calls map[uint64]*pendingCall
}

func newRegistry() *registry {
	return &registry{calls: make(map[uint64]*pendingCall)}
}

// register panics if id is already present; the allocator never repeats an id.
func (r *registry) register(call *pendingCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.id]; ok {
		panic(fmt.Sprintf("exl2: request id %d registered twice", call.id))
	}
	r.calls[call.id] = call
}

func (r *registry) lookup(id uint64) (*pendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	return call, ok
}

// remove deletes id and returns the call that was registered under it.
func (r *registry) remove(id uint64) (*pendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	delete(r.calls, id)
	return call, ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// drain empties the registry and returns everything that was in it.
func (r *registry) drain() []*pendingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := make([]*pendingCall, 0, len(r.calls))
	for id, call := range r.calls {
		calls = append(calls, call)
		delete(r.calls, id)
	}
	return calls
}
