package exl2

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
)

// InferStream provides pull-based access to a streamed infer reply.
//
// The stream yields zero or more chunk items followed by exactly one final
// item carrying the full text and stop reason. After the final item every
// call to Next returns ErrStreamDone. If the server reports an error the
// stream ends and Next returns that error once any already queued items
// have been consumed.
type InferStream struct {
	id uint64

	mu     sync.Mutex
	queue  []*Response
	final  *Response
	err    error
	ended  bool
	notify chan struct{}

	release func()
}

// newInferStream creates a stream for request id.
func newInferStream(id uint64) *InferStream {
	return &InferStream{
		id:     id,
		notify: make(chan struct{}, 1),
	}
}

// ID returns the request id assigned to the call.
func (s *InferStream) ID() uint64 {
	return s.id
}

// Next returns the next item of the stream.
// The context can be used to cancel waiting for the next item.
func (s *InferStream) Next(ctx context.Context) (*Response, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			item := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return item, nil
		}
		if s.ended {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = ErrStreamDone
			}
			return nil, err
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

// Chunks returns an iterator over the remaining items, final item included.
// Iteration ends after the final item; an error is yielded once.
func (s *InferStream) Chunks(ctx context.Context) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		for {
			item, err := s.Next(ctx)
			if errors.Is(err, ErrStreamDone) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(item, nil) || item.IsFinal() {
				return
			}
		}
	}
}

// Text consumes the stream and returns the generated text. The final item's
// response field is preferred; the concatenated chunks are returned if the
// server left it empty.
func (s *InferStream) Text(ctx context.Context) (string, error) {
	var sb strings.Builder

	for item, err := range s.Chunks(ctx) {
		if err != nil {
			return sb.String(), err
		}
		if item.IsFinal() && item.Response != "" {
			return item.Response, nil
		}
		sb.WriteString(item.Chunk)
	}
	return sb.String(), nil
}

// Final returns the final item, or nil if it has not arrived yet.
func (s *InferStream) Final() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// StopReason returns the reason generation ended.
// Only valid after the final item has arrived.
func (s *InferStream) StopReason() string {
	if f := s.Final(); f != nil {
		return f.StopReason
	}
	return ""
}

// Release abandons the stream. Generation on the server is not stopped;
// send a stop request for that. Items not yet consumed are discarded and,
// unless the stream had already ended, Next returns ErrReleased.
func (s *InferStream) Release() {
	if s.release != nil {
		s.release()
	}
	s.mu.Lock()
	s.queue = nil
	if !s.ended {
		s.err = ErrReleased
		s.ended = true
	}
	s.mu.Unlock()
	s.signal()
}

// push appends an item. Pushing after the stream has ended is a no-op.
func (s *InferStream) push(item *Response, final bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, item)
	if final {
		s.final = item
		s.ended = true
	}
	s.mu.Unlock()
	s.signal()
}

// fail ends the stream with err.
func (s *InferStream) fail(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

func (s *InferStream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
