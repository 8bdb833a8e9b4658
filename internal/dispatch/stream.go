package dispatch

import (
	"io"
	"sync"

	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	metadatapkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/metadata"
)

// MetadataKeyStreamEvent carries an item's optional event name on stream-data
// envelopes.
const MetadataKeyStreamEvent = "stream_event"

// Item is one element produced by a stream handler: opaque data plus an
// optional event name.
type Item struct {
	Event   string
	Payload any
}

// Source is the lazy, finite-or-infinite sequence a stream handler returns.
// Next returns io.EOF when the sequence is exhausted. Sources that also
// implement io.Closer are closed when iteration stops.
type Source interface {
	Next(ctx *Context) (Item, error)
}

// SourceFunc adapts an ordinary function to a Source.
type SourceFunc func(ctx *Context) (Item, error)

func (f SourceFunc) Next(ctx *Context) (Item, error) { return f(ctx) }

// Chunks builds a finite Source over the given items. Handy for handlers and
// tests with precomputed sequences.
func Chunks(items ...Item) Source {
	i := 0
	return SourceFunc(func(*Context) (Item, error) {
		if i >= len(items) {
			return Item{}, io.EOF
		}
		item := items[i]
		i++
		return item, nil
	})
}

// Stream is the router's view over a handler's Source. The adapter pulls
// envelopes with Next: each item becomes a stream-data envelope sharing the
// originating id, exhaustion becomes exactly one stream-end, a failure or
// cancellation becomes exactly one stream-error, and every call after the
// terminal envelope returns io.EOF. Chunks are emitted strictly in the order
// the source yields them.
type Stream struct {
	origin *Envelope
	ctx    *Context
	source Source

	mu   sync.Mutex
	done bool
}

func newStream(origin *Envelope, ctx *Context, source Source) *Stream {
	return &Stream{origin: origin, ctx: ctx, source: source}
}

// ID returns the correlation id shared by every envelope of this stream.
func (s *Stream) ID() string { return s.origin.ID }

// Context returns the execution context driving the stream; cancelling it
// stops production before the next chunk.
func (s *Stream) Context() *Context { return s.ctx }

// Next pulls the next envelope. The cancellation signal is checked before
// every pull, so setting it stops production within one iteration step.
func (s *Stream) Next() (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, io.EOF
	}

	if s.ctx.Cancelled() {
		return s.finishError(errspkg.New(errspkg.CodeCancelled, "stream cancelled")), nil
	}

	item, err := s.source.Next(s.ctx)
	switch {
	case err == io.EOF:
		return s.finishEnd(), nil
	case err != nil:
		return s.finishError(errspkg.Normalize(err)), nil
	}

	env := &Envelope{
		ID:        s.origin.ID,
		Procedure: s.origin.Procedure,
		Kind:      KindStreamData,
		Payload:   item.Payload,
		Metadata:  metadatapkg.Metadata{},
		Context:   s.ctx,
	}
	if item.Event != "" {
		env.Metadata[MetadataKeyStreamEvent] = item.Event
	}
	return env, nil
}

// Close cancels the stream and releases the source. Safe to call more than
// once and after exhaustion.
func (s *Stream) Close() {
	s.ctx.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		s.closeSource()
	}
}

func (s *Stream) finishEnd() *Envelope {
	s.done = true
	s.closeSource()
	return &Envelope{
		ID:        s.origin.ID,
		Procedure: s.origin.Procedure,
		Kind:      KindStreamEnd,
		Metadata:  metadatapkg.Metadata{},
		Context:   s.ctx,
	}
}

func (s *Stream) finishError(derr *errspkg.Error) *Envelope {
	s.done = true
	s.closeSource()
	return &Envelope{
		ID:        s.origin.ID,
		Procedure: s.origin.Procedure,
		Kind:      KindStreamError,
		Payload:   derr,
		Metadata:  metadatapkg.Metadata{},
		Context:   s.ctx,
	}
}

func (s *Stream) closeSource() {
	if closer, ok := s.source.(io.Closer); ok {
		_ = closer.Close()
	}
}
