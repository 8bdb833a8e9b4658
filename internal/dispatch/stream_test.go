package dispatch

import (
	"errors"
	"io"
	"testing"

	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
)

func collectStream(t *testing.T, s *Stream, max int) []*Envelope {
	t.Helper()
	var out []*Envelope
	for i := 0; i < max; i++ {
		env, err := s.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, env)
	}
	t.Fatalf("stream did not terminate within %d pulls", max)
	return nil
}

func TestStreamHappyPath(t *testing.T) {
	t.Parallel()

	origin := NewStreamStart("countdown", nil)
	s := newStream(origin, origin.Context, Chunks(
		Item{Payload: 3},
		Item{Event: "almost", Payload: 2},
		Item{Payload: 1},
	))

	if s.ID() != origin.ID {
		t.Fatal("stream id must match the origin")
	}

	envs := collectStream(t, s, 10)
	if len(envs) != 4 {
		t.Fatalf("expected 3 chunks + end, got %d envelopes", len(envs))
	}

	for i, env := range envs[:3] {
		if env.Kind != KindStreamData {
			t.Fatalf("envelope %d kind = %s", i, env.Kind)
		}
		if env.ID != origin.ID {
			t.Fatal("chunks must share the originating id")
		}
	}
	if envs[0].Payload != 3 || envs[1].Payload != 2 || envs[2].Payload != 1 {
		t.Fatal("chunks out of order")
	}
	if envs[1].Metadata[MetadataKeyStreamEvent] != "almost" {
		t.Fatal("event name must ride on the chunk metadata")
	}
	if envs[0].Metadata.Get(MetadataKeyStreamEvent) != "" {
		t.Fatal("chunks without an event name carry no stream_event entry")
	}

	last := envs[3]
	if last.Kind != KindStreamEnd || last.ID != origin.ID {
		t.Fatalf("terminal envelope = %+v", last)
	}

	// Every pull after the terminal envelope reports exhaustion.
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after stream-end, got %v", err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("io.EOF must be sticky, got %v", err)
	}
}

func TestStreamMidStreamError(t *testing.T) {
	t.Parallel()

	calls := 0
	source := SourceFunc(func(ctx *Context) (Item, error) {
		calls++
		if calls >= 3 {
			return Item{}, errspkg.New(errspkg.CodeUnavailable, "upstream gone")
		}
		return Item{Payload: calls}, nil
	})

	origin := NewStreamStart("flaky", nil)
	s := newStream(origin, origin.Context, source)

	one, _ := s.Next()
	two, _ := s.Next()
	if one.Kind != KindStreamData || two.Kind != KindStreamData {
		t.Fatal("expected two data chunks before the failure")
	}

	errEnv, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if errEnv.Kind != KindStreamError {
		t.Fatalf("Kind = %s, want stream-error", errEnv.Kind)
	}
	derr, ok := errEnv.Payload.(*errspkg.Error)
	if !ok || derr.Code != errspkg.CodeUnavailable {
		t.Fatalf("payload = %v", errEnv.Payload)
	}

	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after stream-error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("source must not be pulled after the terminal envelope, calls = %d", calls)
	}
}

func TestStreamErrorNormalizesPlainError(t *testing.T) {
	t.Parallel()

	source := SourceFunc(func(ctx *Context) (Item, error) {
		return Item{}, errors.New("disk on fire")
	})

	origin := NewStreamStart("flaky", nil)
	s := newStream(origin, origin.Context, source)

	env, _ := s.Next()
	derr, ok := env.Payload.(*errspkg.Error)
	if !ok || derr.Code != errspkg.CodeInternalError {
		t.Fatalf("expected normalized INTERNAL_ERROR, got %v", env.Payload)
	}
}

func TestStreamCancellation(t *testing.T) {
	t.Parallel()

	source := SourceFunc(func(ctx *Context) (Item, error) {
		return Item{Payload: "tick"}, nil
	})

	origin := NewStreamStart("infinite", nil)
	s := newStream(origin, origin.Context, source)

	if env, _ := s.Next(); env.Kind != KindStreamData {
		t.Fatal("expected a chunk before cancellation")
	}

	s.Context().Cancel()

	env, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if env.Kind != KindStreamError {
		t.Fatalf("Kind = %s, want stream-error", env.Kind)
	}
	derr := env.Payload.(*errspkg.Error)
	if derr.Code != errspkg.CodeCancelled {
		t.Fatalf("Code = %s, want CANCELLED", derr.Code)
	}

	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after cancellation, got %v", err)
	}
}

type closableSource struct {
	items  []Item
	i      int
	closed int
}

func (c *closableSource) Next(ctx *Context) (Item, error) {
	if c.i >= len(c.items) {
		return Item{}, io.EOF
	}
	item := c.items[c.i]
	c.i++
	return item, nil
}

func (c *closableSource) Close() error {
	c.closed++
	return nil
}

func TestStreamClosesSource(t *testing.T) {
	t.Parallel()

	t.Run("on exhaustion", func(t *testing.T) {
		src := &closableSource{items: []Item{{Payload: 1}}}
		origin := NewStreamStart("closing", nil)
		s := newStream(origin, origin.Context, src)

		collectStream(t, s, 5)
		if src.closed != 1 {
			t.Fatalf("source closed %d times, want 1", src.closed)
		}
	})

	t.Run("on explicit close", func(t *testing.T) {
		src := &closableSource{items: []Item{{Payload: 1}, {Payload: 2}}}
		origin := NewStreamStart("closing", nil)
		s := newStream(origin, origin.Context, src)

		s.Close()
		s.Close()
		if src.closed != 1 {
			t.Fatalf("source closed %d times, want 1", src.closed)
		}
		if !s.Context().Cancelled() {
			t.Fatal("Close must cancel the stream context")
		}
		if _, err := s.Next(); err != io.EOF {
			t.Fatalf("expected io.EOF after Close, got %v", err)
		}
	})
}

func TestChunksSource(t *testing.T) {
	t.Parallel()

	src := Chunks(Item{Payload: "a"}, Item{Payload: "b"})
	if item, err := src.Next(nil); err != nil || item.Payload != "a" {
		t.Fatalf("first = %v, %v", item, err)
	}
	if item, err := src.Next(nil); err != nil || item.Payload != "b" {
		t.Fatalf("second = %v, %v", item, err)
	}
	if _, err := src.Next(nil); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	empty := Chunks()
	if _, err := empty.Next(nil); err != io.EOF {
		t.Fatalf("empty source must report io.EOF immediately, got %v", err)
	}
}
