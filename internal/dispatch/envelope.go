package dispatch

import (
	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	idspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/ids"
	metadatapkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/metadata"
)

// Kind classifies an envelope. Inbound kinds select the handler family;
// outbound kinds shape the adapter's response frames.
type Kind string

const (
	KindRequest     Kind = "request"
	KindStreamStart Kind = "stream-start"
	KindStreamData  Kind = "stream-data"
	KindStreamEnd   Kind = "stream-end"
	KindStreamError Kind = "stream-error"
	KindEvent       Kind = "event"
	KindResponse    Kind = "response"
	KindError       Kind = "error"
)

// handlerKind maps an inbound envelope kind to the handler family allowed to
// serve it. Outbound kinds have no handler family.
func (k Kind) handlerKind() (HandlerKind, bool) {
	switch k {
	case KindRequest:
		return HandlerProcedure, true
	case KindStreamStart:
		return HandlerStream, true
	case KindEvent:
		return HandlerEvent, true
	default:
		return "", false
	}
}

// Envelope is the protocol-neutral unit exchanged between an adapter and the
// router. The core never inspects Payload beyond passing it through.
type Envelope struct {
	// ID correlates every envelope belonging to one logical call. Stream
	// chunks reuse the id of their originating stream-start envelope.
	ID string

	// Procedure is the qualified handler name, opaque beyond exact-match
	// lookup.
	Procedure string

	Kind     Kind
	Payload  any
	Metadata metadatapkg.Metadata

	// Context carries the per-call execution state. Adapters own its
	// construction; Handle synthesizes one from ID when left nil.
	Context *Context
}

// NewRequest builds a request envelope with a fresh ULID id and context.
func NewRequest(procedure string, payload any) *Envelope {
	return newInbound(KindRequest, procedure, payload)
}

// NewStreamStart builds a stream-start envelope with a fresh ULID id and context.
func NewStreamStart(procedure string, payload any) *Envelope {
	return newInbound(KindStreamStart, procedure, payload)
}

// NewEvent builds an event envelope with a fresh ULID id and context.
func NewEvent(procedure string, payload any) *Envelope {
	return newInbound(KindEvent, procedure, payload)
}

func newInbound(kind Kind, procedure string, payload any) *Envelope {
	id := idspkg.CreateULID()
	return &Envelope{
		ID:        id,
		Procedure: procedure,
		Kind:      kind,
		Payload:   payload,
		Metadata:  metadatapkg.Metadata{},
		Context:   NewContext(id),
	}
}

// Err returns the normalized error carried by an error-kind envelope, or nil
// for any other kind.
func (e *Envelope) Err() *errspkg.Error {
	if e == nil || e.Kind != KindError {
		return nil
	}
	if derr, ok := e.Payload.(*errspkg.Error); ok {
		return derr
	}
	return nil
}

func responseEnvelope(origin *Envelope, payload any) *Envelope {
	return &Envelope{
		ID:        origin.ID,
		Procedure: origin.Procedure,
		Kind:      KindResponse,
		Payload:   payload,
		Metadata:  metadatapkg.Metadata{},
		Context:   origin.Context,
	}
}

func errorEnvelope(origin *Envelope, derr *errspkg.Error) *Envelope {
	return &Envelope{
		ID:        origin.ID,
		Procedure: origin.Procedure,
		Kind:      KindError,
		Payload:   derr,
		Metadata:  metadatapkg.Metadata{},
		Context:   origin.Context,
	}
}
