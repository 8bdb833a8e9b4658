package dispatch

import (
	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	metadatapkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/metadata"
)

// ProcedureRegistration wires a request/response handler.
type ProcedureRegistration struct {
	Name         string
	Handler      ProcedureFunc
	Interceptors []Interceptor
	Metadata     metadatapkg.Metadata

	// Replace takes the hot-reload path: the descriptor is swapped in
	// atomically even when the name is already registered.
	Replace bool
}

// StreamRegistration wires a server-stream handler.
type StreamRegistration struct {
	Name         string
	Handler      StreamFunc
	Interceptors []Interceptor
	Metadata     metadatapkg.Metadata
	Replace      bool
}

// EventRegistration wires a fire-and-forget event handler with its delivery
// policy.
type EventRegistration struct {
	Name         string
	Handler      EventFunc
	Interceptors []Interceptor
	Delivery     DeliveryOptions
	Metadata     metadatapkg.Metadata
	Replace      bool
}

// RegisterProcedure attaches the provided request/response handler to the
// router.
func RegisterProcedure(r *Router, cfg ProcedureRegistration) error {
	if r == nil {
		return errspkg.ErrRouterRequired
	}
	return r.register(&Descriptor{
		Name:         cfg.Name,
		Kind:         HandlerProcedure,
		Procedure:    cfg.Handler,
		Interceptors: cfg.Interceptors,
		Metadata:     cfg.Metadata,
	}, cfg.Replace)
}

// RegisterStream attaches the provided stream handler to the router.
func RegisterStream(r *Router, cfg StreamRegistration) error {
	if r == nil {
		return errspkg.ErrRouterRequired
	}
	return r.register(&Descriptor{
		Name:         cfg.Name,
		Kind:         HandlerStream,
		Stream:       cfg.Handler,
		Interceptors: cfg.Interceptors,
		Metadata:     cfg.Metadata,
	}, cfg.Replace)
}

// RegisterEvent attaches the provided event handler to the router.
func RegisterEvent(r *Router, cfg EventRegistration) error {
	if r == nil {
		return errspkg.ErrRouterRequired
	}
	return r.register(&Descriptor{
		Name:         cfg.Name,
		Kind:         HandlerEvent,
		Event:        cfg.Handler,
		Interceptors: cfg.Interceptors,
		Delivery:     cfg.Delivery,
		Metadata:     cfg.Metadata,
	}, cfg.Replace)
}
