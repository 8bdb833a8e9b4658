package dispatch

import (
	"encoding/json"
	"reflect"

	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	jsoncodecpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/jsoncodec"
)

// JSONProcedureRegistration wires a typed JSON procedure to the router. The
// input type T must be a pointer to a struct; payloads arriving as raw bytes
// are decoded into a fresh T before the handler runs.
type JSONProcedureRegistration[T any, O any] struct {
	Name         string
	Handler      JSONProcedureHandler[T, O]
	Interceptors []Interceptor
	Replace      bool
}

// JSONProcedureHandler processes a decoded JSON payload and returns the
// response value.
type JSONProcedureHandler[T any, O any] func(ctx *Context, payload T) (O, error)

// RegisterJSONProcedure converts the typed handler into a ProcedureFunc and
// registers it. Envelope payloads may be []byte or json.RawMessage holding
// encoded JSON, or an already-decoded T.
func RegisterJSONProcedure[T any, O any](r *Router, cfg JSONProcedureRegistration[T, O]) error {
	if r == nil {
		return errspkg.ErrRouterRequired
	}
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}

	prototype, err := jsonPrototypeFactory[T]()
	if err != nil {
		return err
	}

	procedure := func(ctx *Context, env *Envelope) (any, error) {
		typed, err := decodePayload(env.Payload, prototype)
		if err != nil {
			return nil, err
		}
		return cfg.Handler(ctx, typed)
	}

	return RegisterProcedure(r, ProcedureRegistration{
		Name:         cfg.Name,
		Handler:      procedure,
		Interceptors: cfg.Interceptors,
		Replace:      cfg.Replace,
	})
}

func decodePayload[T any](payload any, prototype func() T) (T, error) {
	switch p := payload.(type) {
	case T:
		return p, nil
	case []byte:
		return decodeJSONBytes(p, prototype)
	case json.RawMessage:
		return decodeJSONBytes(p, prototype)
	default:
		var zero T
		return zero, errspkg.Newf(errspkg.CodeInvalidType, "unsupported payload type %T", payload)
	}
}

func decodeJSONBytes[T any](raw []byte, prototype func() T) (T, error) {
	typed := prototype()
	if err := jsoncodecpkg.Unmarshal(raw, typed); err != nil {
		var zero T
		return zero, errspkg.Wrap(errspkg.CodeParseError, "failed to decode JSON payload", err)
	}
	return typed, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPayloadPointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}
