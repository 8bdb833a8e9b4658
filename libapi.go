package raffel

import (
	dispatchpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch"
	configpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/config"
	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	idspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/ids"
	jsoncodec "github.com/forattini-dev/raffel-sub000/internal/dispatch/jsoncodec"
	loggingpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/logging"
	metadatapkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/metadata"
	transportpkg "github.com/forattini-dev/raffel-sub000/transport"
)

type (
	Config              = configpkg.Config
	Service             = dispatchpkg.Service
	ServiceDependencies = dispatchpkg.ServiceDependencies

	Envelope = dispatchpkg.Envelope
	Kind     = dispatchpkg.Kind
	Context  = dispatchpkg.Context
	Result   = dispatchpkg.Result

	Router             = dispatchpkg.Router
	RouterDependencies = dispatchpkg.RouterDependencies
	Registry           = dispatchpkg.Registry
	Descriptor         = dispatchpkg.Descriptor
	HandlerKind        = dispatchpkg.HandlerKind

	ProcedureFunc         = dispatchpkg.ProcedureFunc
	StreamFunc            = dispatchpkg.StreamFunc
	EventFunc             = dispatchpkg.EventFunc
	ProcedureRegistration = dispatchpkg.ProcedureRegistration
	StreamRegistration    = dispatchpkg.StreamRegistration
	EventRegistration     = dispatchpkg.EventRegistration

	JSONProcedureRegistration[T any, O any] = dispatchpkg.JSONProcedureRegistration[T, O]
	JSONProcedureHandler[T any, O any]      = dispatchpkg.JSONProcedureHandler[T, O]

	Interceptor             = dispatchpkg.Interceptor
	Next                    = dispatchpkg.Next
	InterceptorBuilder      = dispatchpkg.InterceptorBuilder
	InterceptorRegistration = dispatchpkg.InterceptorRegistration
	PayloadValidator        = dispatchpkg.PayloadValidator

	Source     = dispatchpkg.Source
	SourceFunc = dispatchpkg.SourceFunc
	Item       = dispatchpkg.Item
	Stream     = dispatchpkg.Stream

	DeliveryPolicy  = dispatchpkg.DeliveryPolicy
	DeliveryOptions = dispatchpkg.DeliveryOptions
	RetryPolicy     = dispatchpkg.RetryPolicy

	FailureReporter     = dispatchpkg.FailureReporter
	FailureReporterFunc = dispatchpkg.FailureReporterFunc

	HandlerInfo       = dispatchpkg.HandlerInfo
	HandlerStats      = dispatchpkg.HandlerStats
	LatencyMetrics    = dispatchpkg.LatencyMetrics
	ThroughputMetrics = dispatchpkg.ThroughputMetrics

	Error = errspkg.Error
	Code  = errspkg.Code

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ContextOption       = dispatchpkg.ContextOption
	ExtensionKey[T any] = dispatchpkg.ExtensionKey[T]

	// Modular transport types. Import individual transports via
	// blank imports, e.g. _ "github.com/forattini-dev/raffel-sub000/transport/channel".
	Transport         = transportpkg.Transport
	TransportBuilder  = transportpkg.Builder
	TransportConfig   = transportpkg.Config
	TransportRegistry = transportpkg.Registry
)

// Envelope kinds. Inbound kinds select the handler family that may serve
// them; outbound kinds are produced by the router for adapters to frame.
const (
	KindRequest     = dispatchpkg.KindRequest
	KindStreamStart = dispatchpkg.KindStreamStart
	KindStreamData  = dispatchpkg.KindStreamData
	KindStreamEnd   = dispatchpkg.KindStreamEnd
	KindStreamError = dispatchpkg.KindStreamError
	KindEvent       = dispatchpkg.KindEvent
	KindResponse    = dispatchpkg.KindResponse
	KindError       = dispatchpkg.KindError
)

// Handler families.
const (
	HandlerProcedure = dispatchpkg.HandlerProcedure
	HandlerStream    = dispatchpkg.HandlerStream
	HandlerEvent     = dispatchpkg.HandlerEvent
)

// Delivery policies for event handlers.
const (
	DeliveryBestEffort  = dispatchpkg.DeliveryBestEffort
	DeliveryAtLeastOnce = dispatchpkg.DeliveryAtLeastOnce
	DeliveryAtMostOnce  = dispatchpkg.DeliveryAtMostOnce
)

// Error taxonomy codes. Adapters translate codes into their protocol's native
// error representation; StatusFor yields the protocol-neutral status.
const (
	CodeNotFound              = errspkg.CodeNotFound
	CodeValidationError       = errspkg.CodeValidationError
	CodeInvalidArgument       = errspkg.CodeInvalidArgument
	CodeInvalidType           = errspkg.CodeInvalidType
	CodeInvalidEnvelope       = errspkg.CodeInvalidEnvelope
	CodeParseError            = errspkg.CodeParseError
	CodeUnauthenticated       = errspkg.CodeUnauthenticated
	CodePermissionDenied      = errspkg.CodePermissionDenied
	CodeRateLimited           = errspkg.CodeRateLimited
	CodeResourceExhausted     = errspkg.CodeResourceExhausted
	CodeAlreadyExists         = errspkg.CodeAlreadyExists
	CodeFailedPrecondition    = errspkg.CodeFailedPrecondition
	CodeUnprocessableEntity   = errspkg.CodeUnprocessableEntity
	CodePayloadTooLarge       = errspkg.CodePayloadTooLarge
	CodeMessageTooLarge       = errspkg.CodeMessageTooLarge
	CodeUnsupportedMediaType  = errspkg.CodeUnsupportedMediaType
	CodeNotAcceptable         = errspkg.CodeNotAcceptable
	CodeDeadlineExceeded      = errspkg.CodeDeadlineExceeded
	CodeUnavailable           = errspkg.CodeUnavailable
	CodeBadGateway            = errspkg.CodeBadGateway
	CodeGatewayTimeout        = errspkg.CodeGatewayTimeout
	CodeCancelled             = errspkg.CodeCancelled
	CodeDataLoss              = errspkg.CodeDataLoss
	CodeOutputValidationError = errspkg.CodeOutputValidationError
	CodeUnimplemented         = errspkg.CodeUnimplemented
	CodeInternalError         = errspkg.CodeInternalError
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = dispatchpkg.MetadataKeyCorrelationID
	MetadataKeyProcedure     = dispatchpkg.MetadataKeyProcedure
	MetadataKeyStreamEvent   = dispatchpkg.MetadataKeyStreamEvent
)

var (
	NewService     = dispatchpkg.NewService
	NewRouter      = dispatchpkg.NewRouter
	NewRegistry    = dispatchpkg.NewRegistry
	ConfigFromEnv  = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	NewRequest     = dispatchpkg.NewRequest
	NewStreamStart = dispatchpkg.NewStreamStart
	NewEvent       = dispatchpkg.NewEvent

	NewContext         = dispatchpkg.NewContext
	WithParent         = dispatchpkg.WithParent
	WithDeadline       = dispatchpkg.WithDeadline
	WithAuthentication = dispatchpkg.WithAuthentication

	RegisterProcedure = dispatchpkg.RegisterProcedure
	RegisterStream    = dispatchpkg.RegisterStream
	RegisterEvent     = dispatchpkg.RegisterEvent

	Chunks = dispatchpkg.Chunks

	DefaultInterceptors      = dispatchpkg.DefaultInterceptors
	CorrelationIDInterceptor = dispatchpkg.CorrelationIDInterceptor
	LogCallsInterceptor      = dispatchpkg.LogCallsInterceptor
	ValidationInterceptor    = dispatchpkg.ValidationInterceptor
	DeadlineInterceptor      = dispatchpkg.DeadlineInterceptor
	TracerInterceptor        = dispatchpkg.TracerInterceptor
	MetricsInterceptor       = dispatchpkg.MetricsInterceptor
	RecovererInterceptor     = dispatchpkg.RecovererInterceptor

	NewError      = errspkg.New
	NewErrorf     = errspkg.Newf
	WrapError     = errspkg.Wrap
	Normalize     = errspkg.Normalize
	StatusFor     = errspkg.StatusFor
	IsOperational = errspkg.IsOperational

	ErrRouterRequired       = errspkg.ErrRouterRequired
	ErrRegistryRequired     = errspkg.ErrRegistryRequired
	ErrEnvelopeRequired     = errspkg.ErrEnvelopeRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrHandlerKindInvalid   = errspkg.ErrHandlerKindInvalid
	ErrRegistryClosed       = errspkg.ErrRegistryClosed
	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrPayloadTypeRequired  = errspkg.ErrPayloadTypeRequired
	ErrPayloadPointerNeeded = errspkg.ErrPayloadPointerNeeded

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.Nop

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID

	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
)

func RegisterJSONProcedure[T any, O any](r *Router, cfg JSONProcedureRegistration[T, O]) error {
	return dispatchpkg.RegisterJSONProcedure(r, cfg)
}

func NewExtensionKey[T any](name string) *ExtensionKey[T] {
	return dispatchpkg.NewExtensionKey[T](name)
}

// WithExtension derives a call context carrying a typed extension value.
func WithExtension[T any](ctx *Context, key *ExtensionKey[T], value T) *Context {
	return dispatchpkg.WithExtension(ctx, key, value)
}

// Extension reads a typed extension value from the context or any ancestor.
func Extension[T any](ctx *Context, key *ExtensionKey[T]) (T, bool) {
	return dispatchpkg.Extension(ctx, key)
}
