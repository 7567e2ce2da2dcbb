package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName scopes spans emitted by the lifecycle engine.
const TracerName = "github.com/spec-kit/ticket-lifecycle"

// Tracer returns the tracer from the global provider. Without an SDK
// installed the spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
