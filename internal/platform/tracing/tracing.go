package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer define el tracer global del servicio.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// Setup instala un TracerProvider del SDK y devuelve su shutdown. Sin
// exporter configurado los spans solo propagan contexto (trace_id en logs).
func Setup(serviceName string) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	SetTracer(tp.Tracer(serviceName))
	return tp.Shutdown
}

// StartSpan abre un span hijo. Sin tracer configurado devuelve un span no-op
// (nunca el span padre, para que End() no lo cierre).
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return tracer.Start(ctx, spanName)
}

// TraceID del span activo ("" si no hay).
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Middleware abre un span por request y expone el trace id en X-Trace-ID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := StartSpan(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		if id := TraceID(ctx); id != "" {
			w.Header().Set("X-Trace-ID", id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
