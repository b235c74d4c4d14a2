package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	handler http.Handler
}

// newHarness serves a small mux through the middleware. Tests that use it
// replace the global tracer provider and must not run in parallel.
func newHarness(t *testing.T) *harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		_ = tp.Shutdown(context.Background())
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
	})
	mux.HandleFunc("POST /session/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	return &harness{metrics: m, reader: reader, spans: spans, handler: Middleware(m)(mux)}
}

func (h *harness) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func attr(kvs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range kvs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h := newHarness(t)

	rec := h.do("GET", "/session", nil)
	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want a 32 hex digit trace id", cid)
	}
	if seen := rec.Header().Get("X-Seen-Correlation"); seen != cid {
		t.Errorf("handler saw correlation id %q, response carries %q", seen, cid)
	}

	const incoming = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec = h.do("GET", "/session", http.Header{"Traceparent": {"00-" + incoming + "-00f067aa0ba902b7-01"}})
	if got := rec.Header().Get("X-Correlation-ID"); got != incoming {
		t.Errorf("X-Correlation-ID = %q, want the caller's trace id %q", got, incoming)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	h := newHarness(t)

	h.do("POST", "/session/start", nil)
	h.do("GET", "/no/such/thing", nil)

	got := h.spans.GetSpans()
	if len(got) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(got))
	}
	tests := []struct {
		name   string
		route  string
		status int64
	}{
		{name: "HTTP POST /session/start", route: "POST /session/start", status: http.StatusConflict},
		{name: "HTTP unmatched", route: "unmatched", status: http.StatusNotFound},
	}
	for i, tt := range tests {
		s := got[i]
		if s.Name != tt.name {
			t.Errorf("span %d name = %q, want %q", i, s.Name, tt.name)
		}
		if v, ok := attr(s.Attributes, "http.route"); !ok || v.AsString() != tt.route {
			t.Errorf("span %d http.route = %v, want %q", i, v.Emit(), tt.route)
		}
		if v, ok := attr(s.Attributes, "http.response.status_code"); !ok || v.AsInt64() != tt.status {
			t.Errorf("span %d status = %v, want %d", i, v.Emit(), tt.status)
		}
	}
}

func TestMiddleware_DurationLabelledByRoute(t *testing.T) {
	h := newHarness(t)

	h.do("GET", "/session", nil)
	h.do("GET", "/session", nil)
	h.do("GET", "/random-1", nil)
	h.do("GET", "/random-2", nil)

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxbridge.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want a histogram", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		counts[route.AsString()] += dp.Count
	}
	if counts["GET /session"] != 2 || counts["unmatched"] != 2 || len(counts) != 2 {
		t.Errorf("samples per route = %v, want 2 for GET /session and 2 unmatched", counts)
	}
}

func TestMiddleware_WrappedWriter(t *testing.T) {
	m, err := NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	rec := httptest.NewRecorder()

	var unwrapped http.ResponseWriter
	var hijackErr error
	Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
			unwrapped = u.Unwrap()
		}
		_, _, hijackErr = w.(http.Hijacker).Hijack()
	})).ServeHTTP(rec, httptest.NewRequest("GET", "/audio", nil))

	if unwrapped != rec {
		t.Error("Unwrap did not return the wrapped writer")
	}
	if hijackErr == nil {
		t.Error("Hijack on a non-hijackable writer should fail")
	}
}
