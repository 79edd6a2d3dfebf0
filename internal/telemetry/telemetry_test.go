package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_Prometheus(t *testing.T) {
	ctx := context.Background()
	tel, err := Init(ctx, Config{Exporter: ExporterPrometheus, ServiceName: "linkgraph-test", ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	counter, err := otel.Meter("telemetry_test").Int64Counter("linkgraph_test_events")
	if err != nil {
		t.Fatal(err)
	}
	counter.Add(ctx, 3)

	if tel.Handler() == nil {
		t.Fatal("prometheus exporter should expose a handler")
	}
	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "linkgraph_test_events") {
		t.Errorf("counter missing from scrape output:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("runtime collectors missing from scrape output")
	}
}

func TestInit_None(t *testing.T) {
	for _, exp := range []string{"", ExporterNone} {
		tel, err := Init(context.Background(), Config{Exporter: exp})
		if err != nil {
			t.Fatalf("Init(%q): %v", exp, err)
		}
		if tel.Handler() != nil {
			t.Errorf("Init(%q): handler should be nil", exp)
		}
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error")
	}
}
