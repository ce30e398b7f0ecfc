package opshttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/health"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func serve(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func TestRouter_Probes(t *testing.T) {
	failing := health.CheckFunc(func(context.Context) error { return errors.New("manifest is stale") })

	tests := []struct {
		name     string
		opts     Options
		path     string
		wantCode int
		wantBody string
	}{
		{"healthy nil probe", Options{}, "/-/healthy", http.StatusOK, "ok"},
		{"ready nil probe", Options{}, "/-/ready", http.StatusOK, "ready"},
		{"ready failing", Options{Readiness: failing}, "/-/ready", http.StatusServiceUnavailable, "manifest is stale"},
		{"healthy failing", Options{Health: failing}, "/-/healthy", http.StatusServiceUnavailable, "manifest is stale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serve(t, Router(tt.opts), tt.path)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(body, tt.wantBody) {
				t.Fatalf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "materialize_runs_total 1\n")
	})
	code, body := serve(t, Router(Options{Metrics: metrics}), "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "materialize_runs_total") {
		t.Fatalf("status = %d body = %q", code, body)
	}

	code, _ = serve(t, Router(Options{}), "/metrics")
	if code != http.StatusNotFound {
		t.Fatalf("metrics without handler: status = %d, want 404", code)
	}
}

func TestRouter_Pprof(t *testing.T) {
	code, _ := serve(t, Router(Options{}), "/debug/pprof/")
	if code != http.StatusNotFound {
		t.Fatalf("pprof disabled: status = %d, want 404", code)
	}
	code, body := serve(t, Router(Options{EnablePprof: true}), "/debug/pprof/")
	if code != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("pprof enabled: status = %d", code)
	}
}

func TestStart_ServesAndStops(t *testing.T) {
	stop, addr, err := Start(t.Context(), log.Nop(), Options{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr.String() + "/-/healthy")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}

	if err := stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStart_Errors(t *testing.T) {
	if _, _, err := Start(t.Context(), log.Nop(), Options{}); err == nil {
		t.Fatal("expected error for empty address")
	}
	if _, _, err := Start(t.Context(), log.Nop(), Options{Addr: "not-an-addr"}); err == nil {
		t.Fatal("expected error for bad address")
	}
}
