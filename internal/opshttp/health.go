package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/health"
)

// probeHandler answers 200 with okBody when p passes (or is nil) and 503
// with the failure reason otherwise.
func probeHandler(p health.Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}
}
