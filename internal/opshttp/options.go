package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/health"
)

type Options struct {
	// Addr is the listen address, e.g. ":9000" or "127.0.0.1:0".
	Addr        string
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
}
