package health

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestAll(t *testing.T) {
	ok := CheckFunc(func(context.Context) error { return nil })
	first := errors.New("first")
	second := errors.New("second")

	tests := []struct {
		name   string
		probes []Probe
		want   error
	}{
		{"empty", nil, nil},
		{"all pass", []Probe{ok, ok}, nil},
		{"nil skipped", []Probe{nil, ok}, nil},
		{"first failure wins", []Probe{ok, CheckFunc(func(context.Context) error { return first }), CheckFunc(func(context.Context) error { return second })}, first},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := All(tt.probes...).Check(t.Context()); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	if err := p.Check(t.Context()); err != nil {
		t.Fatalf("fresh gate should pass, got %v", err)
	}

	g.Set("")
	err := p.Check(t.Context())
	if err == nil || err.Error() != "draining" {
		t.Fatalf("err = %v, want draining", err)
	}

	g.Set("shutting down")
	if err := p.Check(t.Context()); err == nil || err.Error() != "shutting down" {
		t.Fatalf("err = %v, want reason", err)
	}
}

func TestShutdownGate_Concurrent(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				g.Set("stop")
			}
			_ = p.Check(context.Background())
		}()
	}
	wg.Wait()
	if err := p.Check(t.Context()); err == nil {
		t.Fatal("gate should be draining")
	}
}
