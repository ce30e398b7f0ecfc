// Package prof runs continuous profiling with Pyroscope. It only matters for
// long-lived processes (watch mode); one-shot runs leave it disabled.
package prof

import (
	"context"
	"maps"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/log"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/version"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

type Options struct {
	Enabled              bool
	AppName              string
	ServerAddress        string
	AuthToken            string
	TenantID             string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// config turns Options into a pyroscope.Config, filling the app name and a
// version tag when unset.
func (o Options) config() (pyroscope.Config, error) {
	if o.ServerAddress == "" {
		return pyroscope.Config{}, xerrors.Newf("invalid server address (%q)", o.ServerAddress)
	}
	if o.ProfileMutexFraction < 0 || o.BlockProfileRate < 0 {
		return pyroscope.Config{}, xerrors.Newf("negative profile rate (mutex=%d block=%d)", o.ProfileMutexFraction, o.BlockProfileRate)
	}
	app := o.AppName
	if app == "" {
		app = version.AppName
	}
	tags := map[string]string{"version": version.Version}
	maps.Copy(tags, o.Tags)

	return pyroscope.Config{
		ApplicationName:   app,
		ServerAddress:     o.ServerAddress,
		BasicAuthPassword: o.AuthToken,
		TenantID:          o.TenantID,
		Tags:              tags,
		ProfileTypes:      profileTypes,
	}, nil
}

// Start begins profiling and returns the function that stops it. The stop
// function is never nil.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)

	if !opts.Enabled {
		L.Debug(ctx, "pyroscope disabled")
		return func() {}, nil
	}

	cfg, err := opts.config()
	if err != nil {
		L.Error(ctx, err, "pyroscope options")
		return func() {}, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		err = xerrors.Wrap(err, "start pyroscope")
		L.Error(ctx, err, "pyroscope start failed",
			"server_address", cfg.ServerAddress,
			"app_name", cfg.ApplicationName,
		)
		return func() {}, err
	}

	L.Info(ctx, "pyroscope started",
		"server_address", cfg.ServerAddress,
		"app_name", cfg.ApplicationName,
	)

	return func() {
		if err := profiler.Stop(); err != nil {
			L.Warn(context.Background(), "pyroscope stop failed", "err", err)
			return
		}
		L.Info(context.Background(), "pyroscope stopped", "app_name", cfg.ApplicationName)
	}, nil
}
