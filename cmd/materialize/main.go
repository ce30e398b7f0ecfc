package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/health"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/log"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/manifest"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/materialize"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-materializer/internal/version"
)

const component = "materialize"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is main with exit codes: 0 on success, 1 on any failed entry or
// config error, 2 on bad flags.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	fset := flag.NewFlagSet(v.AppName, flag.ContinueOnError)
	fset.SetOutput(stderr)
	cfg.Register(fset, &conf)
	fset.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	if err := fset.Parse(args); err != nil {
		return 2
	}

	if showVersion {
		fmt.Fprintf(stdout,
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return 0
	}

	// env fills whatever was not passed on the command line
	cfg.FillFromEnv(fset, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return 1
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
		Writer:            stderr,
	})
	if err != nil {
		fmt.Fprintln(stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "starting",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"root", conf.Root,
		"manifest", conf.Manifest,
		"policy", conf.Policy,
		"concurrency", conf.Concurrency,
		"dry_run", conf.DryRun,
		"output_s3_bucket", conf.OutputS3Bucket,
		"manifest_ssm_param", conf.ManifestSSMParam,
		"manifest_s3_bucket", conf.ManifestS3Bucket,
		"manifest_s3_prefix", conf.ManifestS3Prefix,
		"watch", conf.Watch,
		"admin_addr", conf.AdminAddr,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(component, &vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": component,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without trace export")
	} else {
		defer func() { _ = shutdownOTEL(context.Background()) }()
	}

	// AWS is only touched when a bundle source or S3 output is configured
	var awsCfg *aws.Config
	if conf.UsesBundle() || conf.OutputS3Bucket != "" {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			return 1
		}
		awsCfg = &c
	}

	store, err := newStore(conf, awsCfg)
	if err != nil {
		L.Error(ctx, err, "failed to create output store")
		return 1
	}

	policy, _ := materialize.ParsePolicy(conf.Policy)
	mat, err := materialize.New(materialize.Options{
		Store:       store,
		Policy:      policy,
		Concurrency: conf.Concurrency,
		Logger:      L,
		Recorder:    m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create materializer")
		return 1
	}

	var loader *bundle.Loader
	if conf.UsesBundle() {
		loader, err = newBundleLoader(conf, *awsCfg, L)
		if err != nil {
			L.Error(ctx, err, "failed to create bundle loader")
			return 1
		}
	}

	apply := func(ctx context.Context, man *manifest.Manifest) error {
		m.SetManifest(string(man.Meta.Source), man.Meta.SHA256, man.Meta.LoadedAt)
		rep, err := mat.Materialize(ctx, conf.Root, man.Entries)
		if rep != nil {
			if perr := rep.Print(stdout); perr != nil {
				L.Warn(ctx, "failed to print report", "err", perr)
			}
		}
		if conf.MetricsTextfile != "" {
			if werr := m.WriteTextfile(conf.MetricsTextfile); werr != nil {
				L.Error(ctx, werr, "failed to write metrics textfile", "path", conf.MetricsTextfile)
			}
		}
		return err
	}

	man, err := loadManifest(ctx, conf, loader)
	if err != nil {
		L.Error(ctx, err, "failed to load manifest")
		if !conf.Watch {
			return 1
		}
	}

	var appliedHash string
	if man != nil {
		L.Info(ctx, "manifest loaded",
			"source", string(man.Meta.Source),
			"location", man.Meta.Location,
			"sha256", man.Meta.SHA256,
			"entries", man.Len(),
			"bytes", man.TotalBytes(),
		)
		if err := apply(ctx, man); err != nil {
			L.Error(ctx, err, "materialization failed")
			if !conf.Watch {
				return 1
			}
		} else {
			appliedHash = man.Meta.SHA256
		}
	}

	if !conf.Watch {
		return 0
	}

	// a failed startup apply leaves appliedHash empty so the first poll retries
	w, err := bundle.NewWatcher(bundle.WatcherOptions{
		Logger:         L,
		Loader:         loader,
		Apply:          apply,
		PollInterval:   conf.PollInterval,
		StaleThreshold: conf.StaleThreshold,
		Metrics:        m,
		InitialHash:    appliedHash,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create bundle watcher")
		return 1
	}

	gate := &health.ShutdownGate{}
	if conf.AdminAddr != "" {
		stopOps, addr, err := opshttp.Start(ctx, L, opshttp.Options{
			Addr:        conf.AdminAddr,
			Metrics:     m.Handler(),
			EnablePprof: conf.EnablePprof,
			Health:      gate.Probe(),
			Readiness:   health.All(gate.Probe(), w),
		})
		if err != nil {
			L.Error(ctx, err, "failed to start admin listener")
			return 1
		}
		L.Info(ctx, "admin listener started", "addr", addr.String())
		defer func() {
			if err := stopOps(context.Background()); err != nil {
				L.Warn(context.Background(), "admin listener shutdown", "err", err)
			}
		}()
	}

	code := 0
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		L.Error(ctx, err, "bundle watcher exited")
		code = 1
	}
	gate.Set("shutting down")
	L.Info(context.Background(), "shutdown complete")
	return code
}
