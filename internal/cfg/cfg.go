package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/log"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/materialize"
)

// EnvPrefix is prepended to upper-cased flag names by FillFromEnv.
const EnvPrefix = "LMMAT_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// run
	Root        string
	Manifest    string
	Policy      string
	Concurrency int
	DryRun      bool

	// output to S3 instead of disk
	OutputS3Bucket string
	S3PutRate      float64

	// manifest bundle source
	ManifestSSMParam      string
	ManifestS3Bucket      string
	ManifestS3Prefix      string
	ManifestSigningKeyARN string

	Watch          bool
	PollInterval   time.Duration
	StaleThreshold time.Duration

	// admin listener (watch mode only)
	AdminAddr   string
	EnablePprof bool

	MetricsTextfile string

	EnableTracing   bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.StringVar(&c.Root, "root", ".", "output root directory (or key prefix with -output-s3-bucket)")
	fs.StringVar(&c.Manifest, "manifest", "", "manifest file (yaml/json) or directory; empty uses the embedded seed")
	fs.StringVar(&c.Policy, "policy", "fail-fast", "failure policy: fail-fast|best-effort")
	fs.IntVar(&c.Concurrency, "concurrency", 1, "entries written at once (1..256)")
	fs.BoolVar(&c.DryRun, "dry-run", false, "materialize into memory and report without touching disk")

	fs.StringVar(&c.OutputS3Bucket, "output-s3-bucket", "", "write entries as objects to this S3 bucket instead of disk")
	fs.Float64Var(&c.S3PutRate, "s3-put-rate", 0, "max S3 PutObject calls per second (0 = unlimited)")

	fs.StringVar(&c.ManifestSSMParam, "manifest-ssm-param", "", "ssm parameter holding the manifest bundle sha256; enables the bundle source")
	fs.StringVar(&c.ManifestS3Bucket, "manifest-s3-bucket", "", "s3 bucket holding manifest bundles")
	fs.StringVar(&c.ManifestS3Prefix, "manifest-s3-prefix", "", "s3 prefix (key) of manifest bundles")
	fs.StringVar(&c.ManifestSigningKeyARN, "manifest-signing-key-arn", "", "KMS key ARN for manifest bundle signature verification")

	fs.BoolVar(&c.Watch, "watch", false, "keep running and re-materialize when the bundle pointer changes")
	fs.DurationVar(&c.PollInterval, "poll-interval", 30*time.Second, "bundle pointer poll interval in watch mode")
	fs.DurationVar(&c.StaleThreshold, "stale-threshold", 30*time.Minute, "report stale after failing to poll this long")

	fs.StringVar(&c.AdminAddr, "admin-addr", "", "listen address for /metrics, /-/healthy and /-/ready in watch mode (empty = disabled)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "serve /debug/pprof on the admin listener")

	fs.StringVar(&c.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file after every run")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "plaintext gRPC to the OTLP endpoint")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server (watch mode)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// UsesBundle reports whether the manifest comes from an S3 bundle.
func (c App) UsesBundle() bool {
	return c.ManifestSSMParam != ""
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// Run
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("ROOT must not be empty"))
	}
	if _, err := materialize.ParsePolicy(c.Policy); err != nil {
		errs = append(errs, fmt.Errorf("invalid POLICY: %w", err))
	}
	if c.Concurrency < 1 || c.Concurrency > 256 {
		errs = append(errs, fmt.Errorf("CONCURRENCY must be 1..256 (got %d)", c.Concurrency))
	}

	// Output
	if c.DryRun && c.OutputS3Bucket != "" {
		errs = append(errs, errors.New("DRY_RUN and OUTPUT_S3_BUCKET are mutually exclusive"))
	}
	if c.S3PutRate < 0 {
		errs = append(errs, fmt.Errorf("S3_PUT_RATE must be >= 0 (got %v)", c.S3PutRate))
	}

	// Manifest source
	if c.UsesBundle() {
		if c.Manifest != "" {
			errs = append(errs, errors.New("MANIFEST and MANIFEST_SSM_PARAM are mutually exclusive"))
		}
		if c.ManifestS3Bucket == "" {
			errs = append(errs, errors.New("MANIFEST_S3_BUCKET is required with MANIFEST_SSM_PARAM"))
		}
	}
	if c.ManifestSigningKeyARN != "" {
		if !c.UsesBundle() {
			errs = append(errs, errors.New("MANIFEST_SIGNING_KEY_ARN requires MANIFEST_SSM_PARAM"))
		}
		if !strings.HasPrefix(c.ManifestSigningKeyARN, "arn:") {
			errs = append(errs, fmt.Errorf("MANIFEST_SIGNING_KEY_ARN must be an ARN (got %q)", c.ManifestSigningKeyARN))
		}
	}

	// Watch
	if c.Watch {
		if !c.UsesBundle() {
			errs = append(errs, errors.New("WATCH requires MANIFEST_SSM_PARAM"))
		}
		if c.PollInterval < time.Second {
			errs = append(errs, fmt.Errorf("POLL_INTERVAL must be at least 1s (got %s)", c.PollInterval))
		}
		if c.StaleThreshold < c.PollInterval {
			errs = append(errs, fmt.Errorf("STALE_THRESHOLD %s must not be shorter than POLL_INTERVAL %s", c.StaleThreshold, c.PollInterval))
		}
	}

	// Admin listener
	if c.AdminAddr != "" {
		if !c.Watch {
			errs = append(errs, errors.New("ADMIN_ADDR requires WATCH"))
		}
		if err := checkHostPort(c.AdminAddr); err != nil {
			errs = append(errs, fmt.Errorf("ADMIN_ADDR must be host:port (got %q): %w", c.AdminAddr, err))
		}
	}
	if c.EnablePprof && c.AdminAddr == "" {
		errs = append(errs, errors.New("ENABLE_PPROF requires ADMIN_ADDR"))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if err := checkHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %w", c.OTLPEndpoint, err))
		}
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, errors.New("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
	}

	return errors.Join(errs...)
}

// checkHostPort accepts "host:port" and ":port" with a numeric port. A URL
// like "http://collector" splits cleanly at the scheme colon, so it is
// rejected before splitting.
func checkHostPort(addr string) error {
	if strings.Contains(addr, "://") {
		return errors.New("no scheme allowed")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("port %q is not a number in 0..65535", port)
	}
	return nil
}
