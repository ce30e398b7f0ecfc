package bundle

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/log"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/manifest"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

const (
	// DefaultPollInterval is how often the watcher checks SSM for a new hash.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive SSM errors.
	maxBackoff = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange   pollResult = iota // pointer matches what was last applied
	pollApplied                      // new bundle loaded and materialized
	pollSSMError                     // pointer fetch failed, caller backs off
	pollLoadError                    // download, verify or extract failed
	pollApplyError                   // materialization of the new manifest failed
)

// Fetcher is what the Watcher needs from a Loader.
type Fetcher interface {
	FetchCurrentHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*manifest.Manifest, error)
}

// ApplyFunc materializes a freshly loaded manifest. A non-nil error leaves
// the watcher on the previous hash so the next poll tries again.
type ApplyFunc func(ctx context.Context, m *manifest.Manifest) error

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	ObserveBundleLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type WatcherOptions struct {
	Logger       log.Logger
	Loader       Fetcher
	Apply        ApplyFunc
	PollInterval time.Duration
	Metrics      WatcherMetrics

	// InitialHash is the bundle already applied at startup, so the first
	// poll does not re-download it.
	InitialHash string

	// StaleThreshold is how long SSM may fail before the watcher reports
	// itself stale. Zero defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls the release pointer and re-applies the manifest when it
// changes. Run owns the poll state; CurrentHash and Check may be called
// from other goroutines.
type Watcher struct {
	loader   Fetcher
	apply    ApplyFunc
	logger   log.Logger
	interval time.Duration
	metrics  WatcherMetrics

	mu          sync.RWMutex // guards currentHash and staleLogged
	currentHash string

	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount  int64
	applyCount int64
}

func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Loader == nil {
		return nil, xerrors.New("watcher: loader is required")
	}
	if opts.Apply == nil {
		return nil, xerrors.New("watcher: apply func is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}
	return &Watcher{
		loader:         opts.Loader,
		apply:          opts.Apply,
		logger:         opts.Logger,
		interval:       interval,
		metrics:        opts.Metrics,
		currentHash:    opts.InitialHash,
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}, nil
}

// CurrentHash is the hash of the last applied bundle.
func (w *Watcher) CurrentHash() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentHash
}

// Check is a readiness probe: it fails until a bundle has been applied and
// while SSM has been unreachable past the stale threshold.
func (w *Watcher) Check(_ context.Context) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.currentHash == "" {
		return xerrors.New("no bundle applied yet")
	}
	if w.staleLogged {
		return xerrors.Newf("bundle %s is stale", truncHash(w.currentHash))
	}
	return nil
}

func (w *Watcher) setStale(stale bool) {
	w.mu.Lock()
	w.staleLogged = stale
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.SetWatcherStale(stale)
	}
}

// Run polls until ctx is canceled and returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "bundle watcher starting",
		"poll_interval", w.interval.String(),
		"current_hash", truncHash(w.CurrentHash()),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "bundle watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"applies", w.applyCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)
			w.afterPoll(ctx, result, ticker)
		}
	}
}

// afterPoll adjusts the cadence and staleness state after one poll.
func (w *Watcher) afterPoll(ctx context.Context, result pollResult, ticker *time.Ticker) {
	if result == pollSSMError {
		w.consecutiveErrs++
		backoff := w.backoffDuration()
		w.logger.Warn(ctx, "bundle watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", backoff.String(),
		)
		ticker.Reset(backoff)

		if time.Since(w.lastSuccessAt) > w.staleThreshold && !w.staleLogged {
			w.logger.Error(ctx, xerrors.Newf("last successful SSM poll was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
				"bundle watcher: manifest is stale, unable to verify freshness",
			)
			w.setStale(true)
		}
		return
	}

	if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "bundle watcher: recovered, resuming normal interval",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
		ticker.Reset(w.interval)
	}
	if w.staleLogged {
		w.logger.Info(ctx, "bundle watcher: staleness recovered")
		w.setStale(false)
	}
}

// checkOnce runs one poll-compare-apply cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	hash, err := w.loader.FetchCurrentHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "bundle watcher: SSM poll failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("ssm")
		}
		return pollSSMError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "bundle watcher: new bundle hash detected",
		"old_hash", truncHash(w.currentHash),
		"new_hash", truncHash(hash),
	)

	loadStart := time.Now()
	m, err := w.loader.LoadHash(ctx, hash)
	if w.metrics != nil {
		w.metrics.ObserveBundleLoadDuration(time.Since(loadStart).Seconds())
	}
	if err != nil {
		w.logger.Error(ctx, err, "bundle watcher: failed to load bundle", "hash", truncHash(hash))
		if w.metrics != nil {
			w.metrics.IncWatcherError("load")
		}
		return pollLoadError
	}

	if err := w.apply(ctx, m); err != nil {
		w.logger.Error(ctx, err, "bundle watcher: materialization failed, will retry",
			"hash", truncHash(hash),
			"applied_hash", truncHash(w.currentHash),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("apply")
		}
		return pollApplyError
	}

	w.mu.Lock()
	old := w.currentHash
	w.currentHash = hash
	w.mu.Unlock()
	w.applyCount++
	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}
	w.logger.Info(ctx, "bundle watcher: bundle applied",
		"old_hash", truncHash(old),
		"new_hash", truncHash(hash),
		"entries", m.Len(),
		"total_applies", w.applyCount,
	)
	return pollApplied
}

// backoffDuration is interval * 2^consecutiveErrs, capped at maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := time.Duration(float64(w.interval) * math.Pow(2, float64(w.consecutiveErrs)))
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
