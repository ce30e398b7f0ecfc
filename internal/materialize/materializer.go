// Package materialize writes a manifest of path→content entries under an
// output root through a Store, creating parent directories as needed, and
// reports which entries were written.
//
// A run is a one-shot batch: each entry is resolved against the root (and
// rejected if it would escape it), its parent directory is ensured, and its
// content replaces whatever was at the path. Re-running with the same
// manifest produces the same files.
package materialize

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/log"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/manifest"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

const tracerName = "github.com/keithlinneman/linnemanlabs-materializer/internal/materialize"

// Store is where entries are written. Names are slash-separated and already
// joined with the root.
type Store interface {
	// EnsureDir creates dir and its parents; an existing directory is not an error.
	EnsureDir(ctx context.Context, dir string) error
	// WriteFile replaces name with data in full.
	WriteFile(ctx context.Context, name string, data []byte) error
}

// Recorder receives run outcomes. Implemented by the metrics package.
type Recorder interface {
	EntryWritten(bytes int)
	EntryFailed(kind string)
	RunFinished(d time.Duration, written, failed int)
}

// Options configures a Materializer. Store is required.
type Options struct {
	Store  Store
	Policy Policy

	// Concurrency > 1 writes up to that many entries at once. The report
	// keeps input order either way.
	Concurrency int

	Logger   log.Logger
	Recorder Recorder
	Tracer   trace.Tracer
}

// Materializer writes manifests through a Store. It holds no per-run state
// and may be reused across runs.
type Materializer struct {
	store       Store
	policy      Policy
	concurrency int
	logger      log.Logger
	recorder    Recorder
	tracer      trace.Tracer
}

// New validates opts and fills in defaults: a no-op logger, the global
// tracer and a concurrency of 1.
func New(opts Options) (*Materializer, error) {
	if opts.Store == nil {
		return nil, xerrors.New("materialize: store is required")
	}
	if opts.Policy != PolicyFailFast && opts.Policy != PolicyBestEffort {
		return nil, xerrors.Newf("materialize: unknown policy %s", opts.Policy)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Materializer{
		store:       opts.Store,
		policy:      opts.Policy,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		recorder:    opts.Recorder,
		tracer:      opts.Tracer,
	}, nil
}

// outcome of one entry; written unless err is set or skipped is true
type outcome struct {
	bytes   int
	err     *EntryError
	skipped bool
}

// Materialize writes entries under root.
//
// Under PolicyFailFast the error is the first *EntryError and the report
// holds what was written before it. Under PolicyBestEffort the error joins
// every *EntryError, or is nil. A canceled ctx stops the run between
// entries and is returned as is.
func (m *Materializer) Materialize(ctx context.Context, root string, entries []manifest.Entry) (*Report, error) {
	if len(entries) == 0 {
		return nil, xerrors.WithStack(ErrNoEntries)
	}
	if err := checkDuplicates(entries); err != nil {
		return nil, err
	}

	slashRoot := filepath.ToSlash(root)
	rep := &Report{
		Root:    root,
		Policy:  m.policy,
		Total:   len(entries),
		Started: time.Now(),
	}

	ctx, span := m.tracer.Start(ctx, "materialize.Run", trace.WithAttributes(
		attribute.String("materialize.root", root),
		attribute.Int("materialize.entries", len(entries)),
		attribute.String("materialize.policy", m.policy.String()),
		attribute.Int("materialize.concurrency", m.concurrency),
	))
	defer span.End()

	m.logger.Info(ctx, "materializing entries",
		"root", root,
		"entries", len(entries),
		"policy", m.policy.String(),
		"concurrency", m.concurrency,
	)

	var outcomes []outcome
	if m.concurrency > 1 && len(entries) > 1 {
		outcomes = m.runParallel(ctx, slashRoot, entries)
	} else {
		outcomes = m.runSequential(ctx, slashRoot, entries)
	}

	var firstErr *EntryError
	var all []error
	for i, o := range outcomes {
		switch {
		case o.skipped:
			rep.Skipped++
		case o.err != nil:
			rep.Failed = append(rep.Failed, o.err)
			all = append(all, o.err)
			if firstErr == nil {
				firstErr = o.err
			}
		default:
			rep.Written = append(rep.Written, entries[i].Path)
			rep.Bytes += int64(o.bytes)
		}
	}
	rep.Finished = time.Now()

	if m.recorder != nil {
		m.recorder.RunFinished(rep.Duration(), len(rep.Written), len(rep.Failed))
	}
	span.SetAttributes(
		attribute.Int("materialize.written", len(rep.Written)),
		attribute.Int("materialize.failed", len(rep.Failed)),
	)

	var err error
	switch {
	case firstErr != nil && m.policy == PolicyFailFast:
		err = firstErr
	case len(all) > 0:
		err = errors.Join(all...)
	case ctx.Err() != nil && rep.Skipped > 0:
		err = xerrors.Wrap(ctx.Err(), "materialize interrupted")
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "materialize failed")
		m.logger.Warn(ctx, "materialization incomplete",
			"written", len(rep.Written),
			"failed", len(rep.Failed),
			"skipped", rep.Skipped,
			"duration", rep.Duration().String(),
		)
		return rep, err
	}

	m.logger.Info(ctx, "materialization complete",
		"written", len(rep.Written),
		"bytes", rep.Bytes,
		"duration", rep.Duration().String(),
	)
	return rep, nil
}

func (m *Materializer) runSequential(ctx context.Context, root string, entries []manifest.Entry) []outcome {
	out := make([]outcome, len(entries))
	stopped := false
	for i, e := range entries {
		if stopped || ctx.Err() != nil {
			out[i].skipped = true
			continue
		}
		out[i] = m.one(ctx, root, e)
		if out[i].err != nil && m.policy == PolicyFailFast {
			stopped = true
		}
	}
	return out
}

func (m *Materializer) runParallel(ctx context.Context, root string, entries []manifest.Entry) []outcome {
	out := make([]outcome, len(entries))
	for i := range out {
		out[i].skipped = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			o := m.one(gctx, root, entries[i])
			out[i] = o
			if o.err != nil && m.policy == PolicyFailFast {
				return o.err
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// one materializes a single entry.
func (m *Materializer) one(ctx context.Context, root string, e manifest.Entry) outcome {
	ctx, span := m.tracer.Start(ctx, "materialize.Entry",
		trace.WithAttributes(attribute.String("materialize.path", e.Path)))
	defer span.End()

	fail := func(kind Kind, err error) outcome {
		ee := &EntryError{Kind: kind, Path: e.Path, Err: xerrors.EnsureTrace(err)}
		span.RecordError(ee)
		span.SetStatus(codes.Error, kind.String())
		m.logger.Error(ctx, ee, "entry failed", "path", e.Path, "kind", kind.String())
		if m.recorder != nil {
			m.recorder.EntryFailed(kind.String())
		}
		return outcome{err: ee}
	}

	target, err := pathutil.Join(root, e.Path)
	if err != nil {
		return fail(KindPathEscape, err)
	}
	if dir := path.Dir(target); dir != "." && dir != "/" {
		if err := m.store.EnsureDir(ctx, dir); err != nil {
			if interrupted(ctx, err) {
				return outcome{skipped: true}
			}
			return fail(KindDirectoryCreation, err)
		}
	}
	if err := m.store.WriteFile(ctx, target, []byte(e.Content)); err != nil {
		if interrupted(ctx, err) {
			return outcome{skipped: true}
		}
		return fail(KindWrite, err)
	}

	m.logger.Debug(ctx, "entry written", "path", e.Path, "target", target, "bytes", len(e.Content))
	if m.recorder != nil {
		m.recorder.EntryWritten(len(e.Content))
	}
	return outcome{bytes: len(e.Content)}
}

// interrupted reports whether err is only ctx being canceled, either by the
// caller or by a sibling's failure under fail-fast.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// checkDuplicates rejects two entries that land on the same file. Paths
// that fail to clean are left for the per-entry check.
func checkDuplicates(entries []manifest.Entry) error {
	seen := make(map[string]string, len(entries))
	for _, e := range entries {
		clean, err := pathutil.CleanRelative(e.Path)
		if err != nil {
			continue
		}
		if prev, dup := seen[clean]; dup {
			return xerrors.Newf("%w: %q and %q both resolve to %q", ErrDuplicatePath, prev, e.Path, clean)
		}
		seen[clean] = e.Path
	}
	return nil
}
