package materialize

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

// Report is the outcome of one run. Written lists relative paths in input
// order, each at most once.
type Report struct {
	Root    string
	Policy  Policy
	Total   int
	Written []string
	Failed  []*EntryError
	// Skipped counts entries never attempted (fail-fast stop or cancellation).
	Skipped int
	Bytes   int64

	Started  time.Time
	Finished time.Time
}

func (r *Report) Count() int { return len(r.Written) }

// OK reports whether every entry was written.
func (r *Report) OK() bool {
	return r != nil && len(r.Failed) == 0 && r.Skipped == 0 && len(r.Written) == r.Total
}

func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

// Print writes the human-readable completion report: one line per written
// entry, one per failure, then a summary. Not a stable format.
func (r *Report) Print(w io.Writer) error {
	for _, p := range r.Written {
		if _, err := fmt.Fprintf(w, "%s %s\n", okMark("✅"), p); err != nil {
			return err
		}
	}
	for _, f := range r.Failed {
		if _, err := fmt.Fprintf(w, "%s %s: %s: %v\n", failMark("❌"), f.Path, f.Kind, f.Err); err != nil {
			return err
		}
	}

	var err error
	if r.OK() {
		_, err = fmt.Fprintf(w, "\n%s Materialized %d entries %s\n",
			okMark("✅"), len(r.Written), dim(fmt.Sprintf("(%d bytes, %s)", r.Bytes, r.Duration().Round(time.Millisecond))))
	} else {
		_, err = fmt.Fprintf(w, "\n%s Materialized %d of %d entries: %d failed, %d skipped (policy %s)\n",
			failMark("❌"), len(r.Written), r.Total, len(r.Failed), r.Skipped, r.Policy)
	}
	return err
}
