package materialize

import (
	"fmt"
	"strings"
)

// Policy decides what a failed entry does to the rest of the run. One
// policy applies to the whole run.
type Policy int

const (
	// PolicyFailFast stops at the first failed entry. Entries after it are
	// not attempted and do not appear in the report.
	PolicyFailFast Policy = iota
	// PolicyBestEffort attempts every entry and reports all failures.
	PolicyBestEffort
)

func (p Policy) String() string {
	switch p {
	case PolicyFailFast:
		return "fail-fast"
	case PolicyBestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail-fast", "failfast", "":
		return PolicyFailFast, nil
	case "best-effort", "besteffort":
		return PolicyBestEffort, nil
	default:
		return 0, fmt.Errorf("unknown policy %q (valid policies are fail-fast|best-effort)", s)
	}
}
