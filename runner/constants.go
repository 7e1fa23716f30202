package runner

import (
	"fmt"
	"strings"
	"time"
)

// Mode is an execution mode of the Orchestrator
type Mode string

const (
	// ModeSequential runs one batch at a time and blocks on each
	ModeSequential Mode = "sequential"
	// ModeParallel runs every batch on its own worker, each blocking on its run
	ModeParallel Mode = "parallel"
	// ModeAsync issues every batch back to back on the shared session, then awaits them all
	ModeAsync Mode = "async"

	// ModeAll selects every mode in the order of AllModes
	ModeAll = "all"
)

// AllModes lists the modes in the order RunAll executes them
var AllModes = []Mode{ModeSequential, ModeParallel, ModeAsync}

const (
	// DefaultDebounceWindow is the issuance gap below which async requests are flagged
	DefaultDebounceWindow = 100 * time.Millisecond
)

// ParseModes resolves a mode name, or "all", into the modes to run
func ParseModes(s string) ([]Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAll, "":
		return AllModes, nil
	case ModeSequential, ModeParallel, ModeAsync:
		return []Mode{m}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q, expected one of sequential, parallel, async or all", s)
	}
}
