package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum-optimism/infra/op-testsplit/runner"
)

var _ ReportSink = (*SummarySink)(nil)

// SummarySink writes a plain text summary of every reported mode to testrun-<id>/summary.log
type SummarySink struct {
	baseDir        string
	runID          string
	includeDetails bool

	mu      sync.Mutex
	results []*runner.ModeResult
}

// NewSummarySink creates a summary sink. With includeDetails every failing outcome is listed.
func NewSummarySink(baseDir, runID string, includeDetails bool) *SummarySink {
	return &SummarySink{
		baseDir:        baseDir,
		runID:          runID,
		includeDetails: includeDetails,
	}
}

// Report implements ReportSink
func (s *SummarySink) Report(result *runner.ModeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

// Close writes the summary file
func (s *SummarySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	outputDir := RunDir(s.baseDir, s.runID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	summaryFile := filepath.Join(outputDir, "summary.log")
	if err := os.WriteFile(summaryFile, []byte(s.format()), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

func (s *SummarySink) format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RUN %s\n", s.runID)
	for _, res := range s.results {
		stats := res.Stats()
		fmt.Fprintf(&sb, "\nMODE %s: %s (%s)\n", res.Mode, res.Status(), formatDuration(res.Duration))
		fmt.Fprintf(&sb, "  submitted: %d  outcomes: %d  passed: %d  failed: %d  skipped: %d\n",
			res.TotalSubmitted(), stats.Total, stats.Passed, stats.Failures(), stats.Skipped)
		if res.Err != nil {
			fmt.Fprintf(&sb, "  error: %s\n", keyErrorMessage(res.Err.Error()))
		}
		if res.Ambiguous() {
			sb.WriteString("  WARNING: results of some batches may be misattributed by engine request coalescing\n")
		}

		for _, b := range res.Batches {
			fmt.Fprintf(&sb, "  %s: %s, %d outcomes", b.Batch, b.Status(), len(b.Outcomes))
			if flags := batchFlags(b); flags != "" {
				fmt.Fprintf(&sb, " [%s]", flags)
			}
			sb.WriteString("\n")
			if b.Err != nil {
				fmt.Fprintf(&sb, "    error: %s\n", keyErrorMessage(b.Err.Error()))
			}
			if !s.includeDetails {
				continue
			}
			for _, o := range b.Outcomes {
				if !o.Outcome.IsFailure() {
					continue
				}
				fmt.Fprintf(&sb, "    %s %s", o.Outcome, o.TestID)
				if msg := keyErrorMessage(o.ErrorMessage); msg != "" {
					fmt.Fprintf(&sb, ": %s", msg)
				}
				sb.WriteString("\n")
			}
		}

		for _, g := range res.Groups {
			fmt.Fprintf(&sb, "  coalesced group %v: %d/%d submitted tests received\n", g.Batches, g.Received, g.Submitted)
			for _, id := range g.Missing {
				fmt.Fprintf(&sb, "    lost %s\n", id)
			}
		}
	}
	return sb.String()
}
