package reporting

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-testsplit/runner"
)

// RunDirectoryPrefix prefixes the per-run output directory
const RunDirectoryPrefix = "testrun-"

// ReportSink consumes the result of each execution mode
type ReportSink interface {
	// Report processes the result of one mode
	Report(result *runner.ModeResult) error
	// Close is called after the last mode has been reported
	Close() error
}

// RunDir returns the output directory of a run
func RunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, RunDirectoryPrefix+runID)
}

// MultiSink fans every call out to all of its sinks
type MultiSink []ReportSink

// Report implements ReportSink
func (m MultiSink) Report(result *runner.ModeResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements ReportSink
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// keyErrorMessage returns the first line of an engine error message without terminal escapes
func keyErrorMessage(msg string) string {
	msg = strings.TrimSpace(stripansi.Strip(msg))
	if idx := strings.IndexByte(msg, '\n'); idx != -1 {
		msg = strings.TrimSpace(msg[:idx])
	}
	return msg
}

// batchFlags lists the attribution conditions of a batch for display
func batchFlags(b *runner.BatchResult) string {
	var flags []string
	if b.PossiblyCoalesced {
		if len(b.CoalescedWith) > 0 {
			flags = append(flags, fmt.Sprintf("possibly coalesced with %v", b.CoalescedWith))
		} else {
			flags = append(flags, "possibly coalesced")
		}
	}
	if n := len(b.ForeignOutcomes); n > 0 {
		flags = append(flags, fmt.Sprintf("%d foreign", n))
	}
	if n := len(b.MissingTests); n > 0 {
		flags = append(flags, fmt.Sprintf("%d missing", n))
	}
	if b.Aborted {
		flags = append(flags, "aborted")
	}
	return strings.Join(flags, ", ")
}

func statusString(status runner.Status) string {
	switch status {
	case runner.StatusPass:
		return "✓ pass"
	case runner.StatusError:
		return "! error"
	default:
		return "✗ fail"
	}
}

// formatDuration formats a duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
