package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/infra/op-testsplit/runner"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

var _ ReportSink = (*JSONSink)(nil)

// JSONSink writes every mode to testrun-<id>/<mode>.json
type JSONSink struct {
	baseDir string
	runID   string
}

// NewJSONSink creates a JSON results sink
func NewJSONSink(baseDir, runID string) *JSONSink {
	return &JSONSink{baseDir: baseDir, runID: runID}
}

// ModeReport is the JSON document written for one mode
type ModeReport struct {
	RunID      string                  `json:"runId"`
	Mode       runner.Mode             `json:"mode"`
	Status     runner.Status           `json:"status"`
	StartTime  time.Time               `json:"startTime"`
	DurationMs int64                   `json:"durationMs"`
	Error      string                  `json:"error,omitempty"`
	Ambiguous  bool                    `json:"ambiguous"`
	Submitted  int                     `json:"submitted"`
	Outcomes   int                     `json:"outcomes"`
	Batches    []BatchReport           `json:"batches"`
	Groups     []runner.CoalescedGroup `json:"coalescedGroups,omitempty"`
}

// BatchReport is the JSON form of one batch
type BatchReport struct {
	Index             int                 `json:"index"`
	Status            runner.Status       `json:"status"`
	Tests             []string            `json:"tests"`
	IssuedAt          time.Time           `json:"issuedAt"`
	DurationMs        int64               `json:"durationMs"`
	Error             string              `json:"error,omitempty"`
	PossiblyCoalesced bool                `json:"possiblyCoalesced"`
	CoalescedWith     []int               `json:"coalescedWith,omitempty"`
	ForeignOutcomes   []string            `json:"foreignOutcomes,omitempty"`
	MissingTests      []string            `json:"missingTests,omitempty"`
	Results           []types.TestOutcome `json:"results"`
}

// NewModeReport converts a mode result into its JSON document
func NewModeReport(res *runner.ModeResult) ModeReport {
	report := ModeReport{
		RunID:      res.RunID,
		Mode:       res.Mode,
		Status:     res.Status(),
		StartTime:  res.StartTime,
		DurationMs: res.Duration.Milliseconds(),
		Ambiguous:  res.Ambiguous(),
		Submitted:  res.TotalSubmitted(),
		Outcomes:   res.TotalOutcomes(),
		Batches:    make([]BatchReport, 0, len(res.Batches)),
		Groups:     res.Groups,
	}
	if res.Err != nil {
		report.Error = keyErrorMessage(res.Err.Error())
	}
	for _, b := range res.Batches {
		br := BatchReport{
			Index:             b.Batch.Index,
			Status:            b.Status(),
			Tests:             b.Batch.IDs(),
			IssuedAt:          b.IssuedAt,
			DurationMs:        b.Duration.Milliseconds(),
			PossiblyCoalesced: b.PossiblyCoalesced,
			CoalescedWith:     b.CoalescedWith,
			ForeignOutcomes:   b.ForeignOutcomes,
			MissingTests:      b.MissingTests,
			Results:           make([]types.TestOutcome, 0, len(b.Outcomes)),
		}
		if b.Err != nil {
			br.Error = keyErrorMessage(b.Err.Error())
		}
		for _, o := range b.Outcomes {
			o.ErrorMessage = keyErrorMessage(o.ErrorMessage)
			br.Results = append(br.Results, o)
		}
		report.Batches = append(report.Batches, br)
	}
	return report
}

// Report implements ReportSink
func (s *JSONSink) Report(result *runner.ModeResult) error {
	outputDir := RunDir(s.baseDir, s.runID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	data, err := json.MarshalIndent(NewModeReport(result), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s results: %w", result.Mode, err)
	}
	path := filepath.Join(outputDir, string(result.Mode)+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Close implements ReportSink
func (s *JSONSink) Close() error {
	return nil
}
