package reporting

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testsplit/runner"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

var _ ReportSink = (*TableSink)(nil)

// TableSink renders one table per mode: a row per batch followed by a row per outcome
type TableSink struct {
	out         io.Writer
	showOutcome bool
}

// NewTableSink creates a table sink writing to out. Per-outcome rows are only rendered
// when showOutcomes is set.
func NewTableSink(out io.Writer, showOutcomes bool) *TableSink {
	return &TableSink{out: out, showOutcome: showOutcomes}
}

// Report implements ReportSink
func (s *TableSink) Report(result *runner.ModeResult) error {
	t := table.NewWriter()
	t.SetOutputMirror(s.out)
	t.SetTitle(fmt.Sprintf("%s mode results (%s)", result.Mode, formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status", "Flags", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Flags", WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, b := range result.Batches {
		stats := b.Stats()
		errMsg := ""
		if b.Err != nil {
			errMsg = keyErrorMessage(b.Err.Error())
		}
		t.AppendRow(table.Row{
			"Batch",
			b.Batch.String(),
			formatDuration(b.Duration),
			stats.Total,
			stats.Passed,
			stats.Failures(),
			stats.Skipped,
			statusString(b.Status()),
			batchFlags(b),
			errMsg,
		})

		if s.showOutcome {
			for i, o := range b.Outcomes {
				prefix := "├──"
				if i == len(b.Outcomes)-1 {
					prefix = "└──"
				}
				name := o.DisplayName
				if name == "" {
					name = o.TestID
				}
				t.AppendRow(table.Row{
					"Test",
					fmt.Sprintf("%s %s", prefix, name),
					formatDuration(o.Duration),
					"1",
					boolToInt(o.Outcome == types.OutcomePassed),
					boolToInt(o.Outcome.IsFailure()),
					boolToInt(o.Outcome == types.OutcomeSkipped),
					string(o.Outcome),
					"",
					keyErrorMessage(o.ErrorMessage),
				})
			}
		}
		t.AppendSeparator()
	}

	for _, g := range result.Groups {
		status := "complete"
		if !g.Complete() {
			status = fmt.Sprintf("%d lost", len(g.Missing))
		}
		t.AppendRow(table.Row{
			"Group",
			fmt.Sprintf("batches %v", g.Batches),
			"",
			g.Submitted,
			"",
			"",
			"",
			status,
			fmt.Sprintf("%d/%d received", g.Received, g.Submitted),
			"",
		})
	}

	status := result.Status()
	switch {
	case status == runner.StatusPass && !result.Ambiguous():
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case status == runner.StatusPass:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	stats := result.Stats()
	footerFlags := ""
	if result.Ambiguous() {
		footerFlags = "ambiguous attribution"
	}
	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		stats.Total,
		stats.Passed,
		stats.Failures(),
		stats.Skipped,
		statusString(status),
		footerFlags,
		"",
	})

	t.Render()
	return nil
}

// Close implements ReportSink
func (s *TableSink) Close() error {
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
