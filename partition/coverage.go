package partition

import (
	"fmt"

	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

// CoverageReport compares a set of batches with the inventory they were built from
type CoverageReport struct {
	Total      int      // Tests in the inventory
	Covered    int      // Inventory tests present in at least one batch
	Missing    []string // Inventory tests present in no batch, in inventory order
	Duplicated []string // Tests present in more than one batch, in first-seen order
	Unknown    []string // Batch tests not present in the inventory
}

// Complete reports whether every inventory test is in exactly one batch
func (r CoverageReport) Complete() bool {
	return len(r.Missing) == 0 && len(r.Duplicated) == 0 && len(r.Unknown) == 0
}

func (r CoverageReport) String() string {
	return fmt.Sprintf("covered %d/%d tests, %d missing, %d duplicated, %d unknown",
		r.Covered, r.Total, len(r.Missing), len(r.Duplicated), len(r.Unknown))
}

// Coverage reports which inventory tests a policy dropped or scheduled more than once
func Coverage(inv *types.TestInventory, batches []types.Batch) CoverageReport {
	seen := make(map[string]int)
	report := CoverageReport{Total: inv.Len()}
	for _, b := range batches {
		for _, tc := range b.Tests {
			seen[tc.ID]++
			switch {
			case seen[tc.ID] == 2:
				report.Duplicated = append(report.Duplicated, tc.ID)
			case seen[tc.ID] == 1 && !inv.Contains(tc.ID):
				report.Unknown = append(report.Unknown, tc.ID)
			}
		}
	}
	for _, id := range inv.IDs() {
		if seen[id] > 0 {
			report.Covered++
		} else {
			report.Missing = append(report.Missing, id)
		}
	}
	return report
}
