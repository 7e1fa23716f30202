package runner

import (
	"slices"
	"time"
)

// checkAttribution compares the outcomes collected for each batch with the tests it submitted
func checkAttribution(res *ModeResult) {
	for _, b := range res.Batches {
		b.ForeignOutcomes, b.MissingTests = nil, nil

		submitted := make(map[string]bool, len(b.Batch.Tests))
		for _, tc := range b.Batch.Tests {
			submitted[tc.ID] = true
		}
		received := make(map[string]bool, len(b.Outcomes))
		for _, o := range b.Outcomes {
			if !received[o.TestID] && !submitted[o.TestID] {
				b.ForeignOutcomes = append(b.ForeignOutcomes, o.TestID)
			}
			received[o.TestID] = true
		}
		for _, tc := range b.Batch.Tests {
			if !received[tc.ID] {
				b.MissingTests = append(b.MissingTests, tc.ID)
				received[tc.ID] = true
			}
		}
	}
}

// flagCoalesced marks the batches of an async run whose results may have been merged by the
// engine. Two batches are linked when they were issued less than window apart, or when one
// collected outcomes for tests the other submitted. A batch that completed without error but
// is missing outcomes is flagged even when no other batch can be linked to it.
func flagCoalesced(res *ModeResult, window time.Duration) {
	links := make([]map[int]bool, len(res.Batches))
	for i := range links {
		links[i] = make(map[int]bool)
	}
	link := func(i, j int) {
		if i != j {
			links[i][j] = true
			links[j][i] = true
		}
	}

	if window > 0 {
		for i, a := range res.Batches {
			if a.IssuedAt.IsZero() {
				continue
			}
			for j := i + 1; j < len(res.Batches); j++ {
				b := res.Batches[j]
				if b.IssuedAt.IsZero() {
					continue
				}
				if gap := b.IssuedAt.Sub(a.IssuedAt).Abs(); gap < window {
					link(i, j)
				}
			}
		}
	}

	owner := make(map[string]int)
	for i, b := range res.Batches {
		for _, tc := range b.Batch.Tests {
			if _, ok := owner[tc.ID]; !ok {
				owner[tc.ID] = i
			}
		}
	}
	for i, b := range res.Batches {
		for _, id := range b.ForeignOutcomes {
			if j, ok := owner[id]; ok {
				link(i, j)
			}
		}
	}

	for i, b := range res.Batches {
		b.CoalescedWith = nil
		for j := range links[i] {
			b.CoalescedWith = append(b.CoalescedWith, j)
		}
		slices.Sort(b.CoalescedWith)

		unattributed := len(b.ForeignOutcomes) > 0 || (b.Err == nil && len(b.MissingTests) > 0)
		b.PossiblyCoalesced = len(b.CoalescedWith) > 0 || unattributed
	}

	res.Groups = coalescedGroups(res, links)
}

// coalescedGroups returns the connected groups of flagged batches with their union check
func coalescedGroups(res *ModeResult, links []map[int]bool) []CoalescedGroup {
	var groups []CoalescedGroup
	visited := make([]bool, len(res.Batches))
	for start, b := range res.Batches {
		if visited[start] || !b.PossiblyCoalesced {
			continue
		}

		var members []int
		queue := []int{start}
		visited[start] = true
		for len(queue) > 0 {
			i := queue[0]
			queue = queue[1:]
			members = append(members, i)
			for j := range links[i] {
				if !visited[j] {
					visited[j] = true
					queue = append(queue, j)
				}
			}
		}
		slices.Sort(members)

		submitted := make(map[string]bool)
		var order []string
		received := make(map[string]bool)
		for _, i := range members {
			for _, tc := range res.Batches[i].Batch.Tests {
				if !submitted[tc.ID] {
					submitted[tc.ID] = true
					order = append(order, tc.ID)
				}
			}
			for _, o := range res.Batches[i].Outcomes {
				received[o.TestID] = true
			}
		}

		group := CoalescedGroup{Batches: members, Submitted: len(order)}
		for _, id := range order {
			if received[id] {
				group.Received++
			} else {
				group.Missing = append(group.Missing, id)
			}
		}
		groups = append(groups, group)
	}
	return groups
}
