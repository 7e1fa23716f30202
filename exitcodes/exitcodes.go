// Package exitcodes defines how an orchestration outcome is reported to the calling process.
package exitcodes

// A run exits with Success only when every configured mode completed with all outcomes
// passing and attributed to the batch that submitted them. Failing outcomes and batches
// flagged as possibly coalesced both exit with TestFailure. RuntimeErr covers runs whose
// results cannot be trusted at all, such as a lost engine connection, a protocol violation
// or invalid configuration.
const (
	Success     = 0
	TestFailure = 1 // Failed outcomes or ambiguous attribution
	RuntimeErr  = 2 // Engine, protocol or setup failure
)
