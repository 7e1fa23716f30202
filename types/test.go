package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultRunSettings is the smallest settings document the engine accepts.
// The engine rejects empty settings, so callers without their own document pass this one.
const DefaultRunSettings = "<RunSettings></RunSettings>"

// OutcomeKind represents the possible outcomes of a single test execution
type OutcomeKind string

const (
	OutcomePassed   OutcomeKind = "passed"
	OutcomeFailed   OutcomeKind = "failed"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeNotFound OutcomeKind = "notFound"
	OutcomeError    OutcomeKind = "error"
)

// AllOutcomeKinds lists every outcome the engine may report
var AllOutcomeKinds = []OutcomeKind{OutcomePassed, OutcomeFailed, OutcomeSkipped, OutcomeNotFound, OutcomeError}

// IsValid reports whether k is one of the known outcome kinds
func (k OutcomeKind) IsValid() bool {
	switch k {
	case OutcomePassed, OutcomeFailed, OutcomeSkipped, OutcomeNotFound, OutcomeError:
		return true
	}
	return false
}

// IsFailure reports whether the outcome should fail a run
func (k OutcomeKind) IsFailure() bool {
	return k == OutcomeFailed || k == OutcomeError || k == OutcomeNotFound
}

// TestCase is a single test discovered in a test artifact.
// ID is the fully qualified test identifier and is the identity of the test.
type TestCase struct {
	ID           string `json:"id" yaml:"id"`
	DisplayName  string `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Source       string `json:"source" yaml:"source,omitempty"` // Artifact path the test came from
	CodeFilePath string `json:"codeFilePath,omitempty" yaml:"codeFilePath,omitempty"`
	LineNumber   int    `json:"lineNumber,omitempty" yaml:"lineNumber,omitempty"`
	ExecutorURI  string `json:"executorUri,omitempty" yaml:"executorUri,omitempty"`
}

// Name returns the display name, falling back to the short form of the ID
func (tc TestCase) Name() string {
	if tc.DisplayName != "" {
		return tc.DisplayName
	}
	if i := strings.LastIndex(tc.ID, "."); i >= 0 && i < len(tc.ID)-1 {
		return tc.ID[i+1:]
	}
	return tc.ID
}

// Location returns "file:line" when the source location is known
func (tc TestCase) Location() string {
	if tc.CodeFilePath == "" {
		return ""
	}
	if tc.LineNumber > 0 {
		return fmt.Sprintf("%s:%d", tc.CodeFilePath, tc.LineNumber)
	}
	return tc.CodeFilePath
}

// TestOutcome is the result the engine reported for one test case
type TestOutcome struct {
	TestID          string        `json:"testId"`
	DisplayName     string        `json:"displayName,omitempty"`
	Outcome         OutcomeKind   `json:"outcome"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
	ErrorStackTrace string        `json:"errorStackTrace,omitempty"`
	Duration        time.Duration `json:"duration,omitempty"`
}

// Validate checks the fields the engine is required to fill in
func (o TestOutcome) Validate() error {
	if o.TestID == "" {
		return fmt.Errorf("outcome has no test id")
	}
	if !o.Outcome.IsValid() {
		return fmt.Errorf("outcome for %s has unknown kind %q", o.TestID, o.Outcome)
	}
	if o.Duration < 0 {
		return fmt.Errorf("outcome for %s has negative duration %v", o.TestID, o.Duration)
	}
	return nil
}

// Batch is an ordered subsequence of an inventory submitted as one run request
type Batch struct {
	Index int
	Tests []TestCase
}

// Len returns the number of tests in the batch
func (b Batch) Len() int {
	return len(b.Tests)
}

// IDs returns the test identifiers of the batch in order
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Tests))
	for i, tc := range b.Tests {
		ids[i] = tc.ID
	}
	return ids
}

// Contains reports whether the batch holds a test with the given id
func (b Batch) Contains(id string) bool {
	for _, tc := range b.Tests {
		if tc.ID == id {
			return true
		}
	}
	return false
}

// String returns a short description used in logs
func (b Batch) String() string {
	return fmt.Sprintf("batch-%d(%d tests)", b.Index, len(b.Tests))
}
