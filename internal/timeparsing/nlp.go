// Package timeparsing normalizes natural-language date/time expressions
// in instruction payloads (e.g. "tomorrow at 3pm" for a time_block or
// schedule instruction) when the ISA's optimistic apply runs. This is a
// SPEC_FULL.md supplemented feature: spec.md's ISA examples take
// already-structured payloads, but a task-management core's callers
// routinely pass human-typed dates.
package timeparsing

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseNaturalLanguage resolves input to an absolute time relative to
// ref (the instant "now" means). It returns an error if input does not
// contain a recognizable date/time expression.
func ParseNaturalLanguage(input string, ref time.Time) (time.Time, error) {
	if input == "" {
		return time.Time{}, fmt.Errorf("timeparsing: empty input")
	}
	result, err := parser.Parse(input, ref)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeparsing: parse %q: %w", input, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("timeparsing: no date/time expression found in %q", input)
	}
	return result.Time, nil
}
