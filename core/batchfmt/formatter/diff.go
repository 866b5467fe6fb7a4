package formatter

import (
	"fmt"
	"strings"

	"github.com/opal-lang/evmcl/core/batchfmt"
)

// DiffResult represents the differences between two batches.
type DiffResult struct {
	OrganizationChanged string     // Non-empty if organization changed (format: "old -> new")
	Added               []CallDiff // Calls added in actual
	Removed             []CallDiff // Calls removed from expected
	Modified            []CallDiff // Calls that changed
}

// CallDiff represents a difference in a single call.
type CallDiff struct {
	Index    int    // 1-indexed
	Expected string // empty for added calls
	Actual   string // empty for removed calls
}

// Empty reports whether the batches matched.
func (r *DiffResult) Empty() bool {
	return r.OrganizationChanged == "" && len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Modified) == 0
}

// Diff compares two batches call by call. Calls compare by their full
// encoding, so a change in nested call data shows up as a modified call.
func Diff(expected, actual *batchfmt.Batch) *DiffResult {
	result := &DiffResult{}

	if expected.Organization != actual.Organization {
		result.OrganizationChanged = fmt.Sprintf("%s -> %s", expected.Organization, actual.Organization)
	}

	exp := expected.Actions()
	act := actual.Actions()
	n := max(len(exp), len(act))

	for i := 0; i < n; i++ {
		switch {
		case i >= len(act):
			result.Removed = append(result.Removed, CallDiff{Index: i + 1, Expected: FormatAction(expected, exp[i])})
		case i >= len(exp):
			result.Added = append(result.Added, CallDiff{Index: i + 1, Actual: FormatAction(actual, act[i])})
		case !exp[i].Equal(act[i]):
			result.Modified = append(result.Modified, CallDiff{
				Index:    i + 1,
				Expected: FormatAction(expected, exp[i]) + " " + exp[i].String(),
				Actual:   FormatAction(actual, act[i]) + " " + act[i].String(),
			})
		}
	}

	return result
}

// FormatDiff returns a human-readable diff display.
func FormatDiff(result *DiffResult, useColor bool) string {
	var b strings.Builder

	if result.OrganizationChanged != "" {
		fmt.Fprintf(&b, "%s\n\n", Colorize("Organization changed: "+result.OrganizationChanged, ColorYellow, useColor))
	}

	if len(result.Modified) > 0 {
		fmt.Fprintf(&b, "%s\n", Colorize("Modified calls:", ColorYellow, useColor))
		for _, d := range result.Modified {
			fmt.Fprintf(&b, "  call %d:\n", d.Index)
			fmt.Fprintf(&b, "    %s\n", Colorize("- "+d.Expected, ColorRed, useColor))
			fmt.Fprintf(&b, "    %s\n", Colorize("+ "+d.Actual, ColorGreen, useColor))
		}
		fmt.Fprintln(&b)
	}

	if len(result.Added) > 0 {
		fmt.Fprintf(&b, "%s\n", Colorize("Added calls:", ColorGreen, useColor))
		for _, d := range result.Added {
			fmt.Fprintf(&b, "  %s\n", Colorize(fmt.Sprintf("+ call %d: %s", d.Index, d.Actual), ColorGreen, useColor))
		}
		fmt.Fprintln(&b)
	}

	if len(result.Removed) > 0 {
		fmt.Fprintf(&b, "%s\n", Colorize("Removed calls:", ColorRed, useColor))
		for _, d := range result.Removed {
			fmt.Fprintf(&b, "  %s\n", Colorize(fmt.Sprintf("- call %d: %s", d.Index, d.Expected), ColorRed, useColor))
		}
		fmt.Fprintln(&b)
	}

	if result.Empty() {
		fmt.Fprintln(&b, "No differences found.")
	}

	return b.String()
}
