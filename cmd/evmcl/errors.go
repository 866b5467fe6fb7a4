package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/opal-lang/evmcl/core/batchfmt"
	"github.com/opal-lang/evmcl/core/batchfmt/formatter"
	"github.com/opal-lang/evmcl/runtime/interpreter"
	"github.com/opal-lang/evmcl/runtime/parser"
)

// CLIError represents a formatted CLI error with context
type CLIError struct {
	Type    string // "input", "config", "verify", "chain"
	Message string
	Details string // Additional context
	Hint    string // How to fix it
}

// Error implements the error interface
func (e *CLIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString("\n")
		b.WriteString(e.Details)
	}
	if e.Hint != "" {
		b.WriteString("\n")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// FormatError formats an error for CLI output with colors
func FormatError(w io.Writer, err error, useColor bool) {
	if err == nil {
		return
	}

	var (
		cliErr    *CLIError
		interpErr *interpreter.Error
		parseErrs *multierror.Error
	)
	switch {
	case errors.As(err, &cliErr):
		formatCLIError(w, cliErr, useColor)
	case errors.As(err, &interpErr):
		formatInterpreterError(w, interpErr, useColor)
	case errors.As(err, &parseErrs):
		formatParseErrors(w, parseErrs, useColor)
	default:
		_, _ = fmt.Fprintf(w, "%s%s\n", formatter.Colorize("Error: ", formatter.ColorRed, useColor), err.Error())
	}
}

// formatInterpreterError formats interpreter errors with suggestions
func formatInterpreterError(w io.Writer, err *interpreter.Error, useColor bool) {
	msg := err.Message
	if err.Err != nil && !strings.Contains(msg, err.Err.Error()) {
		msg += ": " + err.Err.Error()
	}
	_, _ = fmt.Fprintf(w, "%s%s\n", formatter.Colorize("Error: ", formatter.ColorRed, useColor), msg)

	if err.Pos.IsValid() {
		ctx := err.Pos.String()
		if err.Module != "" {
			ctx += " in module " + err.Module
		}
		_, _ = fmt.Fprintf(w, "  %s\n", formatter.Colorize("at "+ctx, formatter.ColorGray, useColor))
	}
	if err.Suggestion != "" {
		_, _ = fmt.Fprintf(w, "  %s\n", formatter.Colorize(err.Suggestion, formatter.ColorYellow, useColor))
	}
}

func formatParseErrors(w io.Writer, err *multierror.Error, useColor bool) {
	for i, e := range err.Errors {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		var pe parser.ParseError
		if errors.As(e, &pe) {
			_, _ = fmt.Fprintf(w, "%s%s\n", formatter.Colorize("Syntax error: ", formatter.ColorRed, useColor), pe.Error())
			continue
		}
		_, _ = fmt.Fprintf(w, "%s%s\n", formatter.Colorize("Error: ", formatter.ColorRed, useColor), e.Error())
	}
}

// formatCLIError formats CLI errors
func formatCLIError(w io.Writer, err *CLIError, useColor bool) {
	_, _ = fmt.Fprintf(w, "%s%s\n", formatter.Colorize("Error: ", formatter.ColorRed, useColor), err.Message)

	if err.Details != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", err.Details)
	}

	if err.Hint != "" {
		_, _ = fmt.Fprintf(w, "%s%s\n", formatter.Colorize("Hint: ", formatter.ColorYellow, useColor), err.Hint)
	}
}

// verificationError reports a fresh batch that differs from the stored one.
func verificationError(expected, actual *batchfmt.Batch, useColor bool) *CLIError {
	diff := formatter.Diff(expected, actual)
	return &CLIError{
		Type:    "verify",
		Message: "BATCH VERIFICATION FAILED",
		Details: strings.TrimRight(formatter.FormatDiff(diff, useColor), "\n"),
		Hint:    "the script or the organization changed since the batch was written; re-run encode --out to refresh it",
	}
}
