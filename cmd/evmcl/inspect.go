package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opal-lang/evmcl/core/batchfmt"
	"github.com/opal-lang/evmcl/core/batchfmt/formatter"
	"github.com/opal-lang/evmcl/runtime/forwarder"
)

func newInspectCmd(a *app) *cobra.Command {
	var unwrap bool
	cmd := &cobra.Command{
		Use:   "inspect <batch>",
		Short: "Show the contents of an encoded batch file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.readInput(args[0])
			if err != nil {
				return err
			}
			if !isBatch(data) {
				return &CLIError{Type: "input", Message: args[0] + " is not an encoded batch", Hint: "run evmcl encode --out first"}
			}
			b, digest, err := readBatch(data)
			if err != nil {
				return err
			}
			return a.inspect(b, digest, unwrap)
		},
	}
	cmd.Flags().BoolVar(&unwrap, "unwrap", false, "Decode the forwarder path down to the script's own actions")
	return cmd
}

func (a *app) inspect(b *batchfmt.Batch, digest [32]byte, unwrap bool) error {
	useColor := a.useColorFor(a.stdout)
	w := a.stdout

	field := func(name, value string) {
		if value == "" {
			return
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", formatter.Colorize(name+":", formatter.ColorGray, useColor), value)
	}
	field("organization", b.Organization)
	if b.ChainID != 0 {
		field("chain", fmt.Sprint(b.ChainID))
	}
	field("path", strings.Join(b.Path, " -> "))
	field("context", b.Context)
	field("digest", hex.EncodeToString(digest[:]))
	field("calls", fmt.Sprint(len(b.Calls)))
	_, _ = fmt.Fprintln(w)

	formatter.FormatTree(w, b, useColor)

	if !unwrap || len(b.Path) == 0 {
		return nil
	}
	actions := b.Actions()
	if len(actions) == 0 {
		return nil
	}
	// A token fee approval may precede the forwarding call.
	inner, contexts, err := forwarder.DecodePath(actions[len(actions)-1], len(b.Path))
	if err != nil {
		return &CLIError{Type: "input", Message: "cannot unwrap forwarder path", Details: err.Error()}
	}
	_, _ = fmt.Fprintf(w, "\n%s\n", formatter.Colorize(fmt.Sprintf("script (%d actions):", len(inner)), formatter.ColorCyan, useColor))
	for _, c := range contexts {
		_, _ = fmt.Fprintf(w, "  context %q\n", c)
	}
	for i, act := range inner {
		_, _ = fmt.Fprintf(w, "  %d. %s\n", i+1, formatter.FormatAction(b, act))
	}
	return nil
}
