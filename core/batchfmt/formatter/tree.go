package formatter

import (
	"fmt"
	"io"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/batchfmt"
)

// maxDepth stops rendering of pathologically nested forwards.
const maxDepth = 16

// FormatTree renders a batch as a tree, unwrapping forwarder payloads into
// nested levels. This is the --dry-run view.
func FormatTree(w io.Writer, b *batchfmt.Batch, useColor bool) {
	header := b.Organization
	if b.ChainID != 0 {
		header += fmt.Sprintf(" (chain %d)", b.ChainID)
	}
	_, _ = fmt.Fprintf(w, "%s:\n", Colorize(header, ColorCyan, useColor))

	actions := b.Actions()
	if len(actions) == 0 {
		_, _ = fmt.Fprintf(w, "(no actions)\n")
		return
	}
	renderLevel(w, b, actions, "", 0, useColor)
}

func renderLevel(w io.Writer, b *batchfmt.Batch, actions []action.Action, indent string, depth int, useColor bool) {
	for i, a := range actions {
		isLast := i == len(actions)-1
		prefix := indent + "├─ "
		childIndent := indent + "│  "
		if isLast {
			prefix = indent + "└─ "
			childIndent = indent + "   "
		}

		line := fmt.Sprintf("%s %s",
			Colorize(target(b, a.To()), ColorBlue, useColor),
			MethodName(a))
		if a.HasValue() {
			line += Colorize(fmt.Sprintf(" value=%s", a.Value()), ColorYellow, useColor)
		}
		_, _ = fmt.Fprintf(w, "%s%s\n", prefix, line)

		inner, context, ok := unwrap(a)
		if !ok {
			continue
		}
		if depth >= maxDepth {
			_, _ = fmt.Fprintf(w, "%s└─ %s\n", childIndent, Colorize("(nesting too deep)", ColorGray, useColor))
			continue
		}
		if context != "" {
			_, _ = fmt.Fprintf(w, "%s%s\n", childIndent, Colorize(fmt.Sprintf("context: %q", context), ColorGray, useColor))
		}
		renderLevel(w, b, inner, childIndent, depth+1, useColor)
	}
}
