// Package formatter renders encoded batches for humans: a flat text form
// used for diffs and a tree form that unwraps forwarder payloads.
package formatter

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/batchfmt"
	"github.com/opal-lang/evmcl/core/evmscript"
)

// knownMethods are the calls evmcl itself emits.
var knownMethods = func() map[string]evmscript.Method {
	sigs := []string{
		"forward(bytes)",
		"forward(bytes,bytes)",
		"approve(address,uint256)",
		"createPermission(address,address,bytes32,address)",
		"grantPermission(address,address,bytes32)",
		"revokePermission(address,address,bytes32)",
		"removePermissionManager(address,bytes32)",
		"newAppInstance(bytes32,address,bytes,bool)",
		"setApp(bytes32,bytes32,address)",
		"execute(address,uint256,bytes)",
	}
	out := make(map[string]evmscript.Method, len(sigs))
	for _, sig := range sigs {
		m := evmscript.MustParseSignature(sig)
		out[string(m.ID)] = m
	}
	return out
}()

// Format renders a batch as one line per call.
func Format(b *batchfmt.Batch) string {
	var sb strings.Builder
	for i, a := range b.Actions() {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, FormatAction(b, a))
	}
	return sb.String()
}

// FormatAction renders a single call: target, method and value.
func FormatAction(b *batchfmt.Batch, a action.Action) string {
	s := fmt.Sprintf("%s %s", target(b, a.To()), MethodName(a))
	if a.HasValue() {
		s += fmt.Sprintf(" value=%s", a.Value())
	}
	return s
}

func target(b *batchfmt.Batch, addr common.Address) string {
	if b != nil {
		if name, ok := b.LabelFor(addr); ok {
			return fmt.Sprintf("%s (%s)", name, shortAddress(addr))
		}
	}
	return addr.Hex()
}

func shortAddress(addr common.Address) string {
	h := addr.Hex()
	return h[:6] + ".." + h[len(h)-4:]
}

// MethodName returns the signature a calls, or a hex form for unknown selectors.
func MethodName(a action.Action) string {
	sel := a.Selector()
	if sel == nil {
		if len(a.Data()) == 0 {
			return "(transfer)"
		}
		return "0x" + hex.EncodeToString(a.Data())
	}
	if m, ok := knownMethods[string(sel)]; ok {
		return m.Sig
	}
	return fmt.Sprintf("0x%s(%d bytes)", hex.EncodeToString(sel), len(a.Data())-4)
}

// unwrap returns the batch carried by a forward call, if a is one.
func unwrap(a action.Action) ([]action.Action, string, bool) {
	m, ok := knownMethods[string(a.Selector())]
	if !ok || m.Name != "forward" {
		return nil, "", false
	}
	values, err := m.Unpack(a.Data())
	if err != nil || len(values) == 0 {
		return nil, "", false
	}
	script, ok := values[0].([]byte)
	if !ok {
		return nil, "", false
	}
	inner, err := evmscript.DecodeCallsScript(script)
	if err != nil {
		return nil, "", false
	}
	var context string
	if len(values) > 1 {
		if ctx, ok := values[1].([]byte); ok {
			context = string(ctx)
		}
	}
	return inner, context, true
}
