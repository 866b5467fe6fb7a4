package formatter_test

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/batchfmt"
	"github.com/opal-lang/evmcl/core/batchfmt/formatter"
	"github.com/opal-lang/evmcl/core/evmscript"
)

var (
	acl    = common.HexToAddress("0x00000000000000000000000000000000000000ac")
	voting = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vault  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func forwardedBatch(t *testing.T, context string) *batchfmt.Batch {
	t.Helper()
	grant, err := evmscript.EncodeCall("grantPermission(address,address,bytes32)", voting.Hex(), vault.Hex(), "0x01")
	require.NoError(t, err)
	script, err := evmscript.EncodeCallsScript([]action.Action{action.New(acl, grant, nil)})
	require.NoError(t, err)

	var fwd []byte
	if context == "" {
		fwd, err = evmscript.EncodeCall("forward(bytes)", script)
	} else {
		fwd, err = evmscript.EncodeCall("forward(bytes,bytes)", script, []byte(context))
	}
	require.NoError(t, err)

	b := batchfmt.New("dao.aragonid.eth", []action.Action{action.New(voting, fwd, nil)})
	b.Label(voting, "voting:0")
	b.Label(acl, "acl:0")
	return b
}

func TestFormatTreeUnwrapsForwards(t *testing.T) {
	var buf bytes.Buffer
	formatter.FormatTree(&buf, forwardedBatch(t, ""), false)

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, out)
	assert.Equal(t, "dao.aragonid.eth:", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "└─ voting:0"), lines[1])
	assert.Contains(t, lines[1], "forward(bytes)")
	assert.True(t, strings.HasPrefix(lines[2], "   └─ acl:0"), lines[2])
	assert.Contains(t, lines[2], "grantPermission(address,address,bytes32)")
}

func TestFormatTreeShowsContext(t *testing.T) {
	var buf bytes.Buffer
	formatter.FormatTree(&buf, forwardedBatch(t, "vote #1"), false)
	assert.Contains(t, buf.String(), `context: "vote #1"`)
	assert.Contains(t, buf.String(), "forward(bytes,bytes)")
}

func TestFormatTreeEmpty(t *testing.T) {
	var buf bytes.Buffer
	formatter.FormatTree(&buf, batchfmt.New("dao", nil), false)
	assert.Equal(t, "dao:\n(no actions)\n", buf.String())
}

func TestFormatUnknownSelector(t *testing.T) {
	b := batchfmt.New("dao", []action.Action{action.New(vault, []byte{1, 2, 3, 4, 5}, nil)})
	assert.Equal(t, "1. "+vault.Hex()+" 0x01020304(1 bytes)\n", formatter.Format(b))
}

func TestDiff(t *testing.T) {
	base := forwardedBatch(t, "")
	same := forwardedBatch(t, "")
	changed := forwardedBatch(t, "vote #2")
	longer := forwardedBatch(t, "")
	longer.Calls = append(longer.Calls, batchfmt.Call{To: vault, Data: []byte{0xaa}})

	tests := []struct {
		name         string
		actual       *batchfmt.Batch
		wantAdded    int
		wantRemoved  int
		wantModified int
	}{
		{"identical", same, 0, 0, 0},
		{"call modified", changed, 0, 0, 1},
		{"call added", longer, 1, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatter.Diff(base, tt.actual)
			assert.Len(t, result.Added, tt.wantAdded)
			assert.Len(t, result.Removed, tt.wantRemoved)
			assert.Len(t, result.Modified, tt.wantModified)
		})
	}

	removed := formatter.Diff(longer, base)
	assert.Len(t, removed.Removed, 1)
	assert.Contains(t, formatter.FormatDiff(removed, false), "Removed calls:")
	assert.Equal(t, "No differences found.\n", formatter.FormatDiff(formatter.Diff(base, same), false))
}

type wrapped struct{ w io.Writer }

func (w wrapped) Write(p []byte) (int, error) { return w.w.Write(p) }
func (w wrapped) Unwrap() io.Writer           { return w.w }

func TestShouldUseColor(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("NO_COLOR", "")
	assert.False(t, formatter.ShouldUseColor(&buf, false), "buffers are not terminals")
	assert.False(t, formatter.ShouldUseColor(wrapped{&buf}, false))

	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Skip("no null device")
	}
	defer devNull.Close()
	direct := formatter.ShouldUseColor(devNull, false)
	assert.Equal(t, direct, formatter.ShouldUseColor(wrapped{wrapped{devNull}}, false))
	assert.False(t, formatter.ShouldUseColor(devNull, true))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, formatter.ShouldUseColor(devNull, false))
}

func TestColorize(t *testing.T) {
	assert.Equal(t, "plain", formatter.Colorize("plain", formatter.ColorRed, false))
	assert.Equal(t, formatter.ColorRed+"red"+formatter.ColorReset, formatter.Colorize("red", formatter.ColorRed, true))
}
