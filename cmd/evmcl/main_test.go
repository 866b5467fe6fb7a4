package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/evmcl/core/batchfmt/formatter"
	"github.com/opal-lang/evmcl/internal/fixtures"
	"github.com/opal-lang/evmcl/internal/redact"
)

const grantScript = `connect dao.aragonid.eth token-manager voting
grant agent vault TRANSFER_ROLE
`

type output struct {
	stdout string
	stderr string
}

// run executes the CLI offline with an isolated home and environment.
func run(t *testing.T, stdin string, args ...string) (output, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("EVMCL_RPC_URL", "")
	t.Setenv("EVMCL_PRIVATE_KEY", "")
	t.Setenv("NO_COLOR", "1")

	var stdout, stderr bytes.Buffer
	a := &app{stdin: strings.NewReader(stdin), stdout: &stdout, stderr: &stderr}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return output{stdout: stdout.String(), stderr: stderr.String()}, err
}

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grant.evm")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func TestEncodeTree(t *testing.T) {
	// GIVEN a script forwarding through two hops
	path := writeScript(t, grantScript)

	// WHEN encoding it offline
	out, err := run(t, "", "encode", "--offline", path)

	// THEN the tree shows the first hop wrapping the grant
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.stdout, fixtures.Organization+" (chain 1):\n"), out.stdout)
	assert.Contains(t, out.stdout, "token-manager")
	assert.Contains(t, out.stdout, "grantPermission(address,address,bytes32)")
}

func TestEncodeFromStdin(t *testing.T) {
	out, err := run(t, grantScript, "encode", "--format", "text", "-")

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.stdout), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "1. token-manager"), lines[0])
}

func TestEncodeJSON(t *testing.T) {
	path := writeScript(t, grantScript)

	out, err := run(t, "", "encode", "--format", "json", "--path", "voting", path)
	require.NoError(t, err)

	var got jsonBatch
	require.NoError(t, json.Unmarshal([]byte(out.stdout), &got))
	assert.Equal(t, fixtures.Organization, got.Organization)
	assert.Equal(t, []string{"voting"}, got.Path)
	require.Len(t, got.Calls, 1)
	assert.Equal(t, fixtures.Voting.Hex(), got.Calls[0].To)
	assert.Equal(t, "voting:0", got.Calls[0].Label)
	assert.Len(t, got.Digest, 64)
}

func TestEncodeUnknownFormat(t *testing.T) {
	_, err := run(t, "", "encode", "--format", "yaml", writeScript(t, grantScript))

	var cliErr *CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, "input", cliErr.Type)
}

func TestEncodeOutThenInspect(t *testing.T) {
	// GIVEN a batch written by encode --out
	script := writeScript(t, grantScript)
	batch := filepath.Join(t.TempDir(), "grant.evmb")
	out, err := run(t, "", "encode", "--out", batch, script)
	require.NoError(t, err)
	assert.Contains(t, out.stderr, "wrote "+batch)

	// WHEN inspecting it with the path unwrapped
	out, err = run(t, "", "inspect", "--unwrap", batch)

	// THEN the header and the inner grant are shown
	require.NoError(t, err)
	assert.Contains(t, out.stdout, "organization: "+fixtures.Organization)
	assert.Contains(t, out.stdout, "path: token-manager -> voting")
	assert.Contains(t, out.stdout, "script (1 actions):")
	assert.Contains(t, out.stdout, "1. acl")

	// AND the unchanged script verifies against it
	out, err = run(t, "", "encode", "--verify", batch, script)
	require.NoError(t, err)
	assert.Contains(t, out.stderr, "batch verified")
}

func TestEncodeVerifyMismatch(t *testing.T) {
	batch := filepath.Join(t.TempDir(), "grant.evmb")
	_, err := run(t, "", "encode", "--out", batch, writeScript(t, grantScript))
	require.NoError(t, err)

	changed := writeScript(t, strings.Replace(grantScript, "token-manager voting", "voting", 1))
	_, err = run(t, "", "encode", "--verify", batch, changed)

	var cliErr *CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, "BATCH VERIFICATION FAILED", cliErr.Message)
	assert.NotEmpty(t, cliErr.Details)
}

func TestInspectRejectsScripts(t *testing.T) {
	_, err := run(t, "", "inspect", writeScript(t, grantScript))
	assert.ErrorContains(t, err, "is not an encoded batch")
}

// rawTransfers needs no organization, so its actions are submitted as they are.
const rawTransfers = `exec 0x00000000000000000000000000000000000000d1 transfer(address,uint256) 0x00000000000000000000000000000000000000bb 1
exec 0x00000000000000000000000000000000000000d1 transfer(address,uint256) 0x00000000000000000000000000000000000000bb 2
`

func TestForwardDryRun(t *testing.T) {
	t.Run("script", func(t *testing.T) {
		out, err := run(t, "", "forward", "--dry-run", writeScript(t, grantScript))

		require.NoError(t, err)
		assert.Contains(t, out.stderr, "1. recorded 0x")
		assert.Contains(t, out.stderr, " ok")
	})

	t.Run("batch", func(t *testing.T) {
		batch := filepath.Join(t.TempDir(), "grant.evmb")
		_, err := run(t, "", "encode", "--out", batch, writeScript(t, rawTransfers))
		require.NoError(t, err)

		out, err := run(t, "", "forward", "--dry-run", batch)

		require.NoError(t, err)
		assert.Contains(t, out.stderr, "2. recorded 0x")
	})

	t.Run("without signer", func(t *testing.T) {
		_, err := run(t, "", "forward", writeScript(t, grantScript))

		var cliErr *CLIError
		require.ErrorAs(t, err, &cliErr)
		assert.Contains(t, cliErr.Hint, "--dry-run")
	})
}

func TestConfigFlagErrors(t *testing.T) {
	_, err := run(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "encode", "-")

	var cliErr *CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, "config", cliErr.Type)
}

func TestFormatError(t *testing.T) {
	t.Run("parse errors", func(t *testing.T) {
		_, err := run(t, "", "encode", writeScript(t, "connect dao.aragonid.eth\nexec @foo(\n"))
		require.Error(t, err)

		var buf bytes.Buffer
		FormatError(&buf, err, false)
		assert.Contains(t, buf.String(), "Syntax error: ")
	})

	t.Run("cli error", func(t *testing.T) {
		var buf bytes.Buffer
		FormatError(&buf, &CLIError{Type: "input", Message: "bad", Hint: "fix it"}, false)
		assert.Equal(t, "Error: bad\nHint: fix it\n", buf.String())
	})

	t.Run("plain error", func(t *testing.T) {
		var buf bytes.Buffer
		FormatError(&buf, errors.New("boom"), true)
		assert.Equal(t, formatter.Colorize("Error: ", formatter.ColorRed, true)+"boom\n", buf.String())
	})
}

func TestColorLooksThroughRedaction(t *testing.T) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Skip("no null device")
	}
	defer devNull.Close()
	t.Setenv("NO_COLOR", "")

	// GIVEN stderr wrapped for redaction over a character device
	a := &app{stderr: redact.New(devNull)}

	// THEN color follows the device, not the wrapper
	assert.Equal(t, formatter.ShouldUseColor(devNull, false), a.useColor())
	a.noColor = true
	assert.False(t, a.useColor())
}

func TestStderrRedactsSecrets(t *testing.T) {
	// GIVEN a key and an RPC endpoint carrying an API key
	const key = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	t.Setenv("HOME", t.TempDir())
	t.Setenv("EVMCL_PRIVATE_KEY", key)
	t.Setenv("EVMCL_RPC_URL", "https://mainnet.example.io/v3/0123456789abcdef")

	var stdout, stderr bytes.Buffer
	a := &app{stdin: strings.NewReader(""), stdout: &stdout, stderr: redact.New(&stderr)}
	cmd := newRootCmd(a)
	cmd.SetArgs([]string{"inspect", filepath.Join(t.TempDir(), "missing.evmb")})
	require.Error(t, cmd.Execute())

	// WHEN an error echoes both
	FormatError(a.stderr, errors.New("dial https://mainnet.example.io/v3/0123456789abcdef with 0x"+key), false)

	// THEN neither reaches the terminal
	assert.NotContains(t, stderr.String(), key)
	assert.NotContains(t, stderr.String(), "0123456789abcdef")
	assert.Contains(t, stderr.String(), "<redacted:rpc>")
	assert.NotContains(t, stderr.String(), "0x"+key)
	assert.Contains(t, stderr.String(), "with <redacted:key>")
}
