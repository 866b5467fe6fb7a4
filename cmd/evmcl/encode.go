package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/opal-lang/evmcl"
	"github.com/opal-lang/evmcl/core/batchfmt"
	"github.com/opal-lang/evmcl/core/batchfmt/formatter"
	"github.com/opal-lang/evmcl/runtime/interpreter"
)

type encodeOptions struct {
	out     string
	verify  string
	watch   bool
	format  string
	path    []string
	context string
}

func newEncodeCmd(a *app) *cobra.Command {
	var opts encodeOptions
	cmd := &cobra.Command{
		Use:   "encode <script>",
		Short: "Encode a script into the transactions it needs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.format {
			case "tree", "text", "json":
			default:
				return &CLIError{Type: "input", Message: fmt.Sprintf("unknown format %q", opts.format), Hint: "use tree, text or json"}
			}
			if opts.watch {
				if args[0] == "-" {
					return &CLIError{Type: "input", Message: "--watch needs a file, not stdin"}
				}
				return a.watch(cmd.Context(), args[0], opts)
			}
			return a.encode(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the encoded batch to a file")
	cmd.Flags().StringVar(&opts.verify, "verify", "", "Fail unless the script still encodes to this batch file")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Re-encode whenever the script changes")
	cmd.Flags().StringVar(&opts.format, "format", "tree", "Output format: tree, text or json")
	cmd.Flags().StringSliceVar(&opts.path, "path", nil, "Forwarder path, replacing the connect header's")
	cmd.Flags().StringVar(&opts.context, "context", "", "Context for forwarders that require one")
	return cmd
}

func (a *app) encode(ctx context.Context, file string, opts encodeOptions) error {
	src, err := a.readInput(file)
	if err != nil {
		return err
	}
	s, err := a.newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := a.encodeScript(ctx, s, src, opts.path, opts.context)
	if err != nil {
		return err
	}

	b := res.File(s.chainID)
	if err := render(a.stdout, b, opts.format, a.useColorFor(a.stdout)); err != nil {
		return err
	}

	if opts.verify != "" {
		if err := a.verify(opts.verify, b); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(a.stderr, formatter.Colorize("batch verified", formatter.ColorGreen, a.useColor()))
	}
	if opts.out != "" {
		digest, err := writeBatch(opts.out, b)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(a.stderr, "wrote %s (digest %s)\n", opts.out, hex.EncodeToString(digest[:]))
	}
	return nil
}

// encodeScript parses and encodes src within s.
func (a *app) encodeScript(ctx context.Context, s *session, src []byte, path []string, fwdContext string) (*evmcl.Result, error) {
	script, err := evmcl.Parse(src)
	if err != nil {
		return nil, err
	}
	level := interpreter.TelemetryOff
	if a.cfg.Debug {
		level = interpreter.TelemetryTiming
	}
	res, err := script.Encode(ctx, evmcl.Options{
		Env:         s.env,
		Interpreter: interpreter.Config{ConnectModule: a.cfg.ConnectModule, Telemetry: level},
		Path:        path,
		Context:     fwdContext,
	})
	if err != nil {
		return nil, err
	}
	if t := res.Telemetry; t != nil {
		a.logger().Debug("telemetry", "commands", t.Commands, "helpers", t.Helpers, "items", t.Items, "time", t.TotalTime)
	}
	return res, nil
}

func (a *app) useColorFor(w io.Writer) bool {
	return formatter.ShouldUseColor(w, a.noColor || a.cfg.NoColor)
}

func (a *app) verify(path string, fresh *batchfmt.Batch) error {
	data, err := a.readInput(path)
	if err != nil {
		return err
	}
	stored, digest, err := readBatch(data)
	if err != nil {
		return err
	}
	ok, err := batchfmt.Verify(fresh, digest)
	if err != nil {
		return err
	}
	if !ok {
		return verificationError(stored, fresh, a.useColor())
	}
	return nil
}

func writeBatch(path string, b *batchfmt.Batch) ([32]byte, error) {
	f, err := os.Create(path)
	if err != nil {
		return [32]byte{}, err
	}
	digest, err := batchfmt.Write(f, b)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return digest, err
}

// jsonCall is the JSON form of one call.
type jsonCall struct {
	To     string `json:"to"`
	Label  string `json:"label,omitempty"`
	Method string `json:"method"`
	Data   string `json:"data"`
	Value  string `json:"value,omitempty"`
}

type jsonBatch struct {
	Organization string     `json:"organization,omitempty"`
	ChainID      uint64     `json:"chainId,omitempty"`
	Path         []string   `json:"path,omitempty"`
	Context      string     `json:"context,omitempty"`
	Digest       string     `json:"digest"`
	Calls        []jsonCall `json:"calls"`
}

func render(w io.Writer, b *batchfmt.Batch, format string, useColor bool) error {
	switch format {
	case "text":
		_, err := io.WriteString(w, formatter.Format(b))
		return err
	case "json":
		digest, err := batchfmt.Digest(b)
		if err != nil {
			return err
		}
		out := jsonBatch{
			Organization: b.Organization,
			ChainID:      b.ChainID,
			Path:         b.Path,
			Context:      b.Context,
			Digest:       hex.EncodeToString(digest[:]),
			Calls:        make([]jsonCall, 0, len(b.Calls)),
		}
		for _, a := range b.Actions() {
			c := jsonCall{To: a.To().Hex(), Method: formatter.MethodName(a), Data: fmt.Sprintf("%#x", a.Data())}
			c.Label, _ = b.LabelFor(a.To())
			if a.HasValue() {
				c.Value = a.Value().String()
			}
			out.Calls = append(out.Calls, c)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		formatter.FormatTree(w, b, useColor)
		return nil
	}
}

// watch encodes file, then again after every change until ctx ends.
// Encoding errors are reported and watching continues.
func (a *app) watch(ctx context.Context, file string, opts encodeOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Editors often replace the file, so watch its directory.
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	run := func() {
		if err := a.encode(ctx, file, opts); err != nil {
			FormatError(a.stderr, err, a.useColor())
		}
		_, _ = fmt.Fprintln(a.stderr, formatter.Colorize("watching "+file+" (ctrl-c to stop)", formatter.ColorGray, a.useColor()))
	}
	run()

	// Writes arrive in bursts; wait for them to settle.
	const settle = 100 * time.Millisecond
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			pending = time.After(settle)
		case <-pending:
			pending = nil
			run()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				return err
			}
		}
	}
}
