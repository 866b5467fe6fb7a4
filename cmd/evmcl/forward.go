package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/opal-lang/evmcl"
	"github.com/opal-lang/evmcl/core/batchfmt"
	"github.com/opal-lang/evmcl/core/batchfmt/formatter"
	"github.com/opal-lang/evmcl/runtime/chain"
)

type forwardOptions struct {
	dryRun  bool
	path    []string
	context string
}

func newForwardCmd(a *app) *cobra.Command {
	var opts forwardOptions
	cmd := &cobra.Command{
		Use:   "forward <script|batch>",
		Short: "Encode a script, or load a batch file, and submit its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.forward(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Record the transactions instead of sending them")
	cmd.Flags().StringSliceVar(&opts.path, "path", nil, "Forwarder path, replacing the connect header's")
	cmd.Flags().StringVar(&opts.context, "context", "", "Context for forwarders that require one")
	return cmd
}

func (a *app) forward(ctx context.Context, file string, opts forwardOptions) error {
	data, err := a.readInput(file)
	if err != nil {
		return err
	}
	s, err := a.newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.dryRun {
		d, err := a.dryRunSigner(s)
		if err != nil {
			return err
		}
		s.env.Signer = d
	}
	if s.env.Signer == nil {
		return &CLIError{
			Type:    "chain",
			Message: chain.ErrNoSigner.Error(),
			Hint:    fmt.Sprintf("set --rpc and %s, or pass --dry-run", a.cfg.KeyEnv),
		}
	}

	var b *batchfmt.Batch
	if isBatch(data) {
		if len(opts.path) > 0 || opts.context != "" {
			return &CLIError{Type: "input", Message: "--path and --context apply to scripts, not encoded batches"}
		}
		if b, _, err = readBatch(data); err != nil {
			return err
		}
		if s.chainID != 0 && b.ChainID != 0 && b.ChainID != s.chainID {
			return &CLIError{
				Type:    "chain",
				Message: fmt.Sprintf("batch was encoded for chain %d, connected to chain %d", b.ChainID, s.chainID),
			}
		}
	} else {
		res, err := a.encodeScript(ctx, s, data, opts.path, opts.context)
		if err != nil {
			return err
		}
		b = res.File(s.chainID)
	}

	if err := render(a.stdout, b, "tree", a.useColorFor(a.stdout)); err != nil {
		return err
	}

	receipts, err := evmcl.Forward(ctx, s.env.Signer, b.Actions())
	printReceipts(a, receipts, opts.dryRun)
	return err
}

// dryRunSigner records transactions as if sent by the configured key, or by
// the zero address without one.
func (a *app) dryRunSigner(s *session) (*chain.DryRun, error) {
	d := &chain.DryRun{Chain: new(big.Int).SetUint64(s.chainID)}
	if s.rpc != nil {
		d.Reader = s.rpc
	}
	key, err := a.signerKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		d.From = crypto.PubkeyToAddress(key.PublicKey)
	}
	return d, nil
}

func printReceipts(a *app, receipts []*types.Receipt, dryRun bool) {
	verb := "sent"
	if dryRun {
		verb = "recorded"
	}
	useColor := a.useColor()
	for i, r := range receipts {
		status := formatter.Colorize("ok", formatter.ColorGreen, useColor)
		if r.Status != types.ReceiptStatusSuccessful {
			status = formatter.Colorize("reverted", formatter.ColorRed, useColor)
		}
		_, _ = fmt.Fprintf(a.stderr, "%d. %s %s %s\n", i+1, verb, r.TxHash.Hex(), status)
	}
}
