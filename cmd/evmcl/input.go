package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/opal-lang/evmcl/core/batchfmt"
)

// readInput reads a script or batch file; "-" reads stdin.
func (a *app) readInput(file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return nil, fmt.Errorf("error reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &CLIError{Type: "input", Message: fmt.Sprintf("error opening file %s", file), Details: err.Error()}
	}
	return data, nil
}

// isBatch reports whether data is an encoded batch rather than a script.
func isBatch(data []byte) bool {
	return bytes.HasPrefix(data, []byte(batchfmt.Magic))
}

func readBatch(data []byte) (*batchfmt.Batch, [32]byte, error) {
	b, digest, err := batchfmt.Read(bytes.NewReader(data))
	if err != nil {
		return nil, digest, &CLIError{Type: "input", Message: "invalid batch file", Details: err.Error()}
	}
	return b, digest, nil
}
