package batchfmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

const (
	// Magic is the file magic number "EVMB" (4 bytes)
	Magic = "EVMB"

	// Version is the format version (uint16, little-endian)
	Version uint16 = 0x0001

	// maxBody bounds the body length accepted by Read.
	maxBody = 16 << 20

	// maxCalls bounds the number of calls accepted by Read.
	maxCalls = 4096
)

// Digest returns the BLAKE2b-256 hash of the batch's canonical body.
func Digest(b *Batch) ([32]byte, error) {
	body, err := b.MarshalBinary()
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(body), nil
}

// Write writes a batch to w and returns its digest.
// Format: MAGIC(4) | VERSION(2) | BODY_LEN(4) | BODY
func Write(w io.Writer, b *Batch) ([32]byte, error) {
	body, err := b.MarshalBinary()
	if err != nil {
		return [32]byte{}, err
	}
	if len(body) > maxBody {
		return [32]byte{}, fmt.Errorf("batch body of %d bytes exceeds maximum %d", len(body), maxBody)
	}

	var buf bytes.Buffer
	buf.WriteString(Magic)
	if err := binary.Write(&buf, binary.LittleEndian, Version); err != nil {
		return [32]byte{}, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(body))); err != nil {
		return [32]byte{}, err
	}
	buf.Write(body)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(body), nil
}

// Read reads a batch from r and returns it with the digest of its body.
func Read(r io.Reader) (*Batch, [32]byte, error) {
	var preamble [10]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return nil, [32]byte{}, fmt.Errorf("read preamble: %w", err)
	}

	if magic := string(preamble[0:4]); magic != Magic {
		return nil, [32]byte{}, fmt.Errorf("invalid magic: got %q, expected %q", magic, Magic)
	}
	if version := binary.LittleEndian.Uint16(preamble[4:6]); version != Version {
		return nil, [32]byte{}, fmt.Errorf("unsupported version: got 0x%04x, expected 0x%04x", version, Version)
	}
	bodyLen := binary.LittleEndian.Uint32(preamble[6:10])
	if bodyLen > maxBody {
		return nil, [32]byte{}, fmt.Errorf("body length %d exceeds maximum %d", bodyLen, maxBody)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, [32]byte{}, fmt.Errorf("read body: %w", err)
	}

	b := &Batch{}
	if err := b.UnmarshalBinary(body); err != nil {
		return nil, [32]byte{}, err
	}
	return b, blake2b.Sum256(body), nil
}

// Verify reports whether the batch encodes to the expected digest.
func Verify(b *Batch, expected [32]byte) (bool, error) {
	got, err := Digest(b)
	if err != nil {
		return false, err
	}
	return got == expected, nil
}
