// Package evmscript encodes call data from human-readable signatures and
// implements the CallsScript payload forwarders execute.
package evmscript

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned for malformed function signatures.
var ErrInvalidSignature = errors.New("invalid function signature")

// Method is a function selector plus its ABI inputs.
type Method struct {
	Name    string
	Sig     string // canonical: name(type,type)
	ID      []byte // first four bytes of keccak256(Sig)
	Inputs  abi.Arguments
	Outputs abi.Arguments
}

// ParseSignature parses "name(type,...)" with an optional
// " returns (type,...)" suffix. Tuple parameters are not supported.
func ParseSignature(sig string) (Method, error) {
	sig = strings.TrimSpace(sig)
	head, outs, hasReturns := strings.Cut(sig, " returns ")
	if !hasReturns {
		head, outs, hasReturns = strings.Cut(sig, ":")
	}

	name, inputTypes, err := splitSignature(head)
	if err != nil {
		return Method{}, fmt.Errorf("%w %q: %v", ErrInvalidSignature, sig, err)
	}
	inputs, err := argumentsFor(inputTypes)
	if err != nil {
		return Method{}, fmt.Errorf("%w %q: %v", ErrInvalidSignature, sig, err)
	}

	var outputs abi.Arguments
	if hasReturns {
		outTypes, err := splitTypeList(strings.TrimSpace(outs))
		if err != nil {
			return Method{}, fmt.Errorf("%w %q: %v", ErrInvalidSignature, sig, err)
		}
		if outputs, err = argumentsFor(outTypes); err != nil {
			return Method{}, fmt.Errorf("%w %q: %v", ErrInvalidSignature, sig, err)
		}
	}

	canonical := fmt.Sprintf("%s(%s)", name, strings.Join(canonicalTypes(inputs), ","))
	return Method{
		Name:    name,
		Sig:     canonical,
		ID:      crypto.Keccak256([]byte(canonical))[:4],
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

// MustParseSignature is ParseSignature for compile-time constants.
func MustParseSignature(sig string) Method {
	m, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return m
}

// MethodFromABI converts a go-ethereum ABI method.
func MethodFromABI(m abi.Method) Method {
	return Method{
		Name:    m.RawName,
		Sig:     m.Sig,
		ID:      bytes.Clone(m.ID),
		Inputs:  m.Inputs,
		Outputs: m.Outputs,
	}
}

// Pack encodes a call. Arguments are coerced to the input types with Convert.
func (m Method) Pack(args ...any) ([]byte, error) {
	if len(args) != len(m.Inputs) {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", m.Sig, len(m.Inputs), len(args))
	}
	values := make([]any, len(args))
	for i, arg := range args {
		v, err := Convert(m.Inputs[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", m.Sig, i+1, err)
		}
		values[i] = v
	}
	packed, err := m.Inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Sig, err)
	}
	return append(bytes.Clone(m.ID), packed...), nil
}

// Unpack decodes call data produced by Pack.
func (m Method) Unpack(data []byte) ([]any, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], m.ID) {
		return nil, fmt.Errorf("%s: selector mismatch", m.Sig)
	}
	return m.Inputs.Unpack(data[4:])
}

// UnpackOutputs decodes a call's return data.
func (m Method) UnpackOutputs(data []byte) ([]any, error) {
	return m.Outputs.Unpack(data)
}

// EncodeCall parses sig and packs args in one step.
func EncodeCall(sig string, args ...any) ([]byte, error) {
	m, err := ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	return m.Pack(args...)
}

func splitSignature(sig string) (string, []string, error) {
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return "", nil, errors.New("expected name(types)")
	}
	name := sig[:open]
	for _, r := range name {
		if !(r == '_' || r == '$' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", nil, fmt.Errorf("invalid character %q in name", r)
		}
	}
	types, err := splitTypeList(sig[open:])
	return name, types, err
}

// splitTypeList splits "(a,b)" or "a,b" into its type names.
func splitTypeList(list string) ([]string, error) {
	list = strings.TrimSpace(list)
	if strings.HasPrefix(list, "(") {
		if !strings.HasSuffix(list, ")") {
			return nil, errors.New("unbalanced parentheses")
		}
		list = list[1 : len(list)-1]
	}
	if strings.ContainsAny(list, "()") {
		return nil, errors.New("tuple parameters are not supported")
	}
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	fields := strings.Split(list, ",")
	types := make([]string, len(fields))
	for i, f := range fields {
		// Drop parameter names: "address to" -> "address".
		parts := strings.Fields(f)
		if len(parts) == 0 {
			return nil, errors.New("empty parameter type")
		}
		types[i] = parts[0]
	}
	return types, nil
}

func argumentsFor(types []string) (abi.Arguments, error) {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(normalizeType(t), "", nil)
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", t, err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args, nil
}

func normalizeType(t string) string {
	switch {
	case t == "uint" || strings.HasPrefix(t, "uint["):
		return "uint256" + t[len("uint"):]
	case t == "int" || strings.HasPrefix(t, "int["):
		return "int256" + t[len("int"):]
	}
	return t
}

func canonicalTypes(args abi.Arguments) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a.Type.String()
	}
	return out
}
