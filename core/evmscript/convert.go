package evmscript

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrConversion is returned when a script value cannot be coerced to an ABI
// type.
var ErrConversion = errors.New("cannot convert value")

// Convert coerces a script value to the Go type go-ethereum packs for typ.
//
// Script values are strings (from literals), []any (from array literals),
// common.Address, *big.Int, bool or []byte (from helpers). Strings are parsed
// according to typ: hex addresses, decimal/hex/exponent integers
// ("100e18"), "true"/"false", and 0x-prefixed byte strings.
func Convert(typ abi.Type, v any) (any, error) {
	switch typ.T {
	case abi.AddressTy:
		return toAddress(v)
	case abi.UintTy, abi.IntTy:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		return fitInteger(typ, n)
	case abi.BoolTy:
		return toBool(v)
	case abi.StringTy:
		return toString(v)
	case abi.BytesTy:
		return toBytes(v)
	case abi.FixedBytesTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) > typ.Size {
			return nil, fmt.Errorf("%w: %d bytes do not fit bytes%d", ErrConversion, len(b), typ.Size)
		}
		out := reflect.New(typ.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(b))
		return out.Interface(), nil
	case abi.SliceTy, abi.ArrayTy:
		return toList(typ, v)
	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrConversion, typ)
	}
}

func toAddress(v any) (common.Address, error) {
	switch x := v.(type) {
	case common.Address:
		return x, nil
	case string:
		if !common.IsHexAddress(x) {
			return common.Address{}, fmt.Errorf("%w: %q is not an address", ErrConversion, x)
		}
		return common.HexToAddress(x), nil
	}
	return common.Address{}, fmt.Errorf("%w: %T to address", ErrConversion, v)
}

// ParseNumber parses decimal, 0x-hex and exponent notation ("1.5e18").
func ParseNumber(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty number", ErrConversion)
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var n *big.Int
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a number", ErrConversion, s)
		}
		n = v
	case strings.ContainsAny(s, "eE."):
		r, ok := new(big.Rat).SetString(s)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a number", ErrConversion, s)
		}
		if !r.IsInt() {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrConversion, s)
		}
		n = new(big.Int).Set(r.Num())
	default:
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a number", ErrConversion, s)
		}
		n = v
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}

func toBigInt(v any) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		return new(big.Int).Set(x), nil
	case string:
		return ParseNumber(x)
	case int:
		return big.NewInt(int64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case common.Hash:
		return x.Big(), nil
	}
	return nil, fmt.Errorf("%w: %T to integer", ErrConversion, v)
}

func fitInteger(typ abi.Type, n *big.Int) (any, error) {
	if typ.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative for %s", ErrConversion, n, typ)
	}
	bits := n.BitLen()
	if typ.T == abi.IntTy {
		bits++
	}
	if bits > typ.Size {
		return nil, fmt.Errorf("%w: %s overflows %s", ErrConversion, n, typ)
	}

	goType := typ.GetType()
	if goType.Kind() == reflect.Ptr {
		return n, nil
	}
	out := reflect.New(goType).Elem()
	if typ.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out.Interface(), nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch x {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %v to bool", ErrConversion, v)
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return "", fmt.Errorf("%w: %T to string", ErrConversion, v)
}

func toBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case common.Hash:
		return x.Bytes(), nil
	case string:
		if x == "0x" {
			return []byte{}, nil
		}
		b, err := hexutil.Decode(x)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not hex: %v", ErrConversion, x, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %T to bytes", ErrConversion, v)
}

func toList(typ abi.Type, v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %T to %s", ErrConversion, v, typ)
	}
	if typ.T == abi.ArrayTy && len(items) != typ.Size {
		return nil, fmt.Errorf("%w: %s needs %d elements, got %d", ErrConversion, typ, typ.Size, len(items))
	}

	var out reflect.Value
	if typ.T == abi.SliceTy {
		out = reflect.MakeSlice(typ.GetType(), len(items), len(items))
	} else {
		out = reflect.New(typ.GetType()).Elem()
	}
	for i, item := range items {
		elem, err := Convert(*typ.Elem, item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(elem))
	}
	return out.Interface(), nil
}
