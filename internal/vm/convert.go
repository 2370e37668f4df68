package vm

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DevAccount derives a deterministic account address from a name: the last
// 20 bytes of keccak256(name). Local deployments and scenarios refer to
// accounts by such names instead of keys.
func DevAccount(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(name))[12:])
}

// AddressResolver turns a textual account reference into an address.
type AddressResolver func(ref string) (common.Address, error)

// ResolveAddress accepts a 0x-prefixed hex address or an account name.
// Names resolve through DevAccount.
func ResolveAddress(ref string) (common.Address, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return common.Address{}, fmt.Errorf("empty address")
	}
	if strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X") {
		if !common.IsHexAddress(ref) {
			return common.Address{}, fmt.Errorf("invalid hex address %q", ref)
		}
		return common.HexToAddress(ref), nil
	}
	return DevAccount(ref), nil
}

// ParseArgs converts textual arguments into the Go values the ABI packer
// expects for inputs. Arrays are comma separated.
func ParseArgs(inputs abi.Arguments, raw []string, resolve AddressResolver) ([]any, error) {
	if len(raw) != len(inputs) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(inputs), len(raw))
	}
	if resolve == nil {
		resolve = ResolveAddress
	}
	out := make([]any, len(inputs))
	for i, in := range inputs {
		v, err := ParseArg(in.Type, raw[i], resolve)
		if err != nil {
			name := in.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, in.Type, err)
		}
		out[i] = v
	}
	return out, nil
}

// ParseArg converts one textual argument to the Go value of type t.
func ParseArg(t abi.Type, s string, resolve AddressResolver) (any, error) {
	if resolve == nil {
		resolve = ResolveAddress
	}
	switch t.T {
	case abi.AddressTy:
		return resolve(s)
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return parseBytes(s)
	case abi.FixedBytesTy:
		b, err := parseBytes(s)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%d bytes do not fit bytes%d", len(b), t.Size)
		}
		v := reflect.New(t.GetType()).Elem()
		reflect.Copy(v, reflect.ValueOf(common.LeftPadBytes(b, t.Size)))
		return v.Interface(), nil
	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(strings.ReplaceAll(s, "_", ""), 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		if t.T == abi.UintTy && n.Sign() < 0 {
			return nil, fmt.Errorf("negative value for unsigned type")
		}
		if t.Size > 64 {
			return n, nil
		}
		if (t.T == abi.UintTy && !n.IsUint64()) || (t.T == abi.IntTy && !n.IsInt64()) {
			return nil, fmt.Errorf("%s overflows %s", s, t)
		}
		rv := reflect.New(t.GetType()).Elem()
		if t.T == abi.UintTy {
			rv.SetUint(n.Uint64())
			if rv.Uint() != n.Uint64() {
				return nil, fmt.Errorf("%s overflows %s", s, t)
			}
		} else {
			rv.SetInt(n.Int64())
			if rv.Int() != n.Int64() {
				return nil, fmt.Errorf("%s overflows %s", s, t)
			}
		}
		return rv.Interface(), nil
	case abi.SliceTy:
		parts := splitList(s)
		rv := reflect.MakeSlice(t.GetType(), len(parts), len(parts))
		for i, p := range parts {
			v, err := ParseArg(*t.Elem, p, resolve)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			rv.Index(i).Set(reflect.ValueOf(v))
		}
		return rv.Interface(), nil
	}
	return nil, fmt.Errorf("unsupported argument type %s", t)
}

// parseBytes accepts 0x-prefixed hex, or plain text taken as UTF-8.
func parseBytes(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") {
		return hexutil.Decode(s)
	}
	return []byte(s), nil
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// FormatValue renders a decoded ABI value for display.
func FormatValue(v any) string {
	switch val := v.(type) {
	case common.Address:
		return val.Hex()
	case *big.Int:
		return val.String()
	case []byte:
		return hexutil.Encode(val)
	case [32]byte:
		return common.Hash(val).Hex()
	case [4]byte:
		return Selector(val).String()
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = FormatValue(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ",") + "]"
	case reflect.Array:
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return hexutil.Encode(b)
	}
	return fmt.Sprint(v)
}
