package sink

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// FormatValue renders a decoded value as column text. Scalars use their canonical chain
// notation; arrays and tuples become JSON. A string that is not valid UTF-8 or holds a NUL
// byte is stored as the 0x-hex of its bytes, since TEXT columns cannot hold it.
func FormatValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		if !utf8.ValidString(x) || strings.IndexByte(x, 0) >= 0 {
			return hexutil.Encode([]byte(x)), nil
		}
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case *big.Int:
		if x == nil {
			return "", nil
		}
		return x.String(), nil
	case common.Address:
		return x.Hex(), nil
	case common.Hash:
		return x.Hex(), nil
	case evm.HashedTopic:
		return x.String(), nil
	case []byte:
		return hexutil.Encode(x), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return hexutil.Encode(arrayBytes(rv)), nil
		}
	}

	norm, err := normalize(rv)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", v, err)
	}
	return string(out), nil
}

// normalize converts composite values into JSON-ready trees using FormatValue for scalars.
// Tuple structs keep component order and use their json tag (the ABI component name) as key.
func normalize(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return FormatValue(rv.Interface())
		}
		out := make([]any, rv.Len())
		for i := range out {
			v, err := normalize(rv.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case reflect.Struct:
		if isScalarStruct(rv) {
			return FormatValue(rv.Interface())
		}
		out := orderedmap.New[string, any]()
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			key := f.Name
			if tag := strings.Split(f.Tag.Get("json"), ",")[0]; tag != "" {
				key = tag
			}
			v, err := normalize(rv.Field(i))
			if err != nil {
				return nil, err
			}
			out.Set(key, v)
		}
		return out, nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		if _, ok := rv.Interface().(*big.Int); ok {
			return FormatValue(rv.Interface())
		}
		return normalize(rv.Elem())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Invalid:
		return nil, nil
	default:
		return FormatValue(rv.Interface())
	}
}

func isScalarStruct(rv reflect.Value) bool {
	switch rv.Interface().(type) {
	case evm.HashedTopic:
		return true
	}
	return false
}

func arrayBytes(rv reflect.Value) []byte {
	b := make([]byte, rv.Len())
	for i := range b {
		b[i] = byte(rv.Index(i).Uint())
	}
	return b
}
