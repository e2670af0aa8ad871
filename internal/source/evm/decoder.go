package evm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const wordSize = 32

// Decoder turns raw logs of a single event into records. It is safe for concurrent use.
type Decoder struct {
	event      *abi.Event
	topic0     common.Hash
	names      []string
	indexed    []indexedParam
	nonIndexed abi.Arguments
	// nonIndexedPos[k] is the declaration position of nonIndexed[k].
	nonIndexedPos []int
	minData       int
}

type indexedParam struct {
	pos int
	arg abi.Argument
}

// NewDecoder precomputes the indexed/non-indexed split of ev.
func NewDecoder(ev *abi.Event) *Decoder {
	d := &Decoder{
		event:  ev,
		topic0: ComputeSignature(ev),
		names:  make([]string, len(ev.Inputs)),
	}
	for i, in := range ev.Inputs {
		d.names[i] = ParamName(i, in)
		if in.Indexed {
			d.indexed = append(d.indexed, indexedParam{pos: i, arg: in})
			continue
		}
		d.nonIndexed = append(d.nonIndexed, in)
		d.nonIndexedPos = append(d.nonIndexedPos, i)
		d.minData += headSize(in.Type)
	}
	return d
}

// Decode decodes lg against ev. See Decoder.Decode.
func Decode(lg types.Log, ev *abi.Event) (*Record, error) {
	return NewDecoder(ev).Decode(lg)
}

// Topic0 is the signature hash the decoder expects in topics[0].
func (d *Decoder) Topic0() common.Hash {
	return d.topic0
}

// Decode reconstructs the event's fields from lg in declaration order. Indexed parameters come
// from topics[1:], non-indexed ones from the ABI-encoded data payload.
func (d *Decoder) Decode(lg types.Log) (*Record, error) {
	if len(lg.Topics) == 0 {
		return nil, d.malformed(lg, "no topics")
	}
	if lg.Topics[0] != d.topic0 {
		return nil, d.malformed(lg, fmt.Sprintf("topic0 %s does not match %s", lg.Topics[0].Hex(), d.topic0.Hex()))
	}
	// An exact count is required: events sharing a signature but differing in indexed flags
	// (ERC-20 vs ERC-721 Transfer) would otherwise decode with shifted fields.
	if want := 1 + len(d.indexed); len(lg.Topics) != want {
		return nil, d.malformed(lg, fmt.Sprintf("expected %d topics, got %d", want, len(lg.Topics)))
	}

	values := make([]any, len(d.names))
	for k, p := range d.indexed {
		v, err := decodeTopic(p.arg.Type, lg.Topics[1+k])
		if err != nil {
			return nil, d.malformed(lg, fmt.Sprintf("topic %d (%s): %v", 1+k, d.names[p.pos], err))
		}
		values[p.pos] = v
	}

	if len(d.nonIndexed) > 0 {
		if len(lg.Data) < d.minData {
			return nil, d.malformed(lg, fmt.Sprintf("data is %d bytes, need at least %d", len(lg.Data), d.minData))
		}
		out, err := d.nonIndexed.UnpackValues(lg.Data)
		if err != nil {
			return nil, d.malformed(lg, fmt.Sprintf("unpack data: %v", err))
		}
		if len(out) != len(d.nonIndexed) {
			return nil, d.malformed(lg, fmt.Sprintf("unpacked %d values, want %d", len(out), len(d.nonIndexed)))
		}
		for k, v := range out {
			values[d.nonIndexedPos[k]] = v
		}
	}

	fields := orderedmap.New[string, any]()
	for i, name := range d.names {
		fields.Set(name, values[i])
	}
	return &Record{
		EventName:   d.event.RawName,
		Fields:      fields,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}, nil
}

func (d *Decoder) malformed(lg types.Log, reason string) error {
	return fmt.Errorf("%w: %s block %d index %d: %s", ErrMalformedLog, d.event.RawName, lg.BlockNumber, lg.Index, reason)
}

// ParamName is the record key for input i. Unnamed parameters become arg<i>.
func ParamName(i int, in abi.Argument) string {
	if in.Name == "" {
		return fmt.Sprintf("arg%d", i)
	}
	return in.Name
}

func decodeTopic(t abi.Type, topic common.Hash) (any, error) {
	word := topic.Bytes()
	switch t.T {
	case abi.AddressTy:
		return common.BytesToAddress(word[wordSize-common.AddressLength:]), nil
	case abi.IntTy, abi.UintTy:
		return abi.ReadInteger(t, word)
	case abi.BoolTy:
		return readBool(word)
	case abi.FixedBytesTy:
		return abi.ReadFixedBytes(t, word)
	case abi.FunctionTy:
		var fn [24]byte
		copy(fn[:], word[:24])
		return fn, nil
	case abi.StringTy, abi.BytesTy, abi.SliceTy, abi.ArrayTy, abi.TupleTy:
		return HashedTopic{Hash: topic}, nil
	default:
		return nil, fmt.Errorf("unsupported indexed type %s", t.String())
	}
}

var errBadBool = errors.New("improperly encoded boolean value")

func readBool(word []byte) (bool, error) {
	for _, b := range word[:wordSize-1] {
		if b != 0 {
			return false, errBadBool
		}
	}
	switch word[wordSize-1] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errBadBool
	}
}

// headSize is the number of bytes t occupies in the head of an ABI encoding: one offset word
// for dynamic types, the full inline size for static arrays and tuples.
func headSize(t abi.Type) int {
	if isDynamic(t) {
		return wordSize
	}
	switch t.T {
	case abi.ArrayTy:
		return t.Size * headSize(*t.Elem)
	case abi.TupleTy:
		n := 0
		for _, e := range t.TupleElems {
			n += headSize(*e)
		}
		return n
	default:
		return wordSize
	}
}

func isDynamic(t abi.Type) bool {
	switch t.T {
	case abi.StringTy, abi.BytesTy, abi.SliceTy:
		return true
	case abi.ArrayTy:
		return isDynamic(*t.Elem)
	case abi.TupleTy:
		for _, e := range t.TupleElems {
			if isDynamic(*e) {
				return true
			}
		}
	}
	return false
}
