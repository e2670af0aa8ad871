package sink

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/devblac/abi-indexer/internal/storage"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const erc20ABIJSON = `[
	{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}
	]}
]`

func mustEvent(t *testing.T, abiJSON, name string) *abi.Event {
	t.Helper()
	a, err := evm.ParseInterface([]byte(abiJSON))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	ev, err := evm.LookupEvent(a, name)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return ev
}

func newTestSink(t *testing.T) (*Sink, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "sink.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, 0), store
}

func TestSynthesizeSchemaStable(t *testing.T) {
	ev := mustEvent(t, erc20ABIJSON, "Transfer")
	a, err := SynthesizeSchema(ev)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	b, err := SynthesizeSchema(mustEvent(t, erc20ABIJSON, "Transfer"))
	if err != nil {
		t.Fatalf("synthesize again: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("schemas differ: %+v vs %+v", a, b)
	}
	if a.Table != "Transfer" || a.Identity != "id" {
		t.Fatalf("unexpected table %+v", a)
	}
	if got := strings.Join(a.ColumnNames(), ","); got != "p_from,p_to,p_value" {
		t.Fatalf("columns = %s", got)
	}
	for _, c := range a.Columns {
		if c.Type != "TEXT" {
			t.Fatalf("column %s type %s", c.Name, c.Type)
		}
	}
}

func TestSynthesizeSchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		abi  string
		ev   string
	}{
		{"reserved_table", `[{"type":"event","name":"_ingested_logs","inputs":[{"name":"x","type":"uint256","indexed":false}]}]`, "_ingested_logs"},
		{"bad_param", `[{"type":"event","name":"E","inputs":[{"name":"x$y","type":"uint256","indexed":false}]}]`, "E"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := mustEvent(t, tt.abi, tt.ev)
			if _, err := SynthesizeSchema(ev); !errors.Is(err, evm.ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
	if _, err := SynthesizeSchema(nil); !errors.Is(err, evm.ErrConfig) {
		t.Fatalf("expected ErrConfig for nil event, got %v", err)
	}
}

func TestEnsureTableIdempotent(t *testing.T) {
	s, store := newTestSink(t)
	ctx := context.Background()
	schema, err := SynthesizeSchema(mustEvent(t, erc20ABIJSON, "Transfer"))
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.EnsureTable(ctx, schema); err != nil {
			t.Fatalf("ensure table #%d: %v", i, err)
		}
	}
	cols, rows, err := store.SelectAll(ctx, "Transfer", "id")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if strings.Join(cols, ",") != "id,p_from,p_to,p_value" || len(rows) != 0 {
		t.Fatalf("unexpected table state cols=%v rows=%d", cols, len(rows))
	}
}

func TestTransferEndToEnd(t *testing.T) {
	s, store := newTestSink(t)
	ctx := context.Background()
	ev := mustEvent(t, erc20ABIJSON, "Transfer")
	schema, err := SynthesizeSchema(ev)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if err := s.EnsureTable(ctx, schema); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	from := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	to := common.HexToAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	value, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	lg := types.Log{
		Topics: []common.Hash{
			evm.ComputeSignature(ev),
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: 42,
		Index:       1,
		TxHash:      common.HexToHash("0xbeef"),
	}
	rec, err := evm.Decode(lg, ev)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ok, err := s.InsertRecord(ctx, schema, rec)
	if err != nil || !ok {
		t.Fatalf("insert ok=%v err=%v", ok, err)
	}

	cols, rows, err := store.SelectAll(ctx, "Transfer", "id")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	want := []any{int64(1), from.Hex(), to.Hex(), "123456789012345678901234567890"}
	if !reflect.DeepEqual(rows[0], want) {
		t.Fatalf("row = %v (cols %v), want %v", rows[0], cols, want)
	}

	out, err := s.ReadAll(ctx, "Transfer")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one row, got %d", len(out))
	}
	keys := []string{}
	for pair := out[0].Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	if strings.Join(keys, ",") != "id,from,to,value" {
		t.Fatalf("keys = %v", keys)
	}
	if v, _ := out[0].Get("value"); v != "123456789012345678901234567890" {
		t.Fatalf("value = %v", v)
	}

	// same log again is recognized through its block/index key
	ok, err = s.InsertRecord(ctx, schema, rec)
	if err != nil || ok {
		t.Fatalf("re-insert ok=%v err=%v", ok, err)
	}
}

const erc1155ABIJSON = `[
	{"type":"event","name":"TransferSingle","inputs":[
		{"name":"operator","type":"address","indexed":true},
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"id","type":"uint256","indexed":false},
		{"name":"value","type":"uint256","indexed":false}
	]}
]`

func TestReadAllKeepsIdentityBesideIDParam(t *testing.T) {
	s, _ := newTestSink(t)
	ctx := context.Background()
	ev := mustEvent(t, erc1155ABIJSON, "TransferSingle")
	schema, err := SynthesizeSchema(ev)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if err := s.EnsureTable(ctx, schema); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(777), big.NewInt(5))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	operator := common.HexToAddress("0x1111111111111111111111111111111111111111")
	lg := types.Log{
		Topics: []common.Hash{
			evm.ComputeSignature(ev),
			common.BytesToHash(operator.Bytes()),
			common.BytesToHash(common.HexToAddress("0x02").Bytes()),
			common.BytesToHash(common.HexToAddress("0x03").Bytes()),
		},
		Data:        data,
		BlockNumber: 7,
		TxHash:      common.HexToHash("0x1155"),
	}
	rec, err := evm.Decode(lg, ev)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok, err := s.InsertRecord(ctx, schema, rec); err != nil || !ok {
		t.Fatalf("insert ok=%v err=%v", ok, err)
	}

	rows, err := s.ReadAll(ctx, "TransferSingle")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	keys := []string{}
	for pair := rows[0].Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	if got := strings.Join(keys, ","); got != "id,operator,from,to,p_id,value" {
		t.Fatalf("keys = %s", got)
	}
	if id, _ := rows[0].Get("id"); id != int64(1) {
		t.Fatalf("identity = %v (%T), want 1", id, id)
	}
	if tokenID, _ := rows[0].Get("p_id"); tokenID != "777" {
		t.Fatalf("id param = %v, want 777", tokenID)
	}
	if op, _ := rows[0].Get("operator"); op != operator.Hex() {
		t.Fatalf("operator = %v", op)
	}
}

const overloadedABIJSON = `[
	{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true}
	]}
]`

func TestOverloadsGetSeparateTables(t *testing.T) {
	s, _ := newTestSink(t)
	ctx := context.Background()

	fungible, err := SynthesizeSchema(mustEvent(t, overloadedABIJSON, "Transfer"))
	if err != nil {
		t.Fatalf("synthesize Transfer: %v", err)
	}
	nft, err := SynthesizeSchema(mustEvent(t, overloadedABIJSON, "Transfer0"))
	if err != nil {
		t.Fatalf("synthesize Transfer0: %v", err)
	}
	if fungible.Table != "Transfer" || nft.Table != "Transfer0" {
		t.Fatalf("tables = %s, %s", fungible.Table, nft.Table)
	}
	for _, schema := range []TableSchema{fungible, nft} {
		if err := s.EnsureTable(ctx, schema); err != nil {
			t.Fatalf("ensure %s: %v", schema.Table, err)
		}
	}
}

func TestEnsureTableRejectsDifferentColumns(t *testing.T) {
	s, store := newTestSink(t)
	ctx := context.Background()
	schema, err := SynthesizeSchema(mustEvent(t, erc20ABIJSON, "Transfer"))
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	// a table left behind by an event with the same name but other parameters
	err = store.CreateTable(ctx, storage.TableDef{
		Name:     "Transfer",
		Identity: IdentityColumn,
		Columns:  []storage.Column{{Name: "p_from", Type: ColumnType}, {Name: "p_to", Type: ColumnType}, {Name: "p_tokenId", Type: ColumnType}},
	})
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	err = s.EnsureTable(ctx, schema)
	if !errors.Is(err, evm.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if errors.Is(err, storage.ErrStoreUnavailable) {
		t.Fatalf("column mismatch must not look retryable: %v", err)
	}
}

func TestReadAllUnknownTable(t *testing.T) {
	s, _ := newTestSink(t)
	for _, name := range []string{"Never", "bad name"} {
		if _, err := s.ReadAll(context.Background(), name); !errors.Is(err, storage.ErrUnknownTable) {
			t.Fatalf("%q: expected ErrUnknownTable, got %v", name, err)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tuple := struct {
		Token  common.Address `json:"token"`
		Amount *big.Int       `json:"amount"`
	}{common.HexToAddress("0x01"), big.NewInt(5)}

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "hi", "hi"},
		{"nul_string", "a\x00b", "0x610062"},
		{"invalid_utf8", string([]byte{0xff, 0xfe}), "0xfffe"},
		{"bool", false, "false"},
		{"big", big.NewInt(-42), "-42"},
		{"uint8", uint8(255), "255"},
		{"int64", int64(-9), "-9"},
		{"address", common.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"), "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"},
		{"bytes", []byte{0x01, 0xff}, "0x01ff"},
		{"bytes4", [4]byte{0xde, 0xad, 0xbe, 0xef}, "0xdeadbeef"},
		{"hashed", evm.HashedTopic{Hash: common.HexToHash("0x0a")}, "0x000000000000000000000000000000000000000000000000000000000000000a"},
		{"uint_slice", []*big.Int{big.NewInt(1), big.NewInt(2)}, `["1","2"]`},
		{"bool_array", [2]bool{true, false}, `[true,false]`},
		{"tuple", tuple, `{"token":"0x0000000000000000000000000000000000000001","amount":"5"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatValue(tt.in)
			if err != nil {
				t.Fatalf("format: %v", err)
			}
			if got != tt.want {
				t.Fatalf("FormatValue(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
