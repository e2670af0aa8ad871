package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureText renders name(type1,type2,...) using canonical type names. Parameter names and
// indexed flags do not appear.
func SignatureText(ev *abi.Event) string {
	var b strings.Builder
	b.WriteString(ev.RawName)
	b.WriteByte('(')
	for i, in := range ev.Inputs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(in.Type.String())
	}
	b.WriteByte(')')
	return b.String()
}

// ComputeSignature returns the topic0 value logs of ev are emitted with.
func ComputeSignature(ev *abi.Event) common.Hash {
	return crypto.Keccak256Hash([]byte(SignatureText(ev)))
}
