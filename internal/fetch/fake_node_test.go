package fetch

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/yourorg/ledger-sampler/internal/config"
	"github.com/yourorg/ledger-sampler/internal/model"
)

// fakeNode is an in-memory Substrate node answering the storage RPCs the
// ledger client issues. A key mapped to nil is listed but has a null value.
type fakeNode struct {
	mu      sync.Mutex
	head    string
	storage map[string][]byte
	fail    map[string]error
	calls   map[string]int
	closed  bool
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		head:    "0x" + strings.Repeat("ab", 32),
		storage: make(map[string][]byte),
		fail:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeNode) put(key, value []byte) {
	f.storage[hexutil.Encode(key)] = value
}

func (f *fakeNode) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[method]++
	if err := f.fail[method]; err != nil {
		return err
	}

	var out interface{}
	switch method {
	case "chain_getFinalizedHead":
		out = f.head
	case "state_getKeysPaged":
		if err := f.checkAt(args[3]); err != nil {
			return err
		}
		prefix := hexutil.Encode(args[0].(hexutil.Bytes))
		count := args[1].(int)
		start := ""
		if s, ok := args[2].(hexutil.Bytes); ok {
			start = hexutil.Encode(s)
		}
		var keys []string
		for k := range f.storage {
			if strings.HasPrefix(k, prefix) && k > start {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		if len(keys) > count {
			keys = keys[:count]
		}
		if keys == nil {
			keys = []string{}
		}
		out = keys
	case "state_queryStorageAt":
		if err := f.checkAt(args[1]); err != nil {
			return err
		}
		var changes [][]interface{}
		for _, k := range args[0].([]hexutil.Bytes) {
			key := hexutil.Encode(k)
			var value interface{}
			if v := f.storage[key]; v != nil {
				value = hexutil.Encode(v)
			}
			changes = append(changes, []interface{}{key, value})
		}
		out = []map[string]interface{}{{"block": f.head, "changes": changes}}
	case "state_getStorage":
		if err := f.checkAt(args[1]); err != nil {
			return err
		}
		if v := f.storage[hexutil.Encode(args[0].(hexutil.Bytes))]; v != nil {
			out = hexutil.Encode(v)
		}
	default:
		return fmt.Errorf("method %s not found", method)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

func (f *fakeNode) checkAt(at interface{}) error {
	if at != f.head {
		return fmt.Errorf("unexpected block %v", at)
	}
	return nil
}

func (f *fakeNode) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func testLedgerClient(node *fakeNode, pageSize int) *LedgerClient {
	return newLedgerClient(node, config.LedgerConfig{Endpoint: "ws://fake", PageSize: pageSize})
}

func testAddress(b byte) model.Address {
	return testAddressN(b, model.AddressLength)
}

func testAddressN(b byte, n int) model.Address {
	return model.NewAddress(bytes.Repeat([]byte{b}, n))
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func u32LE(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u128LE(v *big.Int) []byte {
	b := make([]byte, 16)
	be := v.Bytes()
	for i := range be {
		b[i] = be[len(be)-1-i]
	}
	return b
}

// compact encodes v in SCALE compact form
func compact(v *big.Int) []byte {
	switch {
	case v.Cmp(big.NewInt(1<<6)) < 0:
		return []byte{byte(v.Uint64() << 2)}
	case v.Cmp(big.NewInt(1<<14)) < 0:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v.Uint64()<<2|1))
		return b
	case v.Cmp(big.NewInt(1<<30)) < 0:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v.Uint64()<<2|2))
		return b
	}
	be := v.Bytes()
	le := make([]byte, len(be))
	for i := range be {
		le[i] = be[len(be)-1-i]
	}
	for len(le) < 4 {
		le = append(le, 0)
	}
	return append([]byte{byte((len(le)-4)<<2 | 3)}, le...)
}

func accountKey(addr model.Address) []byte {
	return concat(systemAccountPrefix, bytes.Repeat(addr.Bytes()[:1], 16), addr.Bytes())
}

func accountInfo(free, reserved *big.Int) []byte {
	return concat(
		make([]byte, 16),
		u128LE(free),
		u128LE(reserved),
		make([]byte, 16), // frozen
		make([]byte, 16), // flags
	)
}

func stakingKey(controller model.Address) []byte {
	return concat(stakingLedgerPrefix, bytes.Repeat(controller.Bytes()[:1], 16), controller.Bytes())
}

func stakingLedger(stash model.Address, total *big.Int) []byte {
	// active, empty unlocking, empty claimed rewards
	return concat(stash.Bytes(), compact(total), compact(total), []byte{0}, []byte{0})
}

func referendumKey(idx uint32) []byte {
	return concat(referendumInfoPrefix, make([]byte, 8), u32LE(idx))
}

func ongoingReferendum() []byte {
	// end, proposal hash, threshold, delay, tally
	return concat([]byte{0}, u32LE(100), []byte{0}, make([]byte, 32), []byte{0}, u32LE(10), make([]byte, 48))
}

func finishedReferendum() []byte {
	return concat([]byte{1}, []byte{1}, u32LE(50))
}

func votingKey(account model.Address) []byte {
	return concat(votingOfPrefix, make([]byte, 8), account.Bytes())
}

type directVote struct {
	ref   uint32
	split bool
}

func directVoting(votes ...directVote) []byte {
	out := concat([]byte{0}, compact(big.NewInt(int64(len(votes)))))
	for _, v := range votes {
		out = append(out, u32LE(v.ref)...)
		if v.split {
			out = append(out, 1)
			out = append(out, u128LE(big.NewInt(3))...)
			out = append(out, u128LE(big.NewInt(4))...)
			continue
		}
		out = append(out, 0, 0x81)
		out = append(out, u128LE(big.NewInt(1000))...)
	}
	// delegations, prior
	return concat(out, make([]byte, 32), u32LE(0), make([]byte, 16))
}

func delegatingVoting(target model.Address) []byte {
	return concat([]byte{1}, u128LE(big.NewInt(500)), target.Bytes(), []byte{1}, make([]byte, 32), u32LE(0), make([]byte, 16))
}

type proposalFixture struct {
	index    uint32
	variant  byte
	proposer model.Address
}

func publicProps(props ...proposalFixture) []byte {
	out := compact(big.NewInt(int64(len(props))))
	for _, p := range props {
		out = append(out, u32LE(p.index)...)
		out = append(out, p.variant)
		switch p.variant {
		case boundedLegacy:
			out = append(out, make([]byte, 32)...)
		case boundedInline:
			call := []byte{0x00, 0x01, 0x02}
			out = append(out, compact(big.NewInt(int64(len(call))))...)
			out = append(out, call...)
		case boundedLookup:
			out = append(out, make([]byte, 32)...)
			out = append(out, u32LE(64)...)
		}
		out = append(out, p.proposer.Bytes()...)
	}
	return out
}
