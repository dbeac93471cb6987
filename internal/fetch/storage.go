package fetch

import (
	"context"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/xxhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Key layout sizes for the storage maps the sampler reads
const (
	prefixLen          = 32
	blake2ConcatLen    = 16
	twox64ConcatLen    = 8
	twox64ConcatU32Len = prefixLen + twox64ConcatLen + 4
)

var (
	systemAccountPrefix  = storagePrefix("System", "Account")
	stakingLedgerPrefix  = storagePrefix("Staking", "Ledger")
	publicPropsKey       = storagePrefix("Democracy", "PublicProps")
	referendumInfoPrefix = storagePrefix("Democracy", "ReferendumInfoOf")
	votingOfPrefix       = storagePrefix("Democracy", "VotingOf")
)

// storagePrefix returns twox128(pallet) ++ twox128(item)
func storagePrefix(pallet, item string) []byte {
	key := xxhash.New128([]byte(pallet)).Sum(nil)
	return append(key, xxhash.New128([]byte(item)).Sum(nil)...)
}

// storageEntry is one key with its value at the pinned block; Value is nil when absent
type storageEntry struct {
	Key   []byte
	Value []byte
}

// storageChangeSet mirrors the state_queryStorageAt result element
type storageChangeSet struct {
	Block   string             `json:"block"`
	Changes [][]*hexutil.Bytes `json:"changes"`
}

func (c *LedgerClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.caller.CallContext(ctx, result, method, args...)
}

// finalizedHead returns the hash every read of one operation is pinned to
func (c *LedgerClient) finalizedHead(ctx context.Context) (string, error) {
	var hash string
	if err := c.call(ctx, &hash, "chain_getFinalizedHead"); err != nil {
		return "", fmt.Errorf("chain_getFinalizedHead: %w", err)
	}
	if hash == "" {
		return "", fmt.Errorf("chain_getFinalizedHead: empty block hash")
	}
	return hash, nil
}

// keys lists every storage key under prefix at block, page by page
func (c *LedgerClient) keys(ctx context.Context, prefix []byte, at string) ([][]byte, error) {
	var (
		all   [][]byte
		start interface{}
	)
	for {
		var page []hexutil.Bytes
		if err := c.call(ctx, &page, "state_getKeysPaged", hexutil.Bytes(prefix), c.pageSize, start, at); err != nil {
			return nil, fmt.Errorf("state_getKeysPaged: %w", err)
		}
		for _, k := range page {
			all = append(all, []byte(k))
		}
		if len(page) < c.pageSize {
			return all, nil
		}
		start = page[len(page)-1]
	}
}

// values fetches the values of keys at block, in chunks, preserving key order
func (c *LedgerClient) values(ctx context.Context, keys [][]byte, at string) ([]storageEntry, error) {
	entries := make([]storageEntry, 0, len(keys))
	for lo := 0; lo < len(keys); lo += c.pageSize {
		hi := lo + c.pageSize
		if hi > len(keys) {
			hi = len(keys)
		}
		chunk := make([]hexutil.Bytes, 0, hi-lo)
		for _, k := range keys[lo:hi] {
			chunk = append(chunk, k)
		}

		var sets []storageChangeSet
		if err := c.call(ctx, &sets, "state_queryStorageAt", chunk, at); err != nil {
			return nil, fmt.Errorf("state_queryStorageAt: %w", err)
		}

		found := make(map[string][]byte, len(chunk))
		for _, set := range sets {
			for _, change := range set.Changes {
				if len(change) != 2 || change[0] == nil {
					return nil, fmt.Errorf("state_queryStorageAt: malformed change entry")
				}
				if change[1] != nil {
					found[string(*change[0])] = []byte(*change[1])
				}
			}
		}
		for _, k := range keys[lo:hi] {
			entries = append(entries, storageEntry{Key: k, Value: found[string(k)]})
		}
	}
	return entries, nil
}

// entries lists every key under prefix and fetches its value, both at block
func (c *LedgerClient) entries(ctx context.Context, prefix []byte, at string) ([]storageEntry, error) {
	keys, err := c.keys(ctx, prefix, at)
	if err != nil {
		return nil, err
	}
	return c.values(ctx, keys, at)
}

// value reads a single plain storage item; nil when absent
func (c *LedgerClient) value(ctx context.Context, key []byte, at string) ([]byte, error) {
	var raw *hexutil.Bytes
	if err := c.call(ctx, &raw, "state_getStorage", hexutil.Bytes(key), at); err != nil {
		return nil, fmt.Errorf("state_getStorage: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return []byte(*raw), nil
}
