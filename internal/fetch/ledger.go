package fetch

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/ledger-sampler/internal/model"
)

// LedgerClient reads account, staking and governance state from a Substrate
// node. Every operation pins its reads to the finalized head it resolves first,
// so each result is a consistent point-in-time snapshot.
type LedgerClient struct {
	caller   rpcCaller
	limiter  *rate.Limiter
	pageSize int
	addrLen  int
	log      *logrus.Entry
}

// Close releases the underlying RPC connection
func (c *LedgerClient) Close() {
	c.caller.Close()
}

// ListAccountAddresses returns the address of every entry in System.Account
func (c *LedgerClient) ListAccountAddresses(ctx context.Context) ([]model.Address, error) {
	const op = "ListAccountAddresses"

	at, err := c.finalizedHead(ctx)
	if err != nil {
		return nil, &LedgerQueryError{Op: op, Err: err}
	}
	keys, err := c.keys(ctx, systemAccountPrefix, at)
	if err != nil {
		return nil, &LedgerQueryError{Op: op, Err: err}
	}

	addrs := make([]model.Address, 0, len(keys))
	for _, k := range keys {
		addr, err := c.addressFromKey(k, blake2ConcatLen)
		if err != nil {
			return nil, &LedgerQueryError{Op: op, Err: err}
		}
		addrs = append(addrs, addr)
	}

	c.log.WithFields(logrus.Fields{"block": at, "accounts": len(addrs)}).Debug("Listed account addresses")
	return addrs, nil
}

// ListAccountBalances returns free and reserved balances for every account.
// Keys whose value disappeared between listing and fetching are dropped.
func (c *LedgerClient) ListAccountBalances(ctx context.Context) ([]model.AccountRecord, error) {
	const op = "ListAccountBalances"

	at, err := c.finalizedHead(ctx)
	if err != nil {
		return nil, &LedgerQueryError{Op: op, Err: err}
	}
	entries, err := c.entries(ctx, systemAccountPrefix, at)
	if err != nil {
		return nil, &LedgerQueryError{Op: op, Err: err}
	}

	records := make([]model.AccountRecord, 0, len(entries))
	for _, e := range entries {
		if e.Value == nil {
			continue
		}
		addr, err := c.addressFromKey(e.Key, blake2ConcatLen)
		if err != nil {
			return nil, &LedgerQueryError{Op: op, Err: err}
		}
		free, reserved, err := decodeAccountInfo(e.Value)
		if err != nil {
			return nil, &LedgerQueryError{Op: op, Err: fmt.Errorf("%s: %w", addr, err)}
		}
		records = append(records, model.AccountRecord{Address: addr, Free: free, Reserved: reserved})
	}

	c.log.WithFields(logrus.Fields{"block": at, "records": len(records)}).Debug("Listed account balances")
	return records, nil
}

// ListStakingLedgers returns one entry per Staking.Ledger key. Total is nil
// when the controller no longer has a ledger at the pinned block.
func (c *LedgerClient) ListStakingLedgers(ctx context.Context) ([]model.StakingLedgerEntry, error) {
	const op = "ListStakingLedgers"

	at, err := c.finalizedHead(ctx)
	if err != nil {
		return nil, &LedgerQueryError{Op: op, Err: err}
	}
	entries, err := c.entries(ctx, stakingLedgerPrefix, at)
	if err != nil {
		return nil, &LedgerQueryError{Op: op, Err: err}
	}

	ledgers := make([]model.StakingLedgerEntry, 0, len(entries))
	for _, e := range entries {
		controller, err := c.addressFromKey(e.Key, blake2ConcatLen)
		if err != nil {
			return nil, &LedgerQueryError{Op: op, Err: err}
		}
		entry := model.StakingLedgerEntry{Controller: controller}
		if e.Value != nil {
			if entry.Total, err = decodeStakingTotal(e.Value, c.addrLen); err != nil {
				return nil, &LedgerQueryError{Op: op, Err: fmt.Errorf("%s: %w", controller, err)}
			}
		}
		ledgers = append(ledgers, entry)
	}

	c.log.WithFields(logrus.Fields{"block": at, "ledgers": len(ledgers)}).Debug("Listed staking ledgers")
	return ledgers, nil
}

// ListGovernanceActors returns the public proposals and, for every ongoing
// referendum, the accounts voting on it directly or through a delegation.
func (c *LedgerClient) ListGovernanceActors(ctx context.Context) (model.GovernanceActors, error) {
	const op = "ListGovernanceActors"
	var actors model.GovernanceActors

	at, err := c.finalizedHead(ctx)
	if err != nil {
		return actors, &LedgerQueryError{Op: op, Err: err}
	}

	raw, err := c.value(ctx, publicPropsKey, at)
	if err != nil {
		return actors, &LedgerQueryError{Op: op, Err: err}
	}
	if actors.Proposals, err = decodePublicProps(raw, c.addrLen); err != nil {
		return actors, &LedgerQueryError{Op: op, Err: err}
	}

	ongoing, err := c.ongoingReferenda(ctx, at)
	if err != nil {
		return actors, &LedgerQueryError{Op: op, Err: err}
	}
	if len(ongoing) > 0 {
		if actors.Referenda, err = c.referendumVotes(ctx, at, ongoing); err != nil {
			return actors, &LedgerQueryError{Op: op, Err: err}
		}
	}

	c.log.WithFields(logrus.Fields{
		"block":     at,
		"proposals": len(actors.Proposals),
		"referenda": len(actors.Referenda),
	}).Debug("Listed governance actors")
	return actors, nil
}

// ongoingReferenda returns the sorted indexes of Ongoing referenda
func (c *LedgerClient) ongoingReferenda(ctx context.Context, at string) ([]uint32, error) {
	entries, err := c.entries(ctx, referendumInfoPrefix, at)
	if err != nil {
		return nil, err
	}
	var ongoing []uint32
	for _, e := range entries {
		if e.Value == nil {
			continue
		}
		idx, err := referendumIndexFromKey(e.Key)
		if err != nil {
			return nil, err
		}
		ok, err := isOngoingReferendum(e.Value)
		if err != nil {
			return nil, fmt.Errorf("referendum %d: %w", idx, err)
		}
		if ok {
			ongoing = append(ongoing, idx)
		}
	}
	sort.Slice(ongoing, func(i, j int) bool { return ongoing[i] < ongoing[j] })
	return ongoing, nil
}

// referendumVotes attributes every VotingOf entry to the ongoing referenda it reaches
func (c *LedgerClient) referendumVotes(ctx context.Context, at string, ongoing []uint32) ([]model.Referendum, error) {
	entries, err := c.entries(ctx, votingOfPrefix, at)
	if err != nil {
		return nil, err
	}

	votes := make(map[uint32][]model.Vote, len(ongoing))
	for _, idx := range ongoing {
		votes[idx] = nil
	}

	direct := make(map[model.Address][]uint32)
	type delegation struct {
		from, to model.Address
	}
	var delegations []delegation

	for _, e := range entries {
		if e.Value == nil {
			continue
		}
		account, err := c.addressFromKey(e.Key, twox64ConcatLen)
		if err != nil {
			return nil, err
		}
		v, err := decodeVoting(e.Value, c.addrLen)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", account, err)
		}
		if v.Delegates {
			delegations = append(delegations, delegation{from: account, to: v.Target})
			continue
		}
		for _, idx := range v.Direct {
			if _, ok := votes[idx]; !ok {
				continue
			}
			votes[idx] = append(votes[idx], model.Vote{Voter: account})
			direct[account] = append(direct[account], idx)
		}
	}

	for _, d := range delegations {
		for _, idx := range direct[d.to] {
			votes[idx] = append(votes[idx], model.Vote{Voter: d.from, Delegated: true})
		}
	}

	referenda := make([]model.Referendum, 0, len(ongoing))
	for _, idx := range ongoing {
		referenda = append(referenda, model.Referendum{Index: idx, Votes: votes[idx]})
	}
	return referenda, nil
}

// addressFromKey checks the key length of an AccountId-keyed map and returns the trailing AccountId
func (c *LedgerClient) addressFromKey(key []byte, hasherLen int) (model.Address, error) {
	want := prefixLen + hasherLen + c.addrLen
	if len(key) != want {
		return "", fmt.Errorf("unexpected storage key length %d, want %d", len(key), want)
	}
	addr, _ := model.AddressFromBytes(key, c.addrLen)
	return addr, nil
}

// referendumIndexFromKey reads the Twox64Concat u32 at the end of a ReferendumInfoOf key
func referendumIndexFromKey(key []byte) (uint32, error) {
	if len(key) != twox64ConcatU32Len {
		return 0, fmt.Errorf("unexpected referendum key length %d, want %d", len(key), twox64ConcatU32Len)
	}
	return binary.LittleEndian.Uint32(key[len(key)-4:]), nil
}
