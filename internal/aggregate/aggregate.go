// Package aggregate turns raw ledger and relational reads into the scalar
// metric set emitted once per tick.
package aggregate

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/yourorg/ledger-sampler/internal/format"
	"github.com/yourorg/ledger-sampler/internal/model"
)

// LedgerSource is the read side of the ledger node
type LedgerSource interface {
	ListAccountAddresses(ctx context.Context) ([]model.Address, error)
	ListAccountBalances(ctx context.Context) ([]model.AccountRecord, error)
	ListStakingLedgers(ctx context.Context) ([]model.StakingLedgerEntry, error)
	ListGovernanceActors(ctx context.Context) (model.GovernanceActors, error)
}

// RelationalSource is the optional read side of the relational store
type RelationalSource interface {
	CountActiveAccounts(ctx context.Context, within time.Duration) (int64, error)
	CountTransactions(ctx context.Context) (int64, error)
}

// DefaultActiveWindow is the trailing window used for activeAccountCount
const DefaultActiveWindow = 72 * time.Hour

// Aggregator runs the reads of one tick concurrently and combines the results
type Aggregator struct {
	pool         pond.Pool
	activeWindow time.Duration
}

// New creates an Aggregator whose reads share a pool of the given size
func New(concurrency int, activeWindow time.Duration) *Aggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	if activeWindow <= 0 {
		activeWindow = DefaultActiveWindow
	}
	return &Aggregator{
		pool:         pond.NewPool(concurrency),
		activeWindow: activeWindow,
	}
}

// Stop waits for running reads and releases the pool
func (a *Aggregator) Stop() {
	a.pool.StopAndWait()
}

// Collect performs every read and builds the metric set. It fails as a whole
// when any read fails; a partial set is never returned. A nil relational
// source leaves the two relational metrics out.
func (a *Aggregator) Collect(ctx context.Context, ledger LedgerSource, relational RelationalSource) (model.ScalarMetricSet, error) {
	var (
		addrs    []model.Address
		balances []model.AccountRecord
		ledgers  []model.StakingLedgerEntry
		actors   model.GovernanceActors
		active   int64
		txCount  int64
	)

	group := a.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	group.SubmitErr(
		func() (err error) {
			addrs, err = ledger.ListAccountAddresses(groupCtx)
			return err
		},
		func() (err error) {
			balances, err = ledger.ListAccountBalances(groupCtx)
			return err
		},
		func() (err error) {
			ledgers, err = ledger.ListStakingLedgers(groupCtx)
			return err
		},
		func() (err error) {
			actors, err = ledger.ListGovernanceActors(groupCtx)
			return err
		},
	)
	if relational != nil {
		group.SubmitErr(
			func() (err error) {
				active, err = relational.CountActiveAccounts(groupCtx, a.activeWindow)
				return err
			},
			func() (err error) {
				txCount, err = relational.CountTransactions(groupCtx)
				return err
			},
		)
	}

	if err := group.Wait(); err != nil {
		return model.ScalarMetricSet{}, fmt.Errorf("collect: %w", err)
	}

	supply := SumBalances(balances)
	staked := SumStaked(ledgers)

	set := model.ScalarMetricSet{
		WalletCount:           int64(len(addrs)),
		TotalSupplyOnHands:    format.FormatDisplay(supply),
		TotalStaked:           format.FormatDisplay(staked),
		ProposalCount:         int64(len(actors.Proposals)),
		GovernanceWalletCount: int64(len(GovernanceAccounts(actors))),
		TotalSupplyRaw:        supply,
		TotalStakedRaw:        staked,
	}
	if relational != nil {
		set.Relational = &model.RelationalCounters{
			ActiveAccountCount:   active,
			TransactionInfoCount: txCount,
		}
	}
	return set, nil
}

// SumBalances returns the sum of free and reserved over all records
func SumBalances(records []model.AccountRecord) *big.Int {
	sum := new(big.Int)
	for _, r := range records {
		if r.Free != nil {
			sum.Add(sum, r.Free)
		}
		if r.Reserved != nil {
			sum.Add(sum, r.Reserved)
		}
	}
	return sum
}

// SumStaked returns the sum of totals over entries that carry a ledger
func SumStaked(entries []model.StakingLedgerEntry) *big.Int {
	sum := new(big.Int)
	for _, e := range entries {
		if e.HasLedger() {
			sum.Add(sum, e.Total)
		}
	}
	return sum
}

// GovernanceAccounts returns the deduplicated union of proposers and referendum voters
func GovernanceAccounts(actors model.GovernanceActors) map[model.Address]struct{} {
	set := make(map[model.Address]struct{})
	for _, p := range actors.Proposals {
		set[p.Proposer] = struct{}{}
	}
	for _, ref := range actors.Referenda {
		for _, v := range ref.Votes {
			set[v.Voter] = struct{}{}
		}
	}
	return set
}
