package aggregate

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/ledger-sampler/internal/model"
)

type fakeLedger struct {
	addrs    []model.Address
	balances []model.AccountRecord
	ledgers  []model.StakingLedgerEntry
	actors   model.GovernanceActors

	fail map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeLedger) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeLedger) ListAccountAddresses(context.Context) ([]model.Address, error) {
	if err := f.record("addresses"); err != nil {
		return nil, err
	}
	return f.addrs, nil
}

func (f *fakeLedger) ListAccountBalances(context.Context) ([]model.AccountRecord, error) {
	if err := f.record("balances"); err != nil {
		return nil, err
	}
	return f.balances, nil
}

func (f *fakeLedger) ListStakingLedgers(context.Context) ([]model.StakingLedgerEntry, error) {
	if err := f.record("staking"); err != nil {
		return nil, err
	}
	return f.ledgers, nil
}

func (f *fakeLedger) ListGovernanceActors(context.Context) (model.GovernanceActors, error) {
	if err := f.record("governance"); err != nil {
		return model.GovernanceActors{}, err
	}
	return f.actors, nil
}

type fakeRelational struct {
	active, tx int64
	within     time.Duration
	activeErr  error
	txErr      error
}

func (f *fakeRelational) CountActiveAccounts(_ context.Context, within time.Duration) (int64, error) {
	f.within = within
	return f.active, f.activeErr
}

func (f *fakeRelational) CountTransactions(context.Context) (int64, error) {
	return f.tx, f.txErr
}

func addr(b byte) model.Address {
	raw := make([]byte, model.AddressLength)
	raw[0] = b
	return model.NewAddress(raw)
}

func bigInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}

func sampleLedger(t *testing.T) *fakeLedger {
	return &fakeLedger{
		addrs: []model.Address{addr(1), addr(2), addr(3)},
		balances: []model.AccountRecord{
			{Address: addr(1), Free: bigInt(t, "1000000000000000000"), Reserved: bigInt(t, "500000000000000000")},
			{Address: addr(2), Free: bigInt(t, "123456789012345678901"), Reserved: big.NewInt(0)},
			{Address: addr(3), Free: big.NewInt(5), Reserved: big.NewInt(0)},
		},
		ledgers: []model.StakingLedgerEntry{
			{Controller: addr(1), Total: bigInt(t, "2000000000000000000")},
			{Controller: addr(2)},
		},
		actors: model.GovernanceActors{
			Proposals: []model.Proposal{{Index: 0, Proposer: addr(1)}},
			Referenda: []model.Referendum{{Index: 0, Votes: []model.Vote{{Voter: addr(1)}, {Voter: addr(2)}}}},
		},
	}
}

func TestCollect(t *testing.T) {
	agg := New(4, 0)
	defer agg.Stop()

	set, err := agg.Collect(context.Background(), sampleLedger(t), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(3), set.WalletCount)
	// 1.5 + 123.456789... + dust
	assert.Equal(t, "124.95", set.TotalSupplyOnHands)
	assert.Equal(t, "124956789012345678906", set.TotalSupplyRaw.String())
	assert.Equal(t, "2.00", set.TotalStaked)
	assert.Equal(t, int64(1), set.ProposalCount)
	assert.Equal(t, int64(2), set.GovernanceWalletCount)
	assert.Nil(t, set.Relational)
}

// reference sum over decimal digit strings, independent of math/big
func decimalAdd(a, b string) string {
	var out []byte
	carry := 0
	for i, j := len(a)-1, len(b)-1; i >= 0 || j >= 0 || carry > 0; i, j = i-1, j-1 {
		d := carry
		if i >= 0 {
			d += int(a[i] - '0')
		}
		if j >= 0 {
			d += int(b[j] - '0')
		}
		out = append(out, byte('0'+d%10))
		carry = d / 10
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	s := strings.TrimLeft(string(out), "0")
	if s == "" {
		return "0"
	}
	return s
}

func randomU128(r *rand.Rand) *big.Int {
	b := make([]byte, 1+r.Intn(16))
	r.Read(b)
	return new(big.Int).SetBytes(b)
}

func TestSumBalances_MatchesReference(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		records := make([]model.AccountRecord, r.Intn(200))
		want := "0"
		for i := range records {
			records[i] = model.AccountRecord{Free: randomU128(r), Reserved: randomU128(r)}
			want = decimalAdd(want, records[i].Free.String())
			want = decimalAdd(want, records[i].Reserved.String())
		}
		assert.Equal(t, want, SumBalances(records).String(), "round %d", round)
	}
}

func TestSumBalances_BeyondFloatPrecision(t *testing.T) {
	records := []model.AccountRecord{
		{Free: bigInt(t, "9007199254740993000000000000000001"), Reserved: big.NewInt(1)},
		{Free: big.NewInt(1), Reserved: big.NewInt(0)},
	}
	assert.Equal(t, "9007199254740993000000000000000003", SumBalances(records).String())
}

func TestSumStaked_SkipsAbsentLedgers(t *testing.T) {
	entries := []model.StakingLedgerEntry{
		{Controller: addr(1), Total: big.NewInt(10)},
		{Controller: addr(2)},
		{Controller: addr(3), Total: big.NewInt(32)},
		{Controller: addr(4)},
	}
	assert.Equal(t, "42", SumStaked(entries).String())

	allAbsent := []model.StakingLedgerEntry{{Controller: addr(1)}, {Controller: addr(2)}}
	assert.Equal(t, 0, SumStaked(allAbsent).Sign())
	assert.Equal(t, 0, SumStaked(nil).Sign())
}

func TestGovernanceAccounts_Dedup(t *testing.T) {
	a, b, c := addr(0xa), addr(0xb), addr(0xc)
	actors := model.GovernanceActors{
		Proposals: []model.Proposal{{Index: 0, Proposer: a}, {Index: 1, Proposer: b}},
		Referenda: []model.Referendum{
			{Index: 0, Votes: []model.Vote{{Voter: b}, {Voter: c}}},
			{Index: 1, Votes: []model.Vote{{Voter: c, Delegated: true}}},
		},
	}
	accounts := GovernanceAccounts(actors)
	assert.Len(t, accounts, 3)
	assert.Contains(t, accounts, a)
	assert.Contains(t, accounts, b)
	assert.Contains(t, accounts, c)
}

func TestCollect_FailsAtomically(t *testing.T) {
	for _, op := range []string{"addresses", "balances", "staking", "governance"} {
		t.Run(op, func(t *testing.T) {
			agg := New(4, 0)
			defer agg.Stop()

			ledger := sampleLedger(t)
			boom := errors.New("connection dropped")
			ledger.fail = map[string]error{op: boom}

			set, err := agg.Collect(context.Background(), ledger, &fakeRelational{active: 1, tx: 2})
			require.ErrorIs(t, err, boom)
			assert.Equal(t, model.ScalarMetricSet{}, set)
		})
	}

	t.Run("relational", func(t *testing.T) {
		agg := New(4, 0)
		defer agg.Stop()

		missing := errors.New("counter row not found")
		set, err := agg.Collect(context.Background(), sampleLedger(t), &fakeRelational{txErr: missing})
		require.ErrorIs(t, err, missing)
		assert.Equal(t, model.ScalarMetricSet{}, set)
	})
}

func TestCollect_RelationalOptional(t *testing.T) {
	agg := New(2, 0)
	defer agg.Stop()

	without, err := agg.Collect(context.Background(), sampleLedger(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, without.Len())
	points, err := without.Points()
	require.NoError(t, err)
	assert.Len(t, points, 5)

	rel := &fakeRelational{active: 12, tx: 3400}
	with, err := agg.Collect(context.Background(), sampleLedger(t), rel)
	require.NoError(t, err)
	assert.Equal(t, 7, with.Len())
	require.NotNil(t, with.Relational)
	assert.Equal(t, int64(12), with.Relational.ActiveAccountCount)
	assert.Equal(t, int64(3400), with.Relational.TransactionInfoCount)
	assert.Equal(t, DefaultActiveWindow, rel.within)

	points, err = with.Points()
	require.NoError(t, err)
	assert.Len(t, points, 7)
}

func TestCollect_ReadsEverySource(t *testing.T) {
	agg := New(1, time.Hour)
	defer agg.Stop()

	ledger := sampleLedger(t)
	rel := &fakeRelational{}
	_, err := agg.Collect(context.Background(), ledger, rel)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"addresses", "balances", "staking", "governance"}, ledger.calls)
	assert.Equal(t, time.Hour, rel.within)
}
