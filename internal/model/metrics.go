package model

import (
	"fmt"
	"math/big"
	"strconv"
)

// Metric names as written to the time-series store.
const (
	MetricWalletCount           = "walletCount"
	MetricTotalSupplyOnHands    = "totalSupplyOnHands"
	MetricTotalStaked           = "totalStaked"
	MetricProposalCount         = "proposalCount"
	MetricGovernanceWalletCount = "governanceWalletCount"
	MetricActiveAccountCount    = "activeAccountCount"
	MetricTransactionInfoCount  = "transactionInfoCount"
)

// MetricPoint is the single outbound unit to the time-series sink.
// Value is either an int64 count or a float64 parsed from a truncated decimal.
type MetricPoint struct {
	Name  string            `json:"name"`
	Value interface{}       `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// RelationalCounters are the metrics that only exist when a relational store is configured.
type RelationalCounters struct {
	ActiveAccountCount   int64 `json:"active_account_count"`
	TransactionInfoCount int64 `json:"transaction_info_count"`
}

// ScalarMetricSet is the fixed set of metrics produced by one tick.
type ScalarMetricSet struct {
	WalletCount int64 `json:"wallet_count"`

	// TotalSupplyOnHands and TotalStaked are display-formatted decimals
	// (truncated, never rounded).
	TotalSupplyOnHands string `json:"total_supply_on_hands"`
	TotalStaked        string `json:"total_staked"`

	ProposalCount         int64 `json:"proposal_count"`
	GovernanceWalletCount int64 `json:"governance_wallet_count"`

	// Relational is nil when no relational source is configured
	Relational *RelationalCounters `json:"relational,omitempty"`

	// Raw base-unit sums, kept for operator output
	TotalSupplyRaw *big.Int `json:"-"`
	TotalStakedRaw *big.Int `json:"-"`
}

// Len returns the number of metrics in the set: 5, or 7 with relational counters.
func (s ScalarMetricSet) Len() int {
	if s.Relational != nil {
		return 7
	}
	return 5
}

// Points converts the set into MetricPoints in a stable order.
func (s ScalarMetricSet) Points() ([]MetricPoint, error) {
	supply, err := strconv.ParseFloat(s.TotalSupplyOnHands, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", MetricTotalSupplyOnHands, s.TotalSupplyOnHands, err)
	}
	staked, err := strconv.ParseFloat(s.TotalStaked, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", MetricTotalStaked, s.TotalStaked, err)
	}

	points := make([]MetricPoint, 0, s.Len())
	points = append(points,
		MetricPoint{Name: MetricWalletCount, Value: s.WalletCount},
		MetricPoint{Name: MetricTotalSupplyOnHands, Value: supply},
		MetricPoint{Name: MetricTotalStaked, Value: staked},
		MetricPoint{Name: MetricProposalCount, Value: s.ProposalCount},
		MetricPoint{Name: MetricGovernanceWalletCount, Value: s.GovernanceWalletCount},
	)
	if s.Relational != nil {
		points = append(points,
			MetricPoint{Name: MetricActiveAccountCount, Value: s.Relational.ActiveAccountCount},
			MetricPoint{Name: MetricTransactionInfoCount, Value: s.Relational.TransactionInfoCount},
		)
	}
	return points, nil
}
