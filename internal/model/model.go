// Package model defines the core data structures for the ledger sampler.
package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AccountID widths in bytes
const (
	// AddressLength is the default AccountId32 width
	AddressLength = 32

	// EthereumAddressLength is the AccountId20 width of EVM-unified chains
	EthereumAddressLength = 20
)

// Address is a raw ledger AccountId of either width. It is comparable and
// usable as a map key.
type Address string

// NewAddress copies b into an Address
func NewAddress(b []byte) Address {
	return Address(b)
}

// Bytes returns a copy of the raw AccountId
func (a Address) Bytes() []byte {
	return []byte(a)
}

// Len is the AccountId width in bytes
func (a Address) Len() int {
	return len(a)
}

// String renders the address as 0x-prefixed hex
func (a Address) String() string {
	return hexutil.Encode([]byte(a))
}

// MarshalText renders the address as hex in JSON output
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// AddressFromBytes copies the trailing n bytes of b into an Address.
// It returns false when b is shorter than n.
func AddressFromBytes(b []byte, n int) (Address, bool) {
	if n <= 0 || len(b) < n {
		return "", false
	}
	return NewAddress(b[len(b)-n:]), true
}

// AccountRecord is one row of the ledger account table.
// Balances are in base units (10^-18 of the display unit).
type AccountRecord struct {
	// Address of the account
	Address Address `json:"address"`

	// Free is the transferable balance
	Free *big.Int `json:"free"`

	// Reserved is the balance held aside by the runtime
	Reserved *big.Int `json:"reserved"`
}

// StakingLedgerEntry is the staking ledger of one controller.
type StakingLedgerEntry struct {
	// Controller is the controller AccountId the ledger is keyed by
	Controller Address `json:"controller"`

	// Total is the total staked amount; nil when the controller has no active ledger
	Total *big.Int `json:"total,omitempty"`
}

// HasLedger reports whether the entry carries a staking ledger
func (e StakingLedgerEntry) HasLedger() bool {
	return e.Total != nil
}

// Proposal is a public governance proposal.
type Proposal struct {
	Index    uint32  `json:"index"`
	Proposer Address `json:"proposer"`
}

// Vote is a single voter's participation in a referendum.
type Vote struct {
	Voter Address `json:"voter"`

	// Delegated is set when the vote reaches the referendum through a delegation
	Delegated bool `json:"delegated,omitempty"`
}

// Referendum is an ongoing referendum together with its votes.
type Referendum struct {
	Index uint32 `json:"index"`
	Votes []Vote `json:"votes"`
}

// GovernanceActors holds everything needed to derive the governance account set.
type GovernanceActors struct {
	Proposals []Proposal   `json:"proposals"`
	Referenda []Referendum `json:"referenda"`
}
