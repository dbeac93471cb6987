package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"

	"github.com/yourorg/ledger-sampler/internal/model"
)

// maxVecLen bounds compact length prefixes read from node state
const maxVecLen = 1 << 20

var errTrailingLength = errors.New("length prefix exceeds remaining bytes")

type decoder struct {
	*scale.Decoder
	r *bytes.Reader
}

func newDecoder(b []byte) *decoder {
	r := bytes.NewReader(b)
	return &decoder{Decoder: scale.NewDecoder(r), r: r}
}

func (d *decoder) skip(n int) error {
	if n == 0 {
		return nil
	}
	if n > d.r.Len() {
		return errTrailingLength
	}
	buf := make([]byte, n)
	return d.Read(buf)
}

func (d *decoder) readU32() (uint32, error) {
	var buf [4]byte
	if err := d.Read(buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// readU128 reads a little-endian u128
func (d *decoder) readU128() (*big.Int, error) {
	var buf [16]byte
	if err := d.Read(buf[:]); err != nil {
		return nil, err
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return new(big.Int).SetBytes(buf[:]), nil
}

func (d *decoder) readAddress(n int) (model.Address, error) {
	if n > d.r.Len() {
		return "", errTrailingLength
	}
	buf := make([]byte, n)
	if err := d.Read(buf); err != nil {
		return "", err
	}
	return model.NewAddress(buf), nil
}

func (d *decoder) readCompact() (*big.Int, error) {
	return d.DecodeUintCompact()
}

// readLen reads a compact length prefix and checks it against the remaining input
func (d *decoder) readLen(elemSize int) (int, error) {
	n, err := d.DecodeUintCompact()
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() || n.Int64() > maxVecLen {
		return 0, fmt.Errorf("length %s out of range", n)
	}
	l := int(n.Int64())
	if elemSize > 0 && l*elemSize > d.r.Len() {
		return 0, errTrailingLength
	}
	return l, nil
}

// decodeAccountInfo extracts data.free and data.reserved from an AccountInfo
func decodeAccountInfo(b []byte) (free, reserved *big.Int, err error) {
	d := newDecoder(b)
	// nonce, consumers, providers, sufficients
	if err = d.skip(16); err != nil {
		return nil, nil, fmt.Errorf("account info: %w", err)
	}
	if free, err = d.readU128(); err != nil {
		return nil, nil, fmt.Errorf("account info free: %w", err)
	}
	if reserved, err = d.readU128(); err != nil {
		return nil, nil, fmt.Errorf("account info reserved: %w", err)
	}
	return free, reserved, nil
}

// decodeStakingTotal extracts the total field of a StakingLedger whose stash is addrLen bytes wide
func decodeStakingTotal(b []byte, addrLen int) (*big.Int, error) {
	d := newDecoder(b)
	if err := d.skip(addrLen); err != nil {
		return nil, fmt.Errorf("staking ledger stash: %w", err)
	}
	total, err := d.readCompact()
	if err != nil {
		return nil, fmt.Errorf("staking ledger total: %w", err)
	}
	return total, nil
}

// Bounded<Call> variants
const (
	boundedLegacy = 0
	boundedInline = 1
	boundedLookup = 2
)

func (d *decoder) skipBounded() error {
	tag, err := d.ReadOneByte()
	if err != nil {
		return err
	}
	switch tag {
	case boundedLegacy:
		return d.skip(32)
	case boundedInline:
		n, err := d.readLen(1)
		if err != nil {
			return err
		}
		return d.skip(n)
	case boundedLookup:
		return d.skip(32 + 4)
	default:
		return fmt.Errorf("unknown bounded call variant %d", tag)
	}
}

// decodePublicProps decodes Vec<(PropIndex, Bounded<Call>, AccountId)>
func decodePublicProps(b []byte, addrLen int) ([]model.Proposal, error) {
	if len(b) == 0 {
		return nil, nil
	}
	d := newDecoder(b)
	// smallest element: u32 + empty inline call + account
	n, err := d.readLen(4 + 1 + 1 + addrLen)
	if err != nil {
		return nil, fmt.Errorf("public props: %w", err)
	}
	props := make([]model.Proposal, 0, n)
	for i := 0; i < n; i++ {
		idx, err := d.readU32()
		if err != nil {
			return nil, fmt.Errorf("public props[%d] index: %w", i, err)
		}
		if err := d.skipBounded(); err != nil {
			return nil, fmt.Errorf("public props[%d] call: %w", i, err)
		}
		proposer, err := d.readAddress(addrLen)
		if err != nil {
			return nil, fmt.Errorf("public props[%d] proposer: %w", i, err)
		}
		props = append(props, model.Proposal{Index: idx, Proposer: proposer})
	}
	return props, nil
}

// isOngoingReferendum reports whether a ReferendumInfo value is the Ongoing variant
func isOngoingReferendum(b []byte) (bool, error) {
	if len(b) == 0 {
		return false, errors.New("referendum info: empty value")
	}
	switch b[0] {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("referendum info: unknown variant %d", b[0])
	}
}

// voting is the part of a Voting value the sampler needs
type voting struct {
	// Direct lists the referendum indexes voted on directly
	Direct []uint32

	// Target is set for the Delegating variant
	Target    model.Address
	Delegates bool
}

// AccountVote variants
const (
	voteStandard = 0
	voteSplit    = 1
)

func (d *decoder) skipAccountVote() error {
	tag, err := d.ReadOneByte()
	if err != nil {
		return err
	}
	switch tag {
	case voteStandard:
		// vote byte + balance
		return d.skip(1 + 16)
	case voteSplit:
		// aye + nay
		return d.skip(16 + 16)
	default:
		return fmt.Errorf("unknown account vote variant %d", tag)
	}
}

// decodeVoting decodes the leading fields of a Voting value
func decodeVoting(b []byte, addrLen int) (voting, error) {
	var v voting
	d := newDecoder(b)
	tag, err := d.ReadOneByte()
	if err != nil {
		return v, fmt.Errorf("voting: %w", err)
	}
	switch tag {
	case 0:
		n, err := d.readLen(4 + 1 + 17)
		if err != nil {
			return v, fmt.Errorf("voting direct: %w", err)
		}
		v.Direct = make([]uint32, 0, n)
		for i := 0; i < n; i++ {
			idx, err := d.readU32()
			if err != nil {
				return v, fmt.Errorf("voting direct[%d] index: %w", i, err)
			}
			if err := d.skipAccountVote(); err != nil {
				return v, fmt.Errorf("voting direct[%d] vote: %w", i, err)
			}
			v.Direct = append(v.Direct, idx)
		}
	case 1:
		// balance, then target
		if err := d.skip(16); err != nil {
			return v, fmt.Errorf("voting delegating balance: %w", err)
		}
		if v.Target, err = d.readAddress(addrLen); err != nil {
			return v, fmt.Errorf("voting delegating target: %w", err)
		}
		v.Delegates = true
	default:
		return v, fmt.Errorf("voting: unknown variant %d", tag)
	}
	return v, nil
}
