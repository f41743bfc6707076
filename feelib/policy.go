// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package feelib prices outbound transfers. A Policy is a pure function from a
// transfer amount and the state of the path it travels on to a fee breakdown;
// pools refer to policies by registry key so they can be swapped without
// touching ledger state.
package feelib

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

// BPDenominator is the basis-point denominator (100% = 10000).
const BPDenominator uint64 = 10000

var (
	ErrInvalidBasisPoints = errors.New("basis points exceed denominator")
	ErrNilAmount          = errors.New("nil amount in fee query")
)

// Query describes the transfer being priced.
type Query struct {
	PoolID         uint64
	RemoteDomain   uint32
	RemotePoolID   uint64
	From           common.Address
	AmountSD       *big.Int
	PathBalance    *big.Int // locked balance of the outbound path
	IdealBalance   *big.Int
	TotalLiquidity *big.Int
	EqFeePool      *big.Int
}

// Fees is the breakdown returned by a Policy, all in shared decimals.
type Fees struct {
	EqFee       *big.Int
	EqReward    *big.Int
	LPFee       *big.Int
	ProtocolFee *big.Int
}

// ZeroFees returns a breakdown with every component zero.
func ZeroFees() Fees {
	return Fees{
		EqFee:       big.NewInt(0),
		EqReward:    big.NewInt(0),
		LPFee:       big.NewInt(0),
		ProtocolFee: big.NewInt(0),
	}
}

// Total returns the amount withheld from the sender (reward excluded).
func (f Fees) Total() *big.Int {
	t := new(big.Int).Add(f.EqFee, f.LPFee)
	return t.Add(t, f.ProtocolFee)
}

// Policy computes fees for a transfer. Implementations must not retain or
// mutate the big.Int values in the query.
type Policy interface {
	Fees(q Query) (Fees, error)
}

// Zero charges nothing.
type Zero struct{}

func (Zero) Fees(q Query) (Fees, error) {
	if q.AmountSD == nil {
		return Fees{}, ErrNilAmount
	}
	return ZeroFees(), nil
}

// BasisPoints is the standard policy.
//
// LP and protocol fees are flat fractions of the amount. The equilibrium fee
// is charged only on the part of the transfer that drains the path below its
// safe zone (SafeZoneBP of the ideal balance). The equilibrium reward is paid
// out of the pool's reserve for the part of the transfer that drains a path
// currently above its ideal balance, capped by the reserve.
type BasisPoints struct {
	LPFeeBP       uint64 `json:"lpFeeBP" yaml:"lp_fee_bp"`
	ProtocolFeeBP uint64 `json:"protocolFeeBP" yaml:"protocol_fee_bp"`
	EqFeeBP       uint64 `json:"eqFeeBP" yaml:"eq_fee_bp"`
	EqRewardBP    uint64 `json:"eqRewardBP" yaml:"eq_reward_bp"`
	SafeZoneBP    uint64 `json:"safeZoneBP" yaml:"safe_zone_bp"`
}

// Verify checks every rate is a valid fraction.
func (p BasisPoints) Verify() error {
	for _, bp := range []uint64{p.LPFeeBP, p.ProtocolFeeBP, p.EqFeeBP, p.EqRewardBP, p.SafeZoneBP} {
		if bp > BPDenominator {
			return ErrInvalidBasisPoints
		}
	}
	if p.LPFeeBP+p.ProtocolFeeBP+p.EqFeeBP > BPDenominator {
		return ErrInvalidBasisPoints
	}
	return nil
}

func (p BasisPoints) Fees(q Query) (Fees, error) {
	if q.AmountSD == nil {
		return Fees{}, ErrNilAmount
	}
	if err := p.Verify(); err != nil {
		return Fees{}, err
	}
	f := ZeroFees()
	f.LPFee = bps(q.AmountSD, p.LPFeeBP)
	f.ProtocolFee = bps(q.AmountSD, p.ProtocolFeeBP)

	balance := orZero(q.PathBalance)
	ideal := orZero(q.IdealBalance)

	after := new(big.Int).Sub(balance, q.AmountSD)
	if after.Sign() < 0 {
		after.SetInt64(0)
	}
	safeZone := bps(ideal, p.SafeZoneBP)
	if after.Cmp(safeZone) < 0 {
		drained := new(big.Int).Sub(safeZone, after)
		if drained.Cmp(q.AmountSD) > 0 {
			drained.Set(q.AmountSD)
		}
		f.EqFee = bps(drained, p.EqFeeBP)
	}

	reserve := orZero(q.EqFeePool)
	if reserve.Sign() > 0 && balance.Cmp(ideal) > 0 {
		excess := new(big.Int).Sub(balance, ideal)
		if excess.Cmp(q.AmountSD) > 0 {
			excess.Set(q.AmountSD)
		}
		reward := bps(excess, p.EqRewardBP)
		if reward.Cmp(reserve) > 0 {
			reward.Set(reserve)
		}
		f.EqReward = reward
	}
	return f, nil
}

func bps(v *big.Int, bp uint64) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(bp))
	return out.Quo(out, new(big.Int).SetUint64(BPDenominator))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
