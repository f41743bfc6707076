// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

// BPDenominator is the basis-point denominator (100% = 10000).
const BPDenominator uint64 = 10000

// Path is a directed edge from a local pool to one remote pool instance.
type Path struct {
	RemoteDomain uint32
	RemotePoolID uint64
	Ready        bool
	Weight       uint64

	// LockedBalance is credit the remote pool has granted us: the most we
	// may send to it. Outbound transfers draw it down.
	LockedBalance *big.Int
	// PendingCredit is local liquidity assigned to the path but not yet
	// pushed to the remote pool.
	PendingCredit *big.Int
	// LastKnownBalance is local liquidity already pushed to the remote pool,
	// as last seen here: its LockedBalance toward us. Inbound transfers and
	// redeem callbacks draw it down. Together with PendingCredit it is this
	// pool's assignment to the path.
	LastKnownBalance *big.Int
	// IdealBalance is the remote side's target for LockedBalance.
	IdealBalance *big.Int
}

func newPath(remoteDomain uint32, remotePoolID uint64, weight uint64) *Path {
	return &Path{
		RemoteDomain:     remoteDomain,
		RemotePoolID:     remotePoolID,
		Weight:           weight,
		LockedBalance:    big.NewInt(0),
		PendingCredit:    big.NewInt(0),
		LastKnownBalance: big.NewInt(0),
		IdealBalance:     big.NewInt(0),
	}
}

// Clone returns a deep copy.
func (p *Path) Clone() *Path {
	return &Path{
		RemoteDomain:     p.RemoteDomain,
		RemotePoolID:     p.RemotePoolID,
		Ready:            p.Ready,
		Weight:           p.Weight,
		LockedBalance:    new(big.Int).Set(p.LockedBalance),
		PendingCredit:    new(big.Int).Set(p.PendingCredit),
		LastKnownBalance: new(big.Int).Set(p.LastKnownBalance),
		IdealBalance:     new(big.Int).Set(p.IdealBalance),
	}
}

type pathKey struct {
	domain uint32
	poolID uint64
}

// TransferQuote is produced per outbound transfer, in shared decimals.
type TransferQuote struct {
	Amount      *big.Int // net amount after fees
	EqFee       *big.Int
	EqReward    *big.Int
	LPFee       *big.Int
	ProtocolFee *big.Int
	LockedDelta *big.Int // applied to the counterpart path's last known balance
}

// ZeroQuote returns a quote with every field zero.
func ZeroQuote() TransferQuote {
	return TransferQuote{
		Amount:      big.NewInt(0),
		EqFee:       big.NewInt(0),
		EqReward:    big.NewInt(0),
		LPFee:       big.NewInt(0),
		ProtocolFee: big.NewInt(0),
		LockedDelta: big.NewInt(0),
	}
}

// Delivered is what the recipient receives on the remote side.
func (q TransferQuote) Delivered() *big.Int {
	return new(big.Int).Add(q.Amount, q.EqReward)
}

// CreditRecord informs a remote path of its current entitlement.
type CreditRecord struct {
	Credits      *big.Int
	IdealBalance *big.Int
}

// DeltaParams control when the rebalancer runs and in which mode.
type DeltaParams struct {
	Batched         bool   `json:"batched" yaml:"batched"`
	SwapDeltaBP     uint64 `json:"swapDeltaBP" yaml:"swap_delta_bp"`
	LPDeltaBP       uint64 `json:"lpDeltaBP" yaml:"lp_delta_bp"`
	DefaultSwapMode bool   `json:"defaultSwapMode" yaml:"default_swap_mode"`
	DefaultLPMode   bool   `json:"defaultLPMode" yaml:"default_lp_mode"`
}

// Params configure a new pool.
type Params struct {
	ID             uint64
	Token          common.Address
	Custody        common.Address
	SharedDecimals uint8
	LocalDecimals  uint8
	FeePolicy      string
}

// Snapshot is a read-only view of pool totals.
type Snapshot struct {
	ID                 uint64
	TotalShares        *big.Int
	TotalLiquidity     *big.Int
	UnassignedCredit   *big.Int
	TotalWeight        uint64
	EqFeePool          *big.Int
	ProtocolFeeBalance *big.Int
	MintFeeBalance     *big.Int
	SwapEnabled        bool
}

// Validation errors
var (
	ErrZeroAddress       = errors.New("zero address")
	ErrZeroAmount        = errors.New("zero amount")
	ErrInvalidDecimals   = errors.New("shared decimals exceed local decimals")
	ErrInvalidBP         = errors.New("basis points exceed denominator")
	ErrPathExists        = errors.New("path already exists")
	ErrPathNotFound      = errors.New("path not found")
	ErrNotReady          = errors.New("path not ready")
	ErrSwapStopped       = errors.New("swaps stopped")
	ErrAlreadyReady      = errors.New("path already active")
	ErrNothingToRedeem   = errors.New("nothing redeemable from unassigned credit")
	ErrFeeExceedsAmount  = errors.New("fees exceed transfer amount")
	ErrUnknownFeePolicy  = errors.New("unknown fee policy")
	ErrRewardPoolDrained = errors.New("equilibrium reward exceeds reserve")
)

// Solvency errors
var (
	ErrInsufficientSupply      = errors.New("insufficient supply")
	ErrInsufficientShares      = errors.New("insufficient shares")
	ErrSlippageExceeded        = errors.New("slippage exceeded")
	ErrInsufficientPathBalance = errors.New("insufficient path balance")
)
