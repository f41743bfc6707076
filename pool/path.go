// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/omnipool/feelib"
)

// QuoteAndLockOutbound prices a transfer of amountLD to the remote pool and
// debits the path's locked balance by the amount the remote side will pay out.
//
// Every check runs before the first mutation, so a failed quote leaves the
// pool untouched.
func (p *Pool) QuoteAndLockOutbound(
	remoteDomain uint32,
	remotePoolID uint64,
	from common.Address,
	amountLD *big.Int,
	minAmountLD *big.Int,
	isNewLiquidity bool,
) (TransferQuote, error) {
	cp, err := p.path(remoteDomain, remotePoolID)
	if err != nil {
		return TransferQuote{}, err
	}
	if p.stopSwap {
		return TransferQuote{}, fmt.Errorf("%w: %w", ErrNotReady, ErrSwapStopped)
	}
	if !cp.Ready {
		return TransferQuote{}, ErrNotReady
	}

	amountSD := p.LDToSD(amountLD)
	if amountSD.Sign() <= 0 {
		return TransferQuote{}, fmt.Errorf("%w: %s LD is below one shared unit", ErrZeroAmount, amountLD)
	}
	minAmountSD := p.LDToSD(minAmountLD)

	fees, err := p.fees.Fees(feelib.Query{
		PoolID:         p.id,
		RemoteDomain:   remoteDomain,
		RemotePoolID:   remotePoolID,
		From:           from,
		AmountSD:       new(big.Int).Set(amountSD),
		PathBalance:    new(big.Int).Set(cp.LockedBalance),
		IdealBalance:   new(big.Int).Set(cp.IdealBalance),
		TotalLiquidity: new(big.Int).Set(p.totalLiquidity),
		EqFeePool:      new(big.Int).Set(p.eqFeePool),
	})
	if err != nil {
		return TransferQuote{}, err
	}
	if fees.Total().Cmp(amountSD) > 0 {
		return TransferQuote{}, fmt.Errorf("%w: fees=%s amount=%s", ErrFeeExceedsAmount, fees.Total(), amountSD)
	}
	if fees.EqReward.Cmp(p.eqFeePool) > 0 {
		return TransferQuote{}, fmt.Errorf("%w: reward=%s reserve=%s", ErrRewardPoolDrained, fees.EqReward, p.eqFeePool)
	}

	q := TransferQuote{
		Amount:      new(big.Int).Sub(amountSD, fees.Total()),
		EqFee:       fees.EqFee,
		EqReward:    fees.EqReward,
		LPFee:       fees.LPFee,
		ProtocolFee: fees.ProtocolFee,
	}
	if q.Delivered().Cmp(minAmountSD) < 0 {
		return TransferQuote{}, fmt.Errorf("%w: got %s, min %s", ErrSlippageExceeded, q.Delivered(), minAmountSD)
	}

	q.LockedDelta = new(big.Int).Sub(amountSD, q.LPFee)
	q.LockedDelta.Add(q.LockedDelta, q.EqReward)
	if cp.LockedBalance.Cmp(q.LockedDelta) < 0 {
		return TransferQuote{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientPathBalance, cp.LockedBalance, q.LockedDelta)
	}

	p.eqFeePool.Sub(p.eqFeePool, q.EqReward)
	cp.LockedBalance.Sub(cp.LockedBalance, q.LockedDelta)
	if isNewLiquidity {
		p.unassignedCredit.Add(p.unassignedCredit, amountSD)
	}
	p.unassignedCredit.Add(p.unassignedCredit, q.EqReward)

	if p.shouldRebalance(p.delta.SwapDeltaBP) {
		p.Rebalance(p.delta.DefaultSwapMode)
	}
	return q, nil
}

// PushCredit drains the path's pending credit into its last known balance
// and returns the record to send to the remote side.
func (p *Pool) PushCredit(remoteDomain uint32, remotePoolID uint64) (CreditRecord, error) {
	cp, err := p.path(remoteDomain, remotePoolID)
	if err != nil {
		return CreditRecord{}, err
	}
	rec := CreditRecord{
		Credits:      new(big.Int).Set(cp.PendingCredit),
		IdealBalance: p.idealBalance(cp),
	}
	cp.LastKnownBalance.Add(cp.LastKnownBalance, cp.PendingCredit)
	cp.PendingCredit = big.NewInt(0)
	return rec, nil
}

// ApplyCredit is the remote-side counterpart of PushCredit.
func (p *Pool) ApplyCredit(remoteDomain uint32, remotePoolID uint64, rec CreditRecord) error {
	cp, err := p.path(remoteDomain, remotePoolID)
	if err != nil {
		return err
	}
	if rec.Credits != nil {
		cp.LockedBalance.Add(cp.LockedBalance, rec.Credits)
	}
	if rec.IdealBalance != nil && cp.IdealBalance.Cmp(rec.IdealBalance) != 0 {
		cp.IdealBalance = new(big.Int).Set(rec.IdealBalance)
	}
	return nil
}

// SettleInbound applies the remote side of a transfer quoted by the source
// domain: fees are booked here, the path's last known balance shrinks by the
// locked delta, and the LD amount to release to the recipient is returned.
func (p *Pool) SettleInbound(srcDomain uint32, srcPoolID uint64, q TransferQuote) (*big.Int, error) {
	cp, err := p.path(srcDomain, srcPoolID)
	if err != nil {
		return nil, err
	}
	if !cp.Ready {
		return nil, ErrNotReady
	}
	if cp.LastKnownBalance.Cmp(q.LockedDelta) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientPathBalance, cp.LastKnownBalance, q.LockedDelta)
	}

	// An empty pool has no holders to accrue the LP fee, so it is booked as
	// protocol fee to keep totalShares == 0 <=> totalLiquidity == 0.
	if p.totalShares.Sign() == 0 {
		p.protocolFeeBalance.Add(p.protocolFeeBalance, q.LPFee)
	} else {
		p.totalLiquidity.Add(p.totalLiquidity, q.LPFee)
	}
	p.eqFeePool.Add(p.eqFeePool, q.EqFee)
	p.protocolFeeBalance.Add(p.protocolFeeBalance, q.ProtocolFee)
	cp.LastKnownBalance.Sub(cp.LastKnownBalance, q.LockedDelta)

	return p.SDToLD(q.Delivered()), nil
}

// CheckRedeemOnRemote is run on the remote side of a two-phase redeem. It
// gives up as much of the path's locked balance as it can; the shortfall is
// reported as mintAmount so the origin can compensate the redeemer.
func (p *Pool) CheckRedeemOnRemote(srcDomain uint32, srcPoolID uint64, amountSD *big.Int) (swapAmount, mintAmount *big.Int, err error) {
	cp, err := p.path(srcDomain, srcPoolID)
	if err != nil {
		return nil, nil, err
	}
	if !cp.Ready {
		return nil, nil, ErrNotReady
	}
	if amountSD.Cmp(cp.LockedBalance) > 0 {
		swapAmount = new(big.Int).Set(cp.LockedBalance)
		mintAmount = new(big.Int).Sub(amountSD, cp.LockedBalance)
		cp.LockedBalance = big.NewInt(0)
	} else {
		swapAmount = new(big.Int).Set(amountSD)
		mintAmount = big.NewInt(0)
		cp.LockedBalance.Sub(cp.LockedBalance, amountSD)
	}
	return swapAmount, mintAmount, nil
}

// ApplyRedeemCallback completes a two-phase redeem on the origin: shares are
// re-minted to `to` for the shortfall and the path's last known balance drops
// by the amount the remote released. Returns the LD amount to pay out locally
// and the shares minted.
func (p *Pool) ApplyRedeemCallback(srcDomain uint32, srcPoolID uint64, to common.Address, swapAmount, mintAmount *big.Int) (amountLD, minted *big.Int, err error) {
	if to == (common.Address{}) {
		return nil, nil, ErrZeroAddress
	}
	err = p.atomically(func() error {
		cp, err := p.path(srcDomain, srcPoolID)
		if err != nil {
			return err
		}
		if !cp.Ready {
			return ErrNotReady
		}
		if cp.LastKnownBalance.Cmp(swapAmount) < 0 {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientPathBalance, cp.LastKnownBalance, swapAmount)
		}
		minted = big.NewInt(0)
		if mintAmount.Sign() > 0 {
			minted = p.addLiquidity(to, mintAmount, false)
		}
		cp.LastKnownBalance.Sub(cp.LastKnownBalance, swapAmount)
		amountLD = p.SDToLD(swapAmount)
		return nil
	})
	return amountLD, minted, err
}

func (p *Pool) idealBalance(cp *Path) *big.Int {
	if p.totalWeight == 0 {
		return big.NewInt(0)
	}
	ideal := new(big.Int).Mul(p.totalLiquidity, new(big.Int).SetUint64(cp.Weight))
	return ideal.Quo(ideal, new(big.Int).SetUint64(p.totalWeight))
}
