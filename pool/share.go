// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// Issue converts a deposit of amountLD into shares minted to `to`.
//
// With feesEnabled the mint fee is withheld into the mint fee balance. With
// creditUnassigned the net amount becomes unassigned credit for the
// rebalancer. Shares are proportional to current liquidity, 1:1 on an empty
// pool.
func (p *Pool) Issue(to common.Address, amountLD *big.Int, feesEnabled, creditUnassigned bool) (*big.Int, error) {
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	amountSD := p.LDToSD(amountLD)
	if amountSD.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	if feesEnabled && p.mintFeeBP > 0 {
		fee := new(big.Int).Mul(amountSD, new(big.Int).SetUint64(p.mintFeeBP))
		fee.Quo(fee, new(big.Int).SetUint64(BPDenominator))
		amountSD.Sub(amountSD, fee)
		p.mintFeeBalance.Add(p.mintFeeBalance, fee)
	}
	return p.addLiquidity(to, amountSD, creditUnassigned), nil
}

// Redeem burns shares from holder and returns the liquidity they were worth.
func (p *Pool) Redeem(holder common.Address, shares *big.Int) (*big.Int, error) {
	return p.burn(holder, shares)
}

// TransferShares moves shares between holders.
func (p *Pool) TransferShares(from, to common.Address, shares *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if shares == nil || shares.Sign() <= 0 {
		return ErrZeroAmount
	}
	bal := p.SharesOf(from)
	if bal.Cmp(shares) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientShares, bal, shares)
	}
	p.shares[from] = bal.Sub(bal, shares)
	p.shares[to] = new(big.Int).Add(p.SharesOf(to), shares)
	return nil
}

// InstantRedeemLocal redeems up to the value of the unassigned credit. The
// share amount is capped, so the returned burned amount may be smaller than
// requested.
func (p *Pool) InstantRedeemLocal(from common.Address, shares *big.Int) (amountSD, burned *big.Int, err error) {
	if from == (common.Address{}) {
		return nil, nil, ErrZeroAddress
	}
	if shares.Sign() <= 0 {
		return nil, nil, ErrZeroAmount
	}
	capShares := big.NewInt(0)
	if p.totalLiquidity.Sign() > 0 {
		if capShares, err = p.sdToShares(p.unassignedCredit); err != nil {
			return nil, nil, err
		}
	}
	burned = new(big.Int).Set(shares)
	if burned.Cmp(capShares) > 0 {
		burned.Set(capShares)
	}
	if burned.Sign() == 0 {
		return nil, nil, ErrNothingToRedeem
	}
	err = p.atomically(func() error {
		if amountSD, err = p.burn(from, burned); err != nil {
			return err
		}
		if amountSD.Sign() == 0 {
			return fmt.Errorf("%w: %s shares are worth nothing", ErrZeroAmount, burned)
		}
		p.unassignedCredit.Sub(p.unassignedCredit, amountSD)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amountSD, burned, nil
}

// RedeemLocal burns shares ahead of a remote balance check on the given path.
func (p *Pool) RedeemLocal(from common.Address, shares *big.Int, remoteDomain uint32, remotePoolID uint64) (*big.Int, error) {
	if from == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	cp, err := p.path(remoteDomain, remotePoolID)
	if err != nil {
		return nil, err
	}
	if !cp.Ready {
		return nil, ErrNotReady
	}
	var amountSD *big.Int
	err = p.atomically(func() error {
		if amountSD, err = p.burn(from, shares); err != nil {
			return err
		}
		if amountSD.Sign() == 0 {
			return fmt.Errorf("%w: %s shares are worth nothing", ErrZeroAmount, shares)
		}
		if p.shouldRebalance(p.delta.LPDeltaBP) {
			p.Rebalance(false)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amountSD, nil
}

// RedeemRemote burns shares and locks the redeemed amount outbound on the
// path, as a transfer that adds no new liquidity.
func (p *Pool) RedeemRemote(from common.Address, shares *big.Int, remoteDomain uint32, remotePoolID uint64, minAmountLD *big.Int) (TransferQuote, error) {
	if from == (common.Address{}) {
		return TransferQuote{}, ErrZeroAddress
	}
	var quote TransferQuote
	err := p.atomically(func() error {
		amountSD, err := p.burn(from, shares)
		if err != nil {
			return err
		}
		if p.shouldRebalance(p.delta.LPDeltaBP) {
			p.Rebalance(p.delta.DefaultLPMode)
		}
		quote, err = p.QuoteAndLockOutbound(remoteDomain, remotePoolID, from, p.SDToLD(amountSD), minAmountLD, false)
		return err
	})
	return quote, err
}

// addLiquidity mints shares for amountSD of new liquidity.
func (p *Pool) addLiquidity(to common.Address, amountSD *big.Int, creditUnassigned bool) *big.Int {
	var shares *big.Int
	if p.totalShares.Sign() == 0 {
		shares = new(big.Int).Set(amountSD)
	} else {
		shares = new(big.Int).Mul(amountSD, p.totalShares)
		shares.Quo(shares, p.totalLiquidity)
	}

	if creditUnassigned {
		p.unassignedCredit.Add(p.unassignedCredit, amountSD)
	}
	p.totalLiquidity.Add(p.totalLiquidity, amountSD)
	p.totalShares.Add(p.totalShares, shares)
	p.shares[to] = new(big.Int).Add(p.SharesOf(to), shares)

	if p.shouldRebalance(p.delta.LPDeltaBP) {
		p.Rebalance(p.delta.DefaultLPMode)
	}
	return shares
}

// burn removes shares from holder and the liquidity they represent.
func (p *Pool) burn(holder common.Address, shares *big.Int) (*big.Int, error) {
	if shares.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if p.totalShares.Sign() == 0 {
		return nil, ErrInsufficientSupply
	}
	bal := p.SharesOf(holder)
	if bal.Cmp(shares) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientShares, bal, shares)
	}
	amountSD := new(big.Int).Mul(shares, p.totalLiquidity)
	amountSD.Quo(amountSD, p.totalShares)

	p.totalLiquidity.Sub(p.totalLiquidity, amountSD)
	p.totalShares.Sub(p.totalShares, shares)
	p.shares[holder] = bal.Sub(bal, shares)
	return amountSD, nil
}

// shouldRebalance applies the batching threshold policy.
func (p *Pool) shouldRebalance(thresholdBP uint64) bool {
	if !p.delta.Batched {
		return true
	}
	threshold := new(big.Int).Mul(p.totalLiquidity, new(big.Int).SetUint64(thresholdBP))
	threshold.Quo(threshold, new(big.Int).SetUint64(BPDenominator))
	return p.unassignedCredit.Cmp(threshold) >= 0
}
