// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/omnipool/message"
	"github.com/luxfi/omnipool/pool"
)

// Deposit moves amountLD of the pool's token from from into custody and
// mints shares to to. from must have approved the router. Dust below one
// shared-decimal unit stays with from.
func (d *Domain) Deposit(ctx context.Context, from common.Address, poolID uint64, amountLD *big.Int, to common.Address) (*big.Int, error) {
	var shares *big.Int
	err := d.exec(func() error {
		if err := checkAmount(amountLD); err != nil {
			return err
		}
		p, err := d.pool(poolID)
		if err != nil {
			return err
		}
		rounded := p.RoundLD(amountLD)
		if err := d.collect(p, from, rounded); err != nil {
			return err
		}
		if shares, err = p.Issue(to, rounded, true, true); err != nil {
			return err
		}
		d.log.Info("deposit",
			"domain", d.id,
			"pool", poolID,
			"from", from,
			"to", to,
			"amountLD", rounded,
			"shares", shares,
		)
		return nil
	})
	return shares, err
}

// Swap locks a transfer on the path to the remote pool and sends it. The
// returned quote is in shared decimals.
func (d *Domain) Swap(ctx context.Context, req SwapRequest) (pool.TransferQuote, error) {
	var quote pool.TransferQuote
	err := d.exec(func() error {
		if err := checkAmount(req.AmountLD); err != nil {
			return err
		}
		if req.To == (common.Address{}) {
			return ErrZeroAddress
		}
		p, err := d.pool(req.SrcPoolID)
		if err != nil {
			return err
		}
		rounded := p.RoundLD(req.AmountLD)
		if quote, err = p.QuoteAndLockOutbound(req.DstDomain, req.DstPoolID, req.From, rounded, orZero(req.MinAmountLD), true); err != nil {
			return err
		}
		if err := d.collect(p, req.From, rounded); err != nil {
			return err
		}
		credit, err := p.PushCredit(req.DstDomain, req.DstPoolID)
		if err != nil {
			return err
		}
		err = d.send(req.DstDomain, &message.Swap{
			SrcPoolID: req.SrcPoolID,
			DstPoolID: req.DstPoolID,
			Credit:    credit,
			Quote:     quote,
			To:        req.To,
			Payload:   req.Payload,
		}, req.NativeFee, true)
		if err != nil {
			return err
		}
		d.log.Info("swap",
			"domain", d.id,
			"dst", req.DstDomain,
			"srcPool", req.SrcPoolID,
			"dstPool", req.DstPoolID,
			"from", req.From,
			"to", req.To,
			"amountLD", rounded,
			"deliveredSD", quote.Delivered(),
		)
		return nil
	})
	return quote, err
}

// RedeemRemote burns shares and sends their value, net of fees, to a remote
// pool as a transfer.
func (d *Domain) RedeemRemote(ctx context.Context, req RedeemRemoteRequest) (pool.TransferQuote, error) {
	var quote pool.TransferQuote
	err := d.exec(func() error {
		if err := checkAmount(req.Shares); err != nil {
			return err
		}
		if req.To == (common.Address{}) {
			return ErrZeroAddress
		}
		p, err := d.pool(req.SrcPoolID)
		if err != nil {
			return err
		}
		if quote, err = p.RedeemRemote(req.From, req.Shares, req.DstDomain, req.DstPoolID, orZero(req.MinAmountLD)); err != nil {
			return err
		}
		credit, err := p.PushCredit(req.DstDomain, req.DstPoolID)
		if err != nil {
			return err
		}
		err = d.send(req.DstDomain, &message.Swap{
			SrcPoolID: req.SrcPoolID,
			DstPoolID: req.DstPoolID,
			Credit:    credit,
			Quote:     quote,
			To:        req.To,
		}, req.NativeFee, true)
		if err != nil {
			return err
		}
		d.log.Info("redeem remote",
			"domain", d.id,
			"dst", req.DstDomain,
			"pool", req.SrcPoolID,
			"from", req.From,
			"shares", req.Shares,
			"deliveredSD", quote.Delivered(),
		)
		return nil
	})
	return quote, err
}

// InstantRedeemLocal redeems shares against the pool's unassigned credit and
// pays out locally. The burned share amount may be capped below the request.
func (d *Domain) InstantRedeemLocal(ctx context.Context, from common.Address, poolID uint64, shares *big.Int, to common.Address) (amountLD, burned *big.Int, err error) {
	err = d.exec(func() error {
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		p, err := d.pool(poolID)
		if err != nil {
			return err
		}
		amountSD, b, err := p.InstantRedeemLocal(from, shares)
		if err != nil {
			return err
		}
		amountLD, burned = p.SDToLD(amountSD), b
		if err := d.payout(p, to, amountLD); err != nil {
			return err
		}
		d.log.Info("instant redeem",
			"domain", d.id,
			"pool", poolID,
			"from", from,
			"to", to,
			"shares", burned,
			"amountLD", amountLD,
		)
		return nil
	})
	return amountLD, burned, err
}

// RedeemLocal burns shares and asks the remote pool to release the matching
// claim. Funds are paid out locally when the callback arrives; any part the
// remote cannot cover is re-minted to req.To as shares.
func (d *Domain) RedeemLocal(ctx context.Context, req RedeemLocalRequest) (*big.Int, error) {
	var amountSD *big.Int
	err := d.exec(func() error {
		if err := checkAmount(req.Shares); err != nil {
			return err
		}
		if req.To == (common.Address{}) {
			return ErrZeroAddress
		}
		p, err := d.pool(req.SrcPoolID)
		if err != nil {
			return err
		}
		if amountSD, err = p.RedeemLocal(req.From, req.Shares, req.DstDomain, req.DstPoolID); err != nil {
			return err
		}
		credit, err := p.PushCredit(req.DstDomain, req.DstPoolID)
		if err != nil {
			return err
		}
		err = d.send(req.DstDomain, &message.RedeemCheck{
			SrcPoolID: req.SrcPoolID,
			DstPoolID: req.DstPoolID,
			Credit:    credit,
			AmountSD:  amountSD,
			To:        req.To,
		}, req.NativeFee, true)
		if err != nil {
			return err
		}
		d.log.Info("redeem local requested",
			"domain", d.id,
			"dst", req.DstDomain,
			"pool", req.SrcPoolID,
			"from", req.From,
			"shares", req.Shares,
			"amountSD", amountSD,
		)
		return nil
	})
	return amountSD, err
}

// TransferShares moves LP shares of the pool from one holder to another.
func (d *Domain) TransferShares(ctx context.Context, from common.Address, poolID uint64, shares *big.Int, to common.Address) error {
	return d.exec(func() error {
		p, err := d.pool(poolID)
		if err != nil {
			return err
		}
		if err := p.TransferShares(from, to, shares); err != nil {
			return err
		}
		d.log.Info("shares transferred",
			"domain", d.id,
			"pool", poolID,
			"from", from,
			"to", to,
			"shares", shares,
		)
		return nil
	})
}

// ResendHeld offers held messages to the transport again and returns how
// many are still held.
func (d *Domain) ResendHeld(ctx context.Context) (int, error) {
	if err := d.exec(func() error { return nil }); err != nil {
		return 0, err
	}
	return d.Held(), nil
}

// SendCredits pushes the path's pending credit to the remote pool.
func (d *Domain) SendCredits(ctx context.Context, dstDomain uint32, srcPoolID, dstPoolID uint64, nativeFee *big.Int) (pool.CreditRecord, error) {
	var credit pool.CreditRecord
	err := d.exec(func() error {
		p, err := d.pool(srcPoolID)
		if err != nil {
			return err
		}
		if credit, err = p.PushCredit(dstDomain, dstPoolID); err != nil {
			return err
		}
		return d.send(dstDomain, &message.Credit{
			SrcPoolID: srcPoolID,
			DstPoolID: dstPoolID,
			Credit:    credit,
		}, nativeFee, true)
	})
	return credit, err
}

// QuoteFee returns the transport fee for a message of the given kind to
// dstDomain. It does not touch domain state.
func (d *Domain) QuoteFee(dstDomain uint32, kind message.Kind, to common.Address, payload []byte) (*big.Int, error) {
	m, err := message.Placeholder(kind, to, payload)
	if err != nil {
		return nil, err
	}
	b, err := message.Encode(m)
	if err != nil {
		return nil, err
	}
	return d.transport.EstimateFee(dstDomain, b)
}

func checkAmount(v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrZeroAmount, v)
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
