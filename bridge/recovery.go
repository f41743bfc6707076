// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/luxfi/omnipool/message"
	"github.com/luxfi/omnipool/store"
)

// Retry replays a SwapRetry or RedeemCallbackRetry. The entry is consumed
// before the step runs; if the step fails again the whole call is rolled back
// and the entry stays live. Anyone may call Retry.
func (d *Domain) Retry(ctx context.Context, key store.Key) error {
	err := d.exec(func() error {
		r, err := d.store.ConsumeRetry(key)
		if err != nil {
			return err
		}
		msg, err := message.Decode(r.Message)
		if err != nil {
			return err
		}

		switch r.Kind {
		case store.SwapRetry:
			m, ok := msg.(*message.Swap)
			if !ok {
				return fmt.Errorf("%w: %s entry holds %s", ErrInvalidRetryKind, r.Kind, msg.Kind())
			}
			amountLD, err := d.settleSwap(key.Domain, m)
			if err != nil {
				return err
			}
			return d.notify(ctx, key, m.DstPoolID, m.To, amountLD, m.Payload)
		case store.RedeemCallbackRetry:
			m, ok := msg.(*message.RedeemCallback)
			if !ok {
				return fmt.Errorf("%w: %s entry holds %s", ErrInvalidRetryKind, r.Kind, msg.Kind())
			}
			return d.settleRedeemCallback(key.Domain, m)
		default:
			return fmt.Errorf("%w: %s", ErrInvalidRetryKind, r.Kind)
		}
	})
	d.metrics.recovery("retry", err)
	if err == nil {
		d.log.Info("retry replayed", "domain", d.id, "key", key)
	}
	return err
}

// ClaimCached re-runs the recipient notification of a cached delivery. The
// entry is cleared before the notification runs; if the notification fails
// the call is rolled back and the entry stays claimable. Anyone may call
// ClaimCached.
func (d *Domain) ClaimCached(ctx context.Context, key store.Key) error {
	err := d.exec(func() error {
		c, err := d.store.ConsumeCached(key)
		if err != nil {
			return err
		}
		return d.callReceiver(ctx, c.To, Delivery{
			SrcDomain: key.Domain,
			Nonce:     key.Nonce,
			Token:     c.Token,
			AmountLD:  c.AmountLD,
			Payload:   c.Payload,
		})
	})
	d.metrics.recovery("claim_cached", err)
	if err == nil {
		d.log.Info("cached delivery claimed", "domain", d.id, "key", key)
	}
	return err
}

// RevertRedeemLocal resolves a redeem check this domain could not run by
// sending the origin a callback that releases nothing and re-mints the full
// amount as shares. Anyone may call it and pays the transport fee.
func (d *Domain) RevertRedeemLocal(ctx context.Context, key store.Key, nativeFee *big.Int) error {
	err := d.exec(func() error {
		r, err := d.store.ConsumeRetry(key)
		if err != nil {
			return err
		}
		if r.Kind != store.RedeemCheckFailed {
			return fmt.Errorf("%w: %s", ErrInvalidRetryKind, r.Kind)
		}
		msg, err := message.Decode(r.Message)
		if err != nil {
			return err
		}
		m, ok := msg.(*message.RedeemCheck)
		if !ok {
			return fmt.Errorf("%w: %s entry holds %s", ErrInvalidRetryKind, r.Kind, msg.Kind())
		}
		p, err := d.pool(m.DstPoolID)
		if err != nil {
			return err
		}
		credit, err := p.PushCredit(key.Domain, m.SrcPoolID)
		if err != nil {
			return err
		}
		return d.send(key.Domain, &message.RedeemCallback{
			SrcPoolID:  m.DstPoolID,
			DstPoolID:  m.SrcPoolID,
			Credit:     credit,
			SwapAmount: new(big.Int),
			MintAmount: new(big.Int).Set(m.AmountSD),
			To:         m.To,
		}, nativeFee, true)
	})
	d.metrics.recovery("revert_redeem_local", err)
	if err == nil {
		d.log.Info("redeem check reverted", "domain", d.id, "key", key)
	}
	return err
}
