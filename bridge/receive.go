// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/omnipool/message"
	"github.com/luxfi/omnipool/store"
	"github.com/luxfi/omnipool/transport"
)

var _ transport.Endpoint = (*Domain)(nil)

// Receive applies an inbound packet. The piggy-backed credit record is applied
// first; the kind-specific step then runs inside a rollback boundary and, if
// it fails, is persisted as a pending retry keyed by the packet. Receive only
// returns an error when the packet cannot be processed at all (wrong domain,
// untrusted sender, undecodable payload, unknown path); the transport then
// keeps it queued.
func (d *Domain) Receive(ctx context.Context, pkt transport.Packet) error {
	return d.exec(func() error {
		if pkt.DstDomain != d.id {
			return fmt.Errorf("%w: got %d, local %d", ErrWrongDomain, pkt.DstDomain, d.id)
		}
		if peer, ok := d.peers[pkt.SrcDomain]; !ok || peer != pkt.Sender {
			return fmt.Errorf("%w: domain %d sender %s", ErrUntrustedSender, pkt.SrcDomain, pkt.Sender.Hex())
		}
		msg, err := message.Decode(pkt.Payload)
		if err != nil {
			return err
		}

		srcPoolID, dstPoolID := msg.Route()
		p, err := d.pool(dstPoolID)
		if err != nil {
			return err
		}
		if err := p.ApplyCredit(pkt.SrcDomain, srcPoolID, msg.CreditRecord()); err != nil {
			return err
		}
		d.metrics.messagesReceived.WithLabelValues(msg.Kind().String()).Inc()

		key := store.Key{Domain: pkt.SrcDomain, Counterparty: pkt.Sender, Nonce: pkt.Nonce}
		switch m := msg.(type) {
		case *message.Swap:
			return d.receiveSwap(ctx, key, pkt.Payload, m)
		case *message.Credit:
			return nil
		case *message.RedeemCheck:
			return d.receiveRedeemCheck(key, pkt.Payload, m)
		case *message.RedeemCallback:
			return d.receiveRedeemCallback(key, pkt.Payload, m)
		default:
			return fmt.Errorf("%w: %s", message.ErrUnsupportedMessageKind, msg.Kind())
		}
	})
}

func (d *Domain) receiveSwap(ctx context.Context, key store.Key, raw []byte, m *message.Swap) error {
	var amountLD *big.Int
	failed, err := d.try(func() error {
		var err error
		amountLD, err = d.settleSwap(key.Domain, m)
		return err
	})
	if err != nil {
		return err
	}
	if failed != nil {
		return d.storeRetry(key, store.SwapRetry, raw, failed)
	}
	return d.notify(ctx, key, m.DstPoolID, m.To, amountLD, m.Payload)
}

// settleSwap books the inbound side of a transfer and releases the funds.
func (d *Domain) settleSwap(srcDomain uint32, m *message.Swap) (*big.Int, error) {
	p, err := d.pool(m.DstPoolID)
	if err != nil {
		return nil, err
	}
	amountLD, err := p.SettleInbound(srcDomain, m.SrcPoolID, m.Quote)
	if err != nil {
		return nil, err
	}
	if err := d.payout(p, m.To, amountLD); err != nil {
		return nil, err
	}
	d.log.Info("transfer delivered",
		"domain", d.id,
		"srcDomain", srcDomain,
		"pool", m.DstPoolID,
		"to", m.To,
		"amountLD", amountLD,
	)
	return amountLD, nil
}

func (d *Domain) receiveRedeemCheck(key store.Key, raw []byte, m *message.RedeemCheck) error {
	failed, err := d.try(func() error {
		p, err := d.pool(m.DstPoolID)
		if err != nil {
			return err
		}
		swap, mint, err := p.CheckRedeemOnRemote(key.Domain, m.SrcPoolID, m.AmountSD)
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
			SwapAmount: swap,
			MintAmount: mint,
			To:         m.To,
		}, nil, false)
	})
	if err != nil {
		return err
	}
	if failed != nil {
		return d.storeRetry(key, store.RedeemCheckFailed, raw, failed)
	}
	return nil
}

func (d *Domain) receiveRedeemCallback(key store.Key, raw []byte, m *message.RedeemCallback) error {
	failed, err := d.try(func() error {
		return d.settleRedeemCallback(key.Domain, m)
	})
	if err != nil {
		return err
	}
	if failed != nil {
		return d.storeRetry(key, store.RedeemCallbackRetry, raw, failed)
	}
	return nil
}

// settleRedeemCallback completes a two-phase redeem on the origin pool.
func (d *Domain) settleRedeemCallback(srcDomain uint32, m *message.RedeemCallback) error {
	p, err := d.pool(m.DstPoolID)
	if err != nil {
		return err
	}
	amountLD, minted, err := p.ApplyRedeemCallback(srcDomain, m.SrcPoolID, m.To, m.SwapAmount, m.MintAmount)
	if err != nil {
		return err
	}
	if err := d.payout(p, m.To, amountLD); err != nil {
		return err
	}
	d.log.Info("redeem completed",
		"domain", d.id,
		"pool", m.DstPoolID,
		"to", m.To,
		"amountLD", amountLD,
		"mintedShares", minted,
	)
	return nil
}

func (d *Domain) storeRetry(key store.Key, kind store.RetryKind, raw []byte, cause error) error {
	if err := d.store.PutRetry(&store.PendingRetry{Key: key, Kind: kind, Message: raw}); err != nil {
		return err
	}
	d.metrics.retriesStored.WithLabelValues(kind.String()).Inc()
	d.log.Warn("remote step failed, retry stored",
		"domain", d.id,
		"key", key,
		"kind", kind,
		"err", cause,
	)
	return nil
}

// notify hands a delivery with a payload to the recipient's Receiver. If the
// notification fails its asset effects are rolled back and the delivery is
// cached for ClaimCached.
func (d *Domain) notify(ctx context.Context, key store.Key, poolID uint64, to common.Address, amountLD *big.Int, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	p, err := d.pool(poolID)
	if err != nil {
		return err
	}
	delivery := Delivery{
		SrcDomain: key.Domain,
		Nonce:     key.Nonce,
		Token:     p.Token(),
		AmountLD:  new(big.Int).Set(amountLD),
		Payload:   payload,
	}
	failed, err := d.try(func() error {
		return d.callReceiver(ctx, to, delivery)
	})
	if err != nil {
		return err
	}
	if failed == nil {
		return nil
	}
	err = d.store.PutCached(&store.CachedDelivery{
		Key:      key,
		Token:    delivery.Token,
		AmountLD: delivery.AmountLD,
		To:       to,
		Payload:  payload,
	})
	if err != nil {
		return err
	}
	d.metrics.cachedDeliveries.Inc()
	d.log.Warn("recipient notification failed, delivery cached",
		"domain", d.id,
		"key", key,
		"to", to,
		"amountLD", amountLD,
		"err", failed,
	)
	return nil
}

func (d *Domain) callReceiver(ctx context.Context, to common.Address, delivery Delivery) error {
	d.mu.Lock()
	r, ok := d.receivers[to]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoReceiver, to.Hex())
	}

	// The receiver may query the domain. Calls into it are still refused
	// by the guard.
	d.state.Unlock()
	defer d.state.Lock()
	return r.OnReceive(ctx, delivery)
}
