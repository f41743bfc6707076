// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"errors"

	"github.com/luxfi/omnipool/pool"
)

type checkpoint struct {
	pools  map[uint64]*pool.Pool
	asset  int
	store  int
	outbox int
}

// exec runs fn as one all-or-nothing call into the domain. A second call
// while one is running, whether re-entrant or from another goroutine, fails
// with ErrReentrant. Queries wait for the call to finish. Queued messages
// reach the transport only if fn succeeds; see dispatch.
func (d *Domain) exec(fn func() error) error {
	d.mu.Lock()
	if d.locked {
		d.mu.Unlock()
		return ErrReentrant
	}
	d.locked = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.locked = false
		d.mu.Unlock()
	}()

	d.state.Lock()
	defer d.state.Unlock()

	d.outbox = d.outbox[:0]
	cp := d.checkpoint()
	if err := fn(); err != nil {
		if rerr := d.restore(cp); rerr != nil {
			d.log.Error("failed to restore domain state", "domain", d.id, "err", rerr)
			return errors.Join(err, rerr)
		}
		return err
	}

	d.assets.DiscardSnapshots()
	d.store.Commit()
	d.dispatch()
	return nil
}

// dispatch hands held and newly queued messages to the transport in order.
// A message the transport refuses is held, along with every later message
// for the same destination, so the lane keeps its order when they are
// resent after the next successful call.
func (d *Domain) dispatch() {
	queue := append(d.held, d.outbox...)
	d.held = nil
	d.outbox = d.outbox[:0]
	blocked := make(map[uint32]bool)
	for _, o := range queue {
		if blocked[o.dst] {
			d.held = append(d.held, o)
			continue
		}
		pkt, err := d.transport.Send(d.id, o.dst, d.router, o.payload)
		if err != nil {
			blocked[o.dst] = true
			d.held = append(d.held, o)
			d.metrics.messagesHeld.Inc()
			d.log.Error("transport rejected committed message, holding for resend",
				"domain", d.id,
				"dst", o.dst,
				"kind", o.kind,
				"err", err,
			)
			continue
		}
		d.metrics.messagesSent.WithLabelValues(o.kind.String()).Inc()
		d.log.Debug("message sent",
			"domain", d.id,
			"dst", o.dst,
			"kind", o.kind,
			"nonce", pkt.Nonce,
		)
	}
}

// try runs fn inside the current call and rolls back everything fn changed if
// it fails. failed is fn's error; err is non-nil only if the rollback itself
// failed, which is fatal to the enclosing call.
func (d *Domain) try(fn func() error) (failed error, err error) {
	cp := d.checkpoint()
	if failed = fn(); failed != nil {
		return failed, d.restore(cp)
	}
	return nil, nil
}

func (d *Domain) checkpoint() checkpoint {
	pools := make(map[uint64]*pool.Pool, len(d.pools))
	for id, p := range d.pools {
		pools[id] = p.Clone()
	}
	return checkpoint{
		pools:  pools,
		asset:  d.assets.Snapshot(),
		store:  d.store.Mark(),
		outbox: len(d.outbox),
	}
}

func (d *Domain) restore(cp checkpoint) error {
	d.pools = cp.pools
	d.outbox = d.outbox[:cp.outbox]
	return errors.Join(
		d.assets.RevertToSnapshot(cp.asset),
		d.store.Revert(cp.store),
	)
}
