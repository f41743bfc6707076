// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnipool/transport"
)

var errTransportDown = errors.New("transport down")

// flakyTransport refuses every send while down.
type flakyTransport struct {
	*transport.Hub
	down bool
}

func (f *flakyTransport) Send(src, dst uint32, sender common.Address, payload []byte) (transport.Packet, error) {
	if f.down {
		return transport.Packet{}, errTransportDown
	}
	return f.Hub.Send(src, dst, sender, payload)
}

func TestConcurrentQueries(t *testing.T) {
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), true)
	const deposits = 200
	fund(t, p.a, alice, deposits)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < deposits; i++ {
			_, err := p.a.Deposit(ctx, alice, poolID, big.NewInt(1), alice)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < deposits; i++ {
			pl, err := p.a.Pool(poolID)
			if assert.NoError(t, err) {
				assert.LessOrEqual(t, pl.SharesOf(alice).Int64(), int64(deposits))
			}
			assert.Equal(t, []uint64{poolID}, p.a.PoolIDs())
			_, err = p.a.LiveRetries()
			assert.NoError(t, err)
			_, err = p.a.LiveCached()
			assert.NoError(t, err)
			assert.Zero(t, p.a.Held())
		}
	}()
	wg.Wait()

	require.Equal(t, int64(deposits), shares(t, p.a, alice))
}

func TestReceiverQueriesDomain(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), true)
	p.seed(t, 1000)

	var seen int64
	r := &testReceiver{fail: func(Delivery) error {
		pl, err := p.a.Pool(poolID)
		if err != nil {
			return err
		}
		seen = pl.SharesOf(alice).Int64()
		return nil
	}}
	require.NoError(p.a.RegisterReceiver(carol, r))

	fund(t, p.b, bob, 20)
	_, err := p.b.Swap(ctx, SwapRequest{
		From:      bob,
		DstDomain: domainA,
		SrcPoolID: poolID,
		DstPoolID: poolID,
		AmountLD:  big.NewInt(20),
		To:        carol,
		Payload:   []byte("inspect"),
	})
	require.NoError(err)
	require.Equal(1, p.flush(t))

	require.Len(r.got, 1)
	require.Equal(int64(1000), seen)
	keys, err := p.a.LiveCached()
	require.NoError(err)
	require.Empty(keys)
}

func TestHeldMessagesResent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	hub := transport.NewHub(transport.DefaultFeeSchedule(), log.NewTestLogger(log.InfoLevel))
	flaky := &flakyTransport{Hub: hub}
	cfg := DefaultConfig()
	cfg.DomainID = domainA
	cfg.Router = routerA
	cfg.Admin = admin
	a, err := New(cfg, Deps{
		Transport:  flaky,
		Registerer: prometheus.NewRegistry(),
		Log:        log.NewTestLogger(log.InfoLevel),
	})
	require.NoError(err)
	require.NoError(hub.Register(domainA, a))
	require.NoError(a.CreatePool(admin, PoolConfig{ID: poolID, Token: token, SharedDecimals: 6, LocalDecimals: 6}))
	b := newDomain(t, domainB, routerB, hub)
	p := &pair{hub: hub, a: a, b: b}

	require.NoError(a.SetPeer(admin, domainB, routerB))
	require.NoError(b.SetPeer(admin, domainA, routerA))
	require.NoError(a.CreatePath(admin, poolID, domainB, poolID, 1))
	require.NoError(b.CreatePath(admin, poolID, domainA, poolID, 1))
	require.NoError(a.ActivatePath(admin, poolID, domainB, poolID))
	require.NoError(b.ActivatePath(admin, poolID, domainA, poolID))

	fund(t, a, alice, 1000)
	_, err = a.Deposit(ctx, alice, poolID, big.NewInt(1000), alice)
	require.NoError(err)

	flaky.down = true
	credit, err := a.SendCredits(ctx, domainB, poolID, poolID, nil)
	require.NoError(err)
	require.Equal(int64(1000), credit.Credits.Int64())
	_, err = a.SendCredits(ctx, domainB, poolID, poolID, nil)
	require.NoError(err)

	// the credit is committed locally but nothing reached the lane
	require.Equal(2, a.Held())
	require.Zero(hub.Pending(domainA, domainB))
	require.Equal(2.0, testutil.ToFloat64(a.metrics.messagesHeld))

	held, err := a.ResendHeld(ctx)
	require.NoError(err)
	require.Equal(2, held)

	flaky.down = false
	held, err = a.ResendHeld(ctx)
	require.NoError(err)
	require.Zero(held)
	require.Equal(2, hub.Pending(domainA, domainB))
	require.Equal(2.0, testutil.ToFloat64(a.metrics.messagesSent.WithLabelValues("credit")))

	require.Equal(2, p.flush(t))
	require.Equal(int64(1000), lockedBalance(t, b, domainA))
}
