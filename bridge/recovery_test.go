// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnipool/pool"
	"github.com/luxfi/omnipool/store"
	"github.com/luxfi/omnipool/transport"
)

func TestCachedDelivery(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), true)
	p.seed(t, 1000)

	r := &testReceiver{fail: func(d Delivery) error {
		if d.AmountLD.Int64() == 50 {
			return errRejected
		}
		return nil
	}}
	require.NoError(p.a.RegisterReceiver(carol, r))

	fund(t, p.b, bob, 50)
	_, err := p.b.Swap(ctx, SwapRequest{
		From:      bob,
		DstDomain: domainA,
		SrcPoolID: poolID,
		DstPoolID: poolID,
		AmountLD:  big.NewInt(50),
		To:        carol,
		Payload:   []byte("hello"),
	})
	require.NoError(err)
	require.Equal(1, p.flush(t))

	// funds are released, only the notification is deferred
	require.Equal(uint64(50), balance(p.a, carol))
	require.Empty(r.got)

	keys, err := p.a.LiveCached()
	require.NoError(err)
	require.Len(keys, 1)
	key := keys[0]
	require.Equal(store.Key{Domain: domainB, Counterparty: routerB, Nonce: 1}, key)

	c, err := p.a.CachedDelivery(key)
	require.NoError(err)
	require.Equal(int64(50), c.AmountLD.Int64())
	require.Equal(carol, c.To)
	require.Equal(token, c.Token)
	require.Equal([]byte("hello"), c.Payload)
	require.Equal(1.0, testutil.ToFloat64(p.a.metrics.cachedDeliveries))

	// a failing claim leaves the entry claimable
	require.ErrorIs(p.a.ClaimCached(ctx, key), errRejected)
	_, err = p.a.CachedDelivery(key)
	require.NoError(err)

	r.fail = nil
	require.NoError(p.a.ClaimCached(ctx, key))
	require.Len(r.got, 1)
	require.Equal(int64(50), r.got[0].AmountLD.Int64())
	require.Equal(domainB, r.got[0].SrcDomain)
	require.Equal(uint64(1), r.got[0].Nonce)

	err = p.a.ClaimCached(ctx, key)
	require.ErrorIs(err, store.ErrCacheCleared)
	require.ErrorIs(err, store.ErrAlreadyConsumed)
	require.Len(r.got, 1)

	keys, err = p.a.LiveCached()
	require.NoError(err)
	require.Empty(keys)

	require.ErrorIs(p.a.ClaimCached(ctx, store.Key{Domain: domainB, Counterparty: routerB, Nonce: 9}), store.ErrNoCachedDelivery)
	require.Equal(1.0, testutil.ToFloat64(p.a.metrics.recoveries.WithLabelValues("claim_cached", "ok")))
	require.Equal(3.0, testutil.ToFloat64(p.a.metrics.recoveries.WithLabelValues("claim_cached", "error")))
}

func TestMissingReceiverIsCached(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), true)
	p.seed(t, 1000)

	fund(t, p.b, bob, 10)
	_, err := p.b.Swap(ctx, SwapRequest{
		From:      bob,
		DstDomain: domainA,
		SrcPoolID: poolID,
		DstPoolID: poolID,
		AmountLD:  big.NewInt(10),
		To:        carol,
		Payload:   []byte{1},
	})
	require.NoError(err)
	p.flush(t)

	keys, err := p.a.LiveCached()
	require.NoError(err)
	require.Len(keys, 1)
	require.ErrorIs(p.a.ClaimCached(ctx, keys[0]), ErrNoReceiver)

	r := &testReceiver{}
	require.NoError(p.a.RegisterReceiver(carol, r))
	require.NoError(p.a.ClaimCached(ctx, keys[0]))
	require.Len(r.got, 1)
}

func TestReceiverReentry(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), true)
	p.seed(t, 1000)

	var reentryErr error
	r := &testReceiver{fail: func(d Delivery) error {
		_, reentryErr = p.a.Deposit(ctx, carol, poolID, d.AmountLD, carol)
		return reentryErr
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
		Payload:   []byte("deposit"),
	})
	require.NoError(err)
	p.flush(t)

	require.ErrorIs(reentryErr, ErrReentrant)
	require.Equal(uint64(20), balance(p.a, carol))
	require.Zero(shares(t, p.a, carol))
	keys, err := p.a.LiveCached()
	require.NoError(err)
	require.Len(keys, 1)
}

func TestReceiverEffectsRolledBack(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), true)
	p.seed(t, 1000)

	// the receiver forwards the funds, then fails
	r := &testReceiver{fail: func(d Delivery) error {
		amt, err := toUint256(d.AmountLD)
		if err != nil {
			return err
		}
		if err := p.a.Assets().Transfer(d.Token, carol, bob, amt); err != nil {
			return err
		}
		return errRejected
	}}
	require.NoError(p.a.RegisterReceiver(carol, r))

	fund(t, p.b, bob, 30)
	_, err := p.b.Swap(ctx, SwapRequest{
		From:      bob,
		DstDomain: domainA,
		SrcPoolID: poolID,
		DstPoolID: poolID,
		AmountLD:  big.NewInt(30),
		To:        carol,
		Payload:   []byte("fwd"),
	})
	require.NoError(err)
	p.flush(t)

	require.Equal(uint64(30), balance(p.a, carol))
	require.Zero(balance(p.a, bob))
}

func TestSwapRetry(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), false)
	require.NoError(p.b.ActivatePath(admin, poolID, domainA, poolID))
	p.seed(t, 1000)

	fund(t, p.b, bob, 100)
	_, err := p.b.Swap(ctx, SwapRequest{
		From:      bob,
		DstDomain: domainA,
		SrcPoolID: poolID,
		DstPoolID: poolID,
		AmountLD:  big.NewInt(100),
		To:        carol,
	})
	require.NoError(err)
	require.Equal(1, p.flush(t))
	require.Zero(balance(p.a, carol))

	keys, err := p.a.LiveRetries()
	require.NoError(err)
	require.Len(keys, 1)
	key := keys[0]
	r, err := p.a.PendingRetry(key)
	require.NoError(err)
	require.Equal(store.SwapRetry, r.Kind)
	require.Equal(1.0, testutil.ToFloat64(p.a.metrics.retriesStored.WithLabelValues("swap_retry")))

	// still unready: the retry fails and stays live
	require.ErrorIs(p.a.Retry(ctx, key), pool.ErrNotReady)
	_, err = p.a.PendingRetry(key)
	require.NoError(err)

	require.NoError(p.a.ActivatePath(admin, poolID, domainB, poolID))
	require.NoError(p.a.Retry(ctx, key))
	require.Equal(uint64(100), balance(p.a, carol))

	require.ErrorIs(p.a.Retry(ctx, key), store.ErrAlreadyConsumed)
	require.Equal(uint64(100), balance(p.a, carol))

	require.ErrorIs(p.a.Retry(ctx, store.Key{Domain: domainB, Counterparty: routerB, Nonce: 42}), store.ErrNoPendingRetry)
}

func TestRevertRedeemLocal(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), false)
	require.NoError(p.a.ActivatePath(admin, poolID, domainB, poolID))
	p.seed(t, 1000)

	_, err := p.a.RedeemLocal(ctx, RedeemLocalRequest{
		From:      alice,
		DstDomain: domainB,
		SrcPoolID: poolID,
		DstPoolID: poolID,
		Shares:    big.NewInt(600),
		To:        alice,
	})
	require.NoError(err)
	require.Equal(int64(400), shares(t, p.a, alice))
	require.Equal(1, p.flush(t))

	keys, err := p.b.LiveRetries()
	require.NoError(err)
	require.Len(keys, 1)
	key := keys[0]
	r, err := p.b.PendingRetry(key)
	require.NoError(err)
	require.Equal(store.RedeemCheckFailed, r.Kind)

	// a failed check is not replayable
	require.ErrorIs(p.b.Retry(ctx, key), ErrInvalidRetryKind)
	_, err = p.b.PendingRetry(key)
	require.NoError(err)

	require.NoError(p.b.RevertRedeemLocal(ctx, key, nil))
	require.Equal(1, p.flush(t))

	// nothing released, everything re-minted
	require.Zero(balance(p.a, alice))
	require.Equal(int64(1000), shares(t, p.a, alice))
	require.Equal(uint64(1000), balance(p.a, CustodyAddress(routerA, poolID)))

	require.ErrorIs(p.b.RevertRedeemLocal(ctx, key, nil), store.ErrAlreadyConsumed)
}

func TestRevertRedeemLocalWrongKind(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), false)
	require.NoError(p.b.ActivatePath(admin, poolID, domainA, poolID))
	p.seed(t, 1000)

	fund(t, p.b, bob, 100)
	_, err := p.b.Swap(ctx, SwapRequest{
		From:      bob,
		DstDomain: domainA,
		SrcPoolID: poolID,
		DstPoolID: poolID,
		AmountLD:  big.NewInt(100),
		To:        carol,
	})
	require.NoError(err)
	p.flush(t)

	keys, err := p.a.LiveRetries()
	require.NoError(err)
	require.Len(keys, 1)
	require.ErrorIs(p.a.RevertRedeemLocal(ctx, keys[0], nil), ErrInvalidRetryKind)
	_, err = p.a.PendingRetry(keys[0])
	require.NoError(err)
}

func TestRedeemCallbackRetry(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), true)
	p.seed(t, 1000)

	_, err := p.a.RedeemLocal(ctx, RedeemLocalRequest{
		From:      alice,
		DstDomain: domainB,
		SrcPoolID: poolID,
		DstPoolID: poolID,
		Shares:    big.NewInt(100),
		To:        alice,
	})
	require.NoError(err)

	// the check runs on b, then the callback cannot pay out of a's drained
	// custody
	ok, err := p.hub.DeliverNext(ctx, domainA, domainB)
	require.NoError(err)
	require.True(ok)
	custody := CustodyAddress(routerA, poolID)
	amt := p.a.Assets().BalanceOf(token, custody)
	require.NoError(p.a.Assets().Burn(token, custody, amt))

	p.flush(t)
	require.Zero(balance(p.a, alice))
	keys, err := p.a.LiveRetries()
	require.NoError(err)
	require.Len(keys, 1)
	r, err := p.a.PendingRetry(keys[0])
	require.NoError(err)
	require.Equal(store.RedeemCallbackRetry, r.Kind)

	fund(t, p.a, custody, 1000)
	require.NoError(p.a.Retry(ctx, keys[0]))
	require.Equal(uint64(100), balance(p.a, alice))
	require.Equal(int64(900), shares(t, p.a, alice))
}
