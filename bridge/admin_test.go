// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"math/big"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnipool/feelib"
	"github.com/luxfi/omnipool/pool"
	"github.com/luxfi/omnipool/transport"
)

func TestAdminRequiresRole(t *testing.T) {
	require := require.New(t)
	p := newPair(t, transport.DefaultFeeSchedule(), false)
	d := p.a

	require.ErrorIs(d.CreatePool(bob, PoolConfig{ID: 2, Token: token, SharedDecimals: 6, LocalDecimals: 6}), ErrUnauthorized)
	require.ErrorIs(d.CreatePath(bob, poolID, 3, 1, 1), ErrUnauthorized)
	require.ErrorIs(d.ActivatePath(bob, poolID, domainB, poolID), ErrUnauthorized)
	require.ErrorIs(d.SetPathWeight(bob, poolID, domainB, poolID, 5), ErrUnauthorized)
	require.ErrorIs(d.SetFeePolicy(bob, poolID, feelib.StandardKey), ErrUnauthorized)
	require.ErrorIs(d.SetSwapStop(bob, poolID, true), ErrUnauthorized)
	require.ErrorIs(d.SetMintFeeBP(bob, poolID, 10), ErrUnauthorized)
	require.ErrorIs(d.SetDeltaParams(bob, poolID, pool.DeltaParams{}), ErrUnauthorized)
	require.ErrorIs(d.SetPeer(bob, 3, routerB), ErrUnauthorized)
	require.ErrorIs(d.GrantRole(bob, RoleAdmin, bob), ErrUnauthorized)
	require.ErrorIs(d.RevokeRole(bob, RoleAdmin, admin), ErrUnauthorized)
	_, err := d.CallDelta(bob, poolID, true)
	require.ErrorIs(err, ErrUnauthorized)
	_, err = d.WithdrawProtocolFees(bob, poolID, bob)
	require.ErrorIs(err, ErrUnauthorized)
	_, err = d.WithdrawMintFees(bob, poolID, bob)
	require.ErrorIs(err, ErrUnauthorized)

	require.Equal([]uint64{poolID}, d.PoolIDs())
}

func TestRoles(t *testing.T) {
	require := require.New(t)
	p := newPair(t, transport.DefaultFeeSchedule(), false)
	d := p.a

	require.ErrorIs(d.GrantRole(admin, RoleAdmin, common.Address{}), ErrZeroAddress)
	require.NoError(d.GrantRole(admin, RoleAdmin, bob))
	require.True(d.HasRole(RoleAdmin, bob))
	require.NoError(d.CreatePool(bob, PoolConfig{ID: 2, Token: token, SharedDecimals: 6, LocalDecimals: 6}))

	require.NoError(d.RevokeRole(admin, RoleAdmin, bob))
	require.False(d.HasRole(RoleAdmin, bob))
	require.ErrorIs(d.CreatePool(bob, PoolConfig{ID: 3, Token: token, SharedDecimals: 6, LocalDecimals: 6}), ErrUnauthorized)

	// admin does not imply fee collector once revoked
	require.NoError(d.RevokeRole(admin, RoleFeeCollector, admin))
	_, err := d.WithdrawMintFees(admin, poolID, admin)
	require.ErrorIs(err, ErrUnauthorized)
	require.NoError(d.GrantRole(admin, RoleFeeCollector, carol))
	_, err = d.WithdrawMintFees(carol, poolID, carol)
	require.NoError(err)

	require.Equal("admin", RoleAdmin.String())
	require.Equal("fee_collector", RoleFeeCollector.String())
	require.Equal("unknown", Role(0).String())
}

func TestCreatePoolDefaults(t *testing.T) {
	require := require.New(t)
	hub := transport.NewHub(transport.DefaultFeeSchedule(), nil)
	cfg := DefaultConfig()
	cfg.DomainID = domainA
	cfg.Router = routerA
	cfg.Admin = admin
	cfg.FeePolicy = feelib.StandardKey
	cfg.MintFeeBP = 25
	cfg.Delta = pool.DeltaParams{Batched: true, SwapDeltaBP: 100, LPDeltaBP: 200, DefaultLPMode: true}
	d, err := New(cfg, Deps{Transport: hub, DB: memdb.New(), Log: log.NewTestLogger(log.InfoLevel)})
	require.NoError(err)

	require.NoError(d.CreatePool(admin, PoolConfig{ID: 4, Token: token, SharedDecimals: 6, LocalDecimals: 18}))
	require.ErrorIs(d.CreatePool(admin, PoolConfig{ID: 4, Token: token, SharedDecimals: 6, LocalDecimals: 18}), ErrPoolExists)
	require.ErrorIs(d.CreatePool(admin, PoolConfig{ID: 5, Token: token, SharedDecimals: 18, LocalDecimals: 6}), pool.ErrInvalidDecimals)
	require.NoError(d.CreatePool(admin, PoolConfig{ID: 6, Token: token, SharedDecimals: 6, LocalDecimals: 6, FeePolicy: feelib.ZeroKey}))

	pl, err := d.Pool(4)
	require.NoError(err)
	require.Equal(feelib.StandardKey, pl.FeePolicy())
	require.Equal(cfg.Delta, pl.DeltaParams())
	require.Equal(CustodyAddress(routerA, 4), pl.Custody())
	require.Equal(token, pl.Token())
	require.Equal(int64(1_000_000_000_000), pl.ConvertRate().Int64())

	pl, err = d.Pool(6)
	require.NoError(err)
	require.Equal(feelib.ZeroKey, pl.FeePolicy())

	require.Equal([]uint64{4, 6}, d.PoolIDs())
	_, err = d.Pool(5)
	require.ErrorIs(err, ErrPoolNotFound)
}

func TestPathAdmin(t *testing.T) {
	require := require.New(t)
	p := newPair(t, transport.DefaultFeeSchedule(), false)
	d := p.a

	require.ErrorIs(d.CreatePath(admin, poolID, domainA, 2, 1), ErrSameDomain)
	require.ErrorIs(d.CreatePath(admin, poolID, domainB, poolID, 1), pool.ErrPathExists)
	require.ErrorIs(d.CreatePath(admin, 9, 3, 1, 1), ErrPoolNotFound)
	require.NoError(d.CreatePath(admin, poolID, 3, 1, 3))

	require.NoError(d.ActivatePath(admin, poolID, domainB, poolID))
	require.ErrorIs(d.ActivatePath(admin, poolID, domainB, poolID), pool.ErrAlreadyReady)
	require.NoError(d.SetPathWeight(admin, poolID, 3, 1, 1))

	pl, err := d.Pool(poolID)
	require.NoError(err)
	require.Equal(uint64(2), pl.Snapshot().TotalWeight)
	cp, err := pl.Path(domainB, poolID)
	require.NoError(err)
	require.True(cp.Ready)

	require.ErrorIs(d.SetFeePolicy(admin, poolID, "missing"), pool.ErrUnknownFeePolicy)
	require.NoError(d.SetFeePolicy(admin, poolID, feelib.StandardKey))
	require.ErrorIs(d.SetMintFeeBP(admin, poolID, pool.BPDenominator+1), pool.ErrInvalidBP)
	require.ErrorIs(d.SetDeltaParams(admin, poolID, pool.DeltaParams{SwapDeltaBP: pool.BPDenominator + 1}), pool.ErrInvalidBP)

	require.ErrorIs(d.SetPeer(admin, domainA, routerB), ErrSameDomain)
	require.ErrorIs(d.SetPeer(admin, 3, common.Address{}), ErrZeroAddress)
	require.NoError(d.SetPeer(admin, 3, routerB))
}

func TestCallDelta(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), true)
	d := p.a

	// with no weight the deposit stays unassigned
	require.NoError(d.SetPathWeight(admin, poolID, domainB, poolID, 0))
	fund(t, d, alice, 1000)
	_, err := d.Deposit(ctx, alice, poolID, big.NewInt(1000), alice)
	require.NoError(err)
	pl, err := d.Pool(poolID)
	require.NoError(err)
	require.Equal(int64(1000), pl.Snapshot().UnassignedCredit.Int64())

	require.NoError(d.SetPathWeight(admin, poolID, domainB, poolID, 1))
	credited, err := d.CallDelta(admin, poolID, false)
	require.NoError(err)
	require.Equal(int64(1000), credited.Int64())

	credited, err = d.CallDelta(admin, poolID, true)
	require.NoError(err)
	require.Zero(credited.Sign())

	_, err = d.CallDelta(admin, 9, true)
	require.ErrorIs(err, ErrPoolNotFound)
}

func TestWithdrawFees(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), true)
	d := p.a
	treasury := common.HexToAddress("0x7ea5000000000000000000000000000000000000")

	require.NoError(d.SetMintFeeBP(admin, poolID, 100))
	fund(t, d, alice, 1000)
	got, err := d.Deposit(ctx, alice, poolID, big.NewInt(1000), alice)
	require.NoError(err)
	require.Equal(int64(990), got.Int64())

	_, err = d.WithdrawMintFees(admin, poolID, common.Address{})
	require.ErrorIs(err, ErrZeroAddress)

	amount, err := d.WithdrawMintFees(admin, poolID, treasury)
	require.NoError(err)
	require.Equal(int64(10), amount.Int64())
	require.Equal(uint64(10), balance(d, treasury))
	require.Equal(uint64(990), balance(d, CustodyAddress(routerA, poolID)))

	amount, err = d.WithdrawMintFees(admin, poolID, treasury)
	require.NoError(err)
	require.Zero(amount.Sign())

	amount, err = d.WithdrawProtocolFees(admin, poolID, treasury)
	require.NoError(err)
	require.Zero(amount.Sign())
	require.Equal(uint64(10), balance(d, treasury))
}

func TestProtocolFeesAccrue(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	p := newPair(t, transport.DefaultFeeSchedule(), true)
	p.seed(t, 1_000_000)
	require.NoError(p.b.SetFeePolicy(admin, poolID, feelib.StandardKey))

	fund(t, p.b, bob, 100_000)
	q, err := p.b.Swap(ctx, SwapRequest{
		From:      bob,
		DstDomain: domainA,
		SrcPoolID: poolID,
		DstPoolID: poolID,
		AmountLD:  big.NewInt(100_000),
		To:        carol,
	})
	require.NoError(err)
	require.Positive(q.ProtocolFee.Sign())
	p.flush(t)

	treasury := common.HexToAddress("0x7ea5000000000000000000000000000000000000")
	amount, err := p.a.WithdrawProtocolFees(admin, poolID, treasury)
	require.NoError(err)
	require.Equal(q.ProtocolFee.Int64(), amount.Int64())
	require.Equal(q.Delivered().Uint64(), balance(p.a, carol))
	require.Equal(amount.Uint64(), balance(p.a, treasury))
}
