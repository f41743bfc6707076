// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool implements the per-domain ledger of one pooled asset: the share
// ledger (proportional ownership of pooled liquidity), the path ledger
// (per-remote-pool locked balances and pending credits) and the delta
// rebalancer that assigns free liquidity to paths by weight.
//
// All amounts are in shared decimals (SD) unless a name says LD. A Pool is not
// safe for concurrent use; the bridge serializes every call into a domain.
package pool

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/omnipool/feelib"
)

// Pool is one asset's ownership-share ledger inside a domain.
type Pool struct {
	id             uint64
	token          common.Address
	custody        common.Address
	sharedDecimals uint8
	localDecimals  uint8
	convertRate    *big.Int

	totalShares      *big.Int
	totalLiquidity   *big.Int
	unassignedCredit *big.Int
	totalWeight      uint64

	eqFeePool          *big.Int
	protocolFeeBalance *big.Int
	mintFeeBalance     *big.Int
	mintFeeBP          uint64

	delta    DeltaParams
	stopSwap bool

	feeKey string
	fees   feelib.Policy

	shares    map[common.Address]*big.Int
	paths     []*Path
	pathIndex map[pathKey]int

	log log.Logger
}

// New creates an empty pool. The fee policy is resolved from the feelib
// registry by key.
func New(params Params, logger log.Logger) (*Pool, error) {
	if params.SharedDecimals > params.LocalDecimals {
		return nil, fmt.Errorf("%w: shared=%d local=%d", ErrInvalidDecimals, params.SharedDecimals, params.LocalDecimals)
	}
	if params.Token == (common.Address{}) || params.Custody == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	key := params.FeePolicy
	if key == "" {
		key = feelib.ZeroKey
	}
	policy, err := feelib.Get(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFeePolicy, err)
	}

	if logger == nil {
		logger = log.Root()
	}

	rate := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(params.LocalDecimals-params.SharedDecimals)), nil)
	return &Pool{
		id:                 params.ID,
		token:              params.Token,
		custody:            params.Custody,
		sharedDecimals:     params.SharedDecimals,
		localDecimals:      params.LocalDecimals,
		convertRate:        rate,
		totalShares:        big.NewInt(0),
		totalLiquidity:     big.NewInt(0),
		unassignedCredit:   big.NewInt(0),
		eqFeePool:          big.NewInt(0),
		protocolFeeBalance: big.NewInt(0),
		mintFeeBalance:     big.NewInt(0),
		feeKey:             key,
		fees:               policy,
		shares:             make(map[common.Address]*big.Int),
		pathIndex:          make(map[pathKey]int),
		log:                logger,
	}, nil
}

func (p *Pool) ID() uint64               { return p.id }
func (p *Pool) Token() common.Address    { return p.token }
func (p *Pool) Custody() common.Address  { return p.custody }
func (p *Pool) ConvertRate() *big.Int    { return new(big.Int).Set(p.convertRate) }
func (p *Pool) FeePolicy() string        { return p.feeKey }
func (p *Pool) DeltaParams() DeltaParams { return p.delta }

// SharesOf returns holder's share balance.
func (p *Pool) SharesOf(holder common.Address) *big.Int {
	if s, ok := p.shares[holder]; ok {
		return new(big.Int).Set(s)
	}
	return big.NewInt(0)
}

// Snapshot returns a copy of the pool totals.
func (p *Pool) Snapshot() Snapshot {
	return Snapshot{
		ID:                 p.id,
		TotalShares:        new(big.Int).Set(p.totalShares),
		TotalLiquidity:     new(big.Int).Set(p.totalLiquidity),
		UnassignedCredit:   new(big.Int).Set(p.unassignedCredit),
		TotalWeight:        p.totalWeight,
		EqFeePool:          new(big.Int).Set(p.eqFeePool),
		ProtocolFeeBalance: new(big.Int).Set(p.protocolFeeBalance),
		MintFeeBalance:     new(big.Int).Set(p.mintFeeBalance),
		SwapEnabled:        !p.stopSwap,
	}
}

// Path returns a copy of the path to the given remote pool.
func (p *Pool) Path(remoteDomain uint32, remotePoolID uint64) (*Path, error) {
	cp, err := p.path(remoteDomain, remotePoolID)
	if err != nil {
		return nil, err
	}
	return cp.Clone(), nil
}

// Paths returns copies of every path in creation order.
func (p *Pool) Paths() []*Path {
	out := make([]*Path, len(p.paths))
	for i, cp := range p.paths {
		out[i] = cp.Clone()
	}
	return out
}

func (p *Pool) path(remoteDomain uint32, remotePoolID uint64) (*Path, error) {
	i, ok := p.pathIndex[pathKey{remoteDomain, remotePoolID}]
	if !ok {
		return nil, fmt.Errorf("%w: domain=%d pool=%d", ErrPathNotFound, remoteDomain, remotePoolID)
	}
	return p.paths[i], nil
}

// Clone returns a deep copy sharing only the immutable policy and logger.
func (p *Pool) Clone() *Pool {
	c := *p
	c.convertRate = new(big.Int).Set(p.convertRate)
	c.totalShares = new(big.Int).Set(p.totalShares)
	c.totalLiquidity = new(big.Int).Set(p.totalLiquidity)
	c.unassignedCredit = new(big.Int).Set(p.unassignedCredit)
	c.eqFeePool = new(big.Int).Set(p.eqFeePool)
	c.protocolFeeBalance = new(big.Int).Set(p.protocolFeeBalance)
	c.mintFeeBalance = new(big.Int).Set(p.mintFeeBalance)

	c.shares = make(map[common.Address]*big.Int, len(p.shares))
	for holder, s := range p.shares {
		c.shares[holder] = new(big.Int).Set(s)
	}
	c.paths = make([]*Path, len(p.paths))
	for i, cp := range p.paths {
		c.paths[i] = cp.Clone()
	}
	c.pathIndex = make(map[pathKey]int, len(p.pathIndex))
	for k, v := range p.pathIndex {
		c.pathIndex[k] = v
	}
	return &c
}

// atomically runs fn and restores the pool if it fails.
func (p *Pool) atomically(fn func() error) error {
	saved := p.Clone()
	if err := fn(); err != nil {
		*p = *saved
		return err
	}
	return nil
}

// =========================================================================
// Unit conversions (truncating toward zero, in the pool's favour)
// =========================================================================

// LDToSD converts local-decimal asset units to shared decimals.
func (p *Pool) LDToSD(amountLD *big.Int) *big.Int {
	return new(big.Int).Quo(amountLD, p.convertRate)
}

// SDToLD converts shared decimals to local-decimal asset units.
func (p *Pool) SDToLD(amountSD *big.Int) *big.Int {
	return new(big.Int).Mul(amountSD, p.convertRate)
}

// RoundLD drops the LD dust that cannot be represented in shared decimals.
func (p *Pool) RoundLD(amountLD *big.Int) *big.Int {
	return p.SDToLD(p.LDToSD(amountLD))
}

// SharesToSD values a share amount in pooled liquidity.
func (p *Pool) SharesToSD(shares *big.Int) (*big.Int, error) {
	if p.totalShares.Sign() == 0 {
		return nil, ErrInsufficientSupply
	}
	out := new(big.Int).Mul(shares, p.totalLiquidity)
	return out.Quo(out, p.totalShares), nil
}

// SharesToLD values a share amount in local asset units.
func (p *Pool) SharesToLD(shares *big.Int) (*big.Int, error) {
	sd, err := p.SharesToSD(shares)
	if err != nil {
		return nil, err
	}
	return p.SDToLD(sd), nil
}

func (p *Pool) sdToShares(amountSD *big.Int) (*big.Int, error) {
	if p.totalLiquidity.Sign() == 0 {
		return nil, ErrInsufficientSupply
	}
	out := new(big.Int).Mul(amountSD, p.totalShares)
	return out.Quo(out, p.totalLiquidity), nil
}

// =========================================================================
// Administrative operations
// =========================================================================

// CreatePath adds an inactive path to a remote pool.
func (p *Pool) CreatePath(remoteDomain uint32, remotePoolID uint64, weight uint64) error {
	key := pathKey{remoteDomain, remotePoolID}
	if _, exists := p.pathIndex[key]; exists {
		return fmt.Errorf("%w: domain=%d pool=%d", ErrPathExists, remoteDomain, remotePoolID)
	}
	p.paths = append(p.paths, newPath(remoteDomain, remotePoolID, weight))
	p.pathIndex[key] = len(p.paths) - 1
	p.totalWeight += weight
	return nil
}

// ActivatePath marks a path ready for swaps.
func (p *Pool) ActivatePath(remoteDomain uint32, remotePoolID uint64) error {
	cp, err := p.path(remoteDomain, remotePoolID)
	if err != nil {
		return err
	}
	if cp.Ready {
		return ErrAlreadyReady
	}
	cp.Ready = true
	return nil
}

// SetWeight reweights a path.
func (p *Pool) SetWeight(remoteDomain uint32, remotePoolID uint64, weight uint64) error {
	cp, err := p.path(remoteDomain, remotePoolID)
	if err != nil {
		return err
	}
	p.totalWeight = p.totalWeight - cp.Weight + weight
	cp.Weight = weight
	return nil
}

// SetFeePolicy switches the registry key used to price transfers.
func (p *Pool) SetFeePolicy(key string) error {
	policy, err := feelib.Get(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownFeePolicy, err)
	}
	p.feeKey = key
	p.fees = policy
	return nil
}

// SetSwapStop enables or disables outbound transfers.
func (p *Pool) SetSwapStop(stop bool) { p.stopSwap = stop }

// SetMintFeeBP sets the deposit fee.
func (p *Pool) SetMintFeeBP(bp uint64) error {
	if bp > BPDenominator {
		return ErrInvalidBP
	}
	p.mintFeeBP = bp
	return nil
}

// SetDeltaParams configures rebalance batching and default modes.
func (p *Pool) SetDeltaParams(d DeltaParams) error {
	if d.SwapDeltaBP > BPDenominator || d.LPDeltaBP > BPDenominator {
		return ErrInvalidBP
	}
	p.delta = d
	return nil
}

// WithdrawProtocolFees zeroes the protocol fee balance and returns it in LD.
func (p *Pool) WithdrawProtocolFees() *big.Int {
	amountLD := p.SDToLD(p.protocolFeeBalance)
	p.protocolFeeBalance = big.NewInt(0)
	return amountLD
}

// WithdrawMintFees zeroes the mint fee balance and returns it in LD.
func (p *Pool) WithdrawMintFees() *big.Int {
	amountLD := p.SDToLD(p.mintFeeBalance)
	p.mintFeeBalance = big.NewInt(0)
	return amountLD
}
