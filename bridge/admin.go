// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/omnipool/pool"
)

// HasRole reports whether addr holds role.
func (d *Domain) HasRole(role Role, addr common.Address) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.roles[role][addr]
}

func (d *Domain) require(role Role, caller common.Address) error {
	if !d.HasRole(role, caller) {
		return fmt.Errorf("%w: %s is not %s", ErrUnauthorized, caller.Hex(), role)
	}
	return nil
}

// admin runs fn as an exec call gated on role.
func (d *Domain) admin(role Role, caller common.Address, op string, fn func() error) error {
	err := d.exec(func() error {
		if err := d.require(role, caller); err != nil {
			return err
		}
		return fn()
	})
	if err == nil {
		d.log.Info("admin operation", "domain", d.id, "op", op, "caller", caller)
	}
	return err
}

// GrantRole gives addr the role.
func (d *Domain) GrantRole(caller common.Address, role Role, addr common.Address) error {
	return d.admin(RoleAdmin, caller, "grant_role", func() error {
		if addr == (common.Address{}) {
			return ErrZeroAddress
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.roles[role] == nil {
			d.roles[role] = make(map[common.Address]bool)
		}
		d.roles[role][addr] = true
		return nil
	})
}

// RevokeRole removes the role from addr.
func (d *Domain) RevokeRole(caller common.Address, role Role, addr common.Address) error {
	return d.admin(RoleAdmin, caller, "revoke_role", func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.roles[role], addr)
		return nil
	})
}

// SetPeer trusts router as the sender of packets from domain.
func (d *Domain) SetPeer(caller common.Address, domain uint32, router common.Address) error {
	return d.admin(RoleAdmin, caller, "set_peer", func() error {
		if domain == d.id {
			return ErrSameDomain
		}
		if router == (common.Address{}) {
			return ErrZeroAddress
		}
		d.peers[domain] = router
		return nil
	})
}

// CreatePool creates a pool with the domain's default fee, mint fee and
// delta settings. The pool's custody address is derived from the router.
func (d *Domain) CreatePool(caller common.Address, cfg PoolConfig) error {
	return d.admin(RoleAdmin, caller, "create_pool", func() error {
		if _, ok := d.pools[cfg.ID]; ok {
			return fmt.Errorf("%w: %d", ErrPoolExists, cfg.ID)
		}
		policy := cfg.FeePolicy
		if policy == "" {
			policy = d.cfg.FeePolicy
		}
		p, err := pool.New(pool.Params{
			ID:             cfg.ID,
			Token:          cfg.Token,
			Custody:        CustodyAddress(d.router, cfg.ID),
			SharedDecimals: cfg.SharedDecimals,
			LocalDecimals:  cfg.LocalDecimals,
			FeePolicy:      policy,
		}, d.log)
		if err != nil {
			return err
		}
		if err := p.SetMintFeeBP(d.cfg.MintFeeBP); err != nil {
			return err
		}
		if err := p.SetDeltaParams(d.cfg.Delta); err != nil {
			return err
		}
		d.pools[cfg.ID] = p
		return nil
	})
}

// CreatePath adds an inactive path from a local pool to a remote pool.
func (d *Domain) CreatePath(caller common.Address, poolID uint64, dstDomain uint32, dstPoolID uint64, weight uint64) error {
	return d.withPool(caller, "create_path", poolID, func(p *pool.Pool) error {
		if dstDomain == d.id {
			return ErrSameDomain
		}
		return p.CreatePath(dstDomain, dstPoolID, weight)
	})
}

// ActivatePath opens a path for transfers.
func (d *Domain) ActivatePath(caller common.Address, poolID uint64, dstDomain uint32, dstPoolID uint64) error {
	return d.withPool(caller, "activate_path", poolID, func(p *pool.Pool) error {
		return p.ActivatePath(dstDomain, dstPoolID)
	})
}

// SetPathWeight reweights a path.
func (d *Domain) SetPathWeight(caller common.Address, poolID uint64, dstDomain uint32, dstPoolID uint64, weight uint64) error {
	return d.withPool(caller, "set_path_weight", poolID, func(p *pool.Pool) error {
		return p.SetWeight(dstDomain, dstPoolID, weight)
	})
}

// SetFeePolicy switches a pool's fee policy by registry key.
func (d *Domain) SetFeePolicy(caller common.Address, poolID uint64, key string) error {
	return d.withPool(caller, "set_fee_policy", poolID, func(p *pool.Pool) error {
		return p.SetFeePolicy(key)
	})
}

// SetSwapStop disables or re-enables outbound transfers from a pool.
func (d *Domain) SetSwapStop(caller common.Address, poolID uint64, stop bool) error {
	return d.withPool(caller, "set_swap_stop", poolID, func(p *pool.Pool) error {
		p.SetSwapStop(stop)
		return nil
	})
}

// SetMintFeeBP sets a pool's deposit fee.
func (d *Domain) SetMintFeeBP(caller common.Address, poolID uint64, bp uint64) error {
	return d.withPool(caller, "set_mint_fee", poolID, func(p *pool.Pool) error {
		return p.SetMintFeeBP(bp)
	})
}

// SetDeltaParams sets a pool's rebalance batching and default modes.
func (d *Domain) SetDeltaParams(caller common.Address, poolID uint64, params pool.DeltaParams) error {
	return d.withPool(caller, "set_delta_params", poolID, func(p *pool.Pool) error {
		return p.SetDeltaParams(params)
	})
}

// CallDelta runs the rebalancer on a pool and returns the amount credited.
func (d *Domain) CallDelta(caller common.Address, poolID uint64, fullMode bool) (*big.Int, error) {
	var credited *big.Int
	err := d.withPool(caller, "call_delta", poolID, func(p *pool.Pool) error {
		credited = p.Rebalance(fullMode)
		return nil
	})
	return credited, err
}

// WithdrawProtocolFees pays a pool's accumulated protocol fees to to.
func (d *Domain) WithdrawProtocolFees(caller common.Address, poolID uint64, to common.Address) (*big.Int, error) {
	return d.withdraw(caller, "withdraw_protocol_fees", poolID, to, (*pool.Pool).WithdrawProtocolFees)
}

// WithdrawMintFees pays a pool's accumulated mint fees to to.
func (d *Domain) WithdrawMintFees(caller common.Address, poolID uint64, to common.Address) (*big.Int, error) {
	return d.withdraw(caller, "withdraw_mint_fees", poolID, to, (*pool.Pool).WithdrawMintFees)
}

func (d *Domain) withdraw(caller common.Address, op string, poolID uint64, to common.Address, take func(*pool.Pool) *big.Int) (*big.Int, error) {
	var amountLD *big.Int
	err := d.admin(RoleFeeCollector, caller, op, func() error {
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		p, err := d.pool(poolID)
		if err != nil {
			return err
		}
		amountLD = take(p)
		return d.payout(p, to, amountLD)
	})
	return amountLD, err
}

func (d *Domain) withPool(caller common.Address, op string, poolID uint64, fn func(p *pool.Pool) error) error {
	return d.admin(RoleAdmin, caller, op, func() error {
		p, err := d.pool(poolID)
		if err != nil {
			return err
		}
		return fn(p)
	})
}
