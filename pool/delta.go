// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import "math/big"

// Rebalance assigns unassigned credit to paths as pending credit.
//
// Each path's deficit is its weighted share of total liquidity minus what
// this pool has already assigned to it (last known balance plus pending
// credit). The credit the remote side granted us is not counted. When credit
// is short, deficits are rationed proportionally. Otherwise every deficit is
// filled and, in full mode, the remainder is spread across all paths by
// weight. Units lost
// to integer division are handed out one at a time in path order, so a run
// either exhausts unassigned credit or leaves every deficit at zero; a second
// run with no intervening change is then a no-op.
//
// Returns the total amount credited.
func (p *Pool) Rebalance(fullMode bool) *big.Int {
	credited := big.NewInt(0)
	if p.unassignedCredit.Sign() <= 0 || p.totalWeight == 0 || len(p.paths) == 0 {
		return credited
	}

	totalWeight := new(big.Int).SetUint64(p.totalWeight)
	deficits := make([]*big.Int, len(p.paths))
	totalDeficit := big.NewInt(0)
	for i, cp := range p.paths {
		deficits[i] = big.NewInt(0)
		if cp.Weight == 0 {
			continue
		}
		target := new(big.Int).Mul(p.totalLiquidity, new(big.Int).SetUint64(cp.Weight))
		target.Quo(target, totalWeight)
		claim := new(big.Int).Add(cp.LastKnownBalance, cp.PendingCredit)
		if target.Cmp(claim) > 0 {
			deficits[i].Sub(target, claim)
			totalDeficit.Add(totalDeficit, deficits[i])
		}
	}

	alloc := make([]*big.Int, len(p.paths))
	for i := range alloc {
		alloc[i] = big.NewInt(0)
	}

	switch {
	case totalDeficit.Cmp(p.unassignedCredit) > 0:
		// ration
		for i, d := range deficits {
			if d.Sign() == 0 {
				continue
			}
			alloc[i].Mul(d, p.unassignedCredit)
			alloc[i].Quo(alloc[i], totalDeficit)
			credited.Add(credited, alloc[i])
		}
		dust := new(big.Int).Sub(p.unassignedCredit, credited)
		for i := 0; dust.Sign() > 0 && i < len(alloc); i++ {
			if alloc[i].Cmp(deficits[i]) < 0 {
				alloc[i].Add(alloc[i], big.NewInt(1))
				credited.Add(credited, big.NewInt(1))
				dust.Sub(dust, big.NewInt(1))
			}
		}

	case fullMode:
		for i, d := range deficits {
			alloc[i].Set(d)
		}
		credited.Set(totalDeficit)
		remainder := new(big.Int).Sub(p.unassignedCredit, totalDeficit)
		spread := big.NewInt(0)
		for i, cp := range p.paths {
			share := new(big.Int).Mul(remainder, new(big.Int).SetUint64(cp.Weight))
			share.Quo(share, totalWeight)
			alloc[i].Add(alloc[i], share)
			spread.Add(spread, share)
		}
		dust := remainder.Sub(remainder, spread)
		for i := 0; dust.Sign() > 0; i = (i + 1) % len(p.paths) {
			if p.paths[i].Weight == 0 {
				continue
			}
			alloc[i].Add(alloc[i], big.NewInt(1))
			dust.Sub(dust, big.NewInt(1))
		}
		credited.Set(p.unassignedCredit)

	default:
		for i, d := range deficits {
			alloc[i].Set(d)
		}
		credited.Set(totalDeficit)
	}

	if credited.Sign() == 0 {
		return credited
	}
	for i, cp := range p.paths {
		if alloc[i].Sign() > 0 {
			cp.PendingCredit.Add(cp.PendingCredit, alloc[i])
		}
	}
	p.unassignedCredit.Sub(p.unassignedCredit, credited)

	p.log.Debug("rebalanced pool",
		"pool", p.id,
		"fullMode", fullMode,
		"credited", credited,
		"deficit", totalDeficit,
		"unassigned", p.unassignedCredit,
	)
	return credited
}
