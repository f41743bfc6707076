// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package asset implements the transferable-asset primitive used by a domain:
// per-token balances and allowances in local-decimal units, with journaled
// snapshots so a failed call can be rolled back as a unit.
package asset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
	ErrInvalidSnapshot       = errors.New("invalid snapshot id")
)

type holding struct {
	token  common.Address
	holder common.Address
}

type grant struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// journalEntry restores one balance or allowance slot to its previous value.
type journalEntry struct {
	balance   *holding
	allowance *grant
	prev      *uint256.Int
	existed   bool
}

// Ledger holds balances for any number of tokens inside one domain.
type Ledger struct {
	mu sync.RWMutex

	balances   map[holding]*uint256.Int
	allowances map[grant]*uint256.Int
	supply     map[common.Address]*uint256.Int

	journal   []journalEntry
	snapshots []int
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[holding]*uint256.Int),
		allowances: make(map[grant]*uint256.Int),
		supply:     make(map[common.Address]*uint256.Int),
	}
}

// BalanceOf returns a copy of holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[holding{token, holder}]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if a, ok := l.allowances[grant{token, owner, spender}]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// TotalSupply returns the minted-minus-burned amount of token.
func (l *Ledger) TotalSupply(token common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if s, ok := l.supply[token]; ok {
		return s.Clone()
	}
	return new(uint256.Int)
}

// Mint credits amount of token to holder.
func (l *Ledger) Mint(token, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setBalance(token, to, new(uint256.Int).Add(l.balance(token, to), amount))
	s, ok := l.supply[token]
	if !ok {
		s = new(uint256.Int)
		l.supply[token] = s
	}
	s.Add(s, amount)
	return nil
}

// Burn debits amount of token from holder.
func (l *Ledger) Burn(token, from common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balance(token, from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount)
	}
	l.setBalance(token, from, new(uint256.Int).Sub(bal, amount))
	if s, ok := l.supply[token]; ok {
		s.Sub(s, amount)
	}
	return nil
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.transfer(token, from, to, amount)
}

// Approve sets spender's allowance over owner's token balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setAllowance(grant{token, owner, spender}, amount.Clone())
	return nil
}

// TransferFrom moves owner's tokens to `to`, spending spender's allowance.
func (l *Ledger) TransferFrom(token, spender, owner, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	g := grant{token, owner, spender}
	allowed := new(uint256.Int)
	if a, ok := l.allowances[g]; ok {
		allowed = a
	}
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowed, amount)
	}
	if err := l.transfer(token, owner, to, amount); err != nil {
		return err
	}
	l.setAllowance(g, new(uint256.Int).Sub(allowed, amount))
	return nil
}

// Snapshot marks the current journal position and returns its id.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.snapshots = append(l.snapshots, len(l.journal))
	return len(l.snapshots) - 1
}

// RevertToSnapshot undoes every change made after the snapshot was taken.
func (l *Ledger) RevertToSnapshot(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id < 0 || id >= len(l.snapshots) {
		return ErrInvalidSnapshot
	}
	mark := l.snapshots[id]
	for i := len(l.journal) - 1; i >= mark; i-- {
		e := l.journal[i]
		switch {
		case e.balance != nil && e.existed:
			l.balances[*e.balance] = e.prev
		case e.balance != nil:
			delete(l.balances, *e.balance)
		case e.allowance != nil && e.existed:
			l.allowances[*e.allowance] = e.prev
		case e.allowance != nil:
			delete(l.allowances, *e.allowance)
		}
	}
	l.journal = l.journal[:mark]
	l.snapshots = l.snapshots[:id]
	l.recomputeSupply()
	return nil
}

// DiscardSnapshots drops the journal once the outermost call has committed.
func (l *Ledger) DiscardSnapshots() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.journal = l.journal[:0]
	l.snapshots = l.snapshots[:0]
}

func (l *Ledger) transfer(token, from, to common.Address, amount *uint256.Int) error {
	bal := l.balance(token, from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount)
	}
	l.setBalance(token, from, new(uint256.Int).Sub(bal, amount))
	l.setBalance(token, to, new(uint256.Int).Add(l.balance(token, to), amount))
	return nil
}

func (l *Ledger) balance(token, holder common.Address) *uint256.Int {
	if b, ok := l.balances[holding{token, holder}]; ok {
		return b
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalance(token, holder common.Address, v *uint256.Int) {
	h := holding{token, holder}
	prev, existed := l.balances[h]
	if len(l.snapshots) > 0 {
		l.journal = append(l.journal, journalEntry{balance: &h, prev: prev, existed: existed})
	}
	l.balances[h] = v
}

func (l *Ledger) setAllowance(g grant, v *uint256.Int) {
	prev, existed := l.allowances[g]
	if len(l.snapshots) > 0 {
		l.journal = append(l.journal, journalEntry{allowance: &g, prev: prev, existed: existed})
	}
	l.allowances[g] = v
}

// recomputeSupply rebuilds supply totals after a revert.
func (l *Ledger) recomputeSupply() {
	supply := make(map[common.Address]*uint256.Int, len(l.supply))
	for token := range l.supply {
		supply[token] = new(uint256.Int)
	}
	for h, b := range l.balances {
		s, ok := supply[h.token]
		if !ok {
			s = new(uint256.Int)
			supply[h.token] = s
		}
		s.Add(s, b)
	}
	l.supply = supply
}
