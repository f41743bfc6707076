// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package feelib

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Built-in policy keys
const (
	ZeroKey     = "zero"
	StandardKey = "standard"
)

// DefaultStandard is the policy registered under StandardKey.
var DefaultStandard = BasisPoints{
	LPFeeBP:       6,    // 0.06%
	ProtocolFeeBP: 4,    // 0.04%
	EqFeeBP:       50,   // 0.5% of the drained part
	EqRewardBP:    50,   // 0.5% of the rebalancing part
	SafeZoneBP:    6000, // 60% of ideal
}

var ErrPolicyNotFound = errors.New("fee policy not registered")

// Module binds a Policy to the key pools use to reference it.
type Module struct {
	Key    string
	Policy Policy
}

var (
	// registeredModules is kept sorted by key for deterministic iteration
	registeredModules = make([]Module, 0)
	registryMu        sync.RWMutex
)

func init() {
	if err := RegisterModule(Module{Key: ZeroKey, Policy: Zero{}}); err != nil {
		panic(err)
	}
	if err := RegisterModule(Module{Key: StandardKey, Policy: DefaultStandard}); err != nil {
		panic(err)
	}
}

// RegisterModule registers a fee policy under a unique key
func RegisterModule(m Module) error {
	if m.Key == "" {
		return errors.New("fee policy key cannot be empty")
	}
	if m.Policy == nil {
		return fmt.Errorf("fee policy %q is nil", m.Key)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	for _, registered := range registeredModules {
		if registered.Key == m.Key {
			return fmt.Errorf("key %s already used by a fee policy", m.Key)
		}
	}
	registeredModules = insertSortedByKey(registeredModules, m)
	return nil
}

// Get returns the policy registered under key.
func Get(key string) (Policy, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, m := range registeredModules {
		if m.Key == key {
			return m.Policy, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, key)
}

// RegisteredModules returns a copy of the registry in key order.
func RegisteredModules() []Module {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Module, len(registeredModules))
	copy(out, registeredModules)
	return out
}

func insertSortedByKey(data []Module, m Module) []Module {
	data = append(data, m)
	sort.Sort(moduleArray(data))
	return data
}

type moduleArray []Module

func (u moduleArray) Len() int           { return len(u) }
func (u moduleArray) Swap(i, j int)      { u[i], u[j] = u[j], u[i] }
func (u moduleArray) Less(i, j int) bool { return u[i].Key < u[j].Key }
