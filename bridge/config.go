// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"errors"
	"fmt"
	"os"

	"github.com/luxfi/geth/common"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/omnipool/feelib"
	"github.com/luxfi/omnipool/pool"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

// Config configures one domain's coordinator.
type Config struct {
	DomainID uint32         `json:"domainID" yaml:"domain_id"`
	Router   common.Address `json:"router" yaml:"router"`
	Admin    common.Address `json:"admin" yaml:"admin"`

	// Defaults applied to every pool created on this domain.
	FeePolicy string           `json:"feePolicy" yaml:"fee_policy"`
	MintFeeBP uint64           `json:"mintFeeBP" yaml:"mint_fee_bp"`
	Delta     pool.DeltaParams `json:"delta" yaml:"delta"`
}

// DefaultConfig returns a config with unbatched rebalancing and no fees.
func DefaultConfig() Config {
	return Config{
		FeePolicy: feelib.ZeroKey,
		Delta: pool.DeltaParams{
			Batched:         false,
			SwapDeltaBP:     500,
			LPDeltaBP:       500,
			DefaultSwapMode: false,
			DefaultLPMode:   false,
		},
	}
}

// Verify checks c is usable.
func (c Config) Verify() error {
	if c.DomainID == 0 {
		return fmt.Errorf("%w: domain id must be non-zero", ErrInvalidConfig)
	}
	if c.Router == (common.Address{}) {
		return fmt.Errorf("%w: router address required", ErrInvalidConfig)
	}
	if c.Admin == (common.Address{}) {
		return fmt.Errorf("%w: admin address required", ErrInvalidConfig)
	}
	if c.MintFeeBP > pool.BPDenominator {
		return fmt.Errorf("%w: mint fee %d bp", ErrInvalidConfig, c.MintFeeBP)
	}
	if c.Delta.SwapDeltaBP > pool.BPDenominator || c.Delta.LPDeltaBP > pool.BPDenominator {
		return fmt.Errorf("%w: delta threshold above %d bp", ErrInvalidConfig, pool.BPDenominator)
	}
	if c.FeePolicy != "" {
		if _, err := feelib.Get(c.FeePolicy); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// LoadConfig reads a YAML config file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing config: %w", err)
	}
	return c, c.Verify()
}
