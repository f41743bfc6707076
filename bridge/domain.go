// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bridge is the settlement coordinator of one domain. It owns the
// domain's pools, asset ledger and recovery store, turns user calls into
// local ledger effects plus outbound messages, and applies inbound messages
// from the transport. A remote step that fails is persisted as a pending
// retry; a recipient notification that fails is persisted as a cached
// delivery. Both can be replayed by anyone.
package bridge

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/omnipool/asset"
	"github.com/luxfi/omnipool/message"
	"github.com/luxfi/omnipool/pool"
	"github.com/luxfi/omnipool/store"
)

// Deps are the collaborators of a Domain. Nil DB, Registerer and Log get
// in-memory or default values; Transport is required.
type Deps struct {
	Transport  Transport
	DB         database.Database
	Registerer prometheus.Registerer
	Log        log.Logger
}

type outbound struct {
	dst     uint32
	kind    message.Kind
	payload []byte
}

// Domain is the coordinator for one domain.
type Domain struct {
	id     uint32
	router common.Address
	cfg    Config

	assets    *asset.Ledger
	store     *store.Store
	transport Transport

	pools     map[uint64]*pool.Pool
	peers     map[uint32]common.Address
	receivers map[common.Address]Receiver
	roles     map[Role]map[common.Address]bool

	outbox []outbound
	// held are committed messages the transport refused, resent in order
	// after the next successful call.
	held []outbound

	metrics *Metrics
	log     log.Logger

	// locked guards every state-changing entry point
	locked bool
	mu     sync.Mutex

	// state is held for writing by the running call, except while a
	// Receiver runs, and for reading by queries.
	state sync.RWMutex
}

// New creates a domain coordinator with cfg.Admin holding RoleAdmin and
// RoleFeeCollector.
func New(cfg Config, deps Deps) (*Domain, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("%w: transport required", ErrInvalidConfig)
	}
	if deps.DB == nil {
		deps.DB = memdb.New()
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	if deps.Log == nil {
		deps.Log = log.Root()
	}

	d := &Domain{
		id:        cfg.DomainID,
		router:    cfg.Router,
		cfg:       cfg,
		assets:    asset.NewLedger(),
		store:     store.New(deps.DB),
		transport: deps.Transport,
		pools:     make(map[uint64]*pool.Pool),
		peers:     make(map[uint32]common.Address),
		receivers: make(map[common.Address]Receiver),
		roles: map[Role]map[common.Address]bool{
			RoleAdmin:        {cfg.Admin: true},
			RoleFeeCollector: {cfg.Admin: true},
		},
		metrics: NewMetrics(deps.Registerer, cfg.DomainID),
		log:     deps.Log,
	}
	return d, nil
}

func (d *Domain) ID() uint32             { return d.id }
func (d *Domain) Router() common.Address { return d.router }

// Assets exposes the domain's asset ledger. Receivers use it to move funds
// they were sent; tests use it to mint balances.
func (d *Domain) Assets() *asset.Ledger { return d.assets }

// Pool returns a copy of the pool for inspection.
func (d *Domain) Pool(id uint64) (*pool.Pool, error) {
	d.state.RLock()
	defer d.state.RUnlock()

	p, err := d.pool(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// PoolIDs lists the domain's pools in ascending order.
func (d *Domain) PoolIDs() []uint64 {
	d.state.RLock()
	defer d.state.RUnlock()

	out := make([]uint64, 0, len(d.pools))
	for id := range d.pools {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PendingRetry returns the live retry stored for an inbound message.
func (d *Domain) PendingRetry(k store.Key) (*store.PendingRetry, error) {
	d.state.RLock()
	defer d.state.RUnlock()
	return d.store.Retry(k)
}

// CachedDelivery returns the live cached delivery for an inbound message.
func (d *Domain) CachedDelivery(k store.Key) (*store.CachedDelivery, error) {
	d.state.RLock()
	defer d.state.RUnlock()
	return d.store.Cached(k)
}

// LiveRetries lists the keys of every unreplayed pending retry.
func (d *Domain) LiveRetries() ([]store.Key, error) {
	d.state.RLock()
	defer d.state.RUnlock()
	return d.store.LiveRetries()
}

// LiveCached lists the keys of every unclaimed cached delivery.
func (d *Domain) LiveCached() ([]store.Key, error) {
	d.state.RLock()
	defer d.state.RUnlock()
	return d.store.LiveCached()
}

// Held returns the number of committed messages waiting to be resent.
func (d *Domain) Held() int {
	d.state.RLock()
	defer d.state.RUnlock()
	return len(d.held)
}

// RegisterReceiver installs the notification hook for transfers to addr.
func (d *Domain) RegisterReceiver(addr common.Address, r Receiver) error {
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.receivers[addr]; ok {
		return fmt.Errorf("%w: %s", ErrReceiverExists, addr.Hex())
	}
	d.receivers[addr] = r
	return nil
}

// CustodyAddress derives the address holding a pool's assets.
func CustodyAddress(router common.Address, poolID uint64) common.Address {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], poolID)
	return common.BytesToAddress(crypto.Keccak256(router.Bytes(), id[:])[12:])
}

func (d *Domain) pool(id uint64) (*pool.Pool, error) {
	p, ok := d.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	return p, nil
}

// send encodes msg and queues it for dst. The transport sees it only if the
// surrounding call succeeds. A gated send fails unless nativeFee covers the
// transport estimate; a nil nativeFee counts as zero.
func (d *Domain) send(dst uint32, msg message.Message, nativeFee *big.Int, gated bool) error {
	if dst == d.id {
		return ErrSameDomain
	}
	payload, err := message.Encode(msg)
	if err != nil {
		return err
	}
	fee, err := d.transport.EstimateFee(dst, payload)
	if err != nil {
		return err
	}
	if have := orZero(nativeFee); gated && have.Cmp(fee) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientNativeFee, have, fee)
	}
	d.outbox = append(d.outbox, outbound{dst: dst, kind: msg.Kind(), payload: payload})
	return nil
}

// payout moves amountLD of the pool's token from custody to to.
func (d *Domain) payout(p *pool.Pool, to common.Address, amountLD *big.Int) error {
	if amountLD.Sign() == 0 {
		return nil
	}
	amt, err := toUint256(amountLD)
	if err != nil {
		return err
	}
	return d.assets.Transfer(p.Token(), p.Custody(), to, amt)
}

// collect pulls amountLD of the pool's token from from into custody, spending
// from's allowance to the router.
func (d *Domain) collect(p *pool.Pool, from common.Address, amountLD *big.Int) error {
	amt, err := toUint256(amountLD)
	if err != nil {
		return err
	}
	return d.assets.TransferFrom(p.Token(), d.router, from, p.Custody(), amt)
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", ErrZeroAmount, v)
	}
	amt, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("amount %s overflows 256 bits", v)
	}
	return amt, nil
}
