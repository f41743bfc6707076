// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport is an in-memory message transport between domains. Each
// ordered (source, destination) pair is a lane with its own nonce sequence;
// packets on a lane are delivered strictly in nonce order, and a packet whose
// delivery fails stays at the head of its lane until it is delivered.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	log "github.com/luxfi/log"
	"github.com/zeebo/blake3"
)

var (
	ErrUnknownDomain    = errors.New("unknown domain")
	ErrDomainRegistered = errors.New("domain already registered")
	ErrLaneBusy         = errors.New("lane delivery in progress")
	ErrEmptyPayload     = errors.New("empty payload")
)

// Packet is one message on a lane.
type Packet struct {
	ID        ids.ID
	SrcDomain uint32
	DstDomain uint32
	Sender    common.Address
	Nonce     uint64
	Payload   []byte
}

// Endpoint receives packets addressed to its domain.
type Endpoint interface {
	Receive(ctx context.Context, p Packet) error
}

// FeeSchedule prices a send as Base + PerByte * len(payload).
type FeeSchedule struct {
	Base    *big.Int `json:"base" yaml:"base"`
	PerByte *big.Int `json:"perByte" yaml:"per_byte"`
}

// DefaultFeeSchedule returns a schedule that charges nothing.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{Base: big.NewInt(0), PerByte: big.NewInt(0)}
}

type lane struct {
	src, dst uint32
}

type laneState struct {
	nextNonce uint64
	queue     []Packet
	inflight  bool
}

// Hub connects the endpoints of every registered domain.
type Hub struct {
	fees      FeeSchedule
	endpoints map[uint32]Endpoint
	lanes     map[lane]*laneState
	log       log.Logger

	mu sync.Mutex
}

// NewHub creates a hub with the given fee schedule.
func NewHub(fees FeeSchedule, logger log.Logger) *Hub {
	if fees.Base == nil {
		fees.Base = big.NewInt(0)
	}
	if fees.PerByte == nil {
		fees.PerByte = big.NewInt(0)
	}
	if logger == nil {
		logger = log.Root()
	}
	return &Hub{
		fees:      fees,
		endpoints: make(map[uint32]Endpoint),
		lanes:     make(map[lane]*laneState),
		log:       logger,
	}
}

// Register attaches the endpoint for domain.
func (h *Hub) Register(domain uint32, ep Endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.endpoints[domain]; ok {
		return fmt.Errorf("%w: %d", ErrDomainRegistered, domain)
	}
	h.endpoints[domain] = ep
	return nil
}

// EstimateFee returns the native fee for sending payload to dst.
func (h *Hub) EstimateFee(dst uint32, payload []byte) (*big.Int, error) {
	h.mu.Lock()
	_, ok := h.endpoints[dst]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDomain, dst)
	}
	fee := new(big.Int).Mul(h.fees.PerByte, big.NewInt(int64(len(payload))))
	return fee.Add(fee, h.fees.Base), nil
}

// Send enqueues payload on the (src, dst) lane and returns the packet with its
// assigned nonce. Nonces start at 1.
func (h *Hub) Send(src, dst uint32, sender common.Address, payload []byte) (Packet, error) {
	if len(payload) == 0 {
		return Packet{}, ErrEmptyPayload
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.endpoints[dst]; !ok {
		return Packet{}, fmt.Errorf("%w: %d", ErrUnknownDomain, dst)
	}
	l := h.lane(src, dst)
	l.nextNonce++
	p := Packet{
		SrcDomain: src,
		DstDomain: dst,
		Sender:    sender,
		Nonce:     l.nextNonce,
		Payload:   append([]byte(nil), payload...),
	}
	p.ID = packetID(p)
	l.queue = append(l.queue, p)

	h.log.Debug("packet queued",
		"id", p.ID,
		"src", src,
		"dst", dst,
		"nonce", p.Nonce,
		"size", len(payload),
	)
	return p, nil
}

// Pending returns the number of undelivered packets on the lane.
func (h *Hub) Pending(src, dst uint32) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if l, ok := h.lanes[lane{src, dst}]; ok {
		return len(l.queue)
	}
	return 0
}

// DeliverNext delivers the head packet of the lane. It reports false when the
// lane is empty. The packet stays queued if the endpoint returns an error.
func (h *Hub) DeliverNext(ctx context.Context, src, dst uint32) (bool, error) {
	h.mu.Lock()
	l, ok := h.lanes[lane{src, dst}]
	if !ok || len(l.queue) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	if l.inflight {
		h.mu.Unlock()
		return false, ErrLaneBusy
	}
	ep, ok := h.endpoints[dst]
	if !ok {
		h.mu.Unlock()
		return false, fmt.Errorf("%w: %d", ErrUnknownDomain, dst)
	}
	p := l.queue[0]
	l.inflight = true
	h.mu.Unlock()

	err := ep.Receive(ctx, p)

	h.mu.Lock()
	defer h.mu.Unlock()
	l.inflight = false
	if err != nil {
		return false, fmt.Errorf("delivering %d->%d nonce %d: %w", src, dst, p.Nonce, err)
	}
	l.queue = l.queue[1:]
	return true, nil
}

// Flush delivers until every lane is empty, including packets enqueued by the
// deliveries themselves. Lanes are visited in (src, dst) order. It returns the
// number of packets delivered.
func (h *Hub) Flush(ctx context.Context) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		progressed := false
		for _, ln := range h.laneKeys() {
			ok, err := h.DeliverNext(ctx, ln.src, ln.dst)
			if err != nil {
				return delivered, err
			}
			if ok {
				delivered++
				progressed = true
			}
		}
		if !progressed {
			return delivered, nil
		}
	}
}

func (h *Hub) laneKeys() []lane {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]lane, 0, len(h.lanes))
	for k := range h.lanes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].src != keys[j].src {
			return keys[i].src < keys[j].src
		}
		return keys[i].dst < keys[j].dst
	})
	return keys
}

func (h *Hub) lane(src, dst uint32) *laneState {
	k := lane{src, dst}
	l, ok := h.lanes[k]
	if !ok {
		l = &laneState{}
		h.lanes[k] = l
	}
	return l
}

func packetID(p Packet) ids.ID {
	var hdr [4 + 4 + 8]byte
	binary.BigEndian.PutUint32(hdr[0:4], p.SrcDomain)
	binary.BigEndian.PutUint32(hdr[4:8], p.DstDomain)
	binary.BigEndian.PutUint64(hdr[8:16], p.Nonce)

	h := blake3.New()
	_, _ = h.Write(hdr[:])
	_, _ = h.Write(p.Sender[:])
	_, _ = h.Write(p.Payload)
	var id ids.ID
	copy(id[:], h.Sum(nil))
	return id
}
