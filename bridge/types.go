// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/omnipool/transport"
)

// Role is a capability held by an address.
type Role uint8

const (
	// RoleAdmin may create pools and paths, change pool parameters and
	// grant or revoke roles.
	RoleAdmin Role = iota + 1
	// RoleFeeCollector may withdraw protocol and mint fees.
	RoleFeeCollector
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleFeeCollector:
		return "fee_collector"
	default:
		return "unknown"
	}
}

// Transport is the outbound side of the message transport. Send is called
// only after the call that queued the message has committed. Send should not
// fail for a destination EstimateFee accepted; if it does, the domain holds
// the message and resends it after its next successful call.
type Transport interface {
	Send(src, dst uint32, sender common.Address, payload []byte) (transport.Packet, error)
	EstimateFee(dst uint32, payload []byte) (*big.Int, error)
}

// Delivery is handed to a Receiver after its funds were released.
type Delivery struct {
	SrcDomain uint32
	Nonce     uint64
	Token     common.Address
	AmountLD  *big.Int
	Payload   []byte
}

// Receiver is notified of transfers that carry a payload. A Receiver runs
// inside the domain's call; re-entering the domain fails with ErrReentrant.
type Receiver interface {
	OnReceive(ctx context.Context, d Delivery) error
}

// SwapRequest is a transfer to a remote pool.
type SwapRequest struct {
	From        common.Address
	DstDomain   uint32
	SrcPoolID   uint64
	DstPoolID   uint64
	AmountLD    *big.Int
	MinAmountLD *big.Int
	To          common.Address
	Payload     []byte
	NativeFee   *big.Int
}

// RedeemRemoteRequest burns shares and delivers their value on a remote pool.
type RedeemRemoteRequest struct {
	From        common.Address
	DstDomain   uint32
	SrcPoolID   uint64
	DstPoolID   uint64
	Shares      *big.Int
	MinAmountLD *big.Int
	To          common.Address
	NativeFee   *big.Int
}

// RedeemLocalRequest burns shares and pays them out locally once the remote
// pool has released its claim.
type RedeemLocalRequest struct {
	From      common.Address
	DstDomain uint32
	SrcPoolID uint64
	DstPoolID uint64
	Shares    *big.Int
	To        common.Address
	NativeFee *big.Int
}

// PoolConfig describes a pool to create.
type PoolConfig struct {
	ID             uint64         `json:"id" yaml:"id"`
	Token          common.Address `json:"token" yaml:"token"`
	SharedDecimals uint8          `json:"sharedDecimals" yaml:"shared_decimals"`
	LocalDecimals  uint8          `json:"localDecimals" yaml:"local_decimals"`
	FeePolicy      string         `json:"feePolicy" yaml:"fee_policy"`
}

// Validation errors
var (
	ErrPoolExists       = errors.New("pool already exists")
	ErrPoolNotFound     = errors.New("pool not found")
	ErrZeroAmount       = errors.New("zero amount")
	ErrZeroAddress      = errors.New("zero address")
	ErrWrongDomain      = errors.New("packet addressed to another domain")
	ErrUntrustedSender  = errors.New("packet from untrusted router")
	ErrInvalidRetryKind = errors.New("retry kind not valid for this operation")
	ErrSameDomain       = errors.New("destination is the local domain")
	ErrReceiverExists   = errors.New("receiver already registered")
)

// Authorization and guard errors
var (
	ErrUnauthorized = errors.New("caller lacks role")
	ErrReentrant    = errors.New("reentrant call")
)

// Delivery errors
var (
	ErrInsufficientNativeFee = errors.New("native fee below transport estimate")
	ErrNoReceiver            = errors.New("no receiver registered for recipient")
)
