// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package message defines the cross-domain wire format. Every message is a
// one-byte kind tag followed by the RLP encoding of that kind's field tuple.
package message

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/rlp"

	"github.com/luxfi/omnipool/pool"
)

// Kind discriminates the message tuple that follows the tag byte.
type Kind uint8

const (
	KindSwap           Kind = 1
	KindCredit         Kind = 2
	KindRedeemCheck    Kind = 3
	KindRedeemCallback Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindSwap:
		return "swap"
	case KindCredit:
		return "credit"
	case KindRedeemCheck:
		return "redeem_check"
	case KindRedeemCallback:
		return "redeem_callback"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	ErrUnsupportedMessageKind = errors.New("unsupported message kind")
	ErrEmptyMessage           = errors.New("empty message")
	ErrMalformedMessage       = errors.New("malformed message")
)

// Message is implemented by every wire message. Each message travels on the
// path from SrcPoolID to DstPoolID and carries that path's credit record.
type Message interface {
	Kind() Kind
	Route() (srcPoolID, dstPoolID uint64)
	CreditRecord() pool.CreditRecord
}

// Swap delivers a priced transfer.
type Swap struct {
	SrcPoolID uint64
	DstPoolID uint64
	Credit    pool.CreditRecord
	Quote     pool.TransferQuote
	To        common.Address
	Payload   []byte
}

// Credit synchronizes a path's credit record and nothing else.
type Credit struct {
	SrcPoolID uint64
	DstPoolID uint64
	Credit    pool.CreditRecord
}

// RedeemCheck asks the remote side how much of AmountSD it can give up.
type RedeemCheck struct {
	SrcPoolID uint64
	DstPoolID uint64
	Credit    pool.CreditRecord
	AmountSD  *big.Int
	To        common.Address
}

// RedeemCallback answers a RedeemCheck.
type RedeemCallback struct {
	SrcPoolID  uint64
	DstPoolID  uint64
	Credit     pool.CreditRecord
	SwapAmount *big.Int
	MintAmount *big.Int
	To         common.Address
}

func (*Swap) Kind() Kind           { return KindSwap }
func (*Credit) Kind() Kind         { return KindCredit }
func (*RedeemCheck) Kind() Kind    { return KindRedeemCheck }
func (*RedeemCallback) Kind() Kind { return KindRedeemCallback }

func (m *Swap) Route() (uint64, uint64)           { return m.SrcPoolID, m.DstPoolID }
func (m *Credit) Route() (uint64, uint64)         { return m.SrcPoolID, m.DstPoolID }
func (m *RedeemCheck) Route() (uint64, uint64)    { return m.SrcPoolID, m.DstPoolID }
func (m *RedeemCallback) Route() (uint64, uint64) { return m.SrcPoolID, m.DstPoolID }

func (m *Swap) CreditRecord() pool.CreditRecord           { return m.Credit }
func (m *Credit) CreditRecord() pool.CreditRecord         { return m.Credit }
func (m *RedeemCheck) CreditRecord() pool.CreditRecord    { return m.Credit }
func (m *RedeemCallback) CreditRecord() pool.CreditRecord { return m.Credit }

// Encode serializes m as its tag byte followed by the RLP tuple.
func Encode(m Message) ([]byte, error) {
	body, err := rlp.EncodeToBytes(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Kind(), err)
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(m.Kind()))
	return append(out, body...), nil
}

// Decode parses a tagged message.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrEmptyMessage
	}
	var m Message
	switch Kind(b[0]) {
	case KindSwap:
		m = new(Swap)
	case KindCredit:
		m = new(Credit)
	case KindRedeemCheck:
		m = new(RedeemCheck)
	case KindRedeemCallback:
		m = new(RedeemCallback)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMessageKind, b[0])
	}
	if err := rlp.DecodeBytes(b[1:], m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, Kind(b[0]), err)
	}
	return m, nil
}

// Placeholder builds a message of the given kind with every numeric field at
// its widest encoding, for transport fee estimation. A real message with the
// same recipient and payload never encodes longer.
func Placeholder(kind Kind, to common.Address, payload []byte) (Message, error) {
	credit := pool.CreditRecord{Credits: maxWord(), IdealBalance: maxWord()}
	switch kind {
	case KindSwap:
		q := pool.TransferQuote{
			Amount:      maxWord(),
			EqFee:       maxWord(),
			EqReward:    maxWord(),
			LPFee:       maxWord(),
			ProtocolFee: maxWord(),
			LockedDelta: maxWord(),
		}
		return &Swap{SrcPoolID: math.MaxUint64, DstPoolID: math.MaxUint64, Credit: credit, Quote: q, To: to, Payload: payload}, nil
	case KindCredit:
		return &Credit{SrcPoolID: math.MaxUint64, DstPoolID: math.MaxUint64, Credit: credit}, nil
	case KindRedeemCheck:
		return &RedeemCheck{SrcPoolID: math.MaxUint64, DstPoolID: math.MaxUint64, Credit: credit, AmountSD: maxWord(), To: to}, nil
	case KindRedeemCallback:
		return &RedeemCallback{
			SrcPoolID:  math.MaxUint64,
			DstPoolID:  math.MaxUint64,
			Credit:     credit,
			SwapAmount: maxWord(),
			MintAmount: maxWord(),
			To:         to,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMessageKind, kind)
	}
}

// maxWord is 2^256 - 1, the largest amount the asset ledger can hold.
func maxWord() *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), 256)
	return v.Sub(v, big.NewInt(1))
}
