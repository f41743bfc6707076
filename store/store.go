// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store persists the recovery records of the settlement coordinator:
// pending retries for remote steps that failed and cached deliveries for
// recipient notifications that failed. Records are keyed by the inbound
// message's (domain, counterparty, nonce) and are consumed at most once; a
// consumed record leaves a tombstone so a second read is distinguishable from
// a key that never existed.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/rlp"
	"github.com/zeebo/blake3"
)

var (
	ErrNoPendingRetry   = errors.New("no pending retry")
	ErrNoCachedDelivery = errors.New("no cached delivery")
	ErrAlreadyConsumed  = errors.New("already consumed")
	ErrCacheCleared     = fmt.Errorf("cache already cleared: %w", ErrAlreadyConsumed)
	ErrRecordExists     = errors.New("record already exists")
	ErrInvalidMark      = errors.New("invalid journal mark")
)

const (
	retryPrefix byte = 'r'
	cachePrefix byte = 'c'
)

const (
	statusLive     uint8 = 1
	statusConsumed uint8 = 2
)

// Key identifies the inbound message a record was created for.
type Key struct {
	Domain       uint32
	Counterparty common.Address
	Nonce        uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%d", k.Domain, k.Counterparty.Hex(), k.Nonce)
}

// dbKey returns prefix || blake3(domain || counterparty || nonce).
func (k Key) dbKey(prefix byte) []byte {
	var buf [4 + common.AddressLength + 8]byte
	binary.BigEndian.PutUint32(buf[:4], k.Domain)
	copy(buf[4:], k.Counterparty[:])
	binary.BigEndian.PutUint64(buf[4+common.AddressLength:], k.Nonce)

	h := blake3.New()
	_, _ = h.Write(buf[:])
	return h.Sum([]byte{prefix})
}

// RetryKind tags a PendingRetry.
type RetryKind uint8

const (
	// SwapRetry replays the inbound side of a transfer.
	SwapRetry RetryKind = 1
	// RedeemCheckFailed records a redeem check the remote side could not run.
	// It is resolved by sending a compensating callback, not by replay.
	RedeemCheckFailed RetryKind = 2
	// RedeemCallbackRetry replays a redeem callback on the origin.
	RedeemCallbackRetry RetryKind = 3
)

func (k RetryKind) String() string {
	switch k {
	case SwapRetry:
		return "swap_retry"
	case RedeemCheckFailed:
		return "redeem_check_failed"
	case RedeemCallbackRetry:
		return "redeem_callback_retry"
	default:
		return fmt.Sprintf("retry_kind(%d)", uint8(k))
	}
}

// PendingRetry holds the encoded message whose remote step failed.
type PendingRetry struct {
	Key     Key
	Kind    RetryKind
	Message []byte
}

// CachedDelivery holds funds already released to To whose notification failed.
type CachedDelivery struct {
	Key      Key
	Token    common.Address
	AmountLD *big.Int
	To       common.Address
	Payload  []byte
}

type retryRecord struct {
	Status  uint8
	Key     Key
	Kind    uint8
	Message []byte
}

type cacheRecord struct {
	Status   uint8
	Key      Key
	Token    common.Address
	AmountLD *big.Int
	To       common.Address
	Payload  []byte
}

// undo restores a raw db key to its previous value; nil means absent.
type undo struct {
	key  []byte
	prev []byte
}

// Store keeps recovery records in a database. It is not safe for concurrent
// use; the owning domain serializes access.
type Store struct {
	db      database.Database
	journal []undo
}

// New wraps db.
func New(db database.Database) *Store {
	return &Store{db: db}
}

// PutRetry persists a live pending retry. An existing live record under the
// same key is an error; a tombstone is overwritten.
func (s *Store) PutRetry(r *PendingRetry) error {
	key := r.Key.dbKey(retryPrefix)
	var existing retryRecord
	found, err := s.load(key, &existing)
	if err != nil {
		return err
	}
	if found && existing.Status == statusLive {
		return fmt.Errorf("%w: retry %s", ErrRecordExists, r.Key)
	}
	return s.save(key, &retryRecord{
		Status:  statusLive,
		Key:     r.Key,
		Kind:    uint8(r.Kind),
		Message: r.Message,
	})
}

// Retry returns the live pending retry under k.
func (s *Store) Retry(k Key) (*PendingRetry, error) {
	var rec retryRecord
	found, err := s.load(k.dbKey(retryPrefix), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoPendingRetry, k)
	}
	if rec.Status != statusLive {
		return nil, fmt.Errorf("%w: retry %s", ErrAlreadyConsumed, k)
	}
	return &PendingRetry{Key: rec.Key, Kind: RetryKind(rec.Kind), Message: rec.Message}, nil
}

// ConsumeRetry returns the live pending retry under k and tombstones it.
func (s *Store) ConsumeRetry(k Key) (*PendingRetry, error) {
	r, err := s.Retry(k)
	if err != nil {
		return nil, err
	}
	err = s.save(k.dbKey(retryPrefix), &retryRecord{
		Status:  statusConsumed,
		Key:     r.Key,
		Kind:    uint8(r.Kind),
		Message: r.Message,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// PutCached persists a live cached delivery.
func (s *Store) PutCached(c *CachedDelivery) error {
	key := c.Key.dbKey(cachePrefix)
	var existing cacheRecord
	found, err := s.load(key, &existing)
	if err != nil {
		return err
	}
	if found && existing.Status == statusLive {
		return fmt.Errorf("%w: cache %s", ErrRecordExists, c.Key)
	}
	return s.save(key, &cacheRecord{
		Status:   statusLive,
		Key:      c.Key,
		Token:    c.Token,
		AmountLD: c.AmountLD,
		To:       c.To,
		Payload:  c.Payload,
	})
}

// Cached returns the live cached delivery under k.
func (s *Store) Cached(k Key) (*CachedDelivery, error) {
	var rec cacheRecord
	found, err := s.load(k.dbKey(cachePrefix), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoCachedDelivery, k)
	}
	if rec.Status != statusLive {
		return nil, fmt.Errorf("%w: %s", ErrCacheCleared, k)
	}
	return &CachedDelivery{
		Key:      rec.Key,
		Token:    rec.Token,
		AmountLD: rec.AmountLD,
		To:       rec.To,
		Payload:  rec.Payload,
	}, nil
}

// ConsumeCached returns the live cached delivery under k and tombstones it.
func (s *Store) ConsumeCached(k Key) (*CachedDelivery, error) {
	c, err := s.Cached(k)
	if err != nil {
		return nil, err
	}
	err = s.save(k.dbKey(cachePrefix), &cacheRecord{
		Status:   statusConsumed,
		Key:      c.Key,
		Token:    c.Token,
		AmountLD: c.AmountLD,
		To:       c.To,
		Payload:  c.Payload,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LiveRetries lists the keys of every live pending retry.
func (s *Store) LiveRetries() ([]Key, error) {
	var keys []Key
	err := s.scan(retryPrefix, func(v []byte) error {
		var rec retryRecord
		if err := rlp.DecodeBytes(v, &rec); err != nil {
			return err
		}
		if rec.Status == statusLive {
			keys = append(keys, rec.Key)
		}
		return nil
	})
	return keys, err
}

// LiveCached lists the keys of every live cached delivery.
func (s *Store) LiveCached() ([]Key, error) {
	var keys []Key
	err := s.scan(cachePrefix, func(v []byte) error {
		var rec cacheRecord
		if err := rlp.DecodeBytes(v, &rec); err != nil {
			return err
		}
		if rec.Status == statusLive {
			keys = append(keys, rec.Key)
		}
		return nil
	})
	return keys, err
}

// Mark returns a journal position to revert to.
func (s *Store) Mark() int {
	return len(s.journal)
}

// Revert undoes every write made since mark.
func (s *Store) Revert(mark int) error {
	if mark < 0 || mark > len(s.journal) {
		return ErrInvalidMark
	}
	for i := len(s.journal) - 1; i >= mark; i-- {
		u := s.journal[i]
		var err error
		if u.prev == nil {
			err = s.db.Delete(u.key)
		} else {
			err = s.db.Put(u.key, u.prev)
		}
		if err != nil {
			return err
		}
	}
	s.journal = s.journal[:mark]
	return nil
}

// Commit drops the journal.
func (s *Store) Commit() {
	s.journal = s.journal[:0]
}

func (s *Store) load(key []byte, out interface{}) (bool, error) {
	v, err := s.db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(v, out); err != nil {
		return false, fmt.Errorf("decoding record: %w", err)
	}
	return true, nil
}

func (s *Store) save(key []byte, rec interface{}) error {
	v, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return err
	}
	prev, err := s.db.Get(key)
	switch {
	case errors.Is(err, database.ErrNotFound):
		prev = nil
	case err != nil:
		return err
	}
	if err := s.db.Put(key, v); err != nil {
		return err
	}
	s.journal = append(s.journal, undo{key: key, prev: prev})
	return nil
}

func (s *Store) scan(prefix byte, fn func(v []byte) error) error {
	it := s.db.NewIteratorWithPrefix([]byte{prefix})
	defer it.Release()
	for it.Next() {
		if err := fn(it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}
