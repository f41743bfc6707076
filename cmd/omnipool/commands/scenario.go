// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/omnipool/bridge"
	"github.com/luxfi/omnipool/message"
	"github.com/luxfi/omnipool/pool"
	"github.com/luxfi/omnipool/transport"
)

var (
	errUnknownOp      = errors.New("unknown step op")
	errUnknownAccount = errors.New("unknown account")
	errUnknownDomain  = errors.New("unknown domain")
)

// Scenario is a YAML description of a set of connected domains and the
// operations to run against them.
type Scenario struct {
	Fees     FeeConfig                 `yaml:"fees"`
	Accounts map[string]common.Address `yaml:"accounts"`
	Domains  []DomainSpec              `yaml:"domains"`
	Paths    []PathSpec                `yaml:"paths"`
	Steps    []Step                    `yaml:"steps"`
}

// FeeConfig prices transport sends in native units.
type FeeConfig struct {
	Base    int64 `yaml:"base"`
	PerByte int64 `yaml:"per_byte"`
}

// DomainSpec is one domain and the pools it hosts.
type DomainSpec struct {
	Config bridge.Config       `yaml:"config"`
	Pools  []bridge.PoolConfig `yaml:"pools"`
}

// PathSpec connects a pool to a remote pool in both directions.
type PathSpec struct {
	Domain    uint32 `yaml:"domain"`
	Pool      uint64 `yaml:"pool"`
	DstDomain uint32 `yaml:"dst_domain"`
	DstPool   uint64 `yaml:"dst_pool"`
	Weight    uint64 `yaml:"weight"`
	Inactive  bool   `yaml:"inactive"`
}

// Step is one operation. Amounts are decimal strings in whole token units;
// Shares are raw share amounts.
type Step struct {
	Op        string `yaml:"op"`
	Domain    uint32 `yaml:"domain"`
	Pool      uint64 `yaml:"pool"`
	DstDomain uint32 `yaml:"dst_domain"`
	DstPool   uint64 `yaml:"dst_pool"`
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Amount    string `yaml:"amount"`
	MinAmount string `yaml:"min_amount"`
	Shares    string `yaml:"shares"`
	Payload   string `yaml:"payload"`
	FullMode  bool   `yaml:"full_mode"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if len(s.Domains) == 0 {
		return nil, errors.New("scenario has no domains")
	}
	return &s, nil
}

// world is a running scenario.
type world struct {
	scenario *Scenario
	hub      *transport.Hub
	domains  map[uint32]*bridge.Domain
	decimals map[uint32]map[uint64]int32
	tokens   map[uint32]map[uint64]common.Address
	log      log.Logger
}

func newWorld(s *Scenario, logger log.Logger) (*world, error) {
	hub := transport.NewHub(transport.FeeSchedule{
		Base:    big.NewInt(s.Fees.Base),
		PerByte: big.NewInt(s.Fees.PerByte),
	}, logger)
	w := &world{
		scenario: s,
		hub:      hub,
		domains:  make(map[uint32]*bridge.Domain),
		decimals: make(map[uint32]map[uint64]int32),
		tokens:   make(map[uint32]map[uint64]common.Address),
		log:      logger,
	}
	reg := prometheus.NewRegistry()
	for _, spec := range s.Domains {
		cfg := bridge.DefaultConfig()
		if err := mergeConfig(&cfg, spec.Config); err != nil {
			return nil, err
		}
		d, err := bridge.New(cfg, bridge.Deps{Transport: hub, Registerer: reg, Log: logger})
		if err != nil {
			return nil, fmt.Errorf("domain %d: %w", cfg.DomainID, err)
		}
		if err := hub.Register(cfg.DomainID, d); err != nil {
			return nil, err
		}
		w.domains[cfg.DomainID] = d
		w.decimals[cfg.DomainID] = make(map[uint64]int32)
		w.tokens[cfg.DomainID] = make(map[uint64]common.Address)
		for _, pc := range spec.Pools {
			if err := d.CreatePool(cfg.Admin, pc); err != nil {
				return nil, fmt.Errorf("domain %d pool %d: %w", cfg.DomainID, pc.ID, err)
			}
			w.decimals[cfg.DomainID][pc.ID] = int32(pc.LocalDecimals)
			w.tokens[cfg.DomainID][pc.ID] = pc.Token
		}
	}
	for _, d := range w.domains {
		for _, peer := range w.domains {
			if peer.ID() == d.ID() {
				continue
			}
			if err := d.SetPeer(w.admin(d.ID()), peer.ID(), peer.Router()); err != nil {
				return nil, err
			}
		}
	}
	for _, ps := range s.Paths {
		if err := w.connect(ps); err != nil {
			return nil, fmt.Errorf("path %d/%d -> %d/%d: %w", ps.Domain, ps.Pool, ps.DstDomain, ps.DstPool, err)
		}
	}
	return w, nil
}

// mergeConfig overlays the non-zero fields of spec on the defaults.
func mergeConfig(cfg *bridge.Config, spec bridge.Config) error {
	cfg.DomainID = spec.DomainID
	cfg.Router = spec.Router
	cfg.Admin = spec.Admin
	if spec.FeePolicy != "" {
		cfg.FeePolicy = spec.FeePolicy
	}
	cfg.MintFeeBP = spec.MintFeeBP
	if spec.Delta != (pool.DeltaParams{}) {
		cfg.Delta = spec.Delta
	}
	return cfg.Verify()
}

func (w *world) admin(domain uint32) common.Address {
	for _, spec := range w.scenario.Domains {
		if spec.Config.DomainID == domain {
			return spec.Config.Admin
		}
	}
	return common.Address{}
}

func (w *world) connect(ps PathSpec) error {
	weight := ps.Weight
	if weight == 0 {
		weight = 1
	}
	for _, side := range [][4]uint64{
		{uint64(ps.Domain), ps.Pool, uint64(ps.DstDomain), ps.DstPool},
		{uint64(ps.DstDomain), ps.DstPool, uint64(ps.Domain), ps.Pool},
	} {
		local, localPool, remote, remotePool := uint32(side[0]), side[1], uint32(side[2]), side[3]
		d, err := w.domain(local)
		if err != nil {
			return err
		}
		if err := d.CreatePath(w.admin(local), localPool, remote, remotePool, weight); err != nil {
			return err
		}
		if !ps.Inactive {
			if err := d.ActivatePath(w.admin(local), localPool, remote, remotePool); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *world) domain(id uint32) (*bridge.Domain, error) {
	d, ok := w.domains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errUnknownDomain, id)
	}
	return d, nil
}

func (w *world) account(name string) (common.Address, error) {
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	addr, ok := w.scenario.Accounts[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %q", errUnknownAccount, name)
	}
	return addr, nil
}

// toLD converts a whole-token decimal string to local-decimal units,
// truncating anything below one local unit.
func (w *world) toLD(domain uint32, poolID uint64, amount string) (*big.Int, error) {
	if amount == "" {
		return new(big.Int), nil
	}
	v, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", amount, err)
	}
	return v.Shift(w.decimals[domain][poolID]).BigInt(), nil
}

func (w *world) fromLD(domain uint32, poolID uint64, v *big.Int) string {
	return decimal.NewFromBigInt(v, -w.decimals[domain][poolID]).String()
}

// run executes every step in order, writing a line per step to out.
func (w *world) run(ctx context.Context, out io.Writer) error {
	for i, step := range w.scenario.Steps {
		res, err := w.apply(ctx, step)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
		fmt.Fprintf(out, "%3d %-20s %s\n", i+1, step.Op, res)
	}
	return nil
}

func (w *world) apply(ctx context.Context, s Step) (string, error) {
	if s.Op == "flush" {
		n, err := w.hub.Flush(ctx)
		return fmt.Sprintf("delivered=%d", n), err
	}

	d, err := w.domain(s.Domain)
	if err != nil {
		return "", err
	}
	var from, to common.Address
	if s.From != "" {
		if from, err = w.account(s.From); err != nil {
			return "", err
		}
	}
	if s.To != "" {
		if to, err = w.account(s.To); err != nil {
			return "", err
		}
	}
	amountLD, err := w.toLD(s.Domain, s.Pool, s.Amount)
	if err != nil {
		return "", err
	}
	minLD, err := w.toLD(s.Domain, s.Pool, s.MinAmount)
	if err != nil {
		return "", err
	}
	shares, ok := new(big.Int).SetString(orDefault(s.Shares, "0"), 10)
	if !ok {
		return "", fmt.Errorf("shares %q: not an integer", s.Shares)
	}
	fee, err := w.nativeFee(d, s, to)
	if err != nil {
		return "", err
	}

	switch s.Op {
	case "mint":
		amt, overflow := uint256.FromBig(amountLD)
		if overflow {
			return "", fmt.Errorf("amount %s overflows", amountLD)
		}
		token := w.tokens[s.Domain][s.Pool]
		if err := d.Assets().Mint(token, to, amt); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s to %s", s.Amount, s.To), d.Assets().Approve(token, to, d.Router(), amt)

	case "deposit":
		got, err := d.Deposit(ctx, from, s.Pool, amountLD, orAddr(to, from))
		return fmt.Sprintf("shares=%s", got), err

	case "swap":
		q, err := d.Swap(ctx, bridge.SwapRequest{
			From:        from,
			DstDomain:   s.DstDomain,
			SrcPoolID:   s.Pool,
			DstPoolID:   s.DstPool,
			AmountLD:    amountLD,
			MinAmountLD: minLD,
			To:          orAddr(to, from),
			Payload:     []byte(s.Payload),
			NativeFee:   fee,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("deliveredSD=%s lpFee=%s protocolFee=%s eqFee=%s eqReward=%s",
			q.Delivered(), q.LPFee, q.ProtocolFee, q.EqFee, q.EqReward), nil

	case "redeem_remote":
		q, err := d.RedeemRemote(ctx, bridge.RedeemRemoteRequest{
			From:        from,
			DstDomain:   s.DstDomain,
			SrcPoolID:   s.Pool,
			DstPoolID:   s.DstPool,
			Shares:      shares,
			MinAmountLD: minLD,
			To:          orAddr(to, from),
			NativeFee:   fee,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("deliveredSD=%s", q.Delivered()), nil

	case "redeem_local":
		amountSD, err := d.RedeemLocal(ctx, bridge.RedeemLocalRequest{
			From:      from,
			DstDomain: s.DstDomain,
			SrcPoolID: s.Pool,
			DstPoolID: s.DstPool,
			Shares:    shares,
			To:        orAddr(to, from),
			NativeFee: fee,
		})
		return fmt.Sprintf("requestedSD=%s", amountSD), err

	case "instant_redeem":
		amt, burned, err := d.InstantRedeemLocal(ctx, from, s.Pool, shares, orAddr(to, from))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("amount=%s burned=%s", w.fromLD(s.Domain, s.Pool, amt), burned), nil

	case "transfer_shares":
		return fmt.Sprintf("shares=%s to %s", shares, s.To), d.TransferShares(ctx, from, s.Pool, shares, to)

	case "send_credits":
		rec, err := d.SendCredits(ctx, s.DstDomain, s.Pool, s.DstPool, fee)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("credits=%s ideal=%s", rec.Credits, rec.IdealBalance), nil

	case "call_delta":
		credited, err := d.CallDelta(w.admin(s.Domain), s.Pool, s.FullMode)
		return fmt.Sprintf("credited=%s", credited), err

	case "retry_all":
		keys, err := d.LiveRetries()
		if err != nil {
			return "", err
		}
		replayed := 0
		for _, k := range keys {
			if err := d.Retry(ctx, k); err != nil {
				w.log.Warn("retry failed", "domain", s.Domain, "key", k, "err", err)
				continue
			}
			replayed++
		}
		return fmt.Sprintf("replayed=%d/%d", replayed, len(keys)), nil

	case "claim_all":
		keys, err := d.LiveCached()
		if err != nil {
			return "", err
		}
		claimed := 0
		for _, k := range keys {
			if err := d.ClaimCached(ctx, k); err != nil {
				w.log.Warn("claim failed", "domain", s.Domain, "key", k, "err", err)
				continue
			}
			claimed++
		}
		return fmt.Sprintf("claimed=%d/%d", claimed, len(keys)), nil

	case "activate_path":
		return "", d.ActivatePath(w.admin(s.Domain), s.Pool, s.DstDomain, s.DstPool)

	default:
		return "", fmt.Errorf("%w: %q", errUnknownOp, s.Op)
	}
}

// nativeFee quotes the transport fee for ops that send a gated message.
func (w *world) nativeFee(d *bridge.Domain, s Step, to common.Address) (*big.Int, error) {
	var kind message.Kind
	switch s.Op {
	case "swap", "redeem_remote":
		kind = message.KindSwap
	case "redeem_local":
		kind = message.KindRedeemCheck
	case "send_credits":
		kind = message.KindCredit
	default:
		return nil, nil
	}
	return d.QuoteFee(s.DstDomain, kind, to, []byte(s.Payload))
}

// report prints every named account's balance and every pool's totals.
func (w *world) report(out io.Writer) error {
	names := make([]string, 0, len(w.scenario.Accounts))
	for name := range w.scenario.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	ids := make([]uint32, 0, len(w.domains))
	for id := range w.domains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		d := w.domains[id]
		for _, poolID := range d.PoolIDs() {
			p, err := d.Pool(poolID)
			if err != nil {
				return err
			}
			snap := p.Snapshot()
			fmt.Fprintf(out, "domain %d pool %d: shares=%s liquiditySD=%s unassignedSD=%s protocolFeesSD=%s\n",
				id, poolID, snap.TotalShares, snap.TotalLiquidity, snap.UnassignedCredit, snap.ProtocolFeeBalance)
			for _, cp := range p.Paths() {
				fmt.Fprintf(out, "  path -> %d/%d weight=%d ready=%t locked=%s pending=%s lastKnown=%s\n",
					cp.RemoteDomain, cp.RemotePoolID, cp.Weight, cp.Ready, cp.LockedBalance, cp.PendingCredit, cp.LastKnownBalance)
			}
			for _, name := range names {
				addr := w.scenario.Accounts[name]
				bal := d.Assets().BalanceOf(p.Token(), addr).ToBig()
				fmt.Fprintf(out, "  %-10s balance=%s shares=%s\n", name, w.fromLD(id, poolID, bal), p.SharesOf(addr))
			}
		}
		retries, err := d.LiveRetries()
		if err != nil {
			return err
		}
		cached, err := d.LiveCached()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "domain %d: pendingRetries=%d cachedDeliveries=%d\n", id, len(retries), len(cached))
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orAddr(a, def common.Address) common.Address {
	if a == (common.Address{}) {
		return def
	}
	return a
}
