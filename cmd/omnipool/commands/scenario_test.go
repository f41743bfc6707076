// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commands

import (
	"bytes"
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

const twoDomains = "testdata/two_domains.yaml"

func loadWorld(t *testing.T, path string) *world {
	t.Helper()
	s, err := LoadScenario(path)
	require.NoError(t, err)
	w, err := newWorld(s, log.NewTestLogger(log.InfoLevel))
	require.NoError(t, err)
	return w
}

func TestRunScenario(t *testing.T) {
	require := require.New(t)
	w := loadWorld(t, twoDomains)

	var out bytes.Buffer
	require.NoError(w.run(context.Background(), &out))
	require.Contains(out.String(), "shares=1000000000")
	require.Contains(out.String(), "delivered=1")

	carol, err := w.account("carol")
	require.NoError(err)
	d1, err := w.domain(1)
	require.NoError(err)
	p, err := d1.Pool(1)
	require.NoError(err)
	require.Equal(uint64(100_000_000), d1.Assets().BalanceOf(p.Token(), carol).Uint64())

	bob, err := w.account("bob")
	require.NoError(err)
	d2, err := w.domain(2)
	require.NoError(err)
	p2, err := d2.Pool(1)
	require.NoError(err)
	require.Equal(mustLD(t, w, 2, 1, "100").String(), d2.Assets().BalanceOf(p2.Token(), p2.Custody()).ToBig().String())
	require.Zero(d2.Assets().BalanceOf(p2.Token(), bob).Sign())

	out.Reset()
	require.NoError(w.report(&out))
	require.Contains(out.String(), "domain 1 pool 1")
	require.Contains(out.String(), "carol      balance=100 ")
	require.Contains(out.String(), "domain 2: pendingRetries=0 cachedDeliveries=0")
}

func TestAmountConversion(t *testing.T) {
	require := require.New(t)
	w := loadWorld(t, twoDomains)

	require.Equal("1500000", mustLD(t, w, 1, 1, "1.5").String())
	require.Equal("1500000000000000000", mustLD(t, w, 2, 1, "1.5").String())
	// below one local unit truncates
	require.Equal("1", mustLD(t, w, 1, 1, "0.0000019").String())
	require.Equal("1.5", w.fromLD(2, 1, mustLD(t, w, 2, 1, "1.5")))

	_, err := w.toLD(1, 1, "ten")
	require.Error(err)
}

func TestScenarioErrors(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr error
	}{
		{"unknown op", Step{Op: "teleport", Domain: 1, Pool: 1}, errUnknownOp},
		{"unknown domain", Step{Op: "deposit", Domain: 9, Pool: 1}, errUnknownDomain},
		{"unknown account", Step{Op: "mint", Domain: 1, Pool: 1, To: "mallory", Amount: "1"}, errUnknownAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := loadWorld(t, twoDomains)
			w.scenario.Steps = []Step{tt.step}
			var out bytes.Buffer
			require.ErrorIs(t, w.run(context.Background(), &out), tt.wantErr)
		})
	}
}

func TestTransferSharesStep(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	w := loadWorld(t, twoDomains)
	w.scenario.Steps = []Step{
		{Op: "mint", Domain: 1, Pool: 1, To: "alice", Amount: "10"},
		{Op: "deposit", Domain: 1, Pool: 1, From: "alice", Amount: "10"},
		{Op: "transfer_shares", Domain: 1, Pool: 1, From: "alice", To: "bob", Shares: "4000000"},
	}
	var out bytes.Buffer
	require.NoError(w.run(ctx, &out))
	require.Contains(out.String(), "shares=4000000 to bob")

	d1, err := w.domain(1)
	require.NoError(err)
	p, err := d1.Pool(1)
	require.NoError(err)
	alice, err := w.account("alice")
	require.NoError(err)
	bob, err := w.account("bob")
	require.NoError(err)
	require.Equal("6000000", p.SharesOf(alice).String())
	require.Equal("4000000", p.SharesOf(bob).String())

	_, err = w.apply(ctx, Step{Op: "transfer_shares", Domain: 1, Pool: 1, From: "alice", To: "bob", Shares: "-1"})
	require.Error(err)
	p, err = d1.Pool(1)
	require.NoError(err)
	require.Equal("4000000", p.SharesOf(bob).String())
}

func TestLoadScenario(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	_, err := LoadScenario(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(os.WriteFile(empty, []byte("fees: {base: 1}\n"), 0o600))
	_, err = LoadScenario(empty)
	require.Error(err)

	s, err := LoadScenario(twoDomains)
	require.NoError(err)
	require.Len(s.Domains, 2)
	require.Len(s.Accounts, 3)
	require.Len(s.Steps, 7)
}

func TestCommands(t *testing.T) {
	require := require.New(t)
	logger = log.NewTestLogger(log.InfoLevel)
	t.Cleanup(func() { logger = nil; scenarioPath = "" })

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"simulate", "--config", twoDomains})
	require.NoError(root.Execute())
	require.Contains(out.String(), "cachedDeliveries=0")

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"quote", "--config", twoDomains, "--src", "1", "--dst", "2", "--kind", "credit"})
	require.NoError(root.Execute())
	require.Equal("credit 1 -> 2: 0\n", out.String())

	root = newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"quote", "--config", twoDomains, "--src", "1", "--dst", "2", "--kind", "bogus"})
	require.Error(root.Execute())
}

func mustLD(t *testing.T, w *world, domain uint32, poolID uint64, amount string) *big.Int {
	t.Helper()
	v, err := w.toLD(domain, poolID, amount)
	require.NoError(t, err)
	return v
}
