// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commands

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/spf13/cobra"

	"github.com/luxfi/omnipool/message"
)

var kinds = map[string]message.Kind{
	"swap":            message.KindSwap,
	"credit":          message.KindCredit,
	"redeem_check":    message.KindRedeemCheck,
	"redeem_callback": message.KindRedeemCallback,
}

// quote --config <file> --src 1 --dst 2 --kind swap: print the transport fee
// for a message on the scenario's topology.
func quoteCmd() *cobra.Command {
	var (
		src, dst uint32
		kind     string
		to       string
		payload  string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote the native transport fee for a message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scenarioPath == "" {
				return fmt.Errorf("scenario required (--config)")
			}
			k, ok := kinds[kind]
			if !ok {
				return fmt.Errorf("%w: %q", message.ErrUnsupportedMessageKind, kind)
			}
			if to != "" && !common.IsHexAddress(to) {
				return fmt.Errorf("invalid recipient %q", to)
			}
			body, err := hex.DecodeString(strings.TrimPrefix(payload, "0x"))
			if err != nil {
				return fmt.Errorf("payload: %w", err)
			}
			s, err := LoadScenario(scenarioPath)
			if err != nil {
				return err
			}
			// steps are not run; only the topology matters
			s.Steps = nil
			w, err := newWorld(s, logger)
			if err != nil {
				return err
			}
			d, err := w.domain(src)
			if err != nil {
				return err
			}
			fee, err := d.QuoteFee(dst, k, common.HexToAddress(to), body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d -> %d: %s\n", k, src, dst, fee)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&src, "src", 0, "source domain")
	cmd.Flags().Uint32Var(&dst, "dst", 0, "destination domain")
	cmd.Flags().StringVar(&kind, "kind", "swap", "message kind: swap, credit, redeem_check, redeem_callback")
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().StringVar(&payload, "payload", "", "hex payload for the recipient")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("dst")
	return cmd
}
