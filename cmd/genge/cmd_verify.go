package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/slavaghoul1337-coder/genge/logger"
	"github.com/slavaghoul1337-coder/genge/resource"
	"github.com/slavaghoul1337-coder/genge/types"
	"github.com/slavaghoul1337-coder/genge/utils"
)

func printResult(v any, text string) error {
	switch flagOutput {
	case "json", "":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text":
		fmt.Println(text)
		return nil
	default:
		return fmt.Errorf("invalid --output: %s (use json|text)", flagOutput)
	}
}

func init() {
	var wallet, txHash, tokenID string
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify one claim and record the redemption",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			if err := utils.ValidateAddress(wallet); err != nil {
				return err
			}
			if err := utils.ValidateTransactionHash(txHash); err != nil {
				return err
			}
			claim := &types.PaymentClaim{PayerWallet: wallet, TxRef: txHash}
			if tokenID != "" {
				id, err := utils.ParseTokenID(json.Number(tokenID))
				if err != nil {
					return err
				}
				claim.ItemID = id
			}

			x, err := build(cfg, logger.NewZapLogger(cfg.LogLevel), nil)
			if err != nil {
				return err
			}
			defer x.Close()

			d, err := x.Verify(cmd.Context(), claim)
			if err != nil {
				return err
			}
			return printResult(d, fmt.Sprintf("verified=%t reason=%s %s", d.Verified, d.Reason, d.Detail))
		},
	}
	verifyCmd.Flags().StringVar(&wallet, "wallet", "", "Payer or owner wallet")
	verifyCmd.Flags().StringVar(&txHash, "tx", "", "Payment transaction hash")
	verifyCmd.Flags().StringVar(&tokenID, "token-id", "", "NFT token id to check ownership of")
	_ = verifyCmd.MarkFlagRequired("wallet")
	_ = verifyCmd.MarkFlagRequired("tx")
	rootCmd.AddCommand(verifyCmd)

	var mintView bool
	describeCmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the 402 payment description",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			x, err := build(cfg, logger.NoopLogger{}, nil)
			if err != nil {
				return err
			}
			defer x.Close()

			desc := x.Describe()
			if mintView {
				desc = x.DescribeMint()
			}
			req := desc.Accepts[0]
			amount, _ := new(big.Int).SetString(req.MaxAmountRequired, 10)
			return printResult(desc, fmt.Sprintf("%s: pay %s %s on %s to %s",
				req.Resource, resource.FromBaseUnits(amount, cfg.AssetDecimals), req.Asset, req.Network, req.PayTo))
		},
	}
	describeCmd.Flags().BoolVar(&mintView, "mint", false, "Describe the mint resource instead")
	rootCmd.AddCommand(describeCmd)

	lookupCmd := &cobra.Command{
		Use:   "lookup <txHash>",
		Short: "Show the recorded redemption for a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			x, err := build(cfg, logger.NoopLogger{}, nil)
			if err != nil {
				return err
			}
			defer x.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RPCTimeout)
			defer cancel()
			rec, err := x.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(rec, fmt.Sprintf("%s redeemed by %s via %s at %s",
				rec.TxRef, rec.PayerWallet, rec.Strategy, rec.RedeemedAt.Format(time.RFC3339)))
		},
	}
	rootCmd.AddCommand(lookupCmd)
}
