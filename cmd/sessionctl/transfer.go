package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/better-wallet/session-keyring/internal/app"
	"github.com/better-wallet/session-keyring/internal/transfer"
)

type actionOutput struct {
	Token            string   `json:"token"`
	TokenAddress     string   `json:"tokenAddress"`
	To               string   `json:"to"`
	Amount           string   `json:"amount"`
	AmountBaseUnits  string   `json:"amountBaseUnits"`
	SessionPublicKey string   `json:"sessionPublicKey"`
	Warnings         []string `json:"warnings,omitempty"`
}

type resultOutput struct {
	State           string `json:"state"`
	TransactionHash string `json:"transactionHash,omitempty"`
	ExecutionStatus string `json:"executionStatus,omitempty"`
	RevertReason    string `json:"revertReason,omitempty"`
	Guidance        string `json:"guidance,omitempty"`
	Retried         bool   `json:"retried"`
	SignerMode      string `json:"signerMode,omitempty"`
	SignerRequestID string `json:"signerRequestId,omitempty"`
	CorrelationID   string `json:"correlationId"`
}

func newTransferCmd() *cobra.Command {
	var (
		token         string
		amount        string
		to            string
		correlationID string
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "transfer [send <amount> <TOKEN> to <0xaddress>]",
		Short: "Send an ERC-20 transfer signed by the token's session key",
		Example: `  sessionctl transfer send 1.5 STRK to 0x0123...
  sessionctl transfer --token USDC --amount 20 --to 0x0123... --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := transfer.PrepareInput{
				Text:        strings.Join(args, " "),
				TokenSymbol: token,
				Amount:      amount,
				To:          to,
			}
			if input.Text == "" && (token == "" || amount == "" || to == "") {
				return errors.New("give a transfer sentence or all of --token, --amount and --to")
			}

			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				wallet, err := rt.Wallet()
				if err != nil {
					return err
				}

				stderr := cmd.ErrOrStderr()
				orch := rt.Orchestrator(func(s transfer.State) {
					fmt.Fprintf(stderr, "transfer: %s\n", s)
				})

				action, err := orch.Prepare(ctx, wallet, input)
				if err != nil {
					return err
				}
				for _, w := range action.Warnings {
					fmt.Fprintf(stderr, "warning: %s\n", w)
				}
				if dryRun {
					return printJSON(cmd.OutOrStdout(), actionOutput{
						Token:            action.TokenSymbol,
						TokenAddress:     action.TokenAddress,
						To:               action.To,
						Amount:           action.Amount,
						AmountBaseUnits:  action.AmountBaseUnits.String(),
						SessionPublicKey: action.SessionPublicKey,
						Warnings:         action.Warnings,
					})
				}

				result, execErr := orch.Execute(ctx, wallet, action, transfer.ExecuteOptions{CorrelationID: correlationID})
				if result != nil {
					out := resultOutput{
						State:           string(result.State),
						TransactionHash: result.TransactionHash,
						ExecutionStatus: result.ExecutionStatus,
						RevertReason:    result.RevertReason,
						Retried:         result.Retried,
						SignerMode:      string(result.SignerMode),
						SignerRequestID: result.SignerRequestID,
						CorrelationID:   result.CorrelationID,
					}
					if result.Guidance != nil {
						out.Guidance = result.Guidance.Title + ": " + result.Guidance.Remediation
					}
					if err := printJSON(cmd.OutOrStdout(), out); err != nil {
						return err
					}
				}
				return execErr
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token symbol")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in token units")
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "correlation id forwarded to the signer and the activity log")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "prepare and print the transfer without signing")
	return cmd
}
