package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/better-wallet/session-keyring/internal/app"
	"github.com/better-wallet/session-keyring/internal/sessionkeys"
	"github.com/better-wallet/session-keyring/internal/transfer"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Create, register and revoke session keys",
	}
	cmd.AddCommand(
		newKeysCreateCmd(),
		newKeysListCmd(),
		newKeysRegisterCmd(),
		newKeysRevokeCmd(),
		newKeysRevokeAllCmd(),
		newKeysCheckCmd(),
	)
	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var (
		token    string
		limit    string
		validFor time.Duration
		allowed  []string
		register bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a session key scoped to one token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				tok, err := transfer.LookupToken(rt.Config().Network, token)
				if err != nil {
					return err
				}
				limitBase, err := transfer.ToBaseUnits(limit, tok.Decimals)
				if err != nil {
					return err
				}

				policy, err := rt.Keys().Create(ctx, sessionkeys.CreateParams{
					TokenSymbol:      tok.Symbol,
					TokenAddress:     tok.Address,
					SpendingLimit:    limitBase.String(),
					ValidFor:         validFor,
					AllowedContracts: allowed,
				})
				if err != nil {
					return err
				}

				if register {
					registrar, err := rt.Registrar()
					if err != nil {
						return err
					}
					if policy, err = registrar.Register(ctx, policy.PublicKey); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), policy)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token symbol, e.g. STRK")
	cmd.Flags().StringVar(&limit, "limit", "", "spending cap in token units, e.g. 25.5")
	cmd.Flags().DurationVar(&validFor, "valid-for", 24*time.Hour, "validity window")
	cmd.Flags().StringSliceVar(&allowed, "allow", nil, "allowed contract addresses (at most 4)")
	cmd.Flags().BoolVar(&register, "register", false, "register the key on-chain right away")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("limit")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored session keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				policies, err := rt.Keys().List(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), policies)
			})
		},
	}
}

func newKeysRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <public-key>",
		Short: "Write a session key policy to the account contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				registrar, err := rt.Registrar()
				if err != nil {
					return err
				}
				policy, err := registrar.Register(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), policy)
			})
		},
	}
}

type revokeOutput struct {
	TransactionHash string `json:"transactionHash"`
}

func newKeysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <public-key>",
		Short: "Revoke one session key on-chain and drop its secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				registrar, err := rt.Registrar()
				if err != nil {
					return err
				}
				txHash, err := registrar.Revoke(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), revokeOutput{TransactionHash: txHash})
			})
		},
	}
}

func newKeysRevokeAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-all",
		Short: "Revoke every session key of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				registrar, err := rt.Registrar()
				if err != nil {
					return err
				}
				txHash, err := registrar.RevokeAll(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), revokeOutput{TransactionHash: txHash})
			})
		},
	}
}

func newKeysCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <public-key>",
		Short: "Report whether the account contract considers a session key valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				valid, err := rt.IsValidOnchain(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					PublicKey    string `json:"publicKey"`
					ValidOnchain bool   `json:"validOnchain"`
				}{args[0], valid})
			})
		},
	}
}
