package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"

	"github.com/better-wallet/session-keyring/internal/app"
	"github.com/better-wallet/session-keyring/internal/config"
	"github.com/better-wallet/session-keyring/internal/logger"
)

const envFileFlag = "env-file"

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "Manage Starknet session keys and send session-signed transfers",
		Long: `sessionctl manages the session keys of one Starknet account and sends
ERC-20 transfers signed by them, locally or through the remote keyring proxy.

Configuration comes from the environment, optionally seeded from a .env file.
Use STORE_BACKEND=postgres to keep keys between invocations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile, cmd.Flags().Changed(envFileFlag)); err != nil {
				return err
			}
			return logger.Init()
		},
	}
	root.PersistentFlags().StringVar(&envFile, envFileFlag, ".env", "environment file loaded before configuration; existing variables win")

	root.AddCommand(
		newKeysCmd(),
		newTransferCmd(),
	)
	return root
}

// loadEnvFile loads path without overriding the environment. A missing
// default file is fine, a missing explicit one is not.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := gotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *app.Runtime) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(ctx, rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
