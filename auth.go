package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphfs/internal/auth"
	"github.com/tonimelisma/graphfs/internal/config"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with the device code flow",
		Long: `Sign in with the device code flow and store the token for --account.
With auth.method = "client_secret" this only checks that an app token can
be acquired.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token for --account",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	if resolvedCfg.AuthMethod == config.AuthClientSecret {
		tokens, err := newTokenProvider(resolvedCfg, logger)
		if err != nil {
			return err
		}

		if _, err := tokens.Token(ctx, resolvedCfg.Account); err != nil {
			return err
		}

		statusf(cmd, "App credentials are valid.\n")

		return nil
	}

	logger.Info("login started", slog.String("account", resolvedCfg.Account))

	provider := newOAuthProvider(resolvedCfg, logger)

	err := provider.Login(ctx, resolvedCfg.Account, func(da auth.DeviceAuth) {
		// Device code prompts must always be visible, even with --quiet.
		fmt.Fprintf(cmd.ErrOrStderr(), "To sign in, visit: %s\n", da.VerificationURI)
		fmt.Fprintf(cmd.ErrOrStderr(), "Enter code: %s\n", da.UserCode)
	})
	if err != nil {
		return err
	}

	// Prove the token works against the drive before reporting success.
	fsys, err := openFS(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer fsys.Close()

	if _, err := fsys.Info(ctx, "/"); err != nil {
		return fmt.Errorf("signed in, but the drive is not reachable: %w", err)
	}

	statusf(cmd, "Login successful.\n")

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	if resolvedCfg.AuthMethod == config.AuthClientSecret {
		return errors.New("logout: client_secret auth stores no token")
	}

	if err := newOAuthProvider(resolvedCfg, buildLogger()).Logout(resolvedCfg.Account); err != nil {
		return err
	}

	statusf(cmd, "Logged out %s.\n", resolvedCfg.Account)

	return nil
}

