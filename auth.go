package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
	"github.com/tonimelisma/gdrive-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize access to Google Drive in the browser",
		Long: `Open the Google consent page in a browser and store the resulting
credential. Any stored credential is replaced.

Requires an OAuth client secret for a "Desktop app" client, downloaded from
the Google Cloud console (auth.client_secret_path in the config file).`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authorized account and storage quota",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	mgr := newAuthManager(resolvedCfg, logger)

	// Interactive prompts stay visible even with --quiet.
	statusf("Opening browser for Google sign-in...\n")

	tok, err := mgr.Login(ctx)
	if err != nil {
		return err
	}

	session, err := bindSession(ctx, mgr, tok, resolvedCfg, logger)
	if err != nil {
		return err
	}

	// The account lookup is cosmetic; login already succeeded.
	acct, err := session.Client.About(ctx)
	if err != nil {
		logger.Warn("could not fetch account after login", slog.String("error", err.Error()))
		statusf("Login successful.\n")

		return nil
	}

	cacheAccount(mgr.TokenPath(), acct, logger)
	statusf("Login successful. Signed in as %s.\n", acct.Email)

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	mgr := newAuthManager(resolvedCfg, logger)

	if err := mgr.Logout(); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	QuotaUsed   int64  `json:"quota_used"`
	QuotaTotal  int64  `json:"quota_total"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	session, err := NewDriveSession(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}

	acct, err := session.Client.About(ctx)
	if err != nil {
		return fmt.Errorf("fetching account: %w", err)
	}

	cacheAccount(session.Auth.TokenPath(), acct, logger)

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), whoamiOutput{
			DisplayName: acct.DisplayName,
			Email:       acct.Email,
			QuotaUsed:   acct.QuotaUsage,
			QuotaTotal:  acct.QuotaLimit,
		})
	}

	printWhoamiText(cmd.OutOrStdout(), acct)

	return nil
}

func printWhoamiText(w io.Writer, acct *gdrive.Account) {
	fmt.Fprintf(w, "User:  %s (%s)\n", acct.DisplayName, acct.Email)

	total := "unlimited"
	if acct.QuotaLimit > 0 {
		total = formatSize(acct.QuotaLimit)
	}

	fmt.Fprintf(w, "Quota: %s / %s\n", formatSize(acct.QuotaUsage), total)
}

// cacheAccount records the account identity next to the credential so later
// commands can name it without a remote call. Failures are logged only.
func cacheAccount(tokenPath string, acct *gdrive.Account, logger *slog.Logger) {
	err := tokenfile.MergeMeta(tokenPath, map[string]string{
		"email":        acct.Email,
		"display_name": acct.DisplayName,
	})
	if err != nil {
		logger.Warn("could not cache account metadata", slog.String("error", err.Error()))
	}
}

// withLoginHint adds a re-login suggestion to errors a fresh login would fix.
func withLoginHint(err error) error {
	if errors.Is(err, gdrive.ErrUnauthorized) {
		return fmt.Errorf("%w (run 'gdrive-go login' to re-authorize)", err)
	}

	return err
}
