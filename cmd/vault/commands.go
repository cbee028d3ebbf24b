package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-secret-vault/internal/capability"
	"github.com/tbourn/go-secret-vault/internal/services"
	"github.com/tbourn/go-secret-vault/internal/utils"
)

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// readInput reads all of stdin and drops one trailing newline, so that
// `echo secret | vault secret 42` stores "secret".
func readInput(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	s := strings.TrimSuffix(string(b), "\n")
	return strings.TrimSuffix(s, "\r"), nil
}

// requestID parses a positional request id.
func requestID(arg string) (uint, error) {
	id, valid := utils.ParseID(arg)
	if !valid {
		return 0, fmt.Errorf("invalid request id %q", arg)
	}
	return id, nil
}

func newAppCmd(rt func() *vaultEnv) *cobra.Command {
	appCmd := &cobra.Command{
		Use:   "app",
		Short: "Manage registered applications",
	}
	appCmd.AddCommand(&cobra.Command{
		Use:   "add NAME [PING_URL]",
		Short: "Register an application and print its credentials",
		Long: `Registers an application. The printed secret and vault_secret are shown once:
the secret authenticates the app against the API, the vault_secret verifies
the pings the vault sends to PING_URL.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ping := ""
			if len(args) > 1 {
				ping = args[1]
			}
			creds, err := rt().vault.RegisterApp(cmd.Context(), args[0], ping)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), creds)
		},
	})
	return appCmd
}

func newRequestCmd(rt func() *vaultEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "request APPKEY EMAIL [APP_DATA]",
		Short: "Ask EMAIL for a secret on behalf of an application",
		Long:  `Creates a request and e-mails the input link to EMAIL. Instructions for the recipient are read from stdin.`,
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			instructions, err := readInput(cmd.InOrStdin())
			if err != nil {
				return err
			}
			var appData *string
			if len(args) > 2 {
				appData = &args[2]
			}
			rc, err := rt().vault.CreateRequest(cmd.Context(), args[0], args[1], instructions, appData)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rc)
		},
	}
}

func newSecretCmd(rt func() *vaultEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "secret REQUEST_ID",
		Short: "Store the secret for a request, read from stdin",
		Long: `Seals the secret read from stdin for REQUEST_ID and notifies the application,
as if the recipient had submitted it. Fails when a secret was already stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requestID(args[0])
			if err != nil {
				return err
			}
			plaintext, err := readInput(cmd.InOrStdin())
			if err != nil {
				return err
			}
			receipt, err := rt().vault.RegisterSecret(cmd.Context(), id, plaintext)
			if err != nil && receipt != nil && services.KindOf(err) == services.KindDeliveryFailure {
				// after_commit: stored, but the app was not told.
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				return printJSON(cmd.OutOrStdout(), receipt)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
}

func newUnlockCmd(rt func() *vaultEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock REQUEST_ID UNLOCK_KEY",
		Short: "Reveal and erase the secret of a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requestID(args[0])
			if err != nil {
				return err
			}
			key, err := capability.Decode(args[1])
			if err != nil {
				return fmt.Errorf("invalid unlock key: %w", err)
			}
			secret, err := rt().vault.UnlockTrusted(cmd.Context(), id, key)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"secret": secret})
		},
	}
}

func newMaintenanceCmd(rt func() *vaultEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Purge expired requests once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rt().sweeper.Maintenance(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
