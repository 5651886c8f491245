// Package cli implements the "docdex keys" subcommand tree for managing API
// keys directly against the database. Key management stays off the HTTP API
// so the first key can be minted before the service has any credentials.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"docdex/internal/auth"
	"docdex/internal/config"
	"docdex/internal/store"
)

// NewKeysCommand returns the "keys" command with all subcommands wired in.
func NewKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
		Long:  "Create, list, revoke and rotate API keys. Connects straight to the database configured by DATABASE_URL.",
	}

	cmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")

	cmd.AddCommand(
		newKeysCreateCmd(),
		newKeysListCmd(),
		newKeysRevokeCmd(),
		newKeysRotateCmd(),
	)

	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		Long:  "Create an API key and print the plaintext. The plaintext is shown exactly once; only its fingerprint is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			expiresIn, _ := cmd.Flags().GetDuration("expires-in")

			ctx := cmd.Context()
			keys, closeStore, err := openKeyService(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().Add(expiresIn)
				expiresAt = &t
			}

			issued, err := keys.Generate(ctx, name, expiresAt)
			if err != nil {
				return err
			}
			if outputFormat(cmd) == "json" {
				return newPrinter("json").json(issued)
			}
			fmt.Printf("Created key %q (%s)\n", issued.Record.Name, issued.Record.ID)
			fmt.Printf("\n  %s\n\n", issued.Key)
			fmt.Println("Store this key now; it cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().String("name", "", "key name (default: generated)")
	cmd.Flags().Duration("expires-in", 0, "validity window, e.g. 720h (default: no expiry)")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			keys, closeStore, err := openKeyService(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			records, err := keys.List(ctx)
			if err != nil {
				return err
			}
			p := newPrinter(outputFormat(cmd))
			if outputFormat(cmd) == "json" {
				return p.json(records)
			}
			var rows [][]string
			for _, k := range records {
				rows = append(rows, []string{
					k.ID.String(), k.Name, k.KeyPrefix,
					k.CreatedAt.Format(time.RFC3339),
					formatTime(k.LastUsedAt),
					formatTime(k.ExpiresAt),
					formatTime(k.RevokedAt),
				})
			}
			p.table([]string{"ID", "NAME", "PREFIX", "CREATED", "LAST USED", "EXPIRES", "REVOKED"}, rows)
			return nil
		},
	}
}

func newKeysRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key",
		Long:  "Revoke an API key. The key keeps validating for a grace period so callers can rotate onto a replacement.",
		RunE: func(cmd *cobra.Command, args []string) error {
			idFlag, _ := cmd.Flags().GetString("id")
			id, err := uuid.Parse(idFlag)
			if err != nil {
				return fmt.Errorf("invalid key id %q: %w", idFlag, err)
			}

			ctx := cmd.Context()
			keys, closeStore, err := openKeyService(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := keys.Revoke(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Revoked key %s\n", id)
			return nil
		},
	}
	cmd.Flags().String("id", "", "key id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newKeysRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate an API key",
		Long:  "Revoke a key and issue a replacement with the same name and expiry. The old key keeps validating through the grace period.",
		RunE: func(cmd *cobra.Command, args []string) error {
			idFlag, _ := cmd.Flags().GetString("id")
			id, err := uuid.Parse(idFlag)
			if err != nil {
				return fmt.Errorf("invalid key id %q: %w", idFlag, err)
			}

			ctx := cmd.Context()
			keys, closeStore, err := openKeyService(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			issued, err := keys.Rotate(ctx, id)
			if err != nil {
				return err
			}
			if outputFormat(cmd) == "json" {
				return newPrinter("json").json(issued)
			}
			fmt.Printf("Rotated key %q (new id %s)\n", issued.Record.Name, issued.Record.ID)
			fmt.Printf("\n  %s\n\n", issued.Key)
			fmt.Println("Store this key now; it cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().String("id", "", "key id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// openKeyService connects to the database and returns the key service plus
// a close func. The schema is brought current first so key commands work on
// a fresh database before the server's first start.
func openKeyService(ctx context.Context) (*auth.KeyService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, store.Config{
		URL:              cfg.DatabaseURL,
		ConnectTimeout:   cfg.DBConnectTimeout,
		StatementTimeout: cfg.DBStatementTimeout,
		MaxConns:         cfg.DBPoolMaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return auth.NewKeyService(st, cfg.APIKeyPrefix, nil), st.Close, nil
}

// outputFormat returns "json" or "table" from the --output flag.
func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
