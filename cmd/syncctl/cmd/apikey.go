package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/fieldsync/internal/core"
)

func (c *cli) apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	apikey.AddCommand(c.apikeyCreateCmd(), c.apikeyListCmd(), c.apikeyRevokeCmd())
	return apikey
}

func (c *cli) apikeyCreateCmd() *cobra.Command {
	var (
		name   string
		userID int64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		Long: `Create an API key and print it. Only its digest is stored, so the key
cannot be shown again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := core.GenerateKey()
			if err != nil {
				return err
			}

			var user *int64
			if cmd.Flags().Changed("user-id") {
				user = &userID
			}

			return c.withBackend(cmd.Context(), func(b Backend) error {
				auth := core.NewAuthenticator(b, c.cfg.Security.CredentialPepper)
				cred, err := b.CreateCredential(cmd.Context(), name, auth.Digest(key), user)
				if err != nil {
					return fmt.Errorf("create api key: %w", err)
				}

				out := cmd.OutOrStdout()
				printSuccess(out, "Created API key %d (%s)", cred.ID, cred.Name)
				fmt.Fprintln(out, key)
				printWarning(out, "Store this key now. It will not be shown again.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name of the device or integration using the key")
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user the key acts as")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (c *cli) apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withBackend(cmd.Context(), func(b Backend) error {
				creds, err := b.ListCredentials(cmd.Context())
				if err != nil {
					return fmt.Errorf("list api keys: %w", err)
				}
				if len(creds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No API keys")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				heading.Fprintln(w, "ID\tNAME\tUSER\tACTIVE\tLAST USED\tCREATED")
				for _, cr := range creds {
					fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\n",
						cr.ID, cr.Name, optionalID(cr.UserID), cr.Active,
						optionalTime(cr.LastUsed), cr.CreatedAt.Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withBackend(cmd.Context(), func(b Backend) error {
				if err := b.RevokeCredential(cmd.Context(), id); err != nil {
					return fmt.Errorf("revoke api key %d: %w", id, err)
				}
				printSuccess(cmd.OutOrStdout(), "Revoked API key %d", id)
				return nil
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func optionalID(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.DateTime)
}
