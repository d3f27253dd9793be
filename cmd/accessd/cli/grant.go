package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
)

func newGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Manage bearer grants",
		Long:  "Issue, list, inspect and revoke the bearer keys of a bearer access method.",
	}

	cmd.AddCommand(newGrantIssueCmd())
	cmd.AddCommand(newGrantListCmd())
	cmd.AddCommand(newGrantShowCmd())
	cmd.AddCommand(newGrantRevokeCmd())

	return cmd
}

type grantRow struct {
	ID      string `json:"id"`
	Access  string `json:"access"`
	Type    string `json:"type"`
	Subject string `json:"subject"`
	Created string `json:"created"`
	Expires string `json:"expires,omitempty"`
	Revoked string `json:"revoked,omitempty"`
	Status  string `json:"status"`
}

func newGrantRow(g *model.Grant, now time.Time) grantRow {
	row := grantRow{
		ID:      g.ID,
		Access:  g.AccessName,
		Type:    string(g.Type),
		Subject: string(g.Subject.Kind) + " " + g.Subject.String(),
		Created: g.CreatedAt.Format(time.RFC3339),
		Status:  "active",
	}
	if g.ExpiresAt != nil {
		row.Expires = g.ExpiresAt.Format(time.RFC3339)
	}
	switch {
	case g.Revoked():
		row.Revoked = g.RevokedAt.Format(time.RFC3339)
		row.Status = "revoked"
	case g.Expired(now):
		row.Status = "expired"
	}
	return row
}

// ---------- grant issue ----------

func newGrantIssueCmd() *cobra.Command {
	var (
		user   string
		record string
	)

	cmd := &cobra.Command{
		Use:   "issue <access>",
		Short: "Issue a bearer key",
		Long:  "Issue a bearer key for a user or a record. The key is shown once and cannot be retrieved again.",
		Example: `  accessd grant issue api --user ci
  accessd grant issue devices --ns acme --db main --record device:d1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := currentLevel()
			if err != nil {
				return err
			}
			var subject model.Subject
			switch {
			case user != "" && record != "":
				return fmt.Errorf("--user and --record are mutually exclusive")
			case user != "":
				subject = model.UserSubject(user)
			case record != "":
				id, err := model.ParseRecordID(record)
				if err != nil {
					return err
				}
				subject = model.RecordSubject(id)
			default:
				return fmt.Errorf("one of --user or --record is required")
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			var (
				key string
				g   *model.Grant
			)
			if err := a.update(ctx, func(tx kvs.Transaction) error {
				key, g, err = a.auth.IssueGrant(ctx, tx, level, args[0], subject)
				return err
			}); err != nil {
				return fmt.Errorf("issue grant: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Bearer key issued:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Key:     %s\n", key)
			fmt.Fprintf(out, "  Grant:   %s\n", g.ID)
			fmt.Fprintf(out, "  Subject: %s %s\n", g.Subject.Kind, g.Subject)
			if g.ExpiresAt != nil {
				fmt.Fprintf(out, "  Expires: %s\n", g.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "System user the key authenticates as")
	cmd.Flags().StringVar(&record, "record", "", "Record (table:key) the key authenticates as")

	return cmd
}

// ---------- grant list ----------

func newGrantListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list <access>",
		Aliases: []string{"ls"},
		Short:   "List the grants of an access method",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := currentLevel()
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			var grants []*model.Grant
			if err := a.view(ctx, func(tx kvs.Transaction) error {
				grants, err = a.auth.ListGrants(ctx, tx, level, args[0])
				return err
			}); err != nil {
				return fmt.Errorf("list grants: %w", err)
			}

			now := time.Now()
			rows := make([]grantRow, len(grants))
			for i, g := range grants {
				rows[i] = newGrantRow(g, now)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintf(out, "No grants for %q. Use 'accessd grant issue' to create one.\n", args[0])
				return nil
			}

			fmt.Fprintf(out, "%-14s %-8s %-28s %-8s\n", "ID", "TYPE", "SUBJECT", "STATUS")
			fmt.Fprintf(out, "%-14s %-8s %-28s %-8s\n", "--", "----", "-------", "------")
			for _, r := range rows {
				fmt.Fprintf(out, "%-14s %-8s %-28s %-8s\n", r.ID, r.Type, r.Subject, r.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- grant show ----------

func newGrantShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <access> <id>",
		Short: "Show one grant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := currentLevel()
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			var g *model.Grant
			if err := a.view(ctx, func(tx kvs.Transaction) error {
				g, err = a.auth.GetGrant(ctx, tx, level, args[0], args[1])
				return err
			}); err != nil {
				return fmt.Errorf("show grant: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), newGrantRow(g, time.Now()))
		},
	}
}

// ---------- grant revoke ----------

func newGrantRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <access> <id>",
		Short: "Revoke a grant",
		Long:  "Revoke a grant, preventing any further signin with its key. Revoking twice is harmless.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := currentLevel()
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			var g *model.Grant
			if err := a.update(ctx, func(tx kvs.Transaction) error {
				g, err = a.auth.RevokeGrant(ctx, tx, level, args[0], args[1])
				return err
			}); err != nil {
				return fmt.Errorf("revoke grant: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked grant %s at %s\n", g.ID, g.RevokedAt.Format(time.RFC3339))
			return nil
		},
	}
}
