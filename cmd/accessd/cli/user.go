package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage system users",
		Long:  "Define, list and remove the system users that sign in with a password.",
	}

	cmd.AddCommand(newUserDefineCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserRemoveCmd())

	return cmd
}

// ---------- user define ----------

func newUserDefineCmd() *cobra.Command {
	var (
		pass      string
		roles     []string
		duration  string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "define <name>",
		Short: "Define a system user",
		Example: `  accessd user define root --role owner
  accessd user define reporter --ns acme --role viewer --password secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := currentLevel()
			if err != nil {
				return err
			}
			u := &model.User{Name: args[0], Level: level}
			for _, r := range roles {
				role, err := model.ParseRole(r)
				if err != nil {
					return err
				}
				u.Roles = append(u.Roles, role)
			}
			if u.SessionDuration, err = optionalDuration("session-duration", duration); err != nil {
				return err
			}

			// Prompt for password if not provided
			if pass == "" {
				if pass, err = readPassword(cmd.OutOrStdout(), true); err != nil {
					return err
				}
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			if err := a.update(ctx, func(tx kvs.Transaction) error {
				return a.auth.DefineUser(ctx, tx, u, pass, overwrite)
			}); err != nil {
				return fmt.Errorf("define user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Defined user %q on %s (%s)\n", u.Name, level, strings.Join(model.RoleNames(u.Roles), ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&pass, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role: owner, editor or viewer (repeatable, default viewer)")
	cmd.Flags().StringVar(&duration, "session-duration", "", "Lifetime of this user's sessions")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing user, keeping its grants")

	return cmd
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List system users on a level",
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
			var users []*model.User
			if err := a.view(ctx, func(tx kvs.Transaction) error {
				users, err = a.auth.ListUsers(ctx, tx, level)
				return err
			}); err != nil {
				return fmt.Errorf("list users: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if users == nil {
					users = []*model.User{}
				}
				return printJSON(out, users)
			}
			if len(users) == 0 {
				fmt.Fprintf(out, "No users on %s. Use 'accessd user define' to create one.\n", level)
				return nil
			}

			fmt.Fprintf(out, "%-24s %-24s %-20s\n", "NAME", "ROLES", "CREATED")
			fmt.Fprintf(out, "%-24s %-24s %-20s\n", "----", "-----", "-------")
			for _, u := range users {
				fmt.Fprintf(out, "%-24s %-24s %-20s\n", u.Name, strings.Join(model.RoleNames(u.Roles), ","), u.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- user remove ----------

func newUserRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a system user",
		Long:    "Remove a system user. Bearer grants bound to the user stop working, even if it is defined again.",
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
			if err := a.update(ctx, func(tx kvs.Transaction) error {
				return a.auth.RemoveUser(ctx, tx, level, args[0])
			}); err != nil {
				return fmt.Errorf("remove user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed user %q from %s\n", args[0], level)
			return nil
		},
	}
}
