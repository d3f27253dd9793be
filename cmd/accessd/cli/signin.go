package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
)

// printResult writes the token, or the whole result as JSON.
func printResult(cmd *cobra.Command, res model.SigninResult, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	fmt.Fprintln(out, res.Token)
	if res.Refresh != "" {
		fmt.Fprintf(out, "refresh: %s\n", res.Refresh)
	}
	return nil
}

// ---------- signin ----------

func newSigninCmd() *cobra.Command {
	var (
		ac         string
		user       string
		pass       string
		key        string
		refresh    string
		vars       []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and print a session token",
		Long: `Sign in as a system user (--user, password prompted if omitted) or through
an access method (--access with --key, --refresh or --var).`,
		Example: `  accessd signin --user root
  accessd signin --ns acme --db main --access app --var email=alice@example.com --var pass=secret
  accessd signin --ns acme --db main --access api --key surreal-bearer-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := currentLevel()
			if err != nil {
				return err
			}

			var creds model.Credentials
			if ac == "" {
				if user == "" {
					return fmt.Errorf("--user is required without --access")
				}
				if pass == "" {
					if pass, err = readPassword(cmd.ErrOrStderr(), false); err != nil {
						return err
					}
				}
				creds = model.Password{User: user, Pass: pass}
			} else {
				params, err := parseParams(vars)
				if err != nil {
					return err
				}
				if key != "" {
					params["key"] = key
				}
				if refresh != "" {
					params["refresh"] = refresh
				}
				creds = params
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			var res model.SigninResult
			if err := a.update(ctx, func(tx kvs.Transaction) error {
				res, err = a.auth.Signin(ctx, tx, level, ac, creds)
				return err
			}); err != nil {
				return fmt.Errorf("signin: %w", err)
			}
			return printResult(cmd, res, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&ac, "access", "", "Access method to sign in through")
	cmd.Flags().StringVar(&user, "user", "", "System user name")
	cmd.Flags().StringVar(&pass, "password", "", "System user password (prompted if omitted)")
	cmd.Flags().StringVar(&key, "key", "", "Bearer key")
	cmd.Flags().StringVar(&refresh, "refresh", "", "Refresh token")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Signin variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full result as JSON")

	return cmd
}

// ---------- signup ----------

func newSignupCmd() *cobra.Command {
	var (
		ac         string
		vars       []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "signup",
		Short:   "Sign up a record and print a session token",
		Example: `  accessd signup --ns acme --db main --access app --var email=bob@example.com --var pass=secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := currentLevel()
			if err != nil {
				return err
			}
			params, err := parseParams(vars)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			var res model.SigninResult
			if err := a.update(ctx, func(tx kvs.Transaction) error {
				res, err = a.auth.Signup(ctx, tx, level, ac, params)
				return err
			}); err != nil {
				return fmt.Errorf("signup: %w", err)
			}
			return printResult(cmd, res, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&ac, "access", "", "Record access method (required)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Signup variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full result as JSON")
	cmd.MarkFlagRequired("access")

	return cmd
}

// ---------- authenticate ----------

func newAuthenticateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "authenticate <token>",
		Short: "Verify a session token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			var claims model.SessionClaims
			if err := a.view(ctx, func(tx kvs.Transaction) error {
				claims, err = a.auth.Authenticate(ctx, tx, args[0])
				return err
			}); err != nil {
				return fmt.Errorf("authenticate: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), claims)
		},
	}
}
