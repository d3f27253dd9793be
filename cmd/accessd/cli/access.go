package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/logic"
	"github.com/faucetdb/accessd/internal/model"
)

func newAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "access",
		Aliases: []string{"ac"},
		Short:   "Manage access methods",
		Long:    "Define, inspect and remove the access methods records, bearer keys and external tokens sign in through.",
	}

	cmd.AddCommand(newAccessDefineCmd())
	cmd.AddCommand(newAccessListCmd())
	cmd.AddCommand(newAccessShowCmd())
	cmd.AddCommand(newAccessRemoveCmd())

	return cmd
}

// ---------- access define ----------

type accessFlags struct {
	kind            string
	verifyAlg       string
	verifyKey       string
	verifyURL       string
	issueAlg        string
	issueKey        string
	signin          string
	signup          string
	authenticate    string
	params          []string
	refresh         bool
	subject         string
	grantDuration   string
	sessionDuration string
	comment         string
	overwrite       bool
}

func newAccessDefineCmd() *cobra.Command {
	var f accessFlags

	cmd := &cobra.Command{
		Use:   "define <name>",
		Short: "Define an access method",
		Example: `  accessd access define app --ns acme --db main --kind record --signin credentials --signup credentials
  accessd access define api --ns acme --db main --kind bearer --subject record --grant-duration 720h
  accessd access define sso --kind jwt --verify-url https://idp.example.com/.well-known/jwks.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := currentLevel()
			if err != nil {
				return err
			}
			method, err := f.method(args[0], level)
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
				return a.auth.DefineAccess(ctx, tx, method, f.overwrite)
			}); err != nil {
				return fmt.Errorf("define access: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Defined %s access %q on %s\n", method.KindName(), method.Name, level)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.kind, "kind", "", "Access kind: jwt, record or bearer (required)")
	cmd.Flags().StringVar(&f.verifyAlg, "verify-alg", "", "Algorithm of external tokens")
	cmd.Flags().StringVar(&f.verifyKey, "verify-key", "", "Key external tokens are verified with")
	cmd.Flags().StringVar(&f.verifyURL, "verify-url", "", "JWKS endpoint external tokens are verified against")
	cmd.Flags().StringVar(&f.issueAlg, "issue-alg", "", "Algorithm session tokens are signed with")
	cmd.Flags().StringVar(&f.issueKey, "issue-key", "", "Key session tokens are signed with (generated when omitted)")
	builtin := strings.Join(logicNames(), ", ")
	cmd.Flags().StringVar(&f.signin, "signin", "", "Signin logic for record access ("+builtin+")")
	cmd.Flags().StringVar(&f.signup, "signup", "", "Signup logic for record access ("+builtin+")")
	cmd.Flags().StringVar(&f.authenticate, "authenticate", "", "Logic run after every record authentication ("+builtin+")")
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "Logic parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "Issue refresh tokens on record signin")
	cmd.Flags().StringVar(&f.subject, "subject", "user", "Bearer subject kind: user or record")
	cmd.Flags().StringVar(&f.grantDuration, "grant-duration", "", "Lifetime of bearer grants (default: no expiry)")
	cmd.Flags().StringVar(&f.sessionDuration, "session-duration", "", "Lifetime of session tokens")
	cmd.Flags().StringVar(&f.comment, "comment", "", "Free-form comment")
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "Replace an existing method with the same name")
	cmd.MarkFlagRequired("kind")

	return cmd
}

func optionalDuration(flag, s string) (*time.Duration, error) {
	if s == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &d, nil
}

// method builds the access method the flags describe.
func (f *accessFlags) method(name string, level model.Level) (*model.AccessMethod, error) {
	params, err := parsePairs(f.params)
	if err != nil {
		return nil, err
	}
	ref := func(name string) *model.LogicRef {
		if name == "" {
			return nil
		}
		return &model.LogicRef{Name: name, Params: params}
	}

	jwt := model.JWTAccess{
		Verify: model.JWTVerify{Alg: f.verifyAlg, Key: f.verifyKey, URL: f.verifyURL},
	}
	if f.issueAlg != "" || f.issueKey != "" {
		jwt.Issue = &model.JWTIssue{Alg: f.issueAlg, Key: f.issueKey}
	}

	m := &model.AccessMethod{
		Name:         name,
		Level:        level,
		Authenticate: ref(f.authenticate),
		Comment:      f.comment,
	}
	switch f.kind {
	case model.KindJWT:
		m.Kind = &jwt
	case model.KindRecord:
		m.Kind = &model.RecordAccess{
			Signin:  ref(f.signin),
			Signup:  ref(f.signup),
			Refresh: f.refresh,
			JWT:     jwt,
		}
	case model.KindBearer:
		subject, err := model.ParseSubjectKind(f.subject)
		if err != nil {
			return nil, err
		}
		m.Kind = &model.BearerAccess{Subject: subject, JWT: jwt}
	default:
		return nil, fmt.Errorf("unknown access kind %q (want jwt, record or bearer)", f.kind)
	}

	if m.GrantDuration, err = optionalDuration("grant-duration", f.grantDuration); err != nil {
		return nil, err
	}
	if m.SessionDuration, err = optionalDuration("session-duration", f.sessionDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// ---------- access list ----------

type accessRow struct {
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	Level           string `json:"level"`
	Signin          string `json:"signin,omitempty"`
	Signup          string `json:"signup,omitempty"`
	Authenticate    string `json:"authenticate,omitempty"`
	Subject         string `json:"subject,omitempty"`
	Refresh         bool   `json:"refresh,omitempty"`
	Verify          string `json:"verify,omitempty"`
	GrantDuration   string `json:"grant_duration,omitempty"`
	SessionDuration string `json:"session_duration,omitempty"`
	Comment         string `json:"comment,omitempty"`
	Created         string `json:"created"`
}

func refName(r *model.LogicRef) string {
	if r == nil {
		return ""
	}
	return r.Name
}

func durationString(d *time.Duration) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// newAccessRow describes m without any key material.
func newAccessRow(m *model.AccessMethod) accessRow {
	row := accessRow{
		Name:            m.Name,
		Kind:            m.KindName(),
		Level:           m.Level.String(),
		Authenticate:    refName(m.Authenticate),
		GrantDuration:   durationString(m.GrantDuration),
		SessionDuration: durationString(m.SessionDuration),
		Comment:         m.Comment,
		Created:         m.CreatedAt.Format(time.RFC3339),
	}
	var jwt model.JWTAccess
	switch k := m.Kind.(type) {
	case *model.JWTAccess:
		jwt = *k
	case *model.RecordAccess:
		row.Signin, row.Signup, row.Refresh = refName(k.Signin), refName(k.Signup), k.Refresh
		jwt = k.JWT
	case *model.BearerAccess:
		row.Subject = string(k.Subject)
		jwt = k.JWT
	}
	switch {
	case jwt.Verify.URL != "":
		row.Verify = "jwks " + jwt.Verify.URL
	case jwt.Verify.Key != "":
		row.Verify = "key " + jwt.Verify.Alg
	}
	return row
}

func newAccessListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List access methods on a level",
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
			var methods []*model.AccessMethod
			if err := a.view(ctx, func(tx kvs.Transaction) error {
				methods, err = a.auth.ListAccesses(ctx, tx, level)
				return err
			}); err != nil {
				return fmt.Errorf("list access: %w", err)
			}

			rows := make([]accessRow, len(methods))
			for i, m := range methods {
				rows[i] = newAccessRow(m)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintf(out, "No access methods on %s. Use 'accessd access define' to create one.\n", level)
				return nil
			}

			fmt.Fprintf(out, "%-20s %-8s %-20s %-20s\n", "NAME", "KIND", "LEVEL", "CREATED")
			fmt.Fprintf(out, "%-20s %-8s %-20s %-20s\n", "----", "----", "-----", "-------")
			for _, r := range rows {
				fmt.Fprintf(out, "%-20s %-8s %-20s %-20s\n", r.Name, r.Kind, r.Level, r.Created)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- access show ----------

func newAccessShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one access method",
		Args:  cobra.ExactArgs(1),
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
			var m *model.AccessMethod
			if err := a.view(ctx, func(tx kvs.Transaction) error {
				m, err = a.auth.GetAccess(ctx, tx, level, args[0])
				return err
			}); err != nil {
				return fmt.Errorf("show access: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), newAccessRow(m))
		},
	}
}

// ---------- access remove ----------

func newAccessRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove an access method",
		Long:    "Remove an access method. Its grants are kept for audit but stop working, even if a method with the same name is defined again.",
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
				return a.auth.RemoveAccess(ctx, tx, level, args[0])
			}); err != nil {
				return fmt.Errorf("remove access: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed access %q from %s\n", args[0], level)
			return nil
		},
	}
}

// logicNames lists the built-in logic for help output.
func logicNames() []string { return logic.NewRegistry().Names() }
