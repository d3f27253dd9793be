package cli

import (
	"bytes"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/accessd/internal/config"
)

var (
	cfgFile    string
	appVersion string
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accessd",
		Short: "Access methods, bearer grants and signed sessions",
		Long: `accessd: define access methods, issue bearer grants and sign sessions.

System users sign in with a password. Application records sign in through
record access methods with pluggable signin and signup logic. Bearer access
methods hand out revocable keys bound to a user or a record. Every
successful signin yields a signed session token.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./accessd.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite datastore (default: ~/.accessd)")
	cmd.PersistentFlags().StringVar(&nsFlag, "ns", "", "namespace to operate on")
	cmd.PersistentFlags().StringVar(&dbFlag, "db", "", "database to operate on (requires --ns)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newAccessCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newRecordCmd())
	cmd.AddCommand(newGrantCmd())
	cmd.AddCommand(newSigninCmd())
	cmd.AddCommand(newSignupCmd())
	cmd.AddCommand(newAuthenticateCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("accessd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.accessd")
	}

	// Defaults double as the key set AutomaticEnv can override.
	d := config.DefaultYAMLConfig()
	viper.SetDefault("store.driver", d.Store.Driver)
	viper.SetDefault("store.dsn", d.Store.DSN)
	viper.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	viper.SetDefault("auth.issuer", d.Auth.Issuer)
	viper.SetDefault("auth.session_duration", d.Auth.SessionDuration)
	viper.SetDefault("auth.password_cost", d.Auth.PasswordCost)
	viper.SetDefault("capabilities.bearer_access", d.Capabilities.BearerAccess)
	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
	viper.SetDefault("metrics.textfile", d.Metrics.Textfile)

	viper.SetEnvPrefix("ACCESSD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		return // config file is optional
	}
	// Re-read with ${VAR} references expanded.
	if data, err := config.ReadExpanded(viper.ConfigFileUsed()); err == nil {
		viper.ReadConfig(bytes.NewReader(data))
	}
}
