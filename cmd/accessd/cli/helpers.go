package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/faucetdb/accessd/internal/access"
	"github.com/faucetdb/accessd/internal/config"
	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/logic"
	"github.com/faucetdb/accessd/internal/metrics"
	"github.com/faucetdb/accessd/internal/model"
	"github.com/faucetdb/accessd/internal/password"
	"github.com/faucetdb/accessd/internal/service"
)

var (
	// dataDir holds the --data-dir persistent flag value (set on root command).
	dataDir string

	nsFlag string
	dbFlag string
)

// resolveDataDir returns the data directory from --data-dir flag,
// ACCESSD_DATA_DIR env var, or ~/.accessd as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("ACCESSD_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".accessd")
}

// currentLevel derives the level from --ns and --db.
func currentLevel() (model.Level, error) {
	switch {
	case dbFlag != "":
		return model.ParseLevel("db", nsFlag, dbFlag)
	case nsFlag != "":
		return model.ParseLevel("ns", nsFlag, "")
	default:
		return model.Root(), nil
	}
}

// loadConfig decodes the effective viper settings and validates them.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app bundles what a command needs to talk to the datastore.
type app struct {
	cfg      *config.YAMLConfig
	ds       kvs.Datastore
	auth     *service.AuthService
	logger   *slog.Logger
	registry *prometheus.Registry
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.Logging, os.Stderr)

	ds, err := openDatastore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}

	d, err := cfg.Auth.Duration()
	if err != nil {
		ds.Close()
		return nil, err
	}
	registry := prometheus.NewRegistry()
	lg := logic.NewRegistry()
	reg := access.New(access.Capabilities{BearerAccess: cfg.Capabilities.BearerAccess}, access.WithLogic(lg))
	auth := service.NewAuthService(reg, cfg.Auth.JWTSecret,
		service.WithLogger(logger),
		service.WithLogic(lg),
		service.WithIssuer(cfg.Auth.Issuer),
		service.WithSessionDuration(d),
		service.WithPasswords(password.NewHasher(cfg.Auth.PasswordCost)),
		service.WithMetrics(metrics.New(registry)),
	)
	return &app{cfg: cfg, ds: ds, auth: auth, logger: logger, registry: registry}, nil
}

// openDatastore opens the configured backend. SQLite without a DSN lives in
// the data directory.
func openDatastore(c config.StoreConfig) (kvs.Datastore, error) {
	if c.Driver == "sqlite" && c.DSN == "" {
		return kvs.NewSQLite(resolveDataDir())
	}
	return kvs.DefaultRegistry().Open(c.Driver, c.DSN)
}

// Close closes the datastore and, when metrics.textfile is set, writes the
// counters of this run there in the Prometheus text format.
func (a *app) Close() error {
	err := a.ds.Close()
	if path := a.cfg.Metrics.Textfile; path != "" {
		if werr := prometheus.WriteToTextfile(path, a.registry); werr != nil {
			a.logger.Warn("failed to write metrics", "path", path, "error", werr)
		}
	}
	return err
}

// view runs fn in a read-only transaction, retrying when its reads turn
// out to be inconsistent at commit.
func (a *app) view(ctx context.Context, fn func(tx kvs.Transaction) error) error {
	return service.Retry(ctx, service.DefaultAttempts, func() error {
		return service.Transact(ctx, a.ds, false, fn)
	})
}

// update runs fn in a writable transaction, retrying commit conflicts.
func (a *app) update(ctx context.Context, fn func(tx kvs.Transaction) error) error {
	return service.Retry(ctx, service.DefaultAttempts, func() error {
		return service.Transact(ctx, a.ds, true, fn)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parsePairs turns key=value arguments into a map.
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid pair %q (want key=value)", p)
		}
		out[k] = v
	}
	return out, nil
}

func parseParams(pairs []string) (model.Params, error) {
	m, err := parsePairs(pairs)
	if err != nil {
		return nil, err
	}
	params := make(model.Params, len(m))
	for k, v := range m {
		params[k] = v
	}
	return params, nil
}

// readPassword prompts on the terminal. With confirm set the password has
// to be entered twice.
func readPassword(w io.Writer, confirm bool) (string, error) {
	fmt.Fprint(w, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(w)
	if !confirm {
		return string(pw), nil
	}

	fmt.Fprint(w, "Confirm password: ")
	again, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Fprintln(w)
	if string(pw) != string(again) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pw), nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
