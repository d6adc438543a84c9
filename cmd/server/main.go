package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/dkroy/hallchat/pkg/logging"
	"github.com/dkroy/hallchat/pkg/model"
	"github.com/dkroy/hallchat/pkg/server"
	"github.com/dkroy/hallchat/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP bind address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "Maximum concurrent client connections")
	flag.IntVar(&cfg.MaxAccounts, "max-accounts", cfg.MaxAccounts, "Maximum registered accounts (0 = unlimited)")
	flag.StringVar(&cfg.AccountsBackend, "accounts-backend", cfg.AccountsBackend, "Account store backend: memory or sqlite")
	flag.StringVar(&cfg.AccountsDSN, "accounts-dsn", cfg.AccountsDSN, "SQLite DSN for the sqlite backend (\":memory:\" or a file path)")
	flag.DurationVar(&cfg.AuthTimeout, "auth-timeout", cfg.AuthTimeout, "Idle limit for connections that have not logged in (0 = no limit)")
	legacyPolicy := flag.Bool("legacy-policy", false, "Use the relaxed 6-15 character password policy")
	configFile := flag.String("config", "", "YAML config file (overrides flags; HALLCHAT_* env vars override the file)")
	exportAccounts := flag.Bool("export-accounts", false, "Export all accounts as YAML and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if *legacyPolicy {
		cfg.Policy = model.LegacyPolicy()
	}
	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			slog.Error("load config file", "err", err)
			os.Exit(1)
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		slog.Error("load env config", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	st, err := server.OpenAccounts(cfg)
	if err != nil {
		slog.Error("open account store", "err", err)
		os.Exit(1)
	}

	// Handle export command (run and exit)
	if *exportAccounts {
		data, err := server.ExportAccountsYAML(st)
		if err != nil {
			slog.Error("export accounts", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		_ = st.Close()
		return
	}

	srv := server.New(cfg, server.Dependencies{Accounts: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
