package server

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dkroy/hallchat/pkg/accounts"
	"github.com/dkroy/hallchat/pkg/model"
)

// Config holds server configuration. Values are resolved in order:
// defaults, then command-line flags, then a YAML config file (keys
// present in the file win over flags), then environment variables.
type Config struct {
	Addr        string `yaml:"addr" env:"HALLCHAT_ADDR"`                 // TCP bind address (e.g. ":5678")
	MetricsAddr string `yaml:"metrics_addr" env:"HALLCHAT_METRICS_ADDR"` // HTTP bind address for /metrics (empty = disabled)

	MaxConns     int `yaml:"max_conns" env:"HALLCHAT_MAX_CONNS"`           // concurrent connection cap
	MaxAccounts  int `yaml:"max_accounts" env:"HALLCHAT_MAX_ACCOUNTS"`     // registered account cap (0 = unlimited)
	MaxRooms     int `yaml:"max_rooms" env:"HALLCHAT_MAX_ROOMS"`           // active room cap (0 = unlimited)
	RoomCapacity int `yaml:"room_capacity" env:"HALLCHAT_ROOM_CAPACITY"`   // members per room, owner included
	MaxLineLen   int `yaml:"max_line_len" env:"HALLCHAT_MAX_LINE_LEN"`     // wire line length bound in bytes

	AccountsBackend string `yaml:"accounts_backend" env:"HALLCHAT_ACCOUNTS_BACKEND"` // "memory" or "sqlite"
	AccountsDSN     string `yaml:"accounts_dsn" env:"HALLCHAT_ACCOUNTS_DSN"`         // SQLite DSN (":memory:" or a file path)

	AuthTimeout time.Duration `yaml:"auth_timeout" env:"HALLCHAT_AUTH_TIMEOUT"` // idle limit before login (0 = no limit)

	Policy model.Policy `yaml:"policy" envPrefix:"HALLCHAT_POLICY_"`
}

// DefaultConfig returns a config with sensible defaults: the classic
// lab port, a 5-connection cap and the strict password policy.
func DefaultConfig() Config {
	return Config{
		Addr:            ":5678",
		MetricsAddr:     ":5680",
		MaxConns:        5,
		MaxAccounts:     128,
		MaxRooms:        128,
		RoomCapacity:    3,
		MaxLineLen:      4096,
		AccountsBackend: "memory",
		AccountsDSN:     accounts.MemoryDSN,
		AuthTimeout:     2 * time.Minute,
		Policy:          model.DefaultPolicy(),
	}
}

// LoadFile overlays values from a YAML config file. Keys absent from
// the file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("server: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("server: parse config: %w", err)
	}
	return nil
}

// LoadEnv overlays values from HALLCHAT_* environment variables.
func (c *Config) LoadEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("server: parse env: %w", err)
	}
	return nil
}

// Validate reports whether the config is runnable.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("server: listen address must not be empty")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("server: max_conns must be at least 1")
	}
	if c.RoomCapacity < 2 {
		return fmt.Errorf("server: room_capacity must be at least 2")
	}
	if c.AuthTimeout < 0 {
		return fmt.Errorf("server: auth_timeout must not be negative")
	}
	switch c.AccountsBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("server: unknown accounts backend %q (valid: memory, sqlite)", c.AccountsBackend)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// OpenAccounts builds the account store the config asks for.
func OpenAccounts(cfg Config) (accounts.Store, error) {
	switch cfg.AccountsBackend {
	case "sqlite":
		return accounts.NewSQLite(cfg.AccountsDSN, cfg.Policy, cfg.MaxAccounts)
	default:
		return accounts.NewMemory(cfg.Policy, cfg.MaxAccounts), nil
	}
}

// AccountYAML represents an account in YAML export. Passwords are
// deliberately not exported.
type AccountYAML struct {
	StudentID string `yaml:"student_id"`
	Handle    string `yaml:"handle"`
	CreatedAt string `yaml:"created_at"`
}

// AccountsExport is the top-level YAML for account export.
type AccountsExport struct {
	Accounts []AccountYAML `yaml:"accounts"`
}

// ExportAccountsYAML exports all registered accounts as YAML.
func ExportAccountsYAML(st accounts.Store) ([]byte, error) {
	accts, err := st.List()
	if err != nil {
		return nil, err
	}

	export := AccountsExport{}
	for _, a := range accts {
		export.Accounts = append(export.Accounts, AccountYAML{
			StudentID: a.StudentID,
			Handle:    a.Handle,
			CreatedAt: a.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}
