// Package config loads the server configuration from a YAML file, then
// applies ESMP_* environment overrides. Explicit command-line flags win
// over both.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		TCPAddr  string `yaml:"tcp_addr"`
		HTTPAddr string `yaml:"http_addr"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Security struct {
		// MasterKeyHex is the AES-256 key encrypting private profile
		// fields at rest; MasterKeyFile points at a file holding the
		// same hex string.
		MasterKeyHex  string `yaml:"master_key_hex"`
		MasterKeyFile string `yaml:"master_key_file"`
		MaxLineBytes  int    `yaml:"max_line_bytes"`
		RateLimit     struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
	Logging struct {
		Level    string `yaml:"level"`
		AuditLog string `yaml:"audit_log"`
	} `yaml:"logging"`
	Audit struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
	} `yaml:"audit"`
}

// TCPAddr returns the wire-protocol listen address with its default.
func (c *Config) TCPAddr() string {
	if c.Server.TCPAddr == "" {
		return ":5888"
	}
	return c.Server.TCPAddr
}

// HTTPAddr returns the HTTP listen address with its default.
func (c *Config) HTTPAddr() string {
	if c.Server.HTTPAddr == "" {
		return ":8080"
	}
	return c.Server.HTTPAddr
}

// Load reads and parses the YAML config at path. A missing file is not
// an error when optional; the zero config plus env overrides is usable.
func Load(path string, optional bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && optional {
			return &cfg, nil
		}
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnvOverrides mutates cfg from ESMP_* environment variables and
// reports whether any were used.
func ApplyEnvOverrides(cfg *Config) bool {
	used := false
	set := func(target *string, env string) {
		if v := os.Getenv(env); v != "" {
			*target = v
			used = true
		}
	}
	set(&cfg.Server.TCPAddr, "ESMP_TCP_ADDR")
	set(&cfg.Server.HTTPAddr, "ESMP_HTTP_ADDR")
	set(&cfg.Storage.DBPath, "ESMP_DB_PATH")
	set(&cfg.Security.MasterKeyHex, "ESMP_MASTER_KEY_HEX")
	set(&cfg.Security.MasterKeyFile, "ESMP_MASTER_KEY_FILE")
	set(&cfg.Logging.Level, "ESMP_LOG_LEVEL")
	set(&cfg.Logging.AuditLog, "ESMP_AUDIT_LOG")
	set(&cfg.Audit.Cron, "ESMP_AUDIT_CRON")
	if v := os.Getenv("ESMP_MAX_LINE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.MaxLineBytes = n
			used = true
		}
	}
	if v := os.Getenv("ESMP_AUDIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Audit.Enabled = b
			used = true
		}
	}
	return used
}

// MasterKeyHex resolves the encryption key, preferring the inline hex
// value over the key file.
func (c *Config) MasterKeyHex() (string, error) {
	if c.Security.MasterKeyHex != "" {
		return c.Security.MasterKeyHex, nil
	}
	if c.Security.MasterKeyFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.Security.MasterKeyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read master key file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// ParseCommandFlags defines and parses the command-line flags, returning
// their values along with a map of flags explicitly set by the user.
func ParseCommandFlags() (tcpAddr, httpAddr, dbPath, cfgPath string, setFlags map[string]bool) {
	tcpPtr := flag.String("tcp", ":5888", "ESMP wire-protocol listen address")
	httpPtr := flag.String("http", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *tcpPtr, *httpPtr, *dbPtr, *cfgPtr, setFlags
}
