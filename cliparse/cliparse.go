package cliparse

import (
	"errors"
	"flag"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultMinBondSats is the governance bond threshold when none is configured.
const DefaultMinBondSats = 50_000

type Config struct {
	Port           int
	DBPath         string
	NodeRPCPath    string
	CoordinatorURL string
	SyncEnabled    bool
	MinBondSats    int64
	AuthToken      string
}

// ParseFlags validates flags, falling back to environment variables
// (including a .env file when present).
func ParseFlags(args []string) (Config, error) {
	// Best effort: a missing .env is fine
	_ = godotenv.Load()

	var cfg Config
	var syncFlag string
	var minBond int64

	fs := flag.NewFlagSet("archond", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DBPath, "db", "", "Local store path")
	fs.StringVar(&cfg.NodeRPCPath, "rpc", "", "Lightning node RPC socket path")
	fs.StringVar(&cfg.CoordinatorURL, "coordinator", "", "Remote coordinator base URL")
	fs.StringVar(&syncFlag, "sync", "", "Enable coordinator sync (true/false)")
	fs.Int64Var(&minBond, "min-bond", 0, "Minimum governance bond in sats")

	// Secret (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.AuthToken, "token", "", "Coordinator bearer token (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Port == 0 {
		if portStr := os.Getenv("ARCHON_PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid ARCHON_PORT env variable")
			}
			cfg.Port = port
		} else {
			cfg.Port = 8311 // default
		}
	}

	if cfg.DBPath == "" {
		cfg.DBPath = os.Getenv("ARCHON_DB_PATH")
	}
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, errors.New("store path required (use -db or ARCHON_DB_PATH env)")
		}
		cfg.DBPath = filepath.Join(home, ".hive", "archon.db")
	}

	if cfg.NodeRPCPath == "" {
		cfg.NodeRPCPath = os.Getenv("ARCHON_NODE_RPC")
	}

	if cfg.CoordinatorURL == "" {
		cfg.CoordinatorURL = os.Getenv("ARCHON_COORDINATOR_URL")
	}
	cfg.CoordinatorURL = strings.TrimRight(strings.TrimSpace(cfg.CoordinatorURL), "/")

	if syncFlag == "" {
		syncFlag = os.Getenv("ARCHON_SYNC_ENABLED")
	}
	cfg.SyncEnabled = parseBool(syncFlag) // default off

	if cfg.SyncEnabled {
		if err := validateCoordinatorURL(cfg.CoordinatorURL); err != nil {
			return Config{}, err
		}
	}

	if minBond == 0 {
		if bondStr := os.Getenv("ARCHON_MIN_BOND_SATS"); bondStr != "" {
			parsed, err := strconv.ParseInt(bondStr, 10, 64)
			if err != nil {
				return Config{}, errors.New("invalid ARCHON_MIN_BOND_SATS env variable")
			}
			minBond = parsed
		} else {
			minBond = DefaultMinBondSats
		}
	}
	if minBond < 1 {
		return Config{}, errors.New("minimum bond must be at least 1 sat")
	}
	cfg.MinBondSats = minBond

	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("ARCHON_AUTH_TOKEN")
	}

	return cfg, nil
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func validateCoordinatorURL(raw string) error {
	if raw == "" {
		return errors.New("coordinator URL required when sync is enabled")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid coordinator URL")
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("coordinator URL must be http or https")
	}
	if parsed.Hostname() == "" {
		return errors.New("coordinator URL missing host")
	}
	return nil
}
